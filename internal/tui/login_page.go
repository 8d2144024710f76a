package tui

import (
	"context"
	"fmt"

	"github.com/brizzai/loopback-login/internal/auth/autherr"
	"github.com/brizzai/loopback-login/internal/auth/models"
	"github.com/brizzai/loopback-login/internal/login"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ServerAPI is what the login page asks the server before offering a login
type ServerAPI interface {
	Health(ctx context.Context) (*models.HealthResponse, error)
	Status(ctx context.Context, provider string) (*models.StatusResponse, error)
}

// LoginFunc runs a provider login, reporting every transition to observe
type LoginFunc func(ctx context.Context, observe func(login.Event)) (*models.ApplicationIdentity, error)

// UsernameFunc logs in without a provider
type UsernameFunc func(ctx context.Context, username string) (*models.ApplicationIdentity, error)

// Deps wires the login page to the client side of the flow
type Deps struct {
	API      ServerAPI
	Provider string
	Login    LoginFunc
	Username UsernameFunc
}

type loginPageKeyMap struct {
	provider key.Binding
	username key.Binding
	cancel   key.Binding
	quit     key.Binding
}

func newLoginPageKeyMap(provider string) *loginPageKeyMap {
	return &loginPageKeyMap{
		provider: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "Login with "+provider),
		),
		username: key.NewBinding(
			key.WithKeys("u"),
			key.WithHelp("u", "Login with a username"),
		),
		cancel: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "Cancel login"),
		),
		quit: key.NewBinding(
			key.WithKeys("ctrl+c", "q"),
			key.WithHelp("ctrl+c/q", "Quit"),
		),
	}
}

type serverStatusMsg struct {
	online     bool
	configured bool
}

type flowEventMsg login.Event

type flowDoneMsg struct {
	identity *models.ApplicationIdentity
	err      error
}

// OpenUsernameMsg switches to the username page
type OpenUsernameMsg struct{}

// LoggedInMsg ends the program with an identity
type LoggedInMsg struct {
	Identity *models.ApplicationIdentity
}

// LoginPageModel offers provider login and shows its progress
type LoginPageModel struct {
	ctx     context.Context
	deps    Deps
	keys    *loginPageKeyMap
	spinner spinner.Model
	width   int

	checked    bool
	online     bool
	configured bool

	running bool
	phase   login.Phase
	authURL string
	cancel  context.CancelFunc
	events  chan login.Event
	status  string
	failed  bool
}

func NewLoginPageModel(ctx context.Context, deps Deps) LoginPageModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return LoginPageModel{
		ctx:     ctx,
		deps:    deps,
		keys:    newLoginPageKeyMap(providerTitle(deps.Provider)),
		spinner: s,
	}
}

func (m LoginPageModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.checkServer())
}

func (m LoginPageModel) checkServer() tea.Cmd {
	api, provider, ctx := m.deps.API, m.deps.Provider, m.ctx
	return func() tea.Msg {
		if _, err := api.Health(ctx); err != nil {
			return serverStatusMsg{}
		}
		status, err := api.Status(ctx, provider)
		if err != nil {
			return serverStatusMsg{online: true}
		}
		return serverStatusMsg{online: true, configured: status.Configured}
	}
}

func (m LoginPageModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.quit) && (msg.String() == "ctrl+c" || !m.running):
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case key.Matches(msg, m.keys.cancel) && m.running:
			m.cancel()
			return m, nil
		case key.Matches(msg, m.keys.provider) && m.canStart():
			return m.start()
		case key.Matches(msg, m.keys.username) && !m.running && m.online:
			return m, func() tea.Msg { return OpenUsernameMsg{} }
		}

	case serverStatusMsg:
		m.checked = true
		m.online = msg.online
		m.configured = msg.configured

	case flowEventMsg:
		if !m.running {
			return m, nil
		}
		m.phase = msg.Phase
		if msg.AuthURL != "" {
			m.authURL = msg.AuthURL
		}
		return m, waitForEvent(m.events)

	case flowDoneMsg:
		m.running = false
		m.cancel = nil
		m.events = nil
		if msg.err != nil {
			m.failed = true
			m.status = failureText(msg.err)
			return m, nil
		}
		id := msg.identity
		return m, func() tea.Msg { return LoggedInMsg{Identity: id} }

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m LoginPageModel) canStart() bool {
	return !m.running && m.online && m.configured && m.deps.Login != nil
}

// start launches the flow; its events come back through a channel read one
// message at a time
func (m LoginPageModel) start() (tea.Model, tea.Cmd) {
	ctx, cancel := context.WithCancel(m.ctx)
	events := make(chan login.Event, 32)

	m.running = true
	m.failed = false
	m.status = ""
	m.authURL = ""
	m.phase = login.PhaseIdle
	m.cancel = cancel
	m.events = events

	run := m.deps.Login
	flow := func() tea.Msg {
		defer cancel()
		id, err := run(ctx, func(ev login.Event) {
			select {
			case events <- ev:
			default:
			}
		})
		close(events)
		return flowDoneMsg{identity: id, err: err}
	}
	return m, tea.Batch(flow, waitForEvent(events))
}

func waitForEvent(events <-chan login.Event) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return flowEventMsg(ev)
	}
}

func (m LoginPageModel) View() string {
	title := titleStyle.Render("Loopback Login")

	var body string
	switch {
	case !m.checked:
		body = m.spinner.View() + " " + pendingStyle("Checking server...")
	case !m.online:
		body = mutedStyle("○ Server offline")
	case m.running:
		body = m.spinner.View() + " " + pendingStyle(phaseText(m.phase))
		if m.authURL != "" {
			body += "\n\n" + mutedStyle("If the browser did not open, visit:") + "\n" + urlStyle.Render(m.authURL)
		}
		body += "\n\n" + mutedStyle(m.keys.cancel.Help().Key+" "+m.keys.cancel.Help().Desc)
	default:
		body = onlineStyle("● Server online")
		if m.configured {
			body += "\n\n" + m.help(m.keys.provider)
		} else {
			body += "\n\n" + mutedStyle(providerTitle(m.deps.Provider)+" login (Not configured)")
		}
		if m.deps.Username != nil {
			body += "\n" + m.help(m.keys.username)
		}
		if m.status != "" {
			body += "\n\n" + errorStyle(m.status)
		}
	}

	help := mutedStyle("Press q or Ctrl+C to quit")
	return docStyle.Render(lipgloss.JoinVertical(lipgloss.Left, title, "", boxStyle.Render(body), "", help))
}

func (m LoginPageModel) help(b key.Binding) string {
	return fmt.Sprintf("[%s] %s", b.Help().Key, b.Help().Desc)
}

// Failed reports whether the last flow ended with an error
func (m LoginPageModel) Failed() bool {
	return m.failed
}

func phaseText(p login.Phase) string {
	switch p {
	case login.PhaseIdle, login.PhaseURLRequested:
		return "Contacting server..."
	case login.PhaseBrowserOpened, login.PhaseAwaitingCallback:
		return "Waiting for login in browser..."
	case login.PhaseCodeReceived, login.PhaseExchanging:
		return "Completing login..."
	case login.PhaseSuccess:
		return "Logged in"
	default:
		return p.String()
	}
}

func failureText(err error) string {
	switch autherr.Kind(err) {
	case autherr.ErrTimedOut:
		return "Login timed out"
	case autherr.ErrUserCancelled:
		return "Login cancelled"
	case autherr.ErrAborted:
		return "Login cancelled"
	case autherr.ErrListenerBind:
		return "Callback port is busy, close other logins and retry"
	case autherr.ErrStateMismatch:
		return "Login response did not match this request"
	case autherr.ErrConfiguration:
		return "Failed to start login"
	}
	return autherr.Message(err)
}

func providerTitle(provider string) string {
	switch provider {
	case "", "google":
		return "Google"
	}
	return provider
}
