package tui

import (
	"context"
	"errors"

	"github.com/brizzai/loopback-login/internal/auth/autherr"
	"github.com/brizzai/loopback-login/internal/auth/models"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// AppModel switches between the login and username pages
type AppModel struct {
	ctx       context.Context
	deps      Deps
	loginPage LoginPageModel
	username  UsernameView
	page      string // "login" or "username"
	identity  *models.ApplicationIdentity
}

func NewAppModel(ctx context.Context, deps Deps) AppModel {
	return AppModel{
		ctx:       ctx,
		deps:      deps,
		loginPage: NewLoginPageModel(ctx, deps),
		page:      "login",
	}
}

func (m AppModel) Init() tea.Cmd {
	return m.loginPage.Init()
}

// Update handles app-level messages and delegates to the active page
func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case LoggedInMsg:
		m.identity = msg.Identity
		return m, tea.Quit

	case OpenUsernameMsg:
		if m.deps.Username == nil {
			return m, nil
		}
		m.page = "username"
		m.username = NewUsernameView(m.ctx, m.deps.Username)
		return m, m.username.Init()

	case BackToLoginMsg:
		m.page = "login"
		return m, nil

	case serverStatusMsg, flowEventMsg, flowDoneMsg, spinner.TickMsg, tea.WindowSizeMsg:
		// the login page keeps running while the username page is shown
		tempModel, cmd := m.loginPage.Update(msg)
		m.loginPage = tempModel.(LoginPageModel)
		return m, cmd
	}

	var cmd tea.Cmd
	var tempModel tea.Model
	switch m.page {
	case "username":
		tempModel, cmd = m.username.Update(msg)
		m.username = tempModel.(UsernameView)
	default:
		tempModel, cmd = m.loginPage.Update(msg)
		m.loginPage = tempModel.(LoginPageModel)
	}
	return m, cmd
}

func (m AppModel) View() string {
	if m.page == "username" {
		return m.username.View()
	}
	return m.loginPage.View()
}

// Identity returns the logged in identity, or nil if the user quit first
func (m AppModel) Identity() *models.ApplicationIdentity {
	return m.identity
}

// Run shows the login screen until the user logs in or quits
func Run(ctx context.Context, deps Deps, opts ...tea.ProgramOption) (*models.ApplicationIdentity, error) {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	final, err := tea.NewProgram(NewAppModel(ctx, deps), opts...).Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil, autherr.Wrap(autherr.ErrAborted, "%v", ctx.Err())
		}
		return nil, err
	}

	id := final.(AppModel).Identity()
	if id == nil {
		return nil, autherr.Wrap(autherr.ErrAborted, "login screen closed")
	}
	return id, nil
}
