package tui

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/brizzai/loopback-login/internal/auth/autherr"
	"github.com/brizzai/loopback-login/internal/auth/models"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	minUsernameLen = 2
	maxUsernameLen = 50
)

// BackToLoginMsg returns to the login page
type BackToLoginMsg struct{}

type usernameDoneMsg struct {
	identity *models.ApplicationIdentity
	err      error
}

// UsernameView prompts for a username and logs in with it
type UsernameView struct {
	ctx       context.Context
	submit    UsernameFunc
	textInput textinput.Model
	pending   bool
	status    string
}

func NewUsernameView(ctx context.Context, submit UsernameFunc) UsernameView {
	ti := textinput.New()
	ti.Placeholder = "username"
	ti.CharLimit = maxUsernameLen
	ti.Focus()
	ti.Width = 40

	return UsernameView{ctx: ctx, submit: submit, textInput: ti}
}

func (m UsernameView) Init() tea.Cmd {
	return textinput.Blink
}

func (m UsernameView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "esc":
			return m, func() tea.Msg { return BackToLoginMsg{} }
		case "enter":
			if m.pending {
				return m, nil
			}
			name := strings.TrimSpace(m.textInput.Value())
			if n := utf8.RuneCountInString(name); n < minUsernameLen || n > maxUsernameLen {
				m.status = "Username must be 2-50 characters"
				return m, nil
			}
			m.pending = true
			m.status = ""
			ctx, submit := m.ctx, m.submit
			return m, func() tea.Msg {
				id, err := submit(ctx, name)
				return usernameDoneMsg{identity: id, err: err}
			}
		}

	case usernameDoneMsg:
		m.pending = false
		if msg.err != nil {
			m.status = autherr.Message(msg.err)
			if m.status == "login failed" {
				m.status = "Username is not available"
			}
			return m, nil
		}
		id := msg.identity
		return m, func() tea.Msg { return LoggedInMsg{Identity: id} }
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m UsernameView) View() string {
	body := "Choose a username:\n\n" + m.textInput.View()
	if m.pending {
		body += "\n\n" + pendingStyle("Logging in...")
	}
	if m.status != "" {
		body += "\n\n" + errorStyle(m.status)
	}
	help := mutedStyle("enter to login, esc to go back")
	return docStyle.Render(lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render("Username Login"), "", boxStyle.Render(body), "", help))
}
