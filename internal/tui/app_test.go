package tui

import (
	"context"
	"errors"
	"testing"

	"github.com/brizzai/loopback-login/internal/auth/autherr"
	"github.com/brizzai/loopback-login/internal/auth/models"
	"github.com/brizzai/loopback-login/internal/login"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	healthErr  error
	configured bool
}

func (f fakeServer) Health(context.Context) (*models.HealthResponse, error) {
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	return &models.HealthResponse{Status: "ok"}, nil
}

func (f fakeServer) Status(context.Context, string) (*models.StatusResponse, error) {
	return &models.StatusResponse{Configured: f.configured}, nil
}

func update(t *testing.T, m tea.Model, msg tea.Msg) (AppModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	app, ok := next.(AppModel)
	require.True(t, ok)
	return app, cmd
}

func TestLoginPageServerStatus(t *testing.T) {
	tests := []struct {
		name   string
		server fakeServer
		want   string
	}{
		{name: "online and configured", server: fakeServer{configured: true}, want: "Login with Google"},
		{name: "not configured", server: fakeServer{}, want: "Google login (Not configured)"},
		{name: "offline", server: fakeServer{healthErr: errors.New("refused")}, want: "Server offline"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := NewLoginPageModel(context.Background(), Deps{API: tt.server, Provider: "google"})
			assert.Contains(t, page.View(), "Checking server")

			msg := page.checkServer()()
			next, _ := page.Update(msg)
			assert.Contains(t, next.View(), tt.want)
		})
	}
}

func TestLoginFlowUpdatesView(t *testing.T) {
	deps := Deps{
		API:      fakeServer{configured: true},
		Provider: "google",
		Login: func(context.Context, func(login.Event)) (*models.ApplicationIdentity, error) {
			return nil, errors.New("not started in this test")
		},
	}
	app := NewAppModel(context.Background(), deps)
	app, _ = update(t, app, serverStatusMsg{online: true, configured: true})

	app, cmd := update(t, app, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, app.loginPage.running)

	app, _ = update(t, app, flowEventMsg(login.Event{Phase: login.PhaseAwaitingCallback, AuthURL: "https://idp.example/auth"}))
	view := app.View()
	assert.Contains(t, view, "Waiting for login in browser")
	assert.Contains(t, view, "https://idp.example/auth")

	app, cmd = update(t, app, flowDoneMsg{identity: &models.ApplicationIdentity{Username: "jane_doe", Token: "tok"}})
	require.NotNil(t, cmd)
	loggedIn, ok := cmd().(LoggedInMsg)
	require.True(t, ok)

	app, cmd = update(t, app, loggedIn)
	require.NotNil(t, cmd)
	assert.Equal(t, "jane_doe", app.Identity().Username)
}

func TestLoginFlowFailureAllowsRetry(t *testing.T) {
	deps := Deps{
		API:   fakeServer{configured: true},
		Login: func(context.Context, func(login.Event)) (*models.ApplicationIdentity, error) { return nil, nil },
	}
	app := NewAppModel(context.Background(), deps)
	app, _ = update(t, app, serverStatusMsg{online: true, configured: true})
	app, _ = update(t, app, tea.KeyMsg{Type: tea.KeyEnter})

	app, _ = update(t, app, flowDoneMsg{err: autherr.Wrap(autherr.ErrTimedOut, "no redirect within 2m0s")})
	assert.True(t, app.loginPage.Failed())
	assert.Contains(t, app.View(), "Login timed out")
	assert.True(t, app.loginPage.canStart())
	assert.Nil(t, app.Identity())
}

func TestLoginIgnoredWhenNotConfigured(t *testing.T) {
	app := NewAppModel(context.Background(), Deps{
		API:   fakeServer{},
		Login: func(context.Context, func(login.Event)) (*models.ApplicationIdentity, error) { return nil, nil },
	})
	app, _ = update(t, app, serverStatusMsg{online: true})
	app, cmd := update(t, app, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.False(t, app.loginPage.running)
}

func TestUsernameLogin(t *testing.T) {
	var submitted string
	deps := Deps{
		API: fakeServer{},
		Username: func(_ context.Context, name string) (*models.ApplicationIdentity, error) {
			submitted = name
			return &models.ApplicationIdentity{UserID: 2, Username: name, Token: "tok"}, nil
		},
	}
	app := NewAppModel(context.Background(), deps)
	app, _ = update(t, app, serverStatusMsg{online: true})

	_, cmd := update(t, app, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("u")})
	require.NotNil(t, cmd)
	app, _ = update(t, app, cmd())
	assert.Equal(t, "username", app.page)

	app, _ = update(t, app, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	app, _ = update(t, app, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Contains(t, app.View(), "Username must be 2-50 characters")

	app, _ = update(t, app, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("yz")})
	app, cmd = update(t, app, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	done := cmd()
	assert.Equal(t, "xyz", submitted)

	app, cmd = update(t, app, done)
	require.NotNil(t, cmd)
	app, _ = update(t, app, cmd())
	assert.Equal(t, "xyz", app.Identity().Username)
}

func TestFailureText(t *testing.T) {
	assert.Equal(t, "Login cancelled", failureText(autherr.Wrap(autherr.ErrUserCancelled, "access_denied")))
	assert.Equal(t, "failed to complete login: invalid or expired state",
		failureText(autherr.Wrap(autherr.ErrExchangeFailed, "invalid or expired state")))
	assert.Equal(t, "login failed", failureText(errors.New("dial tcp: refused")))
}
