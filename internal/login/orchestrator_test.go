package login

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brizzai/loopback-login/internal/auth/autherr"
	"github.com/brizzai/loopback-login/internal/auth/models"
	"github.com/brizzai/loopback-login/internal/client"
	"github.com/brizzai/loopback-login/internal/loopback"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	configured  bool
	statusErr   error
	state       string
	callback    func(req models.CallbackRequest) (*models.CallbackResponse, error)
	mu          sync.Mutex
	redirectURI string
	exchanged   []models.CallbackRequest
}

func (f *fakeAPI) Status(context.Context, string) (*models.StatusResponse, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &models.StatusResponse{Configured: f.configured}, nil
}

func (f *fakeAPI) AuthURL(_ context.Context, _ string, redirectURI string) (*models.AuthURLResponse, error) {
	f.mu.Lock()
	f.redirectURI = redirectURI
	f.mu.Unlock()
	q := url.Values{"redirect_uri": {redirectURI}, "state": {f.state}}
	return &models.AuthURLResponse{AuthURL: "https://idp.example/auth?" + q.Encode(), State: f.state}, nil
}

func (f *fakeAPI) Callback(_ context.Context, _ string, req models.CallbackRequest) (*models.CallbackResponse, error) {
	f.mu.Lock()
	f.exchanged = append(f.exchanged, req)
	f.mu.Unlock()
	if f.callback != nil {
		return f.callback(req)
	}
	id := int64(7)
	return &models.CallbackResponse{Success: true, UserID: &id, Username: "jane_doe", Token: "app-token"}, nil
}

func (f *fakeAPI) exchanges() []models.CallbackRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.CallbackRequest(nil), f.exchanged...)
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{configured: true, state: "issued-state"}
}

// redirectingBrowser plays the provider: it sends the browser back to the
// redirect_uri of the authorization URL with the given query
func redirectingBrowser(t *testing.T, query func(state string) url.Values) Browser {
	return BrowserFunc(func(target string) error {
		u, err := url.Parse(target)
		require.NoError(t, err)
		back := u.Query().Get("redirect_uri") + "?" + query(u.Query().Get("state")).Encode()
		go func() {
			resp, err := http.Get(back)
			if err == nil {
				_ = resp.Body.Close()
			}
		}()
		return nil
	})
}

func idleBrowser() Browser {
	return BrowserFunc(func(string) error { return nil })
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	p := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return p
}

func testOptions(t *testing.T) Options {
	return Options{
		CallbackPort: freePort(t),
		CallbackPath: "/callback",
		FlowTimeout:  2 * time.Second,
		PollInterval: 20 * time.Millisecond,
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) observe(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) phases() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Phase, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Phase)
	}
	return out
}

func (r *recorder) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func TestLoginSuccess(t *testing.T) {
	api := newFakeAPI()
	opts := testOptions(t)
	rec := &recorder{}
	o := NewOrchestrator(api, opts,
		WithObserver(rec.observe),
		WithBrowser(redirectingBrowser(t, func(state string) url.Values {
			return url.Values{"code": {"auth-code"}, "state": {state}}
		})),
	)

	id, err := o.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &models.ApplicationIdentity{UserID: 7, Username: "jane_doe", Token: "app-token"}, id)

	want := []Phase{
		PhaseIdle, PhaseURLRequested, PhaseBrowserOpened, PhaseAwaitingCallback,
		PhaseCodeReceived, PhaseExchanging, PhaseSuccess,
	}
	if diff := cmp.Diff(want, rec.phases()); diff != "" {
		t.Errorf("phases mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, id, rec.last().Identity)

	redirect := fmt.Sprintf("http://localhost:%d/callback", opts.CallbackPort)
	assert.Equal(t, redirect, o.RedirectURI())
	assert.Equal(t, []models.CallbackRequest{{Code: "auth-code", State: "issued-state", RedirectURI: redirect}}, api.exchanges())
}

func TestLoginTimesOutAndReleasesPort(t *testing.T) {
	api := newFakeAPI()
	opts := testOptions(t)
	opts.FlowTimeout = 100 * time.Millisecond
	rec := &recorder{}
	o := NewOrchestrator(api, opts, WithObserver(rec.observe), WithBrowser(idleBrowser()))

	start := time.Now()
	_, err := o.Login(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, autherr.ErrTimedOut)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, PhaseTimedOut, rec.last().Phase)
	assert.Empty(t, api.exchanges())

	l, err := loopback.Listen(loopback.Config{Port: opts.CallbackPort})
	require.NoError(t, err, "port must be free after a timeout")
	_ = l.Close()
}

func TestLoginProviderError(t *testing.T) {
	api := newFakeAPI()
	rec := &recorder{}
	o := NewOrchestrator(api, testOptions(t),
		WithObserver(rec.observe),
		WithBrowser(redirectingBrowser(t, func(state string) url.Values {
			return url.Values{"error": {"access_denied"}, "state": {state}}
		})),
	)

	_, err := o.Login(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, autherr.ErrUserCancelled)
	assert.Contains(t, err.Error(), "access_denied")
	assert.Equal(t, PhaseUserCancelled, rec.last().Phase)
	assert.Empty(t, api.exchanges(), "no exchange after a provider error")
}

func TestLoginStateMismatch(t *testing.T) {
	api := newFakeAPI()
	o := NewOrchestrator(api, testOptions(t),
		WithBrowser(redirectingBrowser(t, func(string) url.Values {
			return url.Values{"code": {"auth-code"}, "state": {"forged"}}
		})),
	)

	_, err := o.Login(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, autherr.ErrStateMismatch)
	assert.Empty(t, api.exchanges())
}

func TestLoginExchangeFailures(t *testing.T) {
	tests := []struct {
		name     string
		callback func(models.CallbackRequest) (*models.CallbackResponse, error)
		contains string
		omits    []string
	}{
		{
			name: "server reports failure",
			callback: func(models.CallbackRequest) (*models.CallbackResponse, error) {
				return &models.CallbackResponse{Success: false, Error: "invalid or expired state"}, nil
			},
			contains: "invalid or expired state",
		},
		{
			name: "transport error",
			callback: func(models.CallbackRequest) (*models.CallbackResponse, error) {
				return nil, fmt.Errorf("request failed: %w", &url.Error{
					Op:  "Post",
					URL: "http://127.0.0.1:8080/auth/google/callback",
					Err: errors.New("dial tcp 127.0.0.1:8080: connect: connection refused"),
				})
			},
			contains: "server unreachable",
			omits:    []string{"dial tcp", "http://", "127.0.0.1"},
		},
		{
			name: "server rejects request",
			callback: func(models.CallbackRequest) (*models.CallbackResponse, error) {
				return nil, &client.APIError{StatusCode: http.StatusBadRequest, Description: "redirect_uri is required"}
			},
			contains: "redirect_uri is required",
		},
		{
			name: "missing token",
			callback: func(models.CallbackRequest) (*models.CallbackResponse, error) {
				return &models.CallbackResponse{Success: true, Username: "x"}, nil
			},
			contains: "incomplete identity",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI()
			api.callback = tt.callback
			rec := &recorder{}
			o := NewOrchestrator(api, testOptions(t),
				WithObserver(rec.observe),
				WithBrowser(redirectingBrowser(t, func(state string) url.Values {
					return url.Values{"code": {"auth-code"}, "state": {state}}
				})),
			)

			_, err := o.Login(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, autherr.ErrExchangeFailed)
			assert.Contains(t, err.Error(), tt.contains)
			for _, s := range tt.omits {
				assert.NotContains(t, autherr.Message(err), s)
			}
			assert.Equal(t, PhaseExchangeFailed, rec.last().Phase)
			assert.Len(t, api.exchanges(), 1)
		})
	}
}

func TestLoginNotConfigured(t *testing.T) {
	opened := atomic.Bool{}
	browser := BrowserFunc(func(string) error {
		opened.Store(true)
		return nil
	})

	for name, api := range map[string]*fakeAPI{
		"configured false": {configured: false, state: "s"},
		"status error":     {statusErr: errors.New("boom"), state: "s"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewOrchestrator(api, testOptions(t), WithBrowser(browser)).Login(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, autherr.ErrConfiguration)
		})
	}
	assert.False(t, opened.Load(), "browser must not open without a configured provider")
}

func TestLoginCancelled(t *testing.T) {
	api := newFakeAPI()
	opts := testOptions(t)
	ctx, cancel := context.WithCancel(context.Background())
	o := NewOrchestrator(api, opts, WithBrowser(BrowserFunc(func(string) error {
		cancel()
		return nil
	})))

	_, err := o.Login(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, autherr.ErrAborted)
	assert.Empty(t, api.exchanges())

	require.Eventually(t, func() bool {
		l, err := loopback.Listen(loopback.Config{Port: opts.CallbackPort})
		if err != nil {
			return false
		}
		_ = l.Close()
		return true
	}, 3*time.Second, 20*time.Millisecond)
}

func TestLoginRejectsConcurrentFlow(t *testing.T) {
	api := newFakeAPI()
	release := make(chan struct{})
	started := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o := NewOrchestrator(api, testOptions(t), WithBrowser(BrowserFunc(func(string) error {
		close(started)
		return nil
	})))

	done := make(chan error, 1)
	go func() {
		_, err := o.Login(ctx)
		done <- err
		close(release)
	}()
	<-started

	_, err := o.Login(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, autherr.ErrListenerBind)

	cancel()
	<-release
	assert.ErrorIs(t, <-done, autherr.ErrAborted)
}

func TestLoginPortInUse(t *testing.T) {
	opts := testOptions(t)
	busy, err := loopback.Listen(loopback.Config{Port: opts.CallbackPort})
	require.NoError(t, err)
	defer func() { _ = busy.Close() }()

	_, err = NewOrchestrator(newFakeAPI(), opts, WithBrowser(idleBrowser())).Login(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, autherr.ErrListenerBind)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "awaiting_callback", PhaseAwaitingCallback.String())
	assert.Equal(t, "phase(99)", Phase(99).String())
	assert.True(t, PhaseTimedOut.Terminal())
	assert.False(t, PhaseExchanging.Terminal())
}
