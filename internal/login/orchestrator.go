// Package login drives the browser based login from the terminal.
package login

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/brizzai/loopback-login/internal/auth/autherr"
	"github.com/brizzai/loopback-login/internal/auth/constants"
	"github.com/brizzai/loopback-login/internal/auth/models"
	"github.com/brizzai/loopback-login/internal/client"
	"github.com/brizzai/loopback-login/internal/config"
	"github.com/brizzai/loopback-login/internal/logger"
	"github.com/brizzai/loopback-login/internal/loopback"
	"go.uber.org/zap"
)

// listenerGrace is added to the flow timeout for the listener's own deadline
const listenerGrace = 5 * time.Second

// Phase is a step of the login state machine
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseURLRequested
	PhaseBrowserOpened
	PhaseAwaitingCallback
	PhaseCodeReceived
	PhaseUserCancelled
	PhaseTimedOut
	PhaseExchanging
	PhaseSuccess
	PhaseExchangeFailed
	// PhaseFailed ends flows that stopped before a code was exchanged for
	// another reason: configuration, bind, state mismatch or abort.
	PhaseFailed
)

var phaseNames = map[Phase]string{
	PhaseIdle:             "idle",
	PhaseURLRequested:     "url_requested",
	PhaseBrowserOpened:    "browser_opened",
	PhaseAwaitingCallback: "awaiting_callback",
	PhaseCodeReceived:     "code_received",
	PhaseUserCancelled:    "user_cancelled",
	PhaseTimedOut:         "timed_out",
	PhaseExchanging:       "exchanging",
	PhaseSuccess:          "success",
	PhaseExchangeFailed:   "exchange_failed",
	PhaseFailed:           "failed",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Terminal reports whether no transition follows p
func (p Phase) Terminal() bool {
	switch p {
	case PhaseUserCancelled, PhaseTimedOut, PhaseSuccess, PhaseExchangeFailed, PhaseFailed:
		return true
	}
	return false
}

// Event describes a transition. AuthURL is set from PhaseBrowserOpened on so
// a UI can show it for manual navigation; Err is set on failed terminal phases.
type Event struct {
	Phase    Phase
	AuthURL  string
	Identity *models.ApplicationIdentity
	Err      error
}

// API is the part of the server API the orchestrator needs
type API interface {
	Status(ctx context.Context, provider string) (*models.StatusResponse, error)
	AuthURL(ctx context.Context, provider, redirectURI string) (*models.AuthURLResponse, error)
	Callback(ctx context.Context, provider string, req models.CallbackRequest) (*models.CallbackResponse, error)
}

// Options configures an Orchestrator
type Options struct {
	Provider     string
	CallbackPort int
	CallbackPath string
	FlowTimeout  time.Duration
	PollInterval time.Duration
}

// OptionsFromConfig returns the Options described by the client config
func OptionsFromConfig(cfg config.ClientConfig) Options {
	return Options{
		Provider:     constants.ProviderGoogle,
		CallbackPort: cfg.CallbackPort,
		CallbackPath: cfg.CallbackPath,
		FlowTimeout:  cfg.FlowTimeout,
		PollInterval: cfg.PollInterval,
	}
}

func (o Options) redirectURI() string {
	return config.ClientConfig{CallbackPort: o.CallbackPort, CallbackPath: o.CallbackPath}.RedirectURI()
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithObserver registers fn to receive every transition. fn runs on the
// login goroutine and must not block.
func WithObserver(fn func(Event)) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// WithBrowser replaces the system browser
func WithBrowser(b Browser) Option {
	return func(o *Orchestrator) { o.browser = b }
}

// Orchestrator runs one login at a time against a server
type Orchestrator struct {
	api      API
	opts     Options
	browser  Browser
	observer func(Event)
	inFlight atomic.Bool
}

func NewOrchestrator(api API, opts Options, options ...Option) *Orchestrator {
	if opts.Provider == "" {
		opts.Provider = constants.ProviderGoogle
	}
	if opts.CallbackPath == "" {
		opts.CallbackPath = constants.DefaultCallbackPath
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.FlowTimeout <= 0 {
		opts.FlowTimeout = 120 * opts.PollInterval
	}

	o := &Orchestrator{api: api, opts: opts, browser: SystemBrowser{}}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// RedirectURI is the loopback URI this orchestrator listens on
func (o *Orchestrator) RedirectURI() string {
	return o.opts.redirectURI()
}

// Login runs the flow to completion. Every error wraps an autherr kind; a
// cancelled ctx yields autherr.ErrAborted.
func (o *Orchestrator) Login(ctx context.Context) (*models.ApplicationIdentity, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return nil, autherr.Wrap(autherr.ErrListenerBind, "another login is already in progress")
	}
	defer o.inFlight.Store(false)

	o.emit(Event{Phase: PhaseIdle})
	id, err := o.run(ctx)
	if err != nil {
		logger.Info("Login ended without a token", zap.String("reason", autherr.Message(err)))
		return nil, err
	}
	return id, nil
}

func (o *Orchestrator) run(ctx context.Context) (*models.ApplicationIdentity, error) {
	redirectURI := o.RedirectURI()

	o.emit(Event{Phase: PhaseURLRequested})
	authURL, err := o.requestAuthURL(ctx, redirectURI)
	if err != nil {
		return nil, o.fail(PhaseFailed, err)
	}

	l, err := loopback.Listen(loopback.Config{
		Port:    o.opts.CallbackPort,
		Path:    o.opts.CallbackPath,
		Timeout: o.opts.FlowTimeout + listenerGrace,
	})
	if err != nil {
		return nil, o.fail(PhaseFailed, err)
	}
	go func() {
		if err := l.Serve(); err != nil {
			logger.Debug("Callback listener stopped", zap.Error(err))
		}
	}()

	if err := o.browser.Open(authURL.AuthURL); err != nil {
		logger.Warn("Could not open a browser; open the login URL manually", zap.Error(err))
	}
	o.emit(Event{Phase: PhaseBrowserOpened, AuthURL: authURL.AuthURL})

	o.emit(Event{Phase: PhaseAwaitingCallback, AuthURL: authURL.AuthURL})
	res, err := o.await(ctx, l)
	if err != nil {
		if errors.Is(err, autherr.ErrAborted) {
			// releasing the port may wait on an open browser connection
			go func() { _ = l.Close() }()
			return nil, o.fail(PhaseFailed, err)
		}
		_ = l.Close()
		return nil, o.fail(PhaseTimedOut, err)
	}
	_ = l.Close()

	switch {
	case res.Error != "":
		return nil, o.fail(PhaseUserCancelled, autherr.Wrap(autherr.ErrUserCancelled, "%s", res.Error))
	case res.State != authURL.State:
		return nil, o.fail(PhaseFailed, autherr.Wrap(autherr.ErrStateMismatch, "redirect state does not match the issued state"))
	case res.Code == "":
		return nil, o.fail(PhaseUserCancelled, autherr.Wrap(autherr.ErrUserCancelled, "no authorization code in redirect"))
	}
	o.emit(Event{Phase: PhaseCodeReceived})

	o.emit(Event{Phase: PhaseExchanging})
	id, err := o.exchange(ctx, res, redirectURI)
	if err != nil {
		if errors.Is(err, autherr.ErrAborted) {
			return nil, o.fail(PhaseFailed, err)
		}
		return nil, o.fail(PhaseExchangeFailed, err)
	}

	o.emit(Event{Phase: PhaseSuccess, Identity: id})
	return id, nil
}

func (o *Orchestrator) requestAuthURL(ctx context.Context, redirectURI string) (*models.AuthURLResponse, error) {
	status, err := o.api.Status(ctx, o.opts.Provider)
	if err != nil {
		return nil, upstreamErr(ctx, autherr.ErrConfiguration, err)
	}
	if !status.Configured {
		return nil, autherr.Wrap(autherr.ErrConfiguration, "%s login is not configured on the server", o.opts.Provider)
	}

	resp, err := o.api.AuthURL(ctx, o.opts.Provider, redirectURI)
	if err != nil {
		return nil, upstreamErr(ctx, autherr.ErrConfiguration, err)
	}
	if resp.AuthURL == "" || resp.State == "" {
		return nil, autherr.Wrap(autherr.ErrConfiguration, "server returned an incomplete authorization URL")
	}
	return resp, nil
}

// await polls the listener once per interval until a result arrives, the
// poll budget is spent or ctx ends
func (o *Orchestrator) await(ctx context.Context, l *loopback.Listener) (models.CallbackResult, error) {
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	polls := int(o.opts.FlowTimeout / o.opts.PollInterval)
	for i := 0; i < polls; i++ {
		select {
		case <-ctx.Done():
			return models.CallbackResult{}, autherr.Wrap(autherr.ErrAborted, "%v", ctx.Err())
		case res := <-l.Result():
			return res, nil
		case <-ticker.C:
		}
	}

	select {
	case res := <-l.Result():
		return res, nil
	default:
		return models.CallbackResult{}, autherr.Wrap(autherr.ErrTimedOut, "no redirect within %s", o.opts.FlowTimeout)
	}
}

func (o *Orchestrator) exchange(ctx context.Context, res models.CallbackResult, redirectURI string) (*models.ApplicationIdentity, error) {
	resp, err := o.api.Callback(ctx, o.opts.Provider, models.CallbackRequest{
		Code:        res.Code,
		State:       res.State,
		RedirectURI: redirectURI,
	})
	if err != nil {
		return nil, upstreamErr(ctx, autherr.ErrExchangeFailed, err)
	}
	if !resp.Success {
		reason := resp.Error
		if reason == "" {
			reason = "login failed"
		}
		return nil, autherr.Wrap(autherr.ErrExchangeFailed, "%s", reason)
	}
	if resp.Token == "" || resp.UserID == nil {
		return nil, autherr.Wrap(autherr.ErrExchangeFailed, "server returned an incomplete identity")
	}
	return resp.Identity(), nil
}

func (o *Orchestrator) fail(phase Phase, err error) error {
	o.emit(Event{Phase: phase, Err: err})
	return err
}

func (o *Orchestrator) emit(ev Event) {
	logger.Debug("Login phase", zap.Stringer("phase", ev.Phase))
	if o.observer != nil {
		o.observer(ev)
	}
}

// upstreamErr maps a failed server call to kind, or to ErrAborted when the
// caller gave up. Only the server's own answer is kept in the message; the
// transport error is logged.
func upstreamErr(ctx context.Context, kind, err error) error {
	if ctx.Err() != nil {
		return autherr.Wrap(autherr.ErrAborted, "%v", ctx.Err())
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return autherr.Wrap(kind, "%s", apiErr.Error())
	}
	logger.Debug("Server request failed", zap.Error(err))
	return autherr.Wrap(kind, "server unreachable")
}
