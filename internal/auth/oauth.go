package auth

import (
	"errors"
	"net/http"

	"github.com/brizzai/loopback-login/internal/auth/autherr"
	"github.com/brizzai/loopback-login/internal/auth/exchange"
	"github.com/brizzai/loopback-login/internal/auth/handlers"
	"github.com/brizzai/loopback-login/internal/auth/middleware"
	"github.com/brizzai/loopback-login/internal/auth/models"
	"github.com/brizzai/loopback-login/internal/auth/providers"
	"github.com/brizzai/loopback-login/internal/auth/state"
	"github.com/brizzai/loopback-login/internal/identity"
)

// Options holds the collaborators of a Service
type Options struct {
	Provider     providers.Provider
	Sessions     state.Store
	Identity     *identity.Service
	Verifier     middleware.TokenVerifier
	AllowOrigins []string
	Version      string
}

// Service represents the login service
type Service struct {
	authProvider providers.Provider
	exchanger    *exchange.Service
	verifier     middleware.TokenVerifier
	allowOrigins []string
	handler      *handlers.Handler
}

// NewService creates a new login service
func NewService(opts Options) (*Service, error) {
	switch {
	case opts.Provider == nil:
		return nil, errors.New("auth service requires a provider")
	case opts.Sessions == nil:
		return nil, errors.New("auth service requires a session store")
	case opts.Identity == nil:
		return nil, errors.New("auth service requires an identity service")
	case opts.Verifier == nil:
		return nil, errors.New("auth service requires a token verifier")
	}

	s := &Service{
		authProvider: opts.Provider,
		exchanger:    exchange.NewService(opts.Provider, opts.Identity),
		verifier:     opts.Verifier,
		allowOrigins: opts.AllowOrigins,
	}
	s.handler = handlers.NewHandler(handlers.Deps{
		Provider:  opts.Provider,
		Builder:   s,
		Sessions:  opts.Sessions,
		Exchanger: s.exchanger,
		Resolver:  opts.Identity,
		Users:     opts.Identity,
		Version:   opts.Version,
	})
	return s, nil
}

// BuildAuthURL returns the provider consent URL and a fresh state for
// redirectURI. It does not persist anything.
func (s *Service) BuildAuthURL(redirectURI string) (*models.AuthURLResponse, error) {
	if !s.authProvider.Configured() {
		return nil, autherr.ErrConfiguration
	}
	st, err := state.Generate()
	if err != nil {
		return nil, err
	}
	return &models.AuthURLResponse{
		AuthURL: s.authProvider.AuthCodeURL(st, redirectURI),
		State:   st,
	}, nil
}

// RegisterRoutes registers all login routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handler.HandleHealth)

	mux.HandleFunc("GET /auth/{provider}/status", s.handler.HandleStatus)
	mux.HandleFunc("GET /auth/{provider}/auth-url", s.handler.HandleAuthURL)
	mux.HandleFunc("POST /auth/{provider}/callback", s.handler.HandleCallback)

	mux.HandleFunc("POST /auth/login", s.handler.HandleLogin)
	mux.Handle("GET /auth/me", s.Authenticate()(http.HandlerFunc(s.handler.HandleMe)))
}

// WrapWithMiddleware wraps the mux with CORS and request logging
func (s *Service) WrapWithMiddleware(handler http.Handler) http.Handler {
	return middleware.RequestLogger(middleware.CORSWithOrigins(s.allowOrigins)(handler))
}

// Authenticate returns the authentication middleware
func (s *Service) Authenticate() func(http.Handler) http.Handler {
	return middleware.Authenticate(s.verifier)
}

// GetProvider returns the configured auth provider
func (s *Service) GetProvider() providers.Provider {
	return s.authProvider
}
