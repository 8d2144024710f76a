// Package server runs the login HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/brizzai/loopback-login/internal/auth"
	"github.com/brizzai/loopback-login/internal/config"
	"github.com/brizzai/loopback-login/internal/logger"
	"go.uber.org/zap"
)

const (
	// shutdownTimeout is the maximum time to wait for server shutdown
	shutdownTimeout = 5 * time.Second
)

// Server serves the login routes and the OpenAPI document
type Server struct {
	config  *config.Config
	auth    *auth.Service
	version string
	http    *http.Server
	errCh   chan error

	mu      sync.Mutex
	boundTo string
}

// NewServer creates a new server instance for the given auth service
func NewServer(cfg *config.Config, authService *auth.Service) *Server {
	s := &Server{
		config:  cfg,
		auth:    authService,
		version: config.Version(),
		errCh:   make(chan error, 1),
	}
	s.http = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           s.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
	return s
}

// Handler returns the full middleware-wrapped route tree
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.auth.RegisterRoutes(mux)
	mux.HandleFunc("GET /openapi.json", openAPIHandler(s.version))
	logger.Info("Registered login routes")
	return s.auth.WrapWithMiddleware(mux)
}

// Start binds the listen address and serves in the background. Bind errors
// are returned synchronously.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.http.Addr, err)
	}

	s.mu.Lock()
	s.boundTo = ln.Addr().String()
	s.mu.Unlock()

	logger.Info("Starting server",
		zap.String("address", ln.Addr().String()),
		zap.String("version", s.version),
		zap.Bool("provider_configured", s.auth.GetProvider().Configured()),
	)
	if !s.auth.GetProvider().Configured() {
		logger.Warn("OAuth client credentials are not set; provider login routes will answer 503")
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
			s.errCh <- fmt.Errorf("server error: %w", err)
		}
	}()
	return nil
}

// Addr returns the bound address once Start succeeded
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundTo
}

// Errors reports a failure of the background serve loop
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Stop gracefully shuts the server down within shutdownTimeout
func (s *Server) Stop(ctx context.Context) error {
	logger.Info("Shutting down server", zap.Duration("timeout", shutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	logger.Info("HTTP server stopped")
	return nil
}
