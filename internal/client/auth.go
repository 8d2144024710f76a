package client

import (
	"net/http"
	"sync"

	"github.com/brizzai/loopback-login/internal/auth/constants"
)

// AuthManager handles request authentication
type AuthManager interface {
	ApplyAuth(req *http.Request) error
}

// NoAuth leaves requests untouched
type NoAuth struct{}

func (NoAuth) ApplyAuth(*http.Request) error { return nil }

// BearerAuthManager adds the application token as a bearer credential. The
// token can be replaced after a login completes.
type BearerAuthManager struct {
	mu    sync.RWMutex
	token string
}

// NewBearerAuthManager creates a manager for token; an empty token sends no header
func NewBearerAuthManager(token string) *BearerAuthManager {
	return &BearerAuthManager{token: token}
}

// SetToken replaces the token used for later requests
func (a *BearerAuthManager) SetToken(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = token
}

// ApplyAuth adds authentication to the request
func (a *BearerAuthManager) ApplyAuth(req *http.Request) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.token != "" {
		req.Header.Set(constants.AuthHeaderName, constants.AuthHeaderPrefix+a.token)
	}
	return nil
}
