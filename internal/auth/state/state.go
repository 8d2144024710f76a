// Package state issues anti-forgery state tokens and keeps the pending
// authorization sessions they identify.
package state

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/brizzai/loopback-login/internal/auth/constants"
	"github.com/brizzai/loopback-login/internal/auth/models"
)

var (
	// ErrNotFound is returned when no session exists for a state
	ErrNotFound = errors.New("state not found")
	// ErrExpired is returned when the session outlived its TTL
	ErrExpired = errors.New("state expired")
)

// Store keeps pending sessions keyed by state. Consume is one-time: a
// session can be taken at most once.
type Store interface {
	Save(ctx context.Context, session models.AuthSession) error
	Consume(ctx context.Context, state string) (models.AuthSession, error)
	Close() error
}

// Generate returns a URL-safe random token with constants.StateBytes of entropy
func Generate() (string, error) {
	buf := make([]byte, constants.StateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
