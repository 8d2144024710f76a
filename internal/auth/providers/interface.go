package providers

import (
	"context"
	"fmt"

	"github.com/brizzai/loopback-login/internal/auth/constants"
	"github.com/brizzai/loopback-login/internal/auth/models"
	"github.com/brizzai/loopback-login/internal/config"
	"golang.org/x/oauth2"
)

// ErrUnsupportedProvider indicates an unsupported OAuth provider was configured
var ErrUnsupportedProvider = fmt.Errorf("unsupported OAuth provider")

// Provider defines the interface an identity provider must implement
type Provider interface {
	// Name is the path segment the provider is exposed under
	Name() string

	// Configured reports whether client credentials are present
	Configured() bool

	// AuthCodeURL returns the consent screen URL carrying state and redirectURI
	AuthCodeURL(state, redirectURI string) string

	// Exchange trades an authorization code for a provider access token
	Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error)

	// FetchProfile retrieves the user profile with the access token
	FetchProfile(ctx context.Context, token *oauth2.Token) (*models.ProviderProfile, error)
}

// New builds the provider named in cfg
func New(cfg config.OAuthConfig) (Provider, error) {
	switch cfg.Provider {
	case constants.ProviderGoogle, "":
		return NewGoogleProvider(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}
}
