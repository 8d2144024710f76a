package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brizzai/loopback-login/internal/auth/autherr"
	"github.com/brizzai/loopback-login/internal/auth/models"
	"github.com/brizzai/loopback-login/internal/auth/providers"
	"github.com/brizzai/loopback-login/internal/config"
	"github.com/brizzai/loopback-login/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	server       *httptest.Server
	tokenStatus  int
	tokenBody     string
	profileStatus int
	profileBody   string
	profileCalls  atomic.Int32
}

func newStubProvider(t *testing.T) *stubProvider {
	t.Helper()
	sp := &stubProvider{
		tokenStatus: http.StatusOK,
		tokenBody:   `{"access_token":"t","token_type":"Bearer"}`,
		profileBody: `{"id":"42","email":"a@b.com","name":"A"}`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(sp.tokenStatus)
		_, _ = w.Write([]byte(sp.tokenBody))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		sp.profileCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer t" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if sp.profileStatus != 0 {
			w.WriteHeader(sp.profileStatus)
		}
		_, _ = w.Write([]byte(sp.profileBody))
	})
	sp.server = httptest.NewServer(mux)
	t.Cleanup(sp.server.Close)
	return sp
}

func (sp *stubProvider) provider(configured bool) providers.Provider {
	return providers.NewGoogleProvider(sp.oauthConfig(configured))
}

func (sp *stubProvider) oauthConfig(configured bool) config.OAuthConfig {
	cfg := config.OAuthConfig{
		Provider:    "google",
		AuthURL:     sp.server.URL + "/auth",
		TokenURL:    sp.server.URL + "/token",
		UserInfoURL: sp.server.URL + "/userinfo",
	}
	if configured {
		cfg.ClientID = "client"
		cfg.ClientSecret = "secret"
	}
	return cfg
}

func newResolver() *identity.Service {
	return identity.NewService(identity.NewMemoryStore(),
		identity.NewJWTIssuer([]byte("secret"), "test", time.Hour))
}

var validRequest = models.CallbackRequest{
	Code:        "c",
	State:       "s",
	RedirectURI: "http://localhost:9876/callback",
}

func TestExchangeSuccess(t *testing.T) {
	sp := newStubProvider(t)
	svc := NewService(sp.provider(true), newResolver())

	id, err := svc.Exchange(context.Background(), validRequest)
	require.NoError(t, err)
	assert.NotZero(t, id.UserID)
	assert.Equal(t, "user", id.Username)
	assert.NotEmpty(t, id.Token)
	assert.Equal(t, int32(1), sp.profileCalls.Load())
}

func TestExchangeFailures(t *testing.T) {
	tests := []struct {
		name         string
		configured   bool
		tokenStatus  int
		tokenBody     string
		profileStatus int
		profileBody   string
		wantKind      error
		wantContains string
		wantProfile  int32
	}{
		{
			name:       "not configured",
			configured: false,
			wantKind:   autherr.ErrConfiguration,
		},
		{
			name:         "token endpoint rejects code",
			configured:   true,
			tokenStatus:  http.StatusBadRequest,
			tokenBody:    `{"error":"invalid_grant","error_description":"Bad Request"}`,
			wantKind:     autherr.ErrUpstreamToken,
			wantContains: "invalid_grant",
		},
		{
			name:        "missing access token",
			configured:  true,
			tokenBody:   `{"token_type":"Bearer"}`,
			wantKind:    autherr.ErrUpstreamToken,
			wantProfile: 0,
		},
		{
			name:         "profile missing email",
			configured:   true,
			profileBody:  `{"id":"42","name":"A"}`,
			wantKind:     autherr.ErrInvalidProfile,
			wantContains: "email",
			wantProfile:  1,
		},
		{
			name:         "profile missing id",
			configured:   true,
			profileBody:  `{"email":"a@b.com"}`,
			wantKind:     autherr.ErrInvalidProfile,
			wantContains: "id",
			wantProfile:  1,
		},
		{
			name:          "profile endpoint error",
			configured:    true,
			profileStatus: http.StatusInternalServerError,
			wantKind:      autherr.ErrUpstreamProfile,
			wantContains:  "status 500",
			wantProfile:   1,
		},
		{
			name:        "profile not json",
			configured:  true,
			profileBody: `<html>`,
			wantKind:    autherr.ErrUpstreamProfile,
			wantProfile: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sp := newStubProvider(t)
			if tt.tokenStatus != 0 {
				sp.tokenStatus = tt.tokenStatus
			}
			if tt.tokenBody != "" {
				sp.tokenBody = tt.tokenBody
			}
			sp.profileStatus = tt.profileStatus
			if tt.profileBody != "" {
				sp.profileBody = tt.profileBody
			}
			svc := NewService(sp.provider(tt.configured), newResolver())

			id, err := svc.Exchange(context.Background(), validRequest)
			assert.Nil(t, id)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantKind), "got %v", err)
			if tt.wantContains != "" {
				assert.Contains(t, err.Error(), tt.wantContains)
			}
			assert.Equal(t, tt.wantProfile, sp.profileCalls.Load())
		})
	}
}

func TestExchangeUnreachableProvider(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()

	tests := []struct {
		name     string
		override func(cfg *config.OAuthConfig)
		wantKind error
		want     string
	}{
		{
			name:     "token endpoint",
			override: func(cfg *config.OAuthConfig) { cfg.TokenURL = closed.URL + "/token" },
			wantKind: autherr.ErrUpstreamToken,
			want:     "provider token endpoint unreachable",
		},
		{
			name:     "profile endpoint",
			override: func(cfg *config.OAuthConfig) { cfg.UserInfoURL = closed.URL + "/userinfo" },
			wantKind: autherr.ErrUpstreamProfile,
			want:     "provider profile endpoint unreachable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sp := newStubProvider(t)
			cfg := sp.oauthConfig(true)
			tt.override(&cfg)
			svc := NewService(providers.NewGoogleProvider(cfg), newResolver())

			_, err := svc.Exchange(context.Background(), validRequest)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantKind)

			msg := autherr.Message(err)
			assert.Contains(t, msg, tt.want)
			for _, leak := range []string{"dial tcp", "http://", "127.0.0.1"} {
				assert.NotContains(t, msg, leak)
			}
		})
	}
}

func TestExchangeMissingCode(t *testing.T) {
	sp := newStubProvider(t)
	svc := NewService(sp.provider(true), newResolver())

	_, err := svc.Exchange(context.Background(), models.CallbackRequest{RedirectURI: "http://localhost:9876/callback"})
	assert.ErrorIs(t, err, autherr.ErrInvalidRequest)
}

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, models.ProviderProfile) (*models.ApplicationIdentity, error) {
	return nil, errors.New("db down")
}

func (failingResolver) ResolveUsername(context.Context, string) (*models.ApplicationIdentity, error) {
	return nil, errors.New("db down")
}

func TestExchangeResolverFailure(t *testing.T) {
	sp := newStubProvider(t)
	svc := NewService(sp.provider(true), failingResolver{})

	_, err := svc.Exchange(context.Background(), validRequest)
	assert.ErrorIs(t, err, autherr.ErrExchangeFailed)
	assert.NotContains(t, autherr.Message(err), "db down")
}

func TestExchangeIsIdempotentByProviderID(t *testing.T) {
	sp := newStubProvider(t)
	resolver := newResolver()
	svc := NewService(sp.provider(true), resolver)

	first, err := svc.Exchange(context.Background(), validRequest)
	require.NoError(t, err)
	second, err := svc.Exchange(context.Background(), validRequest)
	require.NoError(t, err)

	assert.Equal(t, first.UserID, second.UserID)
	assert.Equal(t, first.Username, second.Username)
	assert.Equal(t, int32(2), sp.profileCalls.Load())
}
