package server

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brizzai/loopback-login/internal/auth/models"
	"github.com/brizzai/loopback-login/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Host:         "127.0.0.1",
			Port:         0,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		OAuth: config.OAuthConfig{
			Provider:     "google",
			ClientID:     "id",
			ClientSecret: "secret",
		},
		Token: config.TokenConfig{
			Secret: "test-secret",
			Issuer: "loopback-login",
			TTL:    time.Hour,
		},
		Sessions: config.SessionsConfig{
			Backend: config.SessionBackendMemory,
			TTL:     time.Minute,
		},
		Storage: config.StorageConfig{
			Driver: config.StorageDriverSQLite,
			Path:   filepath.Join(t.TempDir(), "users.db"),
		},
	}
}

func TestLoadOpenAPI(t *testing.T) {
	doc, err := LoadOpenAPI("1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", doc.Info.Version)

	for _, path := range []string{
		"/health",
		"/auth/{provider}/status",
		"/auth/{provider}/auth-url",
		"/auth/{provider}/callback",
		"/auth/login",
		"/auth/me",
	} {
		assert.NotNil(t, doc.Paths.Value(path), "missing path %s", path)
	}
	assert.NotNil(t, doc.Paths.Value("/auth/{provider}/callback").Post)
	assert.NotNil(t, doc.Paths.Value("/auth/{provider}/auth-url").Get)
}

func TestModuleServesRoutes(t *testing.T) {
	var srv *Server
	app := fxtest.New(t,
		fx.Supply(testConfig(t)),
		Module,
		fx.Populate(&srv),
	)
	app.RequireStart()
	defer app.RequireStop()

	base := "http://" + srv.Addr()

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	var health models.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	_ = resp.Body.Close()
	assert.Equal(t, "ok", health.Status)

	resp, err = http.Get(base + "/auth/google/status")
	require.NoError(t, err)
	var status models.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	_ = resp.Body.Close()
	assert.True(t, status.Configured)

	resp, err = http.Get(base + "/openapi.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, "3.0.3", doc["openapi"])

	login, err := http.Post(base+"/auth/login", "application/json", strings.NewReader(`{"username":"someone"}`))
	require.NoError(t, err)
	defer login.Body.Close()
	assert.Equal(t, http.StatusOK, login.StatusCode)
}

func TestNewSessionStoreRedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sessions.Backend = config.SessionBackendRedis
	cfg.Sessions.RedisAddr = "127.0.0.1:1"

	_, err := NewSessionStore(fxtest.NewLifecycle(t), cfg)
	assert.Error(t, err)
}

func TestNewTokenIssuerRandomSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Token.Secret = ""

	issuer, err := NewTokenIssuer(cfg)
	require.NoError(t, err)
	_, err = issuer.Verify("not-a-token")
	assert.Error(t, err)
}

func TestNewProviderRejectsUnknown(t *testing.T) {
	cfg := testConfig(t)
	cfg.OAuth.Provider = "myspace"

	_, err := NewProvider(cfg)
	assert.Error(t, err)
}
