package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/brizzai/loopback-login/internal/auth/autherr"
	"github.com/brizzai/loopback-login/internal/auth/constants"
	"github.com/brizzai/loopback-login/internal/auth/middleware"
	"github.com/brizzai/loopback-login/internal/auth/models"
	"github.com/brizzai/loopback-login/internal/auth/providers"
	"github.com/brizzai/loopback-login/internal/auth/state"
	"github.com/brizzai/loopback-login/internal/identity"
	"github.com/brizzai/loopback-login/internal/logger"
	"github.com/brizzai/loopback-login/internal/utils"
	"go.uber.org/zap"
)

// invalidStateMessage is reported for unknown, expired or mismatched sessions
const invalidStateMessage = "invalid or expired state"

// URLBuilder produces the consent URL and a fresh state for a redirect URI
type URLBuilder interface {
	BuildAuthURL(redirectURI string) (*models.AuthURLResponse, error)
}

// CodeExchanger completes a login from the values the provider redirected with
type CodeExchanger interface {
	Exchange(ctx context.Context, req models.CallbackRequest) (*models.ApplicationIdentity, error)
}

// UserLookup loads the user behind a verified token
type UserLookup interface {
	Lookup(ctx context.Context, id int64) (*identity.User, error)
}

// Handler handles the login HTTP routes
type Handler struct {
	provider  providers.Provider
	builder   URLBuilder
	sessions  state.Store
	exchanger CodeExchanger
	resolver  identity.Resolver
	users     UserLookup
	version   string
	now       func() time.Time
}

// Deps groups the collaborators of a Handler
type Deps struct {
	Provider  providers.Provider
	Builder   URLBuilder
	Sessions  state.Store
	Exchanger CodeExchanger
	Resolver  identity.Resolver
	Users     UserLookup
	Version   string
}

// NewHandler creates a new Handler instance
func NewHandler(d Deps) *Handler {
	return &Handler{
		provider:  d.Provider,
		builder:   d.Builder,
		sessions:  d.Sessions,
		exchanger: d.Exchanger,
		resolver:  d.Resolver,
		users:     d.Users,
		version:   d.Version,
		now:       time.Now,
	}
}

// knownProvider reports whether the {provider} path segment names the
// configured provider
func (h *Handler) knownProvider(r *http.Request) bool {
	return r.PathValue("provider") == h.provider.Name()
}

// HandleStatus handles GET /auth/{provider}/status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, models.StatusResponse{
		Configured: h.knownProvider(r) && h.provider.Configured(),
	})
}

// HandleAuthURL handles GET /auth/{provider}/auth-url
func (h *Handler) HandleAuthURL(w http.ResponseWriter, r *http.Request) {
	if !h.knownProvider(r) {
		utils.WriteError(w, "unsupported_provider", "Unknown provider", http.StatusNotFound)
		return
	}
	if !h.provider.Configured() {
		utils.WriteError(w, "not_configured", autherr.ErrConfiguration.Error(), http.StatusServiceUnavailable)
		return
	}

	redirectURI := r.URL.Query().Get("redirect_uri")
	if redirectURI == "" {
		utils.WriteError(w, "invalid_request", "redirect_uri is required", http.StatusBadRequest)
		return
	}

	resp, err := h.builder.BuildAuthURL(redirectURI)
	if err != nil {
		if errors.Is(err, autherr.ErrConfiguration) {
			utils.WriteError(w, "not_configured", err.Error(), http.StatusServiceUnavailable)
			return
		}
		logger.Error("Failed to build authorization URL", zap.Error(err))
		utils.WriteError(w, "server_error", "Failed to build authorization URL", http.StatusInternalServerError)
		return
	}

	session := models.AuthSession{State: resp.State, RedirectURI: redirectURI, IssuedAt: h.now()}
	if err := h.sessions.Save(r.Context(), session); err != nil {
		logger.Error("Failed to store auth session", logger.Masked("state", resp.State), zap.Error(err))
		utils.WriteError(w, "server_error", "Failed to start login", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, resp)
}

// HandleCallback handles POST /auth/{provider}/callback
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if !h.knownProvider(r) {
		utils.WriteError(w, "unsupported_provider", "Unknown provider", http.StatusNotFound)
		return
	}
	if !h.provider.Configured() {
		utils.WriteError(w, "not_configured", autherr.ErrConfiguration.Error(), http.StatusServiceUnavailable)
		return
	}

	var req models.CallbackRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	session, err := h.sessions.Consume(r.Context(), req.State)
	switch {
	case errors.Is(err, state.ErrNotFound), errors.Is(err, state.ErrExpired):
		logger.Warn("Callback with unknown or expired state", logger.Masked("state", req.State), zap.Error(err))
		utils.WriteJSON(w, models.CallbackResponse{Success: false, Error: invalidStateMessage})
		return
	case err != nil:
		logger.Error("Failed to load auth session", zap.Error(err))
		utils.WriteError(w, "server_error", "Failed to load login session", http.StatusInternalServerError)
		return
	}
	if session.RedirectURI != req.RedirectURI {
		logger.Warn("Callback redirect_uri does not match the issued one")
		utils.WriteJSON(w, models.CallbackResponse{Success: false, Error: invalidStateMessage})
		return
	}

	id, err := h.exchanger.Exchange(r.Context(), req)
	if err != nil {
		utils.WriteJSON(w, models.CallbackResponse{Success: false, Error: autherr.Message(err)})
		return
	}

	userID := id.UserID
	utils.WriteJSON(w, models.CallbackResponse{
		Success:  true,
		UserID:   &userID,
		Username: id.Username,
		Token:    id.Token,
	})
}

// HandleLogin handles POST /auth/login, the username-only fallback
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	username := strings.TrimSpace(req.Username)
	if n := utf8.RuneCountInString(username); n < constants.MinUsernameLength || n > constants.MaxUsernameLength {
		utils.WriteError(w, "invalid_request", "username must be between 2 and 50 characters", http.StatusBadRequest)
		return
	}

	id, err := h.resolver.ResolveUsername(r.Context(), username)
	if err != nil {
		if errors.Is(err, identity.ErrUsernameTaken) {
			utils.WriteError(w, "username_taken", err.Error(), http.StatusConflict)
			return
		}
		logger.Error("Username login failed", zap.Error(err))
		utils.WriteError(w, "server_error", "Failed to log in", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, models.TokenResponse{ID: id.UserID, Username: id.Username, Token: id.Token})
}

// HandleMe handles GET /auth/me. It must run behind middleware.Authenticate.
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	info, ok := middleware.GetAuthInfo(r.Context())
	if !ok {
		utils.WriteError(w, "unauthorized", "Authentication required", http.StatusUnauthorized)
		return
	}

	u, err := h.users.Lookup(r.Context(), info.UserID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			utils.WriteError(w, "invalid_token", "User no longer exists", http.StatusUnauthorized)
			return
		}
		logger.Error("Failed to load user", zap.Error(err))
		utils.WriteError(w, "server_error", "Failed to load user", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, models.MeResponse{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	})
}

// HandleHealth handles GET /health
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	utils.WriteJSON(w, models.HealthResponse{Status: "ok", Version: h.version})
}
