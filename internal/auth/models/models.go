package models

import "time"

// AuthSession tracks one issued authorization request until its callback
type AuthSession struct {
	State       string    `json:"state"`
	RedirectURI string    `json:"redirect_uri"`
	IssuedAt    time.Time `json:"issued_at"`
}

// Expired reports whether the session is older than ttl at now
func (s AuthSession) Expired(now time.Time, ttl time.Duration) bool {
	return now.After(s.IssuedAt.Add(ttl))
}

// CallbackResult is what the loopback listener extracted from the redirect.
// On a received request exactly one of Code or Error is normally set.
type CallbackResult struct {
	Code  string
	State string
	Error string
}

// HasCode reports whether the redirect carried an authorization code
func (r CallbackResult) HasCode() bool {
	return r.Code != "" && r.Error == ""
}

// ProviderProfile represents the authenticated user as the provider sees them
type ProviderProfile struct {
	ProviderID  string
	Email       string
	DisplayName string
	AvatarURL   string
}

// ApplicationIdentity is the application user plus a freshly minted bearer token
type ApplicationIdentity struct {
	UserID   int64
	Username string
	Token    string
}

// StatusResponse is returned by GET /auth/{provider}/status
type StatusResponse struct {
	Configured bool `json:"configured"`
}

// AuthURLResponse is returned by GET /auth/{provider}/auth-url
type AuthURLResponse struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// CallbackRequest is the body of POST /auth/{provider}/callback
type CallbackRequest struct {
	Code        string `json:"code"`
	State       string `json:"state"`
	RedirectURI string `json:"redirect_uri"`
}

// CallbackResponse is the body returned by POST /auth/{provider}/callback
type CallbackResponse struct {
	Success  bool   `json:"success"`
	UserID   *int64 `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Token    string `json:"token,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Identity converts a successful response into an ApplicationIdentity
func (r CallbackResponse) Identity() *ApplicationIdentity {
	id := &ApplicationIdentity{Username: r.Username, Token: r.Token}
	if r.UserID != nil {
		id.UserID = *r.UserID
	}
	return id
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Username string `json:"username"`
}

// TokenResponse is returned by POST /auth/login
type TokenResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

// MeResponse is returned by GET /auth/me for a valid bearer token
type MeResponse struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
