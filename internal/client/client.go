// Package client talks to the login API from the terminal side.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brizzai/loopback-login/internal/auth/models"
	"github.com/brizzai/loopback-login/internal/logger"
	"go.uber.org/zap"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx answer from the server
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	switch {
	case e.Description != "":
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Description)
	case e.Code != "":
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Code)
	default:
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
}

// IsStatus reports whether err is an APIError with the given status
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// APIClient calls the login routes of one server
type APIClient struct {
	baseURL string
	client  *http.Client
	authMgr AuthManager
}

// New creates a client for baseURL. A zero timeout uses 30 seconds and a nil
// auth manager sends no credentials.
func New(baseURL string, timeout time.Duration, authMgr AuthManager) *APIClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if authMgr == nil {
		authMgr = NoAuth{}
	}
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		authMgr: authMgr,
	}
}

// Health probes GET /health
func (c *APIClient) Health(ctx context.Context) (*models.HealthResponse, error) {
	var out models.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status reports whether provider has client credentials on the server
func (c *APIClient) Status(ctx context.Context, provider string) (*models.StatusResponse, error) {
	var out models.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/auth/"+url.PathEscape(provider)+"/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AuthURL asks the server for a consent URL bound to redirectURI
func (c *APIClient) AuthURL(ctx context.Context, provider, redirectURI string) (*models.AuthURLResponse, error) {
	path := "/auth/" + url.PathEscape(provider) + "/auth-url?" + url.Values{"redirect_uri": {redirectURI}}.Encode()
	var out models.AuthURLResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Callback forwards the redirect values to the server. A 200 answer with
// success false is returned as-is, not as an error.
func (c *APIClient) Callback(ctx context.Context, provider string, req models.CallbackRequest) (*models.CallbackResponse, error) {
	var out models.CallbackResponse
	if err := c.do(ctx, http.MethodPost, "/auth/"+url.PathEscape(provider)+"/callback", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login performs the username-only login
func (c *APIClient) Login(ctx context.Context, username string) (*models.TokenResponse, error) {
	var out models.TokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", models.LoginRequest{Username: username}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Me describes the user behind the current credentials
func (c *APIClient) Me(ctx context.Context) (*models.MeResponse, error) {
	var out models.MeResponse
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authMgr.ApplyAuth(req); err != nil {
		return fmt.Errorf("failed to apply auth: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Debug("Failed to close response body", zap.Error(closeErr))
		}
	}()

	// read the whole body so the connection can be reused
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(raw, &payload) == nil {
			apiErr.Code = payload.Error
			apiErr.Description = payload.ErrorDescription
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
