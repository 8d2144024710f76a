package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/brizzai/loopback-login/internal/auth/constants"
	"github.com/brizzai/loopback-login/internal/auth/models"
	"github.com/brizzai/loopback-login/internal/config"
	"github.com/brizzai/loopback-login/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const upstreamTimeout = 15 * time.Second

type GoogleProvider struct {
	oauth2Config *oauth2.Config
	userInfoURL  string
	httpClient   *http.Client
}

// NewGoogleProvider builds the provider from cfg. Endpoint fields left empty
// fall back to Google's public endpoints.
func NewGoogleProvider(cfg config.OAuthConfig) *GoogleProvider {
	endpoint := google.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	// credentials travel in the form body, as Google documents for installed apps
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	userInfoURL := constants.GoogleUserInfoURL
	if cfg.UserInfoURL != "" {
		userInfoURL = cfg.UserInfoURL
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = constants.DefaultScopes
	}

	return &GoogleProvider{
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		userInfoURL: userInfoURL,
		httpClient:  &http.Client{Timeout: upstreamTimeout},
	}
}

func (p *GoogleProvider) Name() string {
	return constants.ProviderGoogle
}

func (p *GoogleProvider) Configured() bool {
	return p.oauth2Config.ClientID != "" && p.oauth2Config.ClientSecret != ""
}

func (p *GoogleProvider) AuthCodeURL(state, redirectURI string) string {
	cfg := *p.oauth2Config // copy
	cfg.RedirectURL = redirectURI

	opts := make([]oauth2.AuthCodeOption, 0, len(constants.OfflineConsentParams))
	for k, v := range constants.OfflineConsentParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	return cfg.AuthCodeURL(state, opts...)
}

func (p *GoogleProvider) Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	cfg := *p.oauth2Config // copy
	cfg.RedirectURL = redirectURI

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	return cfg.Exchange(ctx, code)
}

func (p *GoogleProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*models.ProviderProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(constants.AuthHeaderName, constants.AuthHeaderPrefix+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call userinfo endpoint: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Error("Failed to close response body", zap.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("userinfo request failed with status %d", resp.StatusCode)
	}

	var userInfo struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo response: %w", err)
	}

	return &models.ProviderProfile{
		ProviderID:  userInfo.ID,
		Email:       userInfo.Email,
		DisplayName: userInfo.Name,
		AvatarURL:   userInfo.Picture,
	}, nil
}
