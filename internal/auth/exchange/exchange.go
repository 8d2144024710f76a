// Package exchange turns an authorization code into an application identity.
//
// The work runs as a fixed sequence of stages. Each stage fills in one field
// of the flow and the first failing stage ends the exchange, so a partial
// identity is never returned.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/brizzai/loopback-login/internal/auth/autherr"
	"github.com/brizzai/loopback-login/internal/auth/models"
	"github.com/brizzai/loopback-login/internal/auth/providers"
	"github.com/brizzai/loopback-login/internal/identity"
	"github.com/brizzai/loopback-login/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// flow carries the values produced by one exchange
type flow struct {
	code        string
	redirectURI string

	token    *oauth2.Token
	profile  *models.ProviderProfile
	identity *models.ApplicationIdentity
}

type stage struct {
	name string
	run  func(ctx context.Context, f *flow) error
}

// Service exchanges codes against a provider and resolves the resulting
// profile. It keeps no per-flow memory; state correlation is the caller's job.
type Service struct {
	provider providers.Provider
	resolver identity.Resolver
	stages   []stage
}

func NewService(provider providers.Provider, resolver identity.Resolver) *Service {
	s := &Service{provider: provider, resolver: resolver}
	s.stages = []stage{
		{name: "token", run: s.tokenStage},
		{name: "profile", run: s.profileStage},
		{name: "validate", run: s.validateStage},
		{name: "resolve", run: s.resolveStage},
	}
	return s
}

// Exchange runs the stages for req. The returned error wraps one of the
// autherr kinds.
func (s *Service) Exchange(ctx context.Context, req models.CallbackRequest) (*models.ApplicationIdentity, error) {
	if !s.provider.Configured() {
		return nil, autherr.ErrConfiguration
	}
	if req.Code == "" {
		return nil, autherr.Wrap(autherr.ErrInvalidRequest, "missing authorization code")
	}

	log := logger.With(zap.String("provider", s.provider.Name()))
	f := &flow{code: req.Code, redirectURI: req.RedirectURI}
	for _, st := range s.stages {
		if err := st.run(ctx, f); err != nil {
			log.Warn("Code exchange failed", zap.String("stage", st.name), zap.Error(err))
			return nil, err
		}
	}

	log.Info("Code exchange completed", zap.Int64("user_id", f.identity.UserID))
	return f.identity, nil
}

func (s *Service) tokenStage(ctx context.Context, f *flow) error {
	token, err := s.provider.Exchange(ctx, f.code, f.redirectURI)
	if err != nil {
		logger.Debug("Token request failed", zap.Error(err))
		return autherr.Wrap(autherr.ErrUpstreamToken, "%s", describeTokenError(err))
	}
	if token == nil || token.AccessToken == "" {
		return autherr.Wrap(autherr.ErrUpstreamToken, "no access token in response")
	}
	f.token = token
	return nil
}

func (s *Service) profileStage(ctx context.Context, f *flow) error {
	profile, err := s.provider.FetchProfile(ctx, f.token)
	if err != nil {
		logger.Debug("Profile request failed", zap.Error(err))
		var ue *url.Error
		if errors.As(err, &ue) {
			return autherr.Wrap(autherr.ErrUpstreamProfile, "provider profile endpoint unreachable")
		}
		return autherr.Wrap(autherr.ErrUpstreamProfile, "%v", err)
	}
	f.profile = profile
	return nil
}

func (s *Service) validateStage(_ context.Context, f *flow) error {
	p := f.profile
	if p == nil {
		return autherr.Wrap(autherr.ErrInvalidProfile, "empty profile")
	}
	var missing []string
	if strings.TrimSpace(p.ProviderID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(p.Email) == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		return autherr.Wrap(autherr.ErrInvalidProfile, "missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func (s *Service) resolveStage(ctx context.Context, f *flow) error {
	id, err := s.resolver.Resolve(ctx, *f.profile)
	if err != nil {
		logger.Error("Failed to resolve user", zap.Error(err))
		return autherr.Wrap(autherr.ErrExchangeFailed, "could not store user")
	}
	f.identity = id
	return nil
}

// describeTokenError keeps the provider's OAuth error code and reason. Any
// other failure gets a fixed reason so URLs and dial errors stay in the logs.
func describeTokenError(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch {
		case re.ErrorCode != "" && re.ErrorDescription != "":
			return fmt.Sprintf("%s: %s", re.ErrorCode, re.ErrorDescription)
		case re.ErrorCode != "":
			return re.ErrorCode
		case re.Response != nil:
			return fmt.Sprintf("token endpoint returned %s", re.Response.Status)
		}
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return "provider token endpoint unreachable"
	}
	return "token request failed"
}
