// Package identity maps verified provider profiles to application users and
// mints the bearer tokens handed back to clients.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brizzai/loopback-login/internal/auth/models"
	"github.com/brizzai/loopback-login/internal/logger"
	"go.uber.org/zap"
)

var (
	// ErrUserNotFound is returned by stores when no user matches
	ErrUserNotFound = errors.New("user not found")
	// ErrUsernameTaken is returned when a username belongs to another user
	ErrUsernameTaken = errors.New("username already taken")
	// ErrProviderIDTaken is returned when a provider id is already linked
	ErrProviderIDTaken = errors.New("provider id already linked")
)

// maxUsernameAttempts bounds the suffix search for a free username
const maxUsernameAttempts = 100

// User is the persisted application account
type User struct {
	ID          int64
	Username    string
	ProviderID  string
	Email       string
	DisplayName string
	AvatarURL   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserStore persists users. Create assigns ID and must reject duplicate
// usernames and provider ids with ErrUsernameTaken / ErrProviderIDTaken.
type UserStore interface {
	FindByProviderID(ctx context.Context, providerID string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	Create(ctx context.Context, u *User) error
	UpdateProfile(ctx context.Context, u *User) error
	Close() error
}

// TokenIssuer mints opaque bearer tokens for users
type TokenIssuer interface {
	Issue(u *User) (string, error)
}

// Resolver is the contract the code exchange depends on. Resolve is
// idempotent by provider id.
type Resolver interface {
	Resolve(ctx context.Context, profile models.ProviderProfile) (*models.ApplicationIdentity, error)
	ResolveUsername(ctx context.Context, username string) (*models.ApplicationIdentity, error)
}

// Service implements Resolver on top of a UserStore and a TokenIssuer
type Service struct {
	store  UserStore
	issuer TokenIssuer
}

func NewService(store UserStore, issuer TokenIssuer) *Service {
	return &Service{store: store, issuer: issuer}
}

func (s *Service) Resolve(ctx context.Context, profile models.ProviderProfile) (*models.ApplicationIdentity, error) {
	u, err := s.store.FindByProviderID(ctx, profile.ProviderID)
	switch {
	case errors.Is(err, ErrUserNotFound):
		u, err = s.createProviderUser(ctx, profile)
		if err != nil {
			return nil, err
		}
		logger.Info("Created user for provider profile", zap.Int64("user_id", u.ID), zap.String("username", u.Username))
	case err != nil:
		return nil, fmt.Errorf("failed to look up user: %w", err)
	default:
		if err := s.refreshProfile(ctx, u, profile); err != nil {
			return nil, err
		}
	}

	return s.identityFor(u)
}

func (s *Service) ResolveUsername(ctx context.Context, username string) (*models.ApplicationIdentity, error) {
	u, err := s.store.FindByUsername(ctx, username)
	switch {
	case errors.Is(err, ErrUserNotFound):
		u = &User{Username: username}
		if err := s.store.Create(ctx, u); err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to look up user: %w", err)
	case u.ProviderID != "":
		// accounts linked to a provider can only be entered through it
		return nil, ErrUsernameTaken
	}

	return s.identityFor(u)
}

// Lookup returns the user behind a verified token subject
func (s *Service) Lookup(ctx context.Context, id int64) (*User, error) {
	return s.store.FindByID(ctx, id)
}

func (s *Service) createProviderUser(ctx context.Context, profile models.ProviderProfile) (*User, error) {
	base := UsernameFromProfile(profile)
	for i := 1; i <= maxUsernameAttempts; i++ {
		u := &User{
			Username:    CandidateUsername(base, i),
			ProviderID:  profile.ProviderID,
			Email:       profile.Email,
			DisplayName: profile.DisplayName,
			AvatarURL:   profile.AvatarURL,
		}
		err := s.store.Create(ctx, u)
		switch {
		case err == nil:
			return u, nil
		case errors.Is(err, ErrUsernameTaken):
			continue
		case errors.Is(err, ErrProviderIDTaken):
			// a concurrent request linked the same profile first
			return s.store.FindByProviderID(ctx, profile.ProviderID)
		default:
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
	}
	return nil, fmt.Errorf("no free username for %q after %d attempts", base, maxUsernameAttempts)
}

func (s *Service) refreshProfile(ctx context.Context, u *User, profile models.ProviderProfile) error {
	if u.Email == profile.Email && u.DisplayName == profile.DisplayName && u.AvatarURL == profile.AvatarURL {
		return nil
	}
	u.Email = profile.Email
	u.DisplayName = profile.DisplayName
	u.AvatarURL = profile.AvatarURL
	if err := s.store.UpdateProfile(ctx, u); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

func (s *Service) identityFor(u *User) (*models.ApplicationIdentity, error) {
	token, err := s.issuer.Issue(u)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	return &models.ApplicationIdentity{
		UserID:   u.ID,
		Username: u.Username,
		Token:    token,
	}, nil
}
