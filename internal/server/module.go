package server

import (
	"context"
	"fmt"
	"time"

	"github.com/brizzai/loopback-login/internal/auth"
	"github.com/brizzai/loopback-login/internal/auth/providers"
	"github.com/brizzai/loopback-login/internal/auth/state"
	"github.com/brizzai/loopback-login/internal/config"
	"github.com/brizzai/loopback-login/internal/identity"
	"github.com/brizzai/loopback-login/internal/identity/sqlite"
	"github.com/brizzai/loopback-login/internal/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const redisPingTimeout = 5 * time.Second

// StoresModule provides the session and user stores selected in config
var StoresModule = fx.Module("stores",
	fx.Provide(
		NewSessionStore,
		NewUserStore,
	),
)

// IdentityModule provides the token issuer and the identity resolver
var IdentityModule = fx.Module("identity",
	fx.Provide(
		NewTokenIssuer,
		asTokenIssuer,
		identity.NewService,
	),
)

// AuthModule provides the provider and the login service
var AuthModule = fx.Module("auth",
	fx.Provide(
		NewProvider,
		NewAuthService,
	),
)

// Module provides the HTTP server and ties its lifetime to the app
var Module = fx.Module("server",
	StoresModule,
	IdentityModule,
	AuthModule,
	fx.Provide(NewServer),
	fx.Invoke(registerServer),
)

// NewProvider builds the configured identity provider
func NewProvider(cfg *config.Config) (providers.Provider, error) {
	p, err := providers.New(cfg.OAuth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize provider %s: %w", cfg.OAuth.Provider, err)
	}
	return p, nil
}

// NewSessionStore opens the configured state session backend
func NewSessionStore(lc fx.Lifecycle, cfg *config.Config) (state.Store, error) {
	var store state.Store

	switch cfg.Sessions.Backend {
	case config.SessionBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Sessions.RedisAddr,
			Password: cfg.Sessions.RedisPassword,
			DB:       cfg.Sessions.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Sessions.RedisAddr, err)
		}
		store = state.NewRedisStore(client, cfg.Sessions.TTL)
	default:
		store = state.NewMemoryStore(cfg.Sessions.TTL)
	}

	logger.Info("Session store ready",
		zap.String("backend", string(cfg.Sessions.Backend)),
		zap.Duration("ttl", cfg.Sessions.TTL),
	)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return store.Close()
		},
	})
	return store, nil
}

// NewUserStore opens the configured user storage
func NewUserStore(lc fx.Lifecycle, cfg *config.Config) (identity.UserStore, error) {
	var store identity.UserStore

	switch cfg.Storage.Driver {
	case config.StorageDriverSQLite:
		s, err := sqlite.Open(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		logger.Warn("Using in-memory user storage; users are lost on restart")
		store = identity.NewMemoryStore()
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return store.Close()
		},
	})
	return store, nil
}

// NewTokenIssuer builds the bearer token issuer. Without a configured secret
// a random one is used and tokens do not survive a restart.
func NewTokenIssuer(cfg *config.Config) (*identity.JWTIssuer, error) {
	secret := []byte(cfg.Token.Secret)
	if len(secret) == 0 {
		var err error
		if secret, err = identity.RandomSecret(); err != nil {
			return nil, err
		}
		logger.Warn("token.secret is not set; using a random signing key")
	}
	return identity.NewJWTIssuer(secret, cfg.Token.Issuer, cfg.Token.TTL), nil
}

func asTokenIssuer(i *identity.JWTIssuer) identity.TokenIssuer {
	return i
}

// NewAuthService wires the login service
func NewAuthService(
	cfg *config.Config,
	provider providers.Provider,
	sessions state.Store,
	ids *identity.Service,
	issuer *identity.JWTIssuer,
) (*auth.Service, error) {
	return auth.NewService(auth.Options{
		Provider:     provider,
		Sessions:     sessions,
		Identity:     ids,
		Verifier:     issuer,
		AllowOrigins: cfg.Server.AllowOrigins,
		Version:      config.Version(),
	})
}

func registerServer(lc fx.Lifecycle, srv *Server, shutdowner fx.Shutdowner) {
	stop := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := srv.Start(ctx); err != nil {
				return err
			}
			go func() {
				select {
				case err := <-srv.Errors():
					logger.Error("Stopping after server failure", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				case <-stop:
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(stop)
			return srv.Stop(ctx)
		},
	})
}
