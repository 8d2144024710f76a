package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brizzai/loopback-login/internal/auth/models"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "oauth:state:"

// RedisStore keeps sessions in Redis so several server replicas can share
// them. Expiry is delegated to the key TTL.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Save(ctx context.Context, session models.AuthSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+session.State, string(payload), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Consume reads and deletes the session in one GETDEL round trip
func (s *RedisStore) Consume(ctx context.Context, state string) (models.AuthSession, error) {
	raw, err := s.client.GetDel(ctx, keyPrefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return models.AuthSession{}, ErrNotFound
	}
	if err != nil {
		return models.AuthSession{}, fmt.Errorf("failed to load session: %w", err)
	}

	var session models.AuthSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return models.AuthSession{}, fmt.Errorf("failed to decode session: %w", err)
	}
	return session, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
