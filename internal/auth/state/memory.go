package state

import (
	"context"
	"sync"
	"time"

	"github.com/brizzai/loopback-login/internal/auth/models"
	"github.com/brizzai/loopback-login/internal/logger"
	"go.uber.org/zap"
)

const (
	cleanupInterval = 5 * time.Minute
	// maxPendingSessions bounds the map between cleanup sweeps
	maxPendingSessions = 10000
)

// MemoryStore keeps sessions in process memory. Once maxSessions are
// pending, Save drops expired sessions and then the oldest one.
type MemoryStore struct {
	mu          sync.Mutex
	sessions    map[string]models.AuthSession
	ttl         time.Duration
	maxSessions int
	now         func() time.Time
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewMemoryStore creates a store and starts its cleanup goroutine; Close stops it.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]models.AuthSession),
		ttl:         ttl,
		maxSessions: maxPendingSessions,
		now:         time.Now,
		stop:        make(chan struct{}),
	}
	go s.cleanupRoutine()
	return s
}

func (s *MemoryStore) Save(_ context.Context, session models.AuthSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.State]; !ok && len(s.sessions) >= s.maxSessions {
		s.removeExpired(s.now())
		if len(s.sessions) >= s.maxSessions {
			s.evictOldest()
		}
	}
	s.sessions[session.State] = session
	return nil
}

func (s *MemoryStore) evictOldest() {
	var oldest string
	var issued time.Time
	for state, session := range s.sessions {
		if oldest == "" || session.IssuedAt.Before(issued) {
			oldest, issued = state, session.IssuedAt
		}
	}
	delete(s.sessions, oldest)
	logger.Warn("Pending auth session limit reached, dropped oldest", zap.Int("limit", s.maxSessions))
}

func (s *MemoryStore) Consume(_ context.Context, state string) (models.AuthSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[state]
	if !ok {
		return models.AuthSession{}, ErrNotFound
	}
	delete(s.sessions, state)

	if session.Expired(s.now(), s.ttl) {
		return models.AuthSession{}, ErrExpired
	}
	return session, nil
}

// Len returns the number of pending sessions
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// CleanupExpired drops sessions older than the TTL
func (s *MemoryStore) CleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cleaned := s.removeExpired(s.now()); cleaned > 0 {
		logger.Debug("Cleaned up expired auth sessions", zap.Int("count", cleaned))
	}
}

// removeExpired must be called with mu held
func (s *MemoryStore) removeExpired(now time.Time) int {
	cleaned := 0
	for state, session := range s.sessions {
		if session.Expired(now, s.ttl) {
			delete(s.sessions, state)
			cleaned++
		}
	}
	return cleaned
}

func (s *MemoryStore) cleanupRoutine() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.CleanupExpired()
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}
