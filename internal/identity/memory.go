package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a UserStore for development and tests; data is lost on exit
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[int64]User)}
}

func (s *MemoryStore) FindByProviderID(_ context.Context, providerID string) (*User, error) {
	if providerID == "" {
		return nil, ErrUserNotFound
	}
	return s.find(func(u User) bool { return u.ProviderID == providerID })
}

func (s *MemoryStore) FindByUsername(_ context.Context, username string) (*User, error) {
	return s.find(func(u User) bool { return u.Username == username })
}

func (s *MemoryStore) FindByID(_ context.Context, id int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (s *MemoryStore) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byID {
		if existing.Username == u.Username {
			return ErrUsernameTaken
		}
		if u.ProviderID != "" && existing.ProviderID == u.ProviderID {
			return ErrProviderIDTaken
		}
	}

	s.nextID++
	now := time.Now().UTC()
	u.ID = s.nextID
	u.CreatedAt = now
	u.UpdatedAt = now
	s.byID[u.ID] = *u
	return nil
}

func (s *MemoryStore) UpdateProfile(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[u.ID]
	if !ok {
		return ErrUserNotFound
	}
	existing.Email = u.Email
	existing.DisplayName = u.DisplayName
	existing.AvatarURL = u.AvatarURL
	existing.UpdatedAt = time.Now().UTC()
	s.byID[u.ID] = existing
	u.UpdatedAt = existing.UpdatedAt
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) find(match func(User) bool) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.byID {
		if match(u) {
			found := u
			return &found, nil
		}
	}
	return nil, ErrUserNotFound
}
