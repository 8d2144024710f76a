// Package sqlite persists application users in a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/brizzai/loopback-login/internal/identity"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	username     TEXT    NOT NULL UNIQUE,
	provider_id  TEXT    UNIQUE,
	email        TEXT    NOT NULL DEFAULT '',
	display_name TEXT    NOT NULL DEFAULT '',
	avatar_url   TEXT    NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);
`

const selectColumns = `id, username, provider_id, email, display_name, avatar_url, created_at, updated_at`

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// Store implements identity.UserStore over SQLite
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens the database at path and ensures the schema exists
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// a single writer keeps SQLite from returning SQLITE_BUSY under load
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) FindByProviderID(ctx context.Context, providerID string) (*identity.User, error) {
	if providerID == "" {
		return nil, identity.ErrUserNotFound
	}
	return s.queryOne(ctx, `SELECT `+selectColumns+` FROM users WHERE provider_id = ?`, providerID)
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*identity.User, error) {
	return s.queryOne(ctx, `SELECT `+selectColumns+` FROM users WHERE username = ?`, username)
}

func (s *Store) FindByID(ctx context.Context, id int64) (*identity.User, error) {
	return s.queryOne(ctx, `SELECT `+selectColumns+` FROM users WHERE id = ?`, id)
}

func (s *Store) Create(ctx context.Context, u *identity.User) error {
	now := s.now().UTC()
	providerID := sql.NullString{String: u.ProviderID, Valid: u.ProviderID != ""}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO users (username, provider_id, email, display_name, avatar_url, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.Username, providerID, u.Email, u.DisplayName, u.AvatarURL, toMillis(now), toMillis(now),
	)
	if err != nil {
		return translateConstraint(err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read user id: %w", err)
	}
	u.ID = id
	u.CreatedAt = fromMillis(toMillis(now))
	u.UpdatedAt = u.CreatedAt
	return nil
}

func (s *Store) UpdateProfile(ctx context.Context, u *identity.User) error {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
UPDATE users SET email = ?, display_name = ?, avatar_url = ?, updated_at = ?
WHERE id = ?`,
		u.Email, u.DisplayName, u.AvatarURL, toMillis(now), u.ID,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n == 0 {
		return identity.ErrUserNotFound
	}
	u.UpdatedAt = fromMillis(toMillis(now))
	return nil
}

func (s *Store) queryOne(ctx context.Context, query string, args ...any) (*identity.User, error) {
	var (
		u          identity.User
		providerID sql.NullString
		createdAt  int64
		updatedAt  int64
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &u.Username, &providerID, &u.Email, &u.DisplayName, &u.AvatarURL, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	u.ProviderID = providerID.String
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return &u, nil
}

// translateConstraint maps SQLite unique violations onto identity errors
func translateConstraint(err error) error {
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return fmt.Errorf("insert user: %w", err)
	}
	switch {
	case strings.Contains(msg, "users.username"):
		return identity.ErrUsernameTaken
	case strings.Contains(msg, "users.provider_id"):
		return identity.ErrProviderIDTaken
	default:
		return fmt.Errorf("insert user: %w", err)
	}
}
