// Package credentials persists the application token between launches.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by Load when nothing was saved
var ErrNotFound = errors.New("no stored credentials")

// Credentials is what a successful login leaves on disk
type Credentials struct {
	APIURL   string    `yaml:"api_url"`
	UserID   int64     `yaml:"user_id"`
	Username string    `yaml:"username"`
	Token    string    `yaml:"token"`
	SavedAt  time.Time `yaml:"saved_at"`
}

// FileStore keeps Credentials in a single YAML file readable only by the owner
type FileStore struct {
	path string
	now  func() time.Time
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// Path returns the credentials file location
func (s *FileStore) Path() string {
	return s.path
}

// Save replaces the stored credentials. The file is written next to its
// final location and renamed so a crash never leaves half a token behind.
func (s *FileStore) Save(c Credentials) error {
	if c.Token == "" {
		return errors.New("refusing to store empty token")
	}
	if c.SavedAt.IsZero() {
		c.SavedAt = s.now().UTC()
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}

// Load returns the stored credentials or ErrNotFound
func (s *FileStore) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	var c Credentials
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	if c.Token == "" {
		return nil, ErrNotFound
	}
	return &c, nil
}

// Delete removes the stored credentials. Deleting nothing is not an error.
func (s *FileStore) Delete() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	return nil
}
