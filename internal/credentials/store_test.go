package credentials

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreSaveLoadDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.yaml")
	store := NewFileStore(path)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(Credentials{APIURL: "http://localhost:8000", UserID: 3, Username: "jane_doe", Token: "tok"}))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, &Credentials{APIURL: "http://localhost:8000", UserID: 3, Username: "jane_doe", Token: "tok", SavedAt: fixed}, got)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	require.NoError(t, store.Save(Credentials{Username: "other", Token: "tok2"}))
	got, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, "other", got.Username)

	require.NoError(t, store.Delete())
	require.NoError(t, store.Delete())
	_, err = store.Load()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreRejectsEmptyToken(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "credentials.yaml"))
	assert.Error(t, store.Save(Credentials{Username: "x"}))
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	require.NoError(t, os.WriteFile(path, []byte("token: [unterminated"), 0o600))

	_, err := NewFileStore(path).Load()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
