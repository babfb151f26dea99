package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorageRoundtrip(t *testing.T) {
	storage := NewMemoryStorage()

	session, err := storage.Load()
	require.NoError(t, err)
	assert.Nil(t, session)

	saved := &Session{AccessToken: "token", AccessExpiry: time.Now().Add(time.Hour)}
	require.NoError(t, storage.Save(saved))

	loaded, err := storage.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "token", loaded.AccessToken)

	// Mutating the loaded copy leaves the stored session untouched.
	loaded.AccessToken = "mutated"
	again, err := storage.Load()
	require.NoError(t, err)
	assert.Equal(t, "token", again.AccessToken)

	require.NoError(t, storage.Clear())
	cleared, err := storage.Load()
	require.NoError(t, err)
	assert.Nil(t, cleared)
}

func TestFileStorageRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	storage := NewFileStorage(path)

	session, err := storage.Load()
	require.NoError(t, err)
	assert.Nil(t, session)

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, storage.Save(&Session{AccessToken: "token", AccessExpiry: expiry}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := storage.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "token", loaded.AccessToken)
	assert.True(t, expiry.Equal(loaded.AccessExpiry))

	require.NoError(t, storage.Clear())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Clearing an already cleared storage is fine.
	require.NoError(t, storage.Clear())
}

func TestFileStorageCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	_, err := NewFileStorage(path).Load()
	assert.Error(t, err)
}
