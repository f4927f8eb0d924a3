package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistentStorePutGetAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.db")

	s, err := NewPersistentStore(path, 0)
	require.NoError(t, err)
	require.NoError(t, s.Put([]byte("k"), []byte("v")))

	v, ok := s.Get([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	reopened, err := NewPersistentStore(path, 0)
	require.NoError(t, err)
	v2, ok := reopened.Get([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v2)
}

func TestPersistentStoreIgnoresTTL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.db")

	s, err := NewPersistentStore(path, time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, s.Put([]byte("k"), []byte("v")))

	time.Sleep(5 * time.Millisecond)
	v, ok := s.Get([]byte("k"))
	require.True(t, ok, "persistent store must not honor ttl")
	assert.Equal(t, []byte("v"), v)
}

func TestPersistentStoreMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nonexistent.db")

	s, err := NewPersistentStore(path, 0)
	require.NoError(t, err)
	assert.Empty(t, s.Items())
}
