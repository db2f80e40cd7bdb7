package markers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "daily_login:u1:2024-05-01")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "daily_login:u1:2024-05-01", "1"))
	v, ok, err := s.Get(ctx, "daily_login:u1:2024-05-01")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	// Overwrite
	require.NoError(t, s.Set(ctx, "daily_login:u1:2024-05-01", "2"))
	v, _, err = s.Get(ctx, "daily_login:u1:2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	_, ok, err = s.Get(ctx, "daily_login:u2:2024-05-01")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

func TestSQLiteStore_Persists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenSQLite(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "k", "v"))
	require.NoError(t, s.Close())

	// Reopening runs migrations again without losing data
	s, err = OpenSQLite(dir)
	require.NoError(t, err)
	defer s.Close()

	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}
