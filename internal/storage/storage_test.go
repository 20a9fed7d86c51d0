package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()
	v, ok := s.Get(Index{"a", "b"})
	require.False(t, ok)
	require.Nil(t, v)
}

func TestMemoryStore_UpdateCreatesIntermediates(t *testing.T) {
	s := NewMemoryStore()
	err := s.Update(Index{"user", "baseline", "counter", "app.clicks"}, func(current any) (any, error) {
		require.Nil(t, current)
		return float64(1), nil
	})
	require.NoError(t, err)

	v, ok := s.Get(Index{"user", "baseline", "counter", "app.clicks"})
	require.True(t, ok)
	require.Equal(t, float64(1), v)
}

func TestMemoryStore_UpdateThroughNonObjectFails(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Update(Index{"a"}, func(any) (any, error) { return "leaf", nil }))

	err := s.Update(Index{"a", "b"}, func(any) (any, error) { return 1, nil })
	require.ErrorIs(t, err, ErrNonObjectPrefix)

	// The failed update must not have mutated the tree.
	v, ok := s.Get(Index{"a"})
	require.True(t, ok)
	require.Equal(t, "leaf", v)
}

func TestMemoryStore_DeleteRoot(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Update(Index{"a"}, func(any) (any, error) { return 1, nil }))
	require.NoError(t, s.Delete(nil))
	_, ok := s.Get(Index{"a"})
	require.False(t, ok)
}

func TestMemoryStore_ReadsDoNotAliasStoredState(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Update(Index{"a"}, func(any) (any, error) {
		return map[string]any{"x": float64(1)}, nil
	}))
	v, ok := s.Get(Index{"a"})
	require.True(t, ok)
	obj := v.(map[string]any)
	obj["x"] = float64(999)

	v2, _ := s.Get(Index{"a"})
	require.Equal(t, float64(1), v2.(map[string]any)["x"])
}

func TestGetTyped_DeletesCorruptLeaf(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Update(Index{"a"}, func(any) (any, error) { return "not-a-bool", nil }))

	var out bool
	ok, err := GetTyped(s, nil, Index{"a"}, &out)
	require.NoError(t, err)
	require.False(t, ok)

	_, stillThere := s.Get(Index{"a"})
	require.False(t, stillThere)
}

func TestFileStore_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")

	fs, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, fs.Update(Index{"a", "b"}, func(any) (any, error) { return float64(42), nil }))

	reloaded, err := NewFileStore(path)
	require.NoError(t, err)
	v, ok := reloaded.Get(Index{"a", "b"})
	require.True(t, ok)
	require.Equal(t, float64(42), v)
}
