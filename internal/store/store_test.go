package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	st, err := Open(Config{DatabasePath: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = st.Close()
	})

	return st
}

func TestSetGetRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, ok, err := st.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.Set(ctx, "activities.items", []byte(`{"user-1":[]}`)))

	value, ok, err := st.Get(ctx, "activities.items")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`{"user-1":[]}`), value)
}

func TestSetOverwrites(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, "k", []byte("v1")))
	require.NoError(t, st.Set(ctx, "k", []byte("v2")))

	value, ok, err := st.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), value)
}

func TestDelete(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, "k", []byte("v")))
	require.NoError(t, st.Delete(ctx, "k"))

	_, ok, err := st.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting a missing key is not an error
	require.NoError(t, st.Delete(ctx, "k"))
}

func TestKeysByPrefix(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, "activities.items", []byte("a")))
	require.NoError(t, st.Set(ctx, "activities.types", []byte("b")))
	require.NoError(t, st.Set(ctx, "friendship.friends", []byte("c")))

	keys, err := st.Keys(ctx, "activities.")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"activities.items", "activities.types"}, keys)

	all, err := st.Keys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestBinaryValuesSurvive(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	blob := []byte{0x00, 0xff, 0x10, 0x00, 0x7f}
	require.NoError(t, st.Set(ctx, "blob", blob))

	value, ok, err := st.Get(ctx, "blob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, blob, value)
}
