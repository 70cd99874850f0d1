package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeContract drives the behavior every Store implementation must share.
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("open missing", func(t *testing.T) {
		_, err := s.Open(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put and read", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "a/one", []byte("hello")))

		data, err := ReadAll(ctx, s, "a/one")
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), data)
	})

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "a/one", []byte("replaced")))

		data, err := ReadAll(ctx, s, "a/one")
		require.NoError(t, err)
		assert.Equal(t, []byte("replaced"), data)
	})

	t.Run("read at offset", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "a/two", []byte("0123456789")))

		b, err := s.Open(ctx, "a/two")
		require.NoError(t, err)
		defer b.Close()

		assert.Equal(t, int64(10), b.Size())

		p := make([]byte, 4)
		n, err := b.ReadAt(p, 3)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
		assert.Equal(t, []byte("3456"), p)
	})

	t.Run("list by prefix", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "b/one", []byte("x")))

		names, err := s.List(ctx, "a/")
		require.NoError(t, err)
		assert.Equal(t, []string{"a/one", "a/two"}, names)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "a/one"))
		_, err := s.Open(ctx, "a/one")
		assert.ErrorIs(t, err, ErrNotFound)

		assert.NoError(t, s.Delete(ctx, "a/one"), "deleting absent blob is not an error")
	})
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestLocalStore(t *testing.T) {
	storeContract(t, NewLocalStore(t.TempDir()))
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	data := []byte("original")
	require.NoError(t, s.Put(ctx, "x", data))
	data[0] = 'X'

	got, err := ReadAll(ctx, s, "x")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got, "stored bytes are isolated from the caller's buffer")
}

func TestLocalStoreEmptyBlob(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())

	require.NoError(t, s.Put(ctx, "empty", nil))

	b, err := s.Open(ctx, "empty")
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, int64(0), b.Size())
}
