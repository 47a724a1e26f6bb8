// Package kvtest holds the behaviour every kv.Store backend must satisfy.
package kvtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/chartsense/internal/kv"
)

// Factory returns a fresh, empty store. The test closes it.
type Factory func(t *testing.T) kv.Store

// Run exercises the kv.Store contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("get missing key", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		v, found, err := s.Get(context.Background(), "missing")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, v)
	})

	t.Run("set then get", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		require.NoError(t, s.Set(ctx, "a", []byte(`[1,2]`)))
		v, found, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, `[1,2]`, string(v))
	})

	t.Run("set replaces whole value", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		require.NoError(t, s.Set(ctx, "a", []byte(`[1,2,3]`)))
		require.NoError(t, s.Set(ctx, "a", []byte(`[4]`)))
		v, _, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, `[4]`, string(v))
	})

	t.Run("delete absent key is a no-op", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		assert.NoError(t, s.Delete(context.Background(), "nope", "also-nope"))
	})

	t.Run("delete removes only named keys", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		require.NoError(t, s.Set(ctx, "x/1", []byte("1")))
		require.NoError(t, s.Set(ctx, "x/2", []byte("2")))
		require.NoError(t, s.Delete(ctx, "x/1"))

		_, found, err := s.Get(ctx, "x/1")
		require.NoError(t, err)
		assert.False(t, found)
		_, found, err = s.Get(ctx, "x/2")
		require.NoError(t, err)
		assert.True(t, found)
	})

	t.Run("keys by prefix sorted", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		for _, k := range []string{"p/2026-01-03", "p/2026-01-01", "q/other", "p/2026-01-02"} {
			require.NoError(t, s.Set(ctx, k, []byte("v")))
		}

		keys, err := s.Keys(ctx, "p/")
		require.NoError(t, err)
		assert.Equal(t, []string{"p/2026-01-01", "p/2026-01-02", "p/2026-01-03"}, keys)

		keys, err = s.Keys(ctx, "none/")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("prefix with like wildcards is literal", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		require.NoError(t, s.Set(ctx, "a_b/1", []byte("v")))
		require.NoError(t, s.Set(ctx, "axb/1", []byte("v")))

		keys, err := s.Keys(ctx, "a_b/")
		require.NoError(t, err)
		assert.Equal(t, []string{"a_b/1"}, keys)
	})
}
