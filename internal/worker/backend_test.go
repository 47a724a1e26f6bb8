package worker

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/chartsense/internal/config"
	"github.com/thebtf/chartsense/internal/db/sqlite"
	"github.com/thebtf/chartsense/internal/kv/memory"
)

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cfg := config.Default()
		cfg.Backend = "memory"

		store, err := OpenBackend(ctx, cfg)
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &memory.Store{}, store)
	})

	t.Run("sqlite creates its directory", func(t *testing.T) {
		cfg := config.Default()
		cfg.Backend = "sqlite"
		cfg.DBPath = filepath.Join(t.TempDir(), "nested", "sessions.db")

		store, err := OpenBackend(ctx, cfg)
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &sqlite.KVStore{}, store)

		require.NoError(t, store.Set(ctx, "sessions/2026-03-15", []byte("[]")))
		keys, err := store.Keys(ctx, "sessions/")
		require.NoError(t, err)
		assert.Equal(t, []string{"sessions/2026-03-15"}, keys)
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := config.Default()
		cfg.Backend = "etcd"

		_, err := OpenBackend(ctx, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown backend "etcd"`)
	})
}
