package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/thebtf/chartsense/internal/cache"
	"github.com/thebtf/chartsense/internal/config"
	gormdb "github.com/thebtf/chartsense/internal/db/gorm"
	"github.com/thebtf/chartsense/internal/db/sqlite"
	"github.com/thebtf/chartsense/internal/kv"
	"github.com/thebtf/chartsense/internal/kv/memory"
)

// OpenBackend opens the key-value backend selected by cfg.Backend.
func OpenBackend(ctx context.Context, cfg *config.Config) (kv.Store, error) {
	switch cfg.Backend {
	case "", "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		store, err := sqlite.NewStore(sqlite.StoreConfig{
			Path:     cfg.DBPath,
			MaxConns: cfg.MaxConns,
			WALMode:  true,
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.DBPath).Msg("Using SQLite backend")
		return sqlite.NewKVStore(store), nil

	case "postgres":
		store, err := gormdb.NewStore(gormdb.Config{
			DSN:      cfg.PostgresDSN,
			MaxConns: cfg.MaxConns,
			LogLevel: logger.Silent,
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Using PostgreSQL backend")
		return gormdb.NewKVStore(store), nil

	case "redis":
		namespace := cfg.RedisPrefix
		if namespace != "" && !strings.HasSuffix(namespace, ":") {
			namespace += ":"
		}
		client, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			Namespace: namespace,
		})
		if err != nil {
			return nil, err
		}
		return client, nil

	case "memory":
		log.Warn().Msg("Using in-memory backend, sessions will not survive a restart")
		return memory.NewStore(), nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
