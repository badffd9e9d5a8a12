package kv

import (
	"context"
	"fmt"

	"kvrelay/internal/constants"
	"kvrelay/internal/models"

	"github.com/redis/go-redis/v9"
)

// Open builds the backend selected by cfg and wraps it with value
// encryption when enabled.
func Open(ctx context.Context, cfg models.StoreConfig) (Store, error) {
	var (
		store Store
		err   error
	)

	switch cfg.Backend {
	case "", constants.StoreBackendMemory:
		store = NewMemoryStore()
	case constants.StoreBackendSQLite:
		path := cfg.SQLite.Path
		if path == "" {
			path = constants.DefaultSQLitePath
		}
		store, err = NewSQLiteStore(path)
	case constants.StoreBackendRedis:
		store, err = openRedis(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if !cfg.EncryptValues {
		return store, nil
	}

	encrypted, err := NewEncryptedStore(store, cfg.EncryptionSecret)
	if err != nil {
		if closeErr := store.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to enable value encryption: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to enable value encryption: %w", err)
	}
	return encrypted, nil
}

func openRedis(ctx context.Context, cfg models.RedisConfig) (*RedisStore, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = constants.DefaultRedisAddr
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = constants.DefaultRedisKeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping redis at %s: %w (close error: %v)", addr, err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}

	return NewRedisStore(client, prefix, constants.DefaultRedisScanCount), nil
}
