package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"inkpost/internal/models"
	"inkpost/internal/ratelimit"
	"inkpost/internal/storage"

	"github.com/go-redis/redis/v8"
)

// seedBootstrapKey stores the configured bootstrap credential with every
// permission. It is a no-op when no key is configured or the key already exists.
func seedBootstrapKey(ctx context.Context, store storage.Storage, rawKey string) error {
	if rawKey == "" {
		return nil
	}

	hash := models.HashAPIKey(rawKey)
	_, err := store.GetAPIKeyByHash(ctx, hash)
	if err == nil {
		slog.Debug("Bootstrap key already present")
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("look up bootstrap key: %w", err)
	}

	key := models.NewAPIKey(models.NewKeyID(), "Bootstrap", rawKey, models.AllPermissions)
	if err := store.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("create bootstrap key: %w", err)
	}
	slog.Info("Seeded bootstrap API key", "key_id", key.ID, "prefix", key.Prefix)
	return nil
}

// newBucketStore builds the rate limit bucket store named by the config.
// The returned close func releases any client it opened.
func newBucketStore(cfg *models.Config) (ratelimit.Store, func(), error) {
	if cfg.RateLimit.Store != models.RateLimitStoreRedis || cfg.Cache.Redis.Addr == "" {
		return ratelimit.NewMemoryStore(cfg.RateLimit.HighWaterMark), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		PoolSize: cfg.Cache.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// The limiter fails open, so an unreachable redis at startup is not fatal.
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("Redis is not reachable; rate limits fail open until it is", "addr", cfg.Cache.Redis.Addr, "error", err)
	}

	closeFn := func() {
		if err := client.Close(); err != nil {
			slog.Error("Failed to close redis client", "error", err)
		}
	}
	return ratelimit.NewRedisStore(client, cfg.Cache.Redis.KeyPrefix), closeFn, nil
}

// newSweeper schedules idle-bucket eviction, defaulting to once a minute.
func newSweeper(store ratelimit.Store, schedule string) (*ratelimit.Sweeper, error) {
	if schedule == "" {
		schedule = "@every 1m"
	}
	return ratelimit.NewSweeper(store, schedule)
}
