package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "kbsearch:"

// Cache is the shared stage cache backed by redis. Fingerprint keys are
// tenant-prefixed upstream, so tenant invalidation is a prefix scan.
type Cache struct {
	client *redis.Client
}

func New(addr, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Cache{client: client}, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// Get implements ports.StageCache. A backend failure is a miss, never an
// error: the pipeline recomputes.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	value, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("stage_cache_get_failed", "error", err)
		}
		return nil, false
	}
	return value, true
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := c.client.Set(ctx, keyPrefix+key, value, ttl).Err(); err != nil {
		slog.Warn("stage_cache_set_failed", "error", err)
	}
}

// InvalidateTenant drops every cached stage output for the tenant via SCAN;
// non-blocking for other keyspace users.
func (c *Cache) InvalidateTenant(ctx context.Context, tenantID string) {
	pattern := keyPrefix + tenantID + ":*"
	iter := c.client.Scan(ctx, 0, pattern, 256).Iterator()

	batch := make([]string, 0, 256)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			slog.Warn("stage_cache_invalidate_failed", "tenant", tenantID, "error", err)
		}
		batch = batch[:0]
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 256 {
			flush()
		}
	}
	flush()
	if err := iter.Err(); err != nil {
		slog.Warn("stage_cache_invalidate_scan_failed", "tenant", tenantID, "error", err)
	}
}
