// Package rediscache memoizes partition counts in Redis so repeated runs
// against the same institution skip count queries they have already made.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config configures the Redis connection and entry lifetime.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	// Prefix namespaces keys; defaults to "harvester:".
	Prefix string
}

// Cache implements catalog.CountCache.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	owned  bool
}

// New wraps an existing client.
func New(client *redis.Client, ttl time.Duration, prefix string) *Cache {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = "harvester:"
	}
	return &Cache{client: client, ttl: ttl, prefix: prefix}
}

// Open connects to Redis and verifies the connection. Close releases it.
func Open(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	c := New(client, cfg.TTL, cfg.Prefix)
	c.owned = true
	return c, nil
}

// GetCount returns the cached count for key, if present.
func (c *Cache) GetCount(ctx context.Context, key string) (int, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get: %w", err)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("redis get: invalid count %q: %w", raw, err)
	}
	return n, true, nil
}

// SetCount stores count for key with the configured TTL (0 keeps it forever).
func (c *Cache) SetCount(ctx context.Context, key string, count int) error {
	if err := c.client.Set(ctx, c.prefix+key, count, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the client when the cache opened it.
func (c *Cache) Close() error {
	if c == nil || !c.owned {
		return nil
	}
	return c.client.Close()
}
