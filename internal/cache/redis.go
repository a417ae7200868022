// Package cache is the optional Redis layer between the pipeline and
// the GitHub API. A hit never reaches the client, so it consumes no
// rate-budget permit.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultTTL is how long cached API payloads stay valid.
const defaultTTL = 6 * time.Hour

// Client wraps a Redis connection with JSON get/set helpers
type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

// New connects to Redis and verifies connectivity before returning.
// A non-positive ttl falls back to the default.
func New(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address missing")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}

	logger := slog.Default().With("component", "cache")
	logger.Info("redis cache connected", "addr", addr, "ttl", ttl)

	return &Client{rdb: rdb, logger: logger, ttl: ttl}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	c.logger.Info("redis cache closed")
	return nil
}

// HealthCheck verifies Redis connectivity.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Get retrieves a cached value into target. A miss returns false
// without an error.
func (c *Client) Get(ctx context.Context, key string, target any) (bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		c.logger.Debug("cache miss", "key", key)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(val), target); err != nil {
		return false, fmt.Errorf("unmarshal cached value for %s: %w", key, err)
	}

	c.logger.Debug("cache hit", "key", key)
	return true, nil
}

// Set stores a JSON-encoded value under the client's TTL.
func (c *Client) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value for %s: %w", key, err)
	}

	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	c.logger.Debug("cache set", "key", key, "ttl", c.ttl)
	return nil
}

// InvalidateUser drops every cached payload for one login.
func (c *Client) InvalidateUser(ctx context.Context, login string) (int64, error) {
	pattern := "gh:*:" + strings.ToLower(strings.TrimSpace(login))

	var cursor uint64
	var keys []string
	for {
		batch, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if len(keys) == 0 {
		return 0, nil
	}

	deleted, err := c.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis delete for %s: %w", pattern, err)
	}

	c.logger.Debug("cache invalidated", "login", login, "deleted", deleted)
	return deleted, nil
}

// Key builds the cache key for one endpoint + login pair.
func Key(endpoint, login string) string {
	return fmt.Sprintf("gh:%s:%s", endpoint, strings.ToLower(strings.TrimSpace(login)))
}
