package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

// RedisCache is a JSON read-through cache for hot lookups.
type RedisCache struct {
	client *redis.Client
	ttl    map[string]time.Duration
}

// NewRedisCache creates a new Redis client
func NewRedisCache(config storage.Config) (*RedisCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB > 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client, ttl: config.CacheTTL}, nil
}

func cacheKey(kind string, parts ...string) string {
	return kind + ":" + strings.ToLower(strings.Join(parts, ":"))
}

// get decodes the cached value for key into dst. It reports false on a miss
// or on any cache failure; failures never reach the caller.
func (c *RedisCache) get(ctx context.Context, key string, dst any) bool {
	if c == nil {
		return false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false
	} else if err != nil {
		logrus.WithError(err).WithField("key", key).Warn("redis get failed")
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		// corrupt entry
		c.client.Del(ctx, key)
		return false
	}
	return true
}

func (c *RedisCache) set(ctx context.Context, kind, key string, value any) {
	if c == nil {
		return
	}
	ttl, ok := c.ttl[kind]
	if !ok {
		ttl = 5 * time.Minute
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("redis set failed")
	}
}

func (c *RedisCache) invalidate(ctx context.Context, keys ...string) {
	if c == nil || len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		logrus.WithError(err).Warn("redis invalidate failed")
	}
}

// InvalidatePatterns removes keys matching patterns
func (c *RedisCache) InvalidatePatterns(ctx context.Context, patterns ...string) error {
	if c == nil {
		return nil
	}
	for _, pattern := range patterns {
		iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan failed for pattern %s: %w", pattern, err)
		}
	}
	return nil
}

// Ping checks Redis connectivity
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Client returns the underlying Redis client for health checks
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
