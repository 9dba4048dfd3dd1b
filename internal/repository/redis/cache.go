package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"costtrend/pkg/errors"
)

// Cache implements cache.Cache on Redis string keys holding JSON
type Cache struct {
	client *redis.Client
	prefix string
}

// NewCache creates a Redis-backed result cache
func NewCache(client *redis.Client, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

// Get decodes the cached value into dest; a miss returns false
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to get cache key %s", key)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, errors.Wrapf(err, "failed to unmarshal cache key %s", key)
	}
	return true, nil
}

// Set stores value as JSON with the given TTL (0 keeps it until invalidated)
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal cache key %s", key)
	}

	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		return errors.Wrapf(err, "failed to set cache key %s", key)
	}
	return nil
}

// Invalidate deletes key
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return errors.Wrapf(err, "failed to invalidate cache key %s", key)
	}
	return nil
}
