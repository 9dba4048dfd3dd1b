package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"costtrend/pkg/errors"
)

type cacheEntry struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

// Cache is an in-process cache.Cache. Values are stored JSON-encoded so callers
// never share memory with the cache, same as the Redis backend.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	clock   func() time.Time
}

// NewCache creates an empty in-memory cache. A nil clock uses time.Now.
func NewCache(clock func() time.Time) *Cache {
	if clock == nil {
		clock = time.Now
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		clock:   clock,
	}
}

// Get decodes a live entry into dest
func (c *Cache) Get(_ context.Context, key string, dest any) (bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if !entry.expiresAt.IsZero() && !c.clock().Before(entry.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.expiresAt.Equal(entry.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return false, nil
	}

	if err := json.Unmarshal(entry.data, dest); err != nil {
		return false, errors.Wrapf(err, "failed to unmarshal cache key %s", key)
	}
	return true, nil
}

// Set stores value under key; ttl 0 keeps it until invalidated
func (c *Cache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal cache key %s", key)
	}

	entry := cacheEntry{data: data}
	if ttl > 0 {
		entry.expiresAt = c.clock().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

// Invalidate removes key
func (c *Cache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Purge drops expired entries and returns how many were removed
func (c *Cache) Purge() int {
	now := c.clock()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired ones included
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
