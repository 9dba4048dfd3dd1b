package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"costtrend/pkg/errors"
)

// Cache is a TTL key-value store of computed results.
// Implementations: internal/repository/redis/cache.go, internal/repository/memory/cache.go
type Cache interface {
	// Get decodes the value under key into dest. A miss returns false with a nil error.
	Get(ctx context.Context, key string, dest any) (bool, error)
	// Set stores value under key. Writes are idempotent, last writer wins.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Invalidate removes key; removing a missing key is not an error
	Invalidate(ctx context.Context, key string) error
}

// Kinds of cached values
const (
	KindTrend   = "trend"
	KindHistory = "history"
	KindDrift   = "drift"
)

// Key builds the canonical key of params: kind plus a sha256 of their JSON encoding.
// Callers normalize params first so equal queries produce equal keys.
func Key(kind string, params any) (string, error) {
	hash, err := Hash(params)
	if err != nil {
		return "", err
	}
	return kind + ":" + hash, nil
}

// Hash returns the hex sha256 of the JSON encoding of params
func Hash(params any) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", errors.Wrap(err, "encode cache params")
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
