// Package cache provides the shared cache service used by the analytics layer:
// a Redis-backed store for multi-instance deployments, an in-process store for
// single-instance runs and tests, and a disabled mode that misses every read.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrDisabled is returned by the atomic primitives when no shared cache is reachable.
var ErrDisabled = errors.New("shared cache disabled")

// Cache is the cache-aside contract. Reads that fail for any reason report a miss
// and writes are best-effort, so callers never fail because the cache is down.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) bool
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

// Atomic holds the conditional primitives the build lock is made of.
type Atomic interface {
	// SetIfAbsent writes value only when key does not exist.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// DeleteIfEquals deletes key only while it still holds expected.
	DeleteIfEquals(ctx context.Context, key, expected string) (bool, error)
}

// Store is a Cache that also supports the lock primitives.
type Store interface {
	Cache
	Atomic
	Enabled() bool
}
