// Package cache provides the key/value, rate-limit and lock primitives shared
// by the insight services. Implementations degrade open: a failed rate-limit
// check allows the call and a failed lock write counts as acquired.
package cache

import (
	"context"
	"time"
)

// DefaultLockTTL is used when AcquireLock is called with a zero TTL.
const DefaultLockTTL = 5 * time.Minute

// Cache is a TTL key/value store with atomic rate-limit and lock primitives.
type Cache interface {
	// Get decodes the JSON value stored at key into dst. It reports false
	// when the key is missing or expired.
	Get(ctx context.Context, key string, dst any) (bool, error)

	// Set stores value as JSON at key for ttl. A zero ttl never expires.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Del removes keys.
	Del(ctx context.Context, keys ...string) error

	// DelPattern removes every key matching a glob pattern and returns how
	// many were removed.
	DelPattern(ctx context.Context, pattern string) (int, error)

	// CheckRateLimit records one call against a sliding window for resource
	// and reports whether it fits within limit.
	CheckRateLimit(ctx context.Context, resource string, limit int, window time.Duration) RateLimitResult

	// AcquireLock tries to take an exclusive lock on key for ttl.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (Lock, bool)

	// ReleaseLock frees a lock if it is still held by the same token.
	ReleaseLock(ctx context.Context, lock Lock) error
}

// RateLimitResult is the outcome of a sliding-window check.
type RateLimitResult struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Lock identifies a held lock.
type Lock struct {
	Key   string
	Token string
}
