package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCache implements Cache in process memory. It is used when Redis is
// not configured and in tests.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memEntry
	windows map[string]memWindow
	locks   map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	data      []byte
	expiresAt time.Time
}

type memWindow struct {
	hits   []time.Time
	window time.Duration
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memEntry),
		windows: make(map[string]memWindow),
		locks:   make(map[string]memEntry),
		now:     time.Now,
	}
}

// SetClock overrides the time source.
func (c *MemoryCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get decodes a stored value.
func (c *MemoryCache) Get(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && e.expired(c.now()) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(e.data, dst); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// Set stores a JSON-encoded value.
func (c *MemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e := memEntry{data: data}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

// Del removes keys.
func (c *MemoryCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

// DelPattern removes keys matching a glob pattern.
func (c *MemoryCache) DelPattern(_ context.Context, pattern string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deleted := 0
	for k := range c.entries {
		matched, err := path.Match(pattern, k)
		if err != nil {
			return deleted, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if matched {
			delete(c.entries, k)
			deleted++
		}
	}
	return deleted, nil
}

// CheckRateLimit applies a sliding window under the cache mutex.
func (c *MemoryCache) CheckRateLimit(_ context.Context, resource string, limit int, window time.Duration) RateLimitResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cutoff := now.Add(-window)

	hits := c.windows[resource].hits
	kept := hits[:0]
	for _, h := range hits {
		if h.After(cutoff) {
			kept = append(kept, h)
		}
	}

	if len(kept) >= limit {
		if len(kept) == 0 {
			delete(c.windows, resource)
		} else {
			c.windows[resource] = memWindow{hits: kept, window: window}
		}
		reset := now.Add(window)
		if len(kept) > 0 {
			reset = kept[0].Add(window)
		}
		return RateLimitResult{Allowed: false, Remaining: 0, ResetAt: reset}
	}

	kept = append(kept, now)
	c.windows[resource] = memWindow{hits: kept, window: window}
	return RateLimitResult{
		Allowed:   true,
		Remaining: limit - len(kept),
		ResetAt:   now.Add(window),
	}
}

// Sweep drops expired entries and locks and every rate-limit window whose
// hits have all aged out. It returns how many keys were removed.
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	for k, l := range c.locks {
		if l.expired(now) {
			delete(c.locks, k)
			removed++
		}
	}
	for k, w := range c.windows {
		if n := len(w.hits); n == 0 || !w.hits[n-1].After(now.Add(-w.window)) {
			delete(c.windows, k)
			removed++
		}
	}
	return removed
}

// AcquireLock takes the lock if it is free or expired.
func (c *MemoryCache) AcquireLock(_ context.Context, key string, ttl time.Duration) (Lock, bool) {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	lock := Lock{Key: "lock:" + key, Token: uuid.NewString()}
	now := c.now()
	if held, ok := c.locks[lock.Key]; ok && !held.expired(now) {
		return lock, false
	}
	c.locks[lock.Key] = memEntry{data: []byte(lock.Token), expiresAt: now.Add(ttl)}
	return lock, true
}

// ReleaseLock frees the lock when the token matches.
func (c *MemoryCache) ReleaseLock(_ context.Context, lock Lock) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if held, ok := c.locks[lock.Key]; ok && string(held.data) == lock.Token {
		delete(c.locks, lock.Key)
	}
	return nil
}
