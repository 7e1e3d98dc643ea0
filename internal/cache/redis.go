package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/radiusdt/vector-insights/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// slidingWindowScript trims the window, counts it and admits the call in a
// single round trip. Returns {allowed, remaining, resetAtMs}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

if count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	redis.call('PEXPIRE', key, window)
	return {1, limit - count - 1, now + window}
end

local reset = now + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
	reset = tonumber(oldest[2]) + window
end
return {0, 0, reset}
`)

// releaseScript deletes the lock only when the token still matches.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisCache implements Cache on Redis.
type RedisCache struct {
	client  redis.UniversalClient
	prefix  string
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewRedisCache creates a Redis-backed cache. Every key is namespaced by prefix.
func NewRedisCache(client redis.UniversalClient, prefix string, logger *zap.Logger, m *metrics.Metrics) *RedisCache {
	return &RedisCache{
		client:  client,
		prefix:  prefix,
		logger:  logger.Named("cache"),
		metrics: m,
		now:     time.Now,
	}
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

// Get retrieves and decodes a JSON value.
func (c *RedisCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		c.degraded("get", err)
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// Set encodes value as JSON and stores it.
func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		c.degraded("set", err)
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Del removes keys.
func (c *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		c.degraded("del", err)
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// DelPattern removes keys matching pattern using SCAN.
func (c *RedisCache) DelPattern(ctx context.Context, pattern string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.key(pattern), 100).Result()
		if err != nil {
			c.degraded("scan", err)
			return deleted, fmt.Errorf("failed to scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				c.degraded("del", err)
				return deleted, fmt.Errorf("failed to delete %s: %w", pattern, err)
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// CheckRateLimit runs the sliding-window script. Redis failures allow the call.
func (c *RedisCache) CheckRateLimit(ctx context.Context, resource string, limit int, window time.Duration) RateLimitResult {
	now := c.now()
	res, err := slidingWindowScript.Run(ctx, c.client,
		[]string{c.key("ratelimit:" + resource)},
		now.UnixMilli(), window.Milliseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil || len(res) != 3 {
		if err == nil {
			err = fmt.Errorf("unexpected script reply of length %d", len(res))
		}
		c.degraded("ratelimit", err)
		return RateLimitResult{Allowed: true, Remaining: limit, ResetAt: now.Add(window)}
	}

	return RateLimitResult{
		Allowed:   res[0] == 1,
		Remaining: int(res[1]),
		ResetAt:   time.UnixMilli(res[2]),
	}
}

// AcquireLock takes the lock with SET NX PX. Redis failures count as acquired.
func (c *RedisCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (Lock, bool) {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	lock := Lock{Key: "lock:" + key, Token: uuid.NewString()}

	ok, err := c.client.SetNX(ctx, c.key(lock.Key), lock.Token, ttl).Result()
	if err != nil {
		c.degraded("lock", err)
		return lock, true
	}
	return lock, ok
}

// ReleaseLock deletes the lock if this token still holds it.
func (c *RedisCache) ReleaseLock(ctx context.Context, lock Lock) error {
	if err := releaseScript.Run(ctx, c.client, []string{c.key(lock.Key)}, lock.Token).Err(); err != nil {
		c.degraded("unlock", err)
		return fmt.Errorf("failed to release %s: %w", lock.Key, err)
	}
	return nil
}

func (c *RedisCache) degraded(op string, err error) {
	c.logger.Warn("cache operation failed, degrading", zap.String("op", op), zap.Error(err))
	if c.metrics != nil {
		c.metrics.RecordCacheError(op)
	}
}
