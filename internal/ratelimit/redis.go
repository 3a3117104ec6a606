package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "ledgerguard:login:"

// hitScript increments the counter and arms the window on the first hit only.
// Returns {count, ttl_ms}.
var hitScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {c, ttl}
`)

// RedisLimiter is a fixed-window Limiter shared by every process pointed at
// the same Redis.
type RedisLimiter struct {
	rdb    redis.Cmdable
	prefix string
}

// NewRedisLimiter creates a RedisLimiter. An empty prefix selects the default.
func NewRedisLimiter(rdb redis.Cmdable, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisLimiter{rdb: rdb, prefix: prefix}
}

func (l *RedisLimiter) key(key string) string {
	return l.prefix + key
}

func (l *RedisLimiter) Hit(ctx context.Context, key string, decay time.Duration) (int, error) {
	if decay <= 0 {
		decay = time.Minute
	}

	res, err := hitScript.Run(ctx, l.rdb, []string{l.key(key)}, decay.Milliseconds()).Result()
	if err != nil {
		return 0, fmt.Errorf("ratelimit hit: %w", err)
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return 0, errors.New("ratelimit hit: unexpected script result")
	}
	count, ok := arr[0].(int64)
	if !ok {
		return 0, errors.New("ratelimit hit: unexpected count type")
	}
	return int(count), nil
}

func (l *RedisLimiter) TooManyAttempts(ctx context.Context, key string, maxAttempts int) (bool, error) {
	count, err := l.rdb.Get(ctx, l.key(key)).Int()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ratelimit attempts: %w", err)
	}
	return count >= maxAttempts, nil
}

func (l *RedisLimiter) AvailableIn(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := l.rdb.PTTL(ctx, l.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("ratelimit ttl: %w", err)
	}
	// -2 (missing) and -1 (no expiry) both mean nothing to wait for.
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func (l *RedisLimiter) Clear(ctx context.Context, key string) error {
	if err := l.rdb.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("ratelimit clear: %w", err)
	}
	return nil
}
