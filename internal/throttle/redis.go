package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window limiter backed by Redis, for multi-instance
// deployments where attempt budgets must be shared.
type RedisLimiter struct {
	client   redis.Cmdable
	prefix   string
	interval time.Duration
	rate     int64
}

// NewRedisLimiter allows rate attempts per key per interval, counted in Redis
// under prefix.
func NewRedisLimiter(client redis.Cmdable, prefix string, interval time.Duration, rate int64) *RedisLimiter {
	if prefix == "" {
		prefix = "mfa:throttle"
	}
	return &RedisLimiter{client: client, prefix: prefix, interval: interval, rate: rate}
}

func (l *RedisLimiter) redisKey(key string) string {
	return l.prefix + ":" + key
}

// Consume spends one attempt for key. The window starts on the first attempt
// and ends when the Redis key expires.
func (l *RedisLimiter) Consume(ctx context.Context, key string) error {
	rk := l.redisKey(key)
	n, err := l.client.Incr(ctx, rk).Result()
	if err != nil {
		return fmt.Errorf("throttle consume %s: %w", key, err)
	}
	if n == 1 {
		if err := l.client.Expire(ctx, rk, l.interval).Err(); err != nil {
			return fmt.Errorf("throttle expire %s: %w", key, err)
		}
	}
	if n > l.rate {
		return ErrTooManyAttempts
	}
	return nil
}

// Reset restores the full budget for key.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("throttle reset %s: %w", key, err)
	}
	return nil
}
