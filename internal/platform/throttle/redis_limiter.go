// Package throttle offers fixed-window rate limiting for code sends (Redis
// backed, plus a noop for when it is disabled).
package throttle

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chrismeisner/makethetake/internal/domain"
)

var ErrThrottled = fmt.Errorf("too many requests")

// RedisLimiter counts actions per key in fixed windows. Keys are hashed so
// raw phone numbers and IPs never land in Redis.
type RedisLimiter struct {
	client    *redis.Client
	limit     int
	window    time.Duration
	keyPrefix string
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{
		client:    client,
		limit:     limit,
		window:    window,
		keyPrefix: prefix,
	}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) error {
	if r.client == nil || r.limit <= 0 || r.window <= 0 {
		// Invalid configuration degrades to permissive.
		return nil
	}

	redisKey := r.buildKey(key)
	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return fmt.Errorf("throttle: incr: %w", err)
	}

	if count == 1 {
		if err := r.client.Expire(ctx, redisKey, r.window).Err(); err != nil {
			return fmt.Errorf("throttle: expire: %w", err)
		}
	}

	if int(count) > r.limit {
		return ErrThrottled
	}

	return nil
}

func (r *RedisLimiter) buildKey(key string) string {
	hash := sha1.Sum([]byte(key))
	return fmt.Sprintf("%s:%s", r.keyPrefix, hex.EncodeToString(hash[:]))
}

var _ domain.Throttle = (*RedisLimiter)(nil)
