package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLimiter(t *testing.T, limit int, window time.Duration) (*RedisLimiter, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return NewRedisLimiter(client, limit, window, "ratelimit"), mr
}

func TestRedisLimiter_Allow_UnderLimit_Passes(t *testing.T) {
	limiter, _ := setupLimiter(t, 3, time.Minute)
	ctx := context.Background()
	key := "+15551234567|203.0.113.9"

	for i := 0; i < 3; i++ {
		assert.NoError(t, limiter.Allow(ctx, key))
	}
}

func TestRedisLimiter_Allow_OverLimit_ReturnsErrThrottled(t *testing.T) {
	limiter, _ := setupLimiter(t, 2, time.Minute)
	ctx := context.Background()
	key := "+15551234567|203.0.113.9"

	require.NoError(t, limiter.Allow(ctx, key))
	require.NoError(t, limiter.Allow(ctx, key))

	err := limiter.Allow(ctx, key)
	assert.ErrorIs(t, err, ErrThrottled)
}

func TestRedisLimiter_Allow_AfterWindowExpires_PassesAgain(t *testing.T) {
	limiter, mr := setupLimiter(t, 1, time.Minute)
	ctx := context.Background()
	key := "+15551234567|203.0.113.9"

	require.NoError(t, limiter.Allow(ctx, key))
	require.ErrorIs(t, limiter.Allow(ctx, key), ErrThrottled)

	mr.FastForward(2 * time.Minute)

	assert.NoError(t, limiter.Allow(ctx, key))
}

func TestRedisLimiter_Allow_DistinctKeysDoNotInterfere(t *testing.T) {
	limiter, _ := setupLimiter(t, 1, time.Minute)
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, "+15551230001|203.0.113.9"))
	require.ErrorIs(t, limiter.Allow(ctx, "+15551230001|203.0.113.9"), ErrThrottled)

	assert.NoError(t, limiter.Allow(ctx, "+15551230002|203.0.113.9"))
}

func TestRedisLimiter_Allow_NeverStoresRawKey(t *testing.T) {
	limiter, mr := setupLimiter(t, 5, time.Minute)
	key := "+15551234567|203.0.113.9"

	require.NoError(t, limiter.Allow(context.Background(), key))

	for _, stored := range mr.Keys() {
		assert.NotContains(t, stored, "+15551234567")
	}
}

func TestNoop_Allow_AlwaysPasses(t *testing.T) {
	limiter := Noop{}
	for i := 0; i < 100; i++ {
		assert.NoError(t, limiter.Allow(context.Background(), "any"))
	}
}
