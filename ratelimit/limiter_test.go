package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisLimiter(t *testing.T, opts ...RedisLimiterOption) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLimiter(client, opts...), mr
}

func TestRedisLimiter_AllowsUnderLimit(t *testing.T) {
	l, _ := redisLimiter(t, WithLimits(map[Class]Limit{
		ClassAPIUpload: {Max: 3, Window: time.Minute},
	}))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Check(ctx, "user-1", ClassAPIUpload, 1)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, 2-i, res.Remaining)
	}
}

func TestRedisLimiter_DeniesOverLimitWithRetryAfter(t *testing.T) {
	now := time.Now()
	l, _ := redisLimiter(t,
		WithLimits(map[Class]Limit{ClassAPIUpload: {Max: 2, Window: time.Minute}}),
		withClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.Check(ctx, "user-1", ClassAPIUpload, 1)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	res, err := l.Check(ctx, "user-1", ClassAPIUpload, 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Zero(t, res.Remaining)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, res.RetryAfter, time.Minute)
}

func TestRedisLimiter_WindowSlides(t *testing.T) {
	now := time.Now()
	l, _ := redisLimiter(t,
		WithLimits(map[Class]Limit{ClassAPIUpload: {Max: 1, Window: time.Minute}}),
		withClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	res, err := l.Check(ctx, "user-1", ClassAPIUpload, 1)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = l.Check(ctx, "user-1", ClassAPIUpload, 1)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	// Move past the window; the old entry ages out
	now = now.Add(61 * time.Second)
	res, err = l.Check(ctx, "user-1", ClassAPIUpload, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRedisLimiter_UsersDoNotContend(t *testing.T) {
	l, _ := redisLimiter(t, WithLimits(map[Class]Limit{
		ClassAPIUpload: {Max: 1, Window: time.Minute},
	}))
	ctx := context.Background()

	res, err := l.Check(ctx, "user-1", ClassAPIUpload, 1)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = l.Check(ctx, "user-2", ClassAPIUpload, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRedisLimiter_UnknownClass(t *testing.T) {
	l, _ := redisLimiter(t)
	_, err := l.Check(context.Background(), "user-1", Class("bogus"), 1)
	require.Error(t, err)
}

func TestRedisLimiter_CounterAcquireRelease(t *testing.T) {
	l, _ := redisLimiter(t, WithLimits(map[Class]Limit{
		ClassConcurrentJobs: {Max: 2},
	}))
	ctx := context.Background()

	res, err := l.AcquireResource(ctx, "user-1", ClassConcurrentJobs)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)

	res, err = l.AcquireResource(ctx, "user-1", ClassConcurrentJobs)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Zero(t, res.Remaining)

	// At capacity
	res, err = l.AcquireResource(ctx, "user-1", ClassConcurrentJobs)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// Check on a counter class peeks without consuming
	peek, err := l.Check(ctx, "user-1", ClassConcurrentJobs, 1)
	require.NoError(t, err)
	assert.False(t, peek.Allowed)

	require.NoError(t, l.ReleaseResource(ctx, "user-1", ClassConcurrentJobs))

	res, err = l.AcquireResource(ctx, "user-1", ClassConcurrentJobs)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRedisLimiter_ExtraReleaseClampsAtZero(t *testing.T) {
	l, _ := redisLimiter(t)
	ctx := context.Background()

	require.NoError(t, l.ReleaseResource(ctx, "user-1", ClassConcurrentJobs))

	res, err := l.Check(ctx, "user-1", ClassConcurrentJobs, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 5, res.Remaining)
}

func TestMemoryLimiter_AllowsAndDenies(t *testing.T) {
	l := NewMemoryLimiter(WithMemoryLimits(map[Class]Limit{
		ClassAPIUpload: {Max: 2, Window: time.Minute},
	}))
	ctx := context.Background()

	res, err := l.Check(ctx, "user-1", ClassAPIUpload, 2)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = l.Check(ctx, "user-1", ClassAPIUpload, 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.GreaterOrEqual(t, res.RetryAfter, time.Second)
}

func TestMemoryLimiter_RefillsOverTime(t *testing.T) {
	now := time.Now()
	l := NewMemoryLimiter(
		WithMemoryLimits(map[Class]Limit{ClassAPIUpload: {Max: 2, Window: time.Minute}}),
		withMemoryClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	res, err := l.Check(ctx, "user-1", ClassAPIUpload, 2)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	// One token refills every 30s at 2/min
	now = now.Add(31 * time.Second)
	res, err = l.Check(ctx, "user-1", ClassAPIUpload, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryLimiter_CounterClass(t *testing.T) {
	l := NewMemoryLimiter(WithMemoryLimits(map[Class]Limit{
		ClassConcurrentJobs: {Max: 1},
	}))
	ctx := context.Background()

	res, err := l.AcquireResource(ctx, "user-1", ClassConcurrentJobs)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = l.AcquireResource(ctx, "user-1", ClassConcurrentJobs)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	require.NoError(t, l.ReleaseResource(ctx, "user-1", ClassConcurrentJobs))
	require.NoError(t, l.ReleaseResource(ctx, "user-1", ClassConcurrentJobs)) // extra release is safe

	res, err = l.AcquireResource(ctx, "user-1", ClassConcurrentJobs)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestDisabledLimiter(t *testing.T) {
	var l Limiter = Disabled{}
	ctx := context.Background()

	res, err := l.Check(ctx, "user-1", ClassAPIGeneral, 1000)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.AcquireResource(ctx, "user-1", ClassConcurrentJobs)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	require.NoError(t, l.ReleaseResource(ctx, "user-1", ClassConcurrentJobs))
}
