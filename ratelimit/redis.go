package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter enforces sliding-window limits with Redis sorted sets, so
// multiple API instances share one view of each user's window.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limits map[Class]Limit
	clock  func() time.Time
}

// RedisLimiterOption configures a RedisLimiter.
type RedisLimiterOption func(*RedisLimiter)

// WithPrefix sets the key prefix. Default is "scribeflow".
func WithPrefix(prefix string) RedisLimiterOption {
	return func(l *RedisLimiter) {
		l.prefix = prefix
	}
}

// WithLimits overrides the default limit table.
func WithLimits(limits map[Class]Limit) RedisLimiterOption {
	return func(l *RedisLimiter) {
		l.limits = limits
	}
}

// withClock injects a clock for tests.
func withClock(clock func() time.Time) RedisLimiterOption {
	return func(l *RedisLimiter) {
		l.clock = clock
	}
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client, opts ...RedisLimiterOption) *RedisLimiter {
	l := &RedisLimiter{
		client: client,
		prefix: "scribeflow",
		limits: DefaultLimits(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLimiter) key(userID string, class Class) string {
	return fmt.Sprintf("%s:ratelimit:%s:%s", l.prefix, class, userID)
}

// Check consumes cost units from the user's sliding window.
func (l *RedisLimiter) Check(ctx context.Context, userID string, class Class, cost int) (Result, error) {
	limit, ok := l.limits[class]
	if !ok {
		return Result{}, fmt.Errorf("unknown limit class %q", class)
	}
	if limit.Window <= 0 {
		// Counter classes are checked without consuming
		return l.peekCounter(ctx, userID, class, limit)
	}
	if cost <= 0 {
		cost = 1
	}

	key := l.key(userID, class)
	now := l.clock()
	windowStart := now.Add(-limit.Window)

	// Trim expired entries and count survivors in one round trip
	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("redis ratelimit check failed: %w", err)
	}

	count := int(countCmd.Val())
	if count+cost > limit.Max {
		retryAfter, err := l.retryAfter(ctx, key, limit, now)
		if err != nil {
			return Result{}, err
		}
		remaining := limit.Max - count
		if remaining < 0 {
			remaining = 0
		}
		return Result{Allowed: false, Remaining: remaining, RetryAfter: retryAfter}, nil
	}

	members := make([]redis.Z, cost)
	for i := 0; i < cost; i++ {
		members[i] = redis.Z{
			Score:  float64(now.UnixNano()),
			Member: fmt.Sprintf("%d-%d", now.UnixNano(), i),
		}
	}

	pipe = l.client.TxPipeline()
	pipe.ZAdd(ctx, key, members...)
	pipe.Expire(ctx, key, limit.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("redis ratelimit record failed: %w", err)
	}

	return Result{Allowed: true, Remaining: limit.Max - count - cost}, nil
}

// retryAfter computes when the oldest window entry ages out.
func (l *RedisLimiter) retryAfter(ctx context.Context, key string, limit Limit, now time.Time) (time.Duration, error) {
	oldest, err := l.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ratelimit retry-after failed: %w", err)
	}
	if len(oldest) == 0 {
		return limit.Window, nil
	}
	expiresAt := time.Unix(0, int64(oldest[0].Score)).Add(limit.Window)
	retryAfter := expiresAt.Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return retryAfter, nil
}

// peekCounter reads a counter class without consuming a slot.
func (l *RedisLimiter) peekCounter(ctx context.Context, userID string, class Class, limit Limit) (Result, error) {
	val, err := l.client.Get(ctx, l.key(userID, class)).Int()
	if err != nil && err != redis.Nil {
		return Result{}, fmt.Errorf("redis counter read failed: %w", err)
	}
	remaining := limit.Max - val
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: val < limit.Max, Remaining: remaining}, nil
}

// AcquireResource takes one slot of a counter class.
func (l *RedisLimiter) AcquireResource(ctx context.Context, userID string, class Class) (Result, error) {
	limit, ok := l.limits[class]
	if !ok {
		return Result{}, fmt.Errorf("unknown limit class %q", class)
	}
	key := l.key(userID, class)

	val, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return Result{}, fmt.Errorf("redis counter incr failed: %w", err)
	}
	if val > int64(limit.Max) {
		// Over the cap: undo the increment
		if err := l.client.Decr(ctx, key).Err(); err != nil {
			return Result{}, fmt.Errorf("redis counter rollback failed: %w", err)
		}
		return Result{Allowed: false, Remaining: 0}, nil
	}

	return Result{Allowed: true, Remaining: limit.Max - int(val)}, nil
}

// ReleaseResource returns one slot of a counter class. Extra releases clamp
// at zero rather than going negative.
func (l *RedisLimiter) ReleaseResource(ctx context.Context, userID string, class Class) error {
	key := l.key(userID, class)
	val, err := l.client.Decr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis counter decr failed: %w", err)
	}
	if val < 0 {
		if err := l.client.Set(ctx, key, 0, 0).Err(); err != nil {
			return fmt.Errorf("redis counter clamp failed: %w", err)
		}
	}
	return nil
}
