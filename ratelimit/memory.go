package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter enforces limits with in-process token buckets. Suitable for
// single-instance deployments and tests; multi-instance deployments should
// use RedisLimiter.
type MemoryLimiter struct {
	limits map[Class]Limit
	clock  func() time.Time

	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	counters map[string]int
}

// MemoryLimiterOption configures a MemoryLimiter.
type MemoryLimiterOption func(*MemoryLimiter)

// WithMemoryLimits overrides the default limit table.
func WithMemoryLimits(limits map[Class]Limit) MemoryLimiterOption {
	return func(l *MemoryLimiter) {
		l.limits = limits
	}
}

// withMemoryClock injects a clock for tests.
func withMemoryClock(clock func() time.Time) MemoryLimiterOption {
	return func(l *MemoryLimiter) {
		l.clock = clock
	}
}

// NewMemoryLimiter creates an in-memory limiter.
func NewMemoryLimiter(opts ...MemoryLimiterOption) *MemoryLimiter {
	l := &MemoryLimiter{
		limits:   DefaultLimits(),
		clock:    time.Now,
		buckets:  make(map[string]*rate.Limiter),
		counters: make(map[string]int),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func bucketKey(userID string, class Class) string {
	return string(class) + ":" + userID
}

// bucket returns the user's token bucket, creating one sized to the class
// limit on first use. Callers hold mu.
func (l *MemoryLimiter) bucket(userID string, class Class, limit Limit) *rate.Limiter {
	key := bucketKey(userID, class)
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(float64(limit.Max)/limit.Window.Seconds()), limit.Max)
		l.buckets[key] = b
	}
	return b
}

// Check consumes cost tokens from the user's bucket.
func (l *MemoryLimiter) Check(_ context.Context, userID string, class Class, cost int) (Result, error) {
	limit, ok := l.limits[class]
	if !ok {
		return Result{}, fmt.Errorf("unknown limit class %q", class)
	}
	if limit.Window <= 0 {
		l.mu.Lock()
		defer l.mu.Unlock()
		val := l.counters[bucketKey(userID, class)]
		remaining := limit.Max - val
		if remaining < 0 {
			remaining = 0
		}
		return Result{Allowed: val < limit.Max, Remaining: remaining}, nil
	}
	if cost <= 0 {
		cost = 1
	}

	l.mu.Lock()
	b := l.bucket(userID, class, limit)
	l.mu.Unlock()

	now := l.clock()
	if b.AllowN(now, cost) {
		return Result{Allowed: true, Remaining: int(b.TokensAt(now))}, nil
	}

	// Reserve to learn the wait, then cancel so the failed check does not
	// consume tokens.
	retryAfter := limit.Window
	if r := b.ReserveN(now, cost); r.OK() {
		retryAfter = r.DelayFrom(now)
		r.CancelAt(now)
	}
	if retryAfter < time.Second {
		retryAfter = time.Second
	}

	remaining := int(b.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: false, Remaining: remaining, RetryAfter: retryAfter}, nil
}

// AcquireResource takes one slot of a counter class.
func (l *MemoryLimiter) AcquireResource(_ context.Context, userID string, class Class) (Result, error) {
	limit, ok := l.limits[class]
	if !ok {
		return Result{}, fmt.Errorf("unknown limit class %q", class)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := bucketKey(userID, class)
	if l.counters[key] >= limit.Max {
		return Result{Allowed: false, Remaining: 0}, nil
	}
	l.counters[key]++
	return Result{Allowed: true, Remaining: limit.Max - l.counters[key]}, nil
}

// ReleaseResource returns one slot of a counter class.
func (l *MemoryLimiter) ReleaseResource(_ context.Context, userID string, class Class) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := bucketKey(userID, class)
	if l.counters[key] > 0 {
		l.counters[key]--
	}
	return nil
}
