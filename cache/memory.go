package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-memory Cache suitable for tests and
// single-instance deployments. Entries expire lazily on read; when the
// cache is full the least-recently-inserted entry is evicted.
type MemoryCache struct {
	mu       sync.Mutex
	entries  map[string]*memoryEntry
	order    *list.List // insertion order, oldest at front
	maxSize  int
	now      func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
	elem      *list.Element
}

// DefaultMemoryMaxSize bounds the entry count when none is configured.
const DefaultMemoryMaxSize = 10000

// MemoryOption configures a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithMaxSize caps the number of entries before eviction kicks in.
func WithMaxSize(n int) MemoryOption {
	return func(c *MemoryCache) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// withClock overrides the time source for expiry tests.
func withClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) {
		c.now = now
	}
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]*memoryEntry),
		order:   list.New(),
		maxSize: DefaultMemoryMaxSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value or ErrMiss.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		c.removeLocked(key, e)
		return nil, ErrMiss
	}

	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set stores a value, evicting the oldest-inserted entry when full.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	if e, ok := c.entries[key]; ok {
		e.value = stored
		e.expiresAt = expiresAt
		return nil
	}

	for len(c.entries) >= c.maxSize {
		front := c.order.Front()
		if front == nil {
			break
		}
		oldest := front.Value.(string)
		c.removeLocked(oldest, c.entries[oldest])
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &memoryEntry{value: stored, expiresAt: expiresAt, elem: elem}
	return nil
}

// Delete removes a key.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(key, e)
	}
	return nil
}

// Exists reports whether the key is present and unexpired.
func (c *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.Get(ctx, key)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// Clear drops every entry.
func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*memoryEntry)
	c.order.Init()
	return nil
}

// Len reports the current entry count.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// removeLocked deletes an entry. Caller holds the mutex.
func (c *MemoryCache) removeLocked(key string, e *memoryEntry) {
	if e != nil && e.elem != nil {
		c.order.Remove(e.elem)
	}
	delete(c.entries, key)
}
