package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/types"
)

// usageTTL keeps dormant usage records from accumulating forever. Monthly
// counters only matter within the month plus a grace period.
const usageTTL = 45 * 24 * time.Hour

// RedisUsageStore persists quota usage as JSON in Redis.
type RedisUsageStore struct {
	client *redis.Client
	prefix string
}

// RedisUsageStoreOption configures a RedisUsageStore.
type RedisUsageStoreOption func(*RedisUsageStore)

// WithUsagePrefix sets the key prefix. Default is "scribeflow".
func WithUsagePrefix(prefix string) RedisUsageStoreOption {
	return func(s *RedisUsageStore) {
		s.prefix = prefix
	}
}

// NewRedisUsageStore creates a Redis-backed usage store.
func NewRedisUsageStore(client *redis.Client, opts ...RedisUsageStoreOption) *RedisUsageStore {
	s := &RedisUsageStore{
		client: client,
		prefix: "scribeflow",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisUsageStore) key(userID string) string {
	return fmt.Sprintf("%s:quota:usage:%s", s.prefix, userID)
}

// Get returns the user's usage record.
func (s *RedisUsageStore) Get(ctx context.Context, userID string) (*types.QuotaUsage, error) {
	data, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fault.NotFound("usage_not_found", fmt.Sprintf("no usage recorded for user %s", userID))
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var usage types.QuotaUsage
	if err := json.Unmarshal(data, &usage); err != nil {
		return nil, fmt.Errorf("failed to unmarshal quota usage: %w", err)
	}
	return &usage, nil
}

// Put stores the usage record.
func (s *RedisUsageStore) Put(ctx context.Context, usage *types.QuotaUsage) error {
	data, err := json.Marshal(usage)
	if err != nil {
		return fmt.Errorf("failed to marshal quota usage: %w", err)
	}
	if err := s.client.Set(ctx, s.key(usage.UserID), data, usageTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// MemoryUsageStore keeps usage records in process memory.
type MemoryUsageStore struct {
	mu      sync.RWMutex
	records map[string]types.QuotaUsage
}

// NewMemoryUsageStore creates an in-memory usage store.
func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{
		records: make(map[string]types.QuotaUsage),
	}
}

// Get returns a copy of the user's usage record.
func (s *MemoryUsageStore) Get(_ context.Context, userID string) (*types.QuotaUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	usage, ok := s.records[userID]
	if !ok {
		return nil, fault.NotFound("usage_not_found", fmt.Sprintf("no usage recorded for user %s", userID))
	}
	return &usage, nil
}

// Put stores a copy of the usage record.
func (s *MemoryUsageStore) Put(_ context.Context, usage *types.QuotaUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[usage.UserID] = *usage
	return nil
}
