package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/types"
)

// RedisStore keeps each job as a JSON value plus a per-user sorted set
// indexed by creation time for newest-first listings.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithStorePrefix sets the key prefix. Default is "scribeflow".
func WithStorePrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a Redis-backed job store.
func NewRedisStore(client *redis.Client, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "scribeflow"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) jobKey(id string) string {
	return fmt.Sprintf("%s:job:%s", s.prefix, id)
}

func (s *RedisStore) userIndexKey(userID string) string {
	return fmt.Sprintf("%s:user:%s:jobs", s.prefix, userID)
}

// Put writes the job and refreshes the owner index.
func (s *RedisStore) Put(ctx context.Context, job *types.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.jobKey(job.ID), data, 0)
	pipe.ZAdd(ctx, s.userIndexKey(job.OwnerID), redis.Z{
		Score:  float64(job.CreatedAt.UnixNano()),
		Member: job.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Get returns the job by ID.
func (s *RedisStore) Get(ctx context.Context, id string) (*types.Job, error) {
	data, err := s.client.Get(ctx, s.jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fault.NotFound("job_not_found", "job not found")
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var job types.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

// Delete removes the job and its index entry.
func (s *RedisStore) Delete(ctx context.Context, job *types.Job) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.jobKey(job.ID))
	pipe.ZRem(ctx, s.userIndexKey(job.OwnerID), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// ListByUser returns the user's jobs newest first. The status filter
// applies before the limit so a page of failed jobs is a full page.
func (s *RedisStore) ListByUser(ctx context.Context, userID string, filter ListFilter) ([]*types.Job, error) {
	ids, err := s.client.ZRevRange(ctx, s.userIndexKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrevrange failed: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	jobs := []*types.Job{}
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if err != nil {
			if fault.IsKind(err, fault.KindNotFound) {
				// Stale index entry; the record was deleted.
				continue
			}
			return nil, err
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		jobs = append(jobs, job)
		if len(jobs) >= limit {
			break
		}
	}
	return jobs, nil
}

// DefaultPopTimeout is how long RedisQueue.Pop blocks per call.
const DefaultPopTimeout = 2 * time.Second

// RedisQueue is a Redis list job queue. BRPOP removes atomically, so a
// popped ID is claimed by exactly one worker even with many consumers.
type RedisQueue struct {
	client  *redis.Client
	key     string
	timeout time.Duration
}

// RedisQueueOption configures a RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithQueueKey overrides the queue's list key. Default is
// "scribeflow:jobs:queue".
func WithQueueKey(key string) RedisQueueOption {
	return func(q *RedisQueue) {
		q.key = key
	}
}

// WithPopTimeout overrides the per-call blocking timeout.
func WithPopTimeout(d time.Duration) RedisQueueOption {
	return func(q *RedisQueue) {
		q.timeout = d
	}
}

// NewRedisQueue creates a Redis list queue.
func NewRedisQueue(client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	q := &RedisQueue{
		client:  client,
		key:     "scribeflow:jobs:queue",
		timeout: DefaultPopTimeout,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push appends a job ID.
func (q *RedisQueue) Push(ctx context.Context, jobID string) error {
	if err := q.client.LPush(ctx, q.key, jobID).Err(); err != nil {
		return fmt.Errorf("redis lpush failed: %w", err)
	}
	return nil
}

// Pop claims the next job ID, blocking up to the pop timeout.
func (q *RedisQueue) Pop(ctx context.Context) (string, error) {
	vals, err := q.client.BRPop(ctx, q.timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("redis brpop failed: %w", err)
	}
	// BRPOP returns [key, value].
	return vals[1], nil
}

// Len returns the queue depth.
func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen failed: %w", err)
	}
	return int(n), nil
}
