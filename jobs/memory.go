package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/types"
)

// MemoryStore is an in-process Store for tests and single-node runs.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*types.Job
}

// NewMemoryStore creates an empty in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*types.Job)}
}

// Put stores a copy of the job.
func (s *MemoryStore) Put(_ context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get returns a copy of the job.
func (s *MemoryStore) Get(_ context.Context, id string) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fault.NotFound("job_not_found", "job not found")
	}
	return job.Clone(), nil
}

// Delete removes the job.
func (s *MemoryStore) Delete(_ context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, job.ID)
	return nil
}

// ListByUser returns the user's jobs newest first.
func (s *MemoryStore) ListByUser(_ context.Context, userID string, filter ListFilter) ([]*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*types.Job
	for _, job := range s.jobs {
		if job.OwnerID != userID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		matched = append(matched, job.Clone())
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	if matched == nil {
		matched = []*types.Job{}
	}
	return matched, nil
}

// MemoryQueue is a channel-backed Queue for tests.
type MemoryQueue struct {
	ch      chan string
	timeout time.Duration
}

// NewMemoryQueue creates a queue holding up to capacity IDs.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{
		ch:      make(chan string, capacity),
		timeout: 50 * time.Millisecond,
	}
}

// Push appends a job ID, failing when the queue is full.
func (q *MemoryQueue) Push(_ context.Context, jobID string) error {
	select {
	case q.ch <- jobID:
		return nil
	default:
		return fault.Unavailable("queue_full", "job queue is full")
	}
}

// Pop claims the next job ID, blocking briefly.
func (q *MemoryQueue) Pop(ctx context.Context) (string, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(q.timeout):
		return "", nil
	}
}

// Len returns the queue depth.
func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	return len(q.ch), nil
}
