package jobs

import (
	"context"

	"github.com/AuralStack/ScribeFlow/events"
	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/logger"
	"github.com/AuralStack/ScribeFlow/types"
)

// Service couples the job store and queue: a job enters the system by
// being persisted and then queued, in that order, so a worker that
// pops the ID always finds the record.
type Service struct {
	store Store
	queue Queue
	bus   *events.EventBus
}

// NewService creates a job service. bus may be nil.
func NewService(store Store, queue Queue, bus *events.EventBus) *Service {
	return &Service{store: store, queue: queue, bus: bus}
}

// Store exposes the underlying job store.
func (s *Service) Store() Store { return s.store }

// Queue exposes the underlying job queue.
func (s *Service) Queue() Queue { return s.queue }

// Enqueue persists the job and queues it for a worker.
func (s *Service) Enqueue(ctx context.Context, job *types.Job) error {
	if err := s.store.Put(ctx, job); err != nil {
		return err
	}
	if err := s.queue.Push(ctx, job.ID); err != nil {
		return err
	}
	logger.InfoContext(ctx, "job queued", "job_id", job.ID, "filename", job.Filename)
	events.NewEmitter(s.bus, "", job.ID, job.OwnerID).JobQueued()
	return nil
}

// Requeue puts an already persisted job back on the queue. Used when
// admission defers a job over its owner's concurrency quota and on
// retry.
func (s *Service) Requeue(ctx context.Context, jobID string) error {
	return s.queue.Push(ctx, jobID)
}

// GetOwned returns the job after verifying ownerID owns it.
func (s *Service) GetOwned(ctx context.Context, ownerID, jobID string) (*types.Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, fault.Forbidden("job_forbidden", "job belongs to another user")
	}
	return job, nil
}
