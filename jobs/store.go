// Package jobs persists batch transcription job records and feeds the
// worker pool through a Redis list queue with single-consumer claim
// semantics: a popped job belongs to exactly one worker.
package jobs

import (
	"context"

	"github.com/AuralStack/ScribeFlow/types"
)

// ListFilter narrows and bounds a per-user job listing. Results are
// newest first.
type ListFilter struct {
	Status types.JobStatus // Zero value matches every status
	Limit  int             // <= 0 means DefaultListLimit
}

// DefaultListLimit bounds listings when the caller gives no limit.
const DefaultListLimit = 50

// Store persists job records and the per-user index behind listings.
// Missing jobs surface as fault.KindNotFound.
type Store interface {
	// Put writes the job record, replacing any previous version, and
	// indexes it under its owner.
	Put(ctx context.Context, job *types.Job) error

	// Get returns the job by ID.
	Get(ctx context.Context, id string) (*types.Job, error)

	// Delete removes the job record and its index entry.
	Delete(ctx context.Context, job *types.Job) error

	// ListByUser returns the user's jobs, newest first.
	ListByUser(ctx context.Context, userID string, filter ListFilter) ([]*types.Job, error)
}

// Queue hands job IDs to workers. Pop claims: once returned, no other
// consumer will receive the same ID.
type Queue interface {
	// Push appends a job ID for pickup.
	Push(ctx context.Context, jobID string) error

	// Pop blocks up to the queue's poll interval and returns the next
	// job ID, or "" when none arrived.
	Pop(ctx context.Context) (string, error)

	// Len returns the number of queued IDs.
	Len(ctx context.Context) (int, error)
}
