// Package ratelimit gates user-facing operations with per-class rate limits
// and tier-driven quotas.
package ratelimit

import (
	"context"
	"time"
)

// Class identifies the limit bucket an operation draws from.
type Class string

// Limit classes. Time-based classes use sliding windows; concurrent_jobs is
// a plain counter bracketed by AcquireResource/ReleaseResource.
const (
	ClassAPIGeneral       Class = "api_general"
	ClassAPIUpload        Class = "api_upload"
	ClassAPITranscription Class = "api_transcription"
	ClassConcurrentJobs   Class = "concurrent_jobs"
)

// Limit is the ceiling for one class. Window 0 marks a counter class.
type Limit struct {
	Max    int
	Window time.Duration
}

// DefaultLimits returns the built-in limit table. Deployments override
// individual classes through configuration.
func DefaultLimits() map[Class]Limit {
	return map[Class]Limit{
		ClassAPIGeneral:       {Max: 100, Window: 60 * time.Second},
		ClassAPIUpload:        {Max: 10, Window: 60 * time.Second},
		ClassAPITranscription: {Max: 20, Window: 3600 * time.Second},
		ClassConcurrentJobs:   {Max: 5},
	}
}

// Result is the outcome of a limit check.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter enforces per-(user, class) rate limits. Different users never
// contend with each other.
type Limiter interface {
	// Check consumes cost units from the user's window if available.
	// When denied, RetryAfter hints when capacity frees up.
	Check(ctx context.Context, userID string, class Class, cost int) (Result, error)

	// AcquireResource takes one slot of a counter class. Callers must
	// balance with ReleaseResource on every exit path.
	AcquireResource(ctx context.Context, userID string, class Class) (Result, error)

	// ReleaseResource returns one slot of a counter class.
	ReleaseResource(ctx context.Context, userID string, class Class) error
}

// Disabled is a Limiter that always allows. Used when rate limiting is
// turned off by configuration.
type Disabled struct{}

// Check always allows.
func (Disabled) Check(_ context.Context, _ string, _ Class, _ int) (Result, error) {
	return Result{Allowed: true, Remaining: -1}, nil
}

// AcquireResource always allows.
func (Disabled) AcquireResource(_ context.Context, _ string, _ Class) (Result, error) {
	return Result{Allowed: true, Remaining: -1}, nil
}

// ReleaseResource does nothing.
func (Disabled) ReleaseResource(_ context.Context, _ string, _ Class) error {
	return nil
}
