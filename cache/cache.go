// Package cache provides the short-TTL result cache used for job
// status, assembled artifacts, user job lists, and file metadata.
// Backends: Redis for deployments, an in-memory store for tests and
// single-instance use, and a disabled mode where every get misses.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMiss is returned by Get when the key is absent, expired, or the
// cache is disabled.
var ErrMiss = errors.New("cache miss")

// Default TTLs per key class.
const (
	TTLJobStatus     = 1 * time.Hour
	TTLTranscription = 24 * time.Hour
	TTLUserJobs      = 5 * time.Minute
	TTLSystemMetrics = 1 * time.Minute
	TTLFileMeta      = 6 * time.Hour
)

// Cache is the result-cache contract. A ttl of 0 means persist until
// the backend evicts the entry under pressure.
type Cache interface {
	// Get returns the cached value or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// Clear drops every entry.
	Clear(ctx context.Context) error
}

// JobStatusKey returns the cache key for a job's status record.
func JobStatusKey(jobID string) string {
	return fmt.Sprintf("job_status:%s", jobID)
}

// TranscriptionKey returns the cache key for an assembled artifact.
func TranscriptionKey(jobID, format string) string {
	return fmt.Sprintf("transcription:%s:%s", jobID, format)
}

// UserJobsKey returns the cache key for a user's job list.
func UserJobsKey(userID string) string {
	return fmt.Sprintf("user_jobs:%s", userID)
}

// SystemMetricsKey is the cache key for the system metrics snapshot.
const SystemMetricsKey = "system:metrics"

// FileMetaKey returns the cache key for object metadata. Storage keys
// contain slashes and colons; both are folded so the cache key stays a
// single namespace segment.
func FileMetaKey(storageKey string) string {
	sanitized := strings.NewReplacer("/", "_", ":", "_").Replace(storageKey)
	return fmt.Sprintf("file_meta:%s", sanitized)
}

// Disabled is a Cache whose gets always miss and whose writes succeed
// without storing. Used when CACHE_ENABLED=false.
type Disabled struct{}

// NewDisabled returns the no-op cache.
func NewDisabled() *Disabled {
	return &Disabled{}
}

// Get always reports a miss.
func (Disabled) Get(context.Context, string) ([]byte, error) { return nil, ErrMiss }

// Set succeeds without storing anything.
func (Disabled) Set(context.Context, string, []byte, time.Duration) error { return nil }

// Delete succeeds without effect.
func (Disabled) Delete(context.Context, string) error { return nil }

// Exists always reports absent.
func (Disabled) Exists(context.Context, string) (bool, error) { return false, nil }

// Clear succeeds without effect.
func (Disabled) Clear(context.Context) error { return nil }
