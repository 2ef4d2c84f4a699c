package events

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// File system constants.
const (
	dirPermissions  = 0750
	filePermissions = 0600
	scannerBufSize  = 1024 * 1024 // 1MB buffer for large events
)

// ArchiveFilter specifies criteria for querying archived events.
type ArchiveFilter struct {
	SessionID string
	JobID     string
	UserID    string
	Types     []EventType
	Since     time.Time
	Until     time.Time
	Limit     int
}

// archivedEvent is the JSON Lines wire shape. Data is kept raw so audits can
// inspect payloads without knowing every concrete type.
type archivedEvent struct {
	Sequence  int64           `json:"seq"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	JobID     string          `json:"job_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (a *archivedEvent) toEvent() *Event {
	return &Event{
		Type:      a.Type,
		Timestamp: a.Timestamp,
		SessionID: a.SessionID,
		JobID:     a.JobID,
		UserID:    a.UserID,
		// Data stays raw; audits unmarshal what they need
	}
}

// Archive persists session and job events as JSON Lines, one file per
// session or job, for audit and replay.
type Archive struct {
	dir      string
	mu       sync.RWMutex
	files    map[string]*os.File
	sequence atomic.Int64
}

// NewArchive creates a file-based event archive rooted at dir.
func NewArchive(dir string) (*Archive, error) {
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &Archive{
		dir:   dir,
		files: make(map[string]*os.File),
	}, nil
}

// archiveKey groups events into files: sessions and jobs each get their own
// stream, other events land in a shared system stream.
func archiveKey(event *Event) string {
	switch {
	case event.SessionID != "":
		return "session-" + event.SessionID
	case event.JobID != "":
		return "job-" + event.JobID
	default:
		return "system"
	}
}

// Append adds an event to the archive.
func (a *Archive) Append(_ context.Context, event *Event) error {
	entry := archivedEvent{
		Sequence:  a.sequence.Add(1),
		Type:      event.Type,
		Timestamp: event.Timestamp,
		SessionID: event.SessionID,
		JobID:     event.JobID,
		UserID:    event.UserID,
	}
	if event.Data != nil {
		data, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("serialize event: %w", err)
		}
		entry.Data = data
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := a.getOrCreateFile(archiveKey(event))
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Query returns archived events matching the filter. Exactly one of
// SessionID or JobID must be set to select the stream.
func (a *Archive) Query(ctx context.Context, filter *ArchiveFilter) ([]*Event, error) {
	key := ""
	switch {
	case filter.SessionID != "":
		key = "session-" + filter.SessionID
	case filter.JobID != "":
		key = "job-" + filter.JobID
	default:
		return nil, fmt.Errorf("session ID or job ID required for query")
	}

	path := a.streamPath(key)
	f, err := os.Open(path) //nolint:gosec // path is constructed from trusted identifiers
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open archive stream: %w", err)
	}
	defer f.Close()

	var events []*Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, scannerBufSize), scannerBufSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return events, ctx.Err()
		default:
		}

		var entry archivedEvent
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // Skip malformed lines
		}

		event := entry.toEvent()
		if matchesFilter(event, filter) {
			events = append(events, event)
			if filter.Limit > 0 && len(events) >= filter.Limit {
				break
			}
		}
	}

	return events, scanner.Err()
}

// Listen subscribes the archive to every bus event.
func (a *Archive) Listen(ctx context.Context, bus *EventBus) {
	bus.SubscribeAll(func(e *Event) {
		_ = a.Append(ctx, e)
	})
}

// Sync flushes all pending writes to disk.
func (a *Archive) Sync() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	for _, f := range a.files {
		if err := f.Sync(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("sync files: %v", errs)
	}
	return nil
}

// Close releases all resources.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	for _, f := range a.files {
		if err := f.Sync(); err != nil {
			errs = append(errs, err)
		}
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.files = make(map[string]*os.File)

	if len(errs) > 0 {
		return fmt.Errorf("close files: %v", errs)
	}
	return nil
}

// streamPath returns the file path for a stream key.
func (a *Archive) streamPath(key string) string {
	return filepath.Join(a.dir, key+".jsonl")
}

// getOrCreateFile returns the file for a stream, creating it if needed.
// Caller must hold a.mu.
func (a *Archive) getOrCreateFile(key string) (*os.File, error) {
	if f, ok := a.files[key]; ok {
		return f, nil
	}

	path := a.streamPath(key)
	//nolint:gosec // path is constructed from trusted identifiers
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, filePermissions)
	if err != nil {
		return nil, fmt.Errorf("create archive stream: %w", err)
	}

	a.files[key] = f
	return f, nil
}

// matchesFilter checks if an event matches the filter criteria.
func matchesFilter(event *Event, filter *ArchiveFilter) bool {
	if filter.UserID != "" && event.UserID != filter.UserID {
		return false
	}
	if !filter.Since.IsZero() && event.Timestamp.Before(filter.Since) {
		return false
	}
	if !filter.Until.IsZero() && event.Timestamp.After(filter.Until) {
		return false
	}
	if len(filter.Types) == 0 {
		return true
	}
	for _, t := range filter.Types {
		if event.Type == t {
			return true
		}
	}
	return false
}
