package events

import (
	"time"

	"github.com/AuralStack/ScribeFlow/transcript"
	"github.com/AuralStack/ScribeFlow/types"
)

// EventType identifies the type of event emitted by the platform.
type EventType string

const (
	// EventTranscriptPartial carries the unstable tail of a live session.
	EventTranscriptPartial EventType = "partial"
	// EventTranscriptCommit carries words that crossed the commit boundary.
	EventTranscriptCommit EventType = "commit"
	// EventTranscriptFinal carries the full word list at finalization.
	EventTranscriptFinal EventType = "final"

	// EventSessionStarted marks a live session accepting chunks.
	EventSessionStarted EventType = "session.started"
	// EventSessionFinalized marks a live session's finalization.
	EventSessionFinalized EventType = "session.finalized"

	// EventUploadCreated marks a new upload session.
	EventUploadCreated EventType = "upload.created"
	// EventUploadCompleted marks a finalized upload.
	EventUploadCompleted EventType = "upload.completed"

	// EventJobQueued marks a job entering the queue.
	EventJobQueued EventType = "job.queued"
	// EventJobStageStarted marks a pipeline stage starting.
	EventJobStageStarted EventType = "job.stage.started"
	// EventJobStageCompleted marks a pipeline stage finishing.
	EventJobStageCompleted EventType = "job.stage.completed"
	// EventJobCompleted marks a job reaching complete.
	EventJobCompleted EventType = "job.completed"
	// EventJobFailed marks a job reaching failed.
	EventJobFailed EventType = "job.failed"
	// EventJobCancelled marks a job cancelled by its owner.
	EventJobCancelled EventType = "job.cancelled"

	// EventProviderCallCompleted marks a successful STT provider call.
	EventProviderCallCompleted EventType = "provider.call.completed"
	// EventProviderCallFailed marks a failed STT provider call.
	EventProviderCallFailed EventType = "provider.call.failed"
)

// EventData is a marker interface for event payloads.
type EventData interface {
	eventData()
}

// Event represents a platform event delivered to listeners.
type Event struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	JobID     string
	UserID    string
	Data      EventData
}

// baseEventData provides a shared marker implementation for all event payloads.
type baseEventData struct{}

func (baseEventData) eventData() {}

// TranscriptPartialData is the payload of a partial event.
type TranscriptPartialData struct {
	baseEventData
	ChunkIdx int              `json:"chunk_idx"`
	Words    transcript.Words `json:"words"`
	Text     string           `json:"text"`
}

// TranscriptCommitData is the payload of a commit event.
type TranscriptCommitData struct {
	baseEventData
	ChunkIdx        int              `json:"chunk_idx"`
	Words           transcript.Words `json:"words"`
	Text            string           `json:"text"`
	LastCommittedMs int64            `json:"last_committed_ms"`
}

// TranscriptFinalData is the payload of a final event.
type TranscriptFinalData struct {
	baseEventData
	Words     transcript.Words `json:"words"`
	Text      string           `json:"text"`
	WordCount int              `json:"word_count"`
	DurationS float64          `json:"duration_s"`
}

// SessionData is the payload of session lifecycle events.
type SessionData struct {
	baseEventData
	ChunkCount int `json:"chunk_count,omitempty"`
}

// UploadData is the payload of upload lifecycle events.
type UploadData struct {
	baseEventData
	UploadID  string `json:"upload_id"`
	Filename  string `json:"filename,omitempty"`
	TotalSize int64  `json:"total_size,omitempty"`
	JobID     string `json:"job_id,omitempty"`
}

// JobStageData is the payload of job stage events.
type JobStageData struct {
	baseEventData
	Stage    types.Stage   `json:"stage"`
	Progress float64       `json:"progress,omitempty"`
	Elapsed  time.Duration `json:"elapsed,omitempty"`
}

// JobTerminalData is the payload of job terminal events.
type JobTerminalData struct {
	baseEventData
	Status       types.JobStatus `json:"status"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	WordCount    int             `json:"word_count,omitempty"`
	DurationS    float64         `json:"duration_s,omitempty"`
}

// ProviderCallData is the payload of provider call events.
type ProviderCallData struct {
	baseEventData
	Provider   string        `json:"provider"`
	Words      int           `json:"words,omitempty"`
	AudioBytes int           `json:"audio_bytes,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
	Error      string        `json:"error,omitempty"`
}
