// Package types defines the canonical records shared across the system:
// transcription jobs, upload sessions, quota state, and the payloads
// exchanged over the HTTP surface.
package types

import (
	"time"
)

// JobStatus represents the lifecycle state of a transcription job.
type JobStatus string

// Job lifecycle states. Transitions are monotonic toward a terminal state:
// created -> processing -> complete | failed | cancelled.
const (
	JobStatusCreated    JobStatus = "created"
	JobStatusProcessing JobStatus = "processing"
	JobStatusComplete   JobStatus = "complete"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal jobs release
// their concurrent-job slot and never change status again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed || s == JobStatusCancelled
}

// Stage identifies one step of the batch pipeline.
type Stage string

// Pipeline stages in execution order.
const (
	StageValidating        Stage = "validating"
	StageTranscoding       Stage = "transcoding"
	StageSegmenting        Stage = "segmenting"
	StageDetectingLanguage Stage = "detecting_language"
	StageTranscribing      Stage = "transcribing"
	StageMerging           Stage = "merging"
	StageDiarizing         Stage = "diarizing"
	StageGeneratingOutputs Stage = "generating_outputs"
)

// stageOrder is the canonical execution order of pipeline stages.
var stageOrder = []Stage{
	StageValidating,
	StageTranscoding,
	StageSegmenting,
	StageDetectingLanguage,
	StageTranscribing,
	StageMerging,
	StageDiarizing,
	StageGeneratingOutputs,
}

// Stages returns the pipeline stages in execution order. The returned
// slice is a copy and safe to modify.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// StageIndex returns the position of the stage in execution order, or -1
// for an unknown stage.
func StageIndex(s Stage) int {
	for i, stage := range stageOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

// ValidStage reports whether s names a known pipeline stage.
func ValidStage(s Stage) bool {
	return StageIndex(s) >= 0
}

// Job represents a batch transcription job from creation through artifact
// generation. Stage bookkeeping lives directly on the record; per-stage
// opaque checkpoints live in the checkpoint store keyed by (job_id, stage).
type Job struct {
	ID      string `json:"id"`       // Unique job identifier
	OwnerID string `json:"owner_id"` // User that created the job

	// Source media
	SourceBlobKey string `json:"source_blob_key"`    // Object-storage key of the source media
	Filename      string `json:"filename"`           // Original filename as uploaded
	MIMEType      string `json:"mime_type"`          // Declared MIME type
	TotalSize     int64  `json:"total_size"`         // Source size in bytes
	Language      string `json:"language,omitempty"` // Caller-requested language, empty = detect

	// Options
	EnableDiarization bool `json:"enable_diarization,omitempty"` // Annotate words with speaker IDs

	// Progress
	Status         JobStatus         `json:"status"`                    // Lifecycle state
	CurrentStage   Stage             `json:"current_stage,omitempty"`   // Stage currently executing or last executed
	StageProgress  map[Stage]float64 `json:"stage_progress,omitempty"`  // Percent complete per stage (0-100)
	StageDurations map[Stage]float64 `json:"stage_durations,omitempty"` // Seconds each completed stage took

	// Retry bookkeeping
	RetryCount int `json:"retry_count"` // Attempts so far
	MaxRetries int `json:"max_retries"` // Permanent failure once exceeded

	// Failure detail (terminal failed state only)
	ErrorCode    string `json:"error_code,omitempty"`    // Stable machine-readable code
	ErrorMessage string `json:"error_message,omitempty"` // Short caller-safe description

	// Results
	DetectedLanguage string                  `json:"detected_language,omitempty"` // From the detecting_language stage
	TotalDurationS   float64                 `json:"total_duration_s,omitempty"`  // Audio duration in seconds
	WordCount        int                     `json:"word_count,omitempty"`        // Final transcript word count
	ArtifactKeys     map[ArtifactKind]string `json:"artifact_keys,omitempty"`     // Blob key per generated artifact

	// Provider metadata the pipeline does not interpret
	ProviderMeta []byte `json:"provider_meta,omitempty"` // Opaque provider payload, if any

	Timestamps
}

// Timestamps carries creation and mutation times. All times are stored
// in UTC and serialize as ISO-8601 with an explicit Z.
type Timestamps struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touch updates UpdatedAt to the current UTC time.
func (t *Timestamps) Touch() {
	t.UpdatedAt = time.Now().UTC()
}

// NewJob creates a Job in the created state with stage maps initialized.
func NewJob(id, ownerID, sourceBlobKey, filename, mimeType string, totalSize int64) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:             id,
		OwnerID:        ownerID,
		SourceBlobKey:  sourceBlobKey,
		Filename:       filename,
		MIMEType:       mimeType,
		TotalSize:      totalSize,
		Status:         JobStatusCreated,
		StageProgress:  make(map[Stage]float64),
		StageDurations: make(map[Stage]float64),
		ArtifactKeys:   make(map[ArtifactKind]string),
		MaxRetries:     3,
		Timestamps:     Timestamps{CreatedAt: now, UpdatedAt: now},
	}
}

// Clone returns a deep copy of the job. Stage maps and artifact keys
// are copied so mutations on the clone never leak back.
func (j *Job) Clone() *Job {
	out := *j
	out.StageProgress = make(map[Stage]float64, len(j.StageProgress))
	for k, v := range j.StageProgress {
		out.StageProgress[k] = v
	}
	out.StageDurations = make(map[Stage]float64, len(j.StageDurations))
	for k, v := range j.StageDurations {
		out.StageDurations[k] = v
	}
	out.ArtifactKeys = make(map[ArtifactKind]string, len(j.ArtifactKeys))
	for k, v := range j.ArtifactKeys {
		out.ArtifactKeys[k] = v
	}
	out.ProviderMeta = append([]byte(nil), j.ProviderMeta...)
	return &out
}

// CompletedStages returns the stages with a recorded duration, in
// execution order.
func (j *Job) CompletedStages() []Stage {
	var done []Stage
	for _, s := range stageOrder {
		if j.StageDurations[s] > 0 {
			done = append(done, s)
		}
	}
	return done
}

// LastCompletedStage returns the latest stage with a recorded duration,
// or "" when no stage has completed.
func (j *Job) LastCompletedStage() Stage {
	var last Stage
	for _, s := range stageOrder {
		if j.StageDurations[s] > 0 {
			last = s
		}
	}
	return last
}

// SetFailure records a terminal failure on the job.
func (j *Job) SetFailure(code, message string) {
	j.Status = JobStatusFailed
	j.ErrorCode = code
	j.ErrorMessage = message
	j.Touch()
}
