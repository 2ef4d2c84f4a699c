package events

import (
	"time"

	"github.com/AuralStack/ScribeFlow/transcript"
	"github.com/AuralStack/ScribeFlow/types"
)

// Emitter provides helpers for publishing events with shared metadata.
// A nil Emitter is safe to call and publishes nothing.
type Emitter struct {
	bus       *EventBus
	sessionID string
	jobID     string
	userID    string
}

// NewEmitter creates an event emitter bound to a session or job context.
// Pass empty strings for identifiers that do not apply.
func NewEmitter(bus *EventBus, sessionID, jobID, userID string) *Emitter {
	return &Emitter{
		bus:       bus,
		sessionID: sessionID,
		jobID:     jobID,
		userID:    userID,
	}
}

// emit publishes an event with shared context fields.
func (e *Emitter) emit(eventType EventType, data EventData) {
	if e == nil || e.bus == nil {
		return
	}

	e.bus.Publish(&Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		JobID:     e.jobID,
		UserID:    e.userID,
		Data:      data,
	})
}

// TranscriptPartial emits the unstable tail after a chunk merge.
func (e *Emitter) TranscriptPartial(chunkIdx int, words transcript.Words) {
	e.emit(EventTranscriptPartial, TranscriptPartialData{
		ChunkIdx: chunkIdx,
		Words:    words,
		Text:     words.Text(),
	})
}

// TranscriptCommit emits words that crossed the commit boundary.
func (e *Emitter) TranscriptCommit(chunkIdx int, words transcript.Words, lastCommittedMs int64) {
	e.emit(EventTranscriptCommit, TranscriptCommitData{
		ChunkIdx:        chunkIdx,
		Words:           words,
		Text:            words.Text(),
		LastCommittedMs: lastCommittedMs,
	})
}

// TranscriptFinal emits the full word list at finalization.
func (e *Emitter) TranscriptFinal(words transcript.Words, durationS float64) {
	e.emit(EventTranscriptFinal, TranscriptFinalData{
		Words:     words,
		Text:      words.Text(),
		WordCount: len(words),
		DurationS: durationS,
	})
}

// SessionStarted emits the session.started event.
func (e *Emitter) SessionStarted() {
	e.emit(EventSessionStarted, SessionData{})
}

// SessionFinalized emits the session.finalized event.
func (e *Emitter) SessionFinalized(chunkCount int) {
	e.emit(EventSessionFinalized, SessionData{ChunkCount: chunkCount})
}

// UploadCreated emits the upload.created event.
func (e *Emitter) UploadCreated(uploadID, filename string, totalSize int64) {
	e.emit(EventUploadCreated, UploadData{
		UploadID:  uploadID,
		Filename:  filename,
		TotalSize: totalSize,
	})
}

// UploadCompleted emits the upload.completed event.
func (e *Emitter) UploadCompleted(uploadID, jobID string) {
	e.emit(EventUploadCompleted, UploadData{UploadID: uploadID, JobID: jobID})
}

// JobQueued emits the job.queued event.
func (e *Emitter) JobQueued() {
	e.emit(EventJobQueued, JobStageData{})
}

// JobStageStarted emits the job.stage.started event.
func (e *Emitter) JobStageStarted(stage types.Stage) {
	e.emit(EventJobStageStarted, JobStageData{Stage: stage})
}

// JobStageCompleted emits the job.stage.completed event.
func (e *Emitter) JobStageCompleted(stage types.Stage, elapsed time.Duration) {
	e.emit(EventJobStageCompleted, JobStageData{Stage: stage, Elapsed: elapsed})
}

// JobCompleted emits the job.completed event.
func (e *Emitter) JobCompleted(wordCount int, durationS float64) {
	e.emit(EventJobCompleted, JobTerminalData{
		Status:    types.JobStatusComplete,
		WordCount: wordCount,
		DurationS: durationS,
	})
}

// JobFailed emits the job.failed event.
func (e *Emitter) JobFailed(errorCode, errorMessage string) {
	e.emit(EventJobFailed, JobTerminalData{
		Status:       types.JobStatusFailed,
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
	})
}

// JobCancelled emits the job.cancelled event.
func (e *Emitter) JobCancelled() {
	e.emit(EventJobCancelled, JobTerminalData{Status: types.JobStatusCancelled})
}

// ProviderCallCompleted emits the provider.call.completed event.
func (e *Emitter) ProviderCallCompleted(provider string, words, audioBytes int, elapsed time.Duration) {
	e.emit(EventProviderCallCompleted, ProviderCallData{
		Provider:   provider,
		Words:      words,
		AudioBytes: audioBytes,
		Elapsed:    elapsed,
	})
}

// ProviderCallFailed emits the provider.call.failed event.
func (e *Emitter) ProviderCallFailed(provider string, err error, elapsed time.Duration) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	e.emit(EventProviderCallFailed, ProviderCallData{
		Provider: provider,
		Elapsed:  elapsed,
		Error:    msg,
	})
}
