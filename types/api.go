package types

import "github.com/AuralStack/ScribeFlow/transcript"

// CreateUploadRequest opens a resumable upload session.
type CreateUploadRequest struct {
	Filename  string `json:"filename"`
	TotalSize int64  `json:"total_size"`
	MIMEType  string `json:"mime_type"`
}

// CreateUploadResponse returns the session handle and the parameters the
// client must respect when uploading chunks.
type CreateUploadResponse struct {
	UploadID         string   `json:"upload_id"`
	ChunkSize        int64    `json:"chunk_size"`
	AllowedMIMETypes []string `json:"allowed_mime_types"`
	MaxDurationHours float64  `json:"max_duration_hours"`
}

// ChunkPutResponse acknowledges a stored upload chunk.
type ChunkPutResponse struct {
	ChunkIndex int  `json:"chunk_index"`
	Uploaded   bool `json:"uploaded"`
}

// UploadStatusResponse reports upload progress.
type UploadStatusResponse struct {
	Status         UploadStatus `json:"status"`
	ChunksUploaded []int        `json:"chunks_uploaded"`
	TotalChunks    int          `json:"total_chunks"`
	BytesUploaded  int64        `json:"bytes_uploaded"`
	TotalBytes     int64        `json:"total_bytes"`
}

// CompleteUploadRequest finalizes a session. SHA256, when present, is the
// client's expected hex digest of the assembled file.
type CompleteUploadRequest struct {
	SHA256 string `json:"sha256,omitempty"`
}

// CompleteUploadResponse hands back the job created from the assembled
// media.
type CompleteUploadResponse struct {
	JobID    string    `json:"job_id"`
	UploadID string    `json:"upload_id"`
	Status   JobStatus `json:"status"`
}

// LiveChunkResponse acknowledges an accepted streaming chunk. Processing
// continues asynchronously after the 202 response.
type LiveChunkResponse struct {
	ProcessingStarted bool `json:"processing_started"`
}

// ArtifactURLs carries the download locations of the four artifacts.
type ArtifactURLs struct {
	TXT  string `json:"txt_url"`
	JSON string `json:"json_url"`
	SRT  string `json:"srt_url"`
	VTT  string `json:"vtt_url"`
}

// FinalizeResponse closes a live session and returns the full transcript
// plus artifact locations.
type FinalizeResponse struct {
	Transcript string       `json:"transcript"`
	Artifacts  ArtifactURLs `json:"artifacts"`
}

// LiveTranscriptResponse reports the current rolling transcript of an
// active streaming session. Committed text is stable; the tail may still
// be revised by overlap resolution.
type LiveTranscriptResponse struct {
	SessionID       string            `json:"session_id"`
	CommittedText   string            `json:"committed_text"`
	TailText        string            `json:"tail_text,omitempty"`
	TailWords       []transcript.Word `json:"tail_words,omitempty"`
	LastCommittedMs int64             `json:"last_committed_ms"`
}

// JobListResponse pages through a caller's jobs.
type JobListResponse struct {
	Jobs  []*Job `json:"jobs"`
	Total int    `json:"total"`
	Limit int    `json:"limit"`
}

// RetryJobRequest re-queues a failed job. FromStage, when set, overrides
// the resume point and must not be later than the last completed stage.
type RetryJobRequest struct {
	FromStage Stage `json:"from_stage,omitempty"`
}

// QuotaViolationResponse enumerates every failing quota rule for a
// rejected request.
type QuotaViolationResponse struct {
	Violations []string       `json:"violations"`
	Remaining  QuotaRemaining `json:"remaining"`
}

// ErrorResponse is the uniform error envelope for the HTTP surface.
// Messages are short, stable strings that never expose internal paths,
// storage keys, or provider credentials.
type ErrorResponse struct {
	Error      string          `json:"error"`
	Code       string          `json:"code,omitempty"`
	RetryAfter int             `json:"retry_after_s,omitempty"`
	Violations []string        `json:"violations,omitempty"`
	Remaining  *QuotaRemaining `json:"remaining,omitempty"`
}
