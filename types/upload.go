package types

import (
	"fmt"
	"sort"
	"time"
)

// UploadStatus represents the lifecycle state of a chunked upload session.
type UploadStatus string

// Upload session states. A session moves monotonically from active to
// exactly one terminal state.
const (
	UploadStatusActive    UploadStatus = "active"
	UploadStatusCompleted UploadStatus = "completed"
	UploadStatusCancelled UploadStatus = "cancelled"
	UploadStatusExpired   UploadStatus = "expired"
)

// Terminal reports whether the session can no longer accept chunks.
func (s UploadStatus) Terminal() bool {
	return s != UploadStatusActive
}

// UploadSession tracks a resumable chunked upload. Chunk blobs are stored
// under sessions/{upload_id}/chunks/{idx:04d} and the session owns them
// until finalize combines them into a single blob.
type UploadSession struct {
	ID      string `json:"id"`       // Opaque upload identifier
	OwnerID string `json:"owner_id"` // User that opened the session

	Filename  string `json:"filename"`   // Declared filename
	TotalSize int64  `json:"total_size"` // Declared total size in bytes
	MIMEType  string `json:"mime_type"`  // Declared MIME type
	ChunkSize int64  `json:"chunk_size"` // Fixed chunk size; last chunk may be shorter

	Status         UploadStatus `json:"status"`
	ChunksUploaded []int        `json:"chunks_uploaded"` // Sorted set of received chunk indices

	FinalBlobKey string `json:"final_blob_key,omitempty"` // Set by finalize
	SHA256       string `json:"sha256,omitempty"`         // Hex digest computed during finalize

	ExpiresAt time.Time `json:"expires_at"` // Idle expiry; sweeper reclaims chunk blobs
	Timestamps
}

// NewUploadSession creates an active session with no chunks received.
func NewUploadSession(id, ownerID, filename, mimeType string, totalSize, chunkSize int64, ttl time.Duration) *UploadSession {
	now := time.Now().UTC()
	return &UploadSession{
		ID:             id,
		OwnerID:        ownerID,
		Filename:       filename,
		TotalSize:      totalSize,
		MIMEType:       mimeType,
		ChunkSize:      chunkSize,
		Status:         UploadStatusActive,
		ChunksUploaded: []int{},
		ExpiresAt:      now.Add(ttl),
		Timestamps:     Timestamps{CreatedAt: now, UpdatedAt: now},
	}
}

// TotalChunks returns the number of chunks the declared size requires.
func (s *UploadSession) TotalChunks() int {
	if s.ChunkSize <= 0 {
		return 0
	}
	return int((s.TotalSize + s.ChunkSize - 1) / s.ChunkSize)
}

// ExpectedChunkSize returns the byte size chunk idx must have. The last
// chunk carries the remainder when the total is not evenly divisible.
func (s *UploadSession) ExpectedChunkSize(idx int) int64 {
	total := s.TotalChunks()
	if idx < 0 || idx >= total {
		return 0
	}
	if idx == total-1 {
		if rem := s.TotalSize % s.ChunkSize; rem != 0 {
			return rem
		}
	}
	return s.ChunkSize
}

// HasChunk reports whether chunk idx has been received.
func (s *UploadSession) HasChunk(idx int) bool {
	i := sort.SearchInts(s.ChunksUploaded, idx)
	return i < len(s.ChunksUploaded) && s.ChunksUploaded[i] == idx
}

// AddChunk records chunk idx as received. Duplicate adds are no-ops so
// chunk puts stay idempotent.
func (s *UploadSession) AddChunk(idx int) {
	if s.HasChunk(idx) {
		return
	}
	s.ChunksUploaded = append(s.ChunksUploaded, idx)
	sort.Ints(s.ChunksUploaded)
	s.Touch()
}

// MissingChunks returns the indices not yet received, in ascending order.
func (s *UploadSession) MissingChunks() []int {
	missing := []int{}
	for idx := 0; idx < s.TotalChunks(); idx++ {
		if !s.HasChunk(idx) {
			missing = append(missing, idx)
		}
	}
	return missing
}

// AllChunksPresent reports whether every chunk index has been received.
func (s *UploadSession) AllChunksPresent() bool {
	return len(s.ChunksUploaded) == s.TotalChunks()
}

// BytesUploaded returns the byte count implied by the received chunks.
func (s *UploadSession) BytesUploaded() int64 {
	var total int64
	for _, idx := range s.ChunksUploaded {
		total += s.ExpectedChunkSize(idx)
	}
	return total
}

// ChunkBlobKey returns the object-storage key for chunk idx.
func (s *UploadSession) ChunkBlobKey(idx int) string {
	return fmt.Sprintf("sessions/%s/chunks/%04d", s.ID, idx)
}

// ChunkRecord is the per-chunk metadata a live streaming session keeps in
// the chunk store. Audio bytes live in object storage under BlobRef.
type ChunkRecord struct {
	Idx        int       `json:"idx"`                   // Chunk sequence number within the session
	BlobRef    string    `json:"blob_ref"`              // Object-storage key of the audio bytes
	Size       int64     `json:"size"`                  // Chunk size in bytes
	SampleRate int       `json:"sample_rate,omitempty"` // Samples per second, when declared
	Codec      string    `json:"codec,omitempty"`       // Audio codec hint, when declared
	ChunkMs    int64     `json:"chunk_ms"`              // Nominal chunk duration
	OverlapMs  int64     `json:"overlap_ms"`            // Overlap with the neighboring chunk
	UploadedAt time.Time `json:"uploaded_at"`           // Receipt time, UTC
	OwnerID    string    `json:"owner_id"`              // User that owns the session
}
