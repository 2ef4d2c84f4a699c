package storage

import (
	"fmt"
	"strings"
	"time"
)

// Key builders for the hierarchical storage layout. Every component
// that writes blobs goes through these so the layout stays in one
// place.

// JobSourceKey is the assembled source media of a batch job.
func JobSourceKey(jobID, filename string) string {
	return fmt.Sprintf("jobs/%s/source/%s", jobID, SanitizeFilename(filename))
}

// JobNormalizedKey is the transcoded 16 kHz mono audio of a batch job.
func JobNormalizedKey(jobID string) string {
	return fmt.Sprintf("jobs/%s/normalized.wav", jobID)
}

// JobSegmentKey is one audio segment produced by the segmenting stage.
func JobSegmentKey(jobID string, idx int) string {
	return fmt.Sprintf("jobs/%s/segments/%04d.wav", jobID, idx)
}

// JobArtifactKey is one generated output artifact.
func JobArtifactKey(jobID, kind string) string {
	return fmt.Sprintf("jobs/%s/artifacts/transcript.%s", jobID, kind)
}

// JobPrefix is the prefix under which everything a job owns lives.
func JobPrefix(jobID string) string {
	return fmt.Sprintf("jobs/%s/", jobID)
}

// UploadChunkKey is one chunk of a resumable upload session.
func UploadChunkKey(uploadID string, idx int) string {
	return fmt.Sprintf("sessions/%s/chunks/%04d", uploadID, idx)
}

// UploadPrefix is the prefix under which an upload session's chunks live.
func UploadPrefix(uploadID string) string {
	return fmt.Sprintf("sessions/%s/", uploadID)
}

// LiveChunkKey is one streamed audio chunk of a live session.
func LiveChunkKey(sessionID string, idx int) string {
	return fmt.Sprintf("sessions/%s/chunks/%04d.wav", sessionID, idx)
}

// LiveArtifactKey is one artifact generated at live-session finalize.
func LiveArtifactKey(sessionID, kind string) string {
	return fmt.Sprintf("sessions/%s/artifacts/transcript.%s", sessionID, kind)
}

// UserDatedKey places a blob under the owner's date-partitioned tree.
func UserDatedKey(userID string, t time.Time, filename string) string {
	return fmt.Sprintf("users/%s/%04d/%02d/%02d/%s",
		userID, t.Year(), int(t.Month()), t.Day(), SanitizeFilename(filename))
}

// TempKey places a blob in the temp area swept by the retention loop.
func TempKey(name string) string {
	return fmt.Sprintf("temp/%s", SanitizeFilename(name))
}

// TempPrefix is the prefix of the temp area.
const TempPrefix = "temp/"

// SessionsPrefix is the prefix of the per-session tree holding chunk
// and artifact blobs.
const SessionsPrefix = "sessions/"

// SanitizeFilename strips path separators and control characters from
// a caller-supplied filename so it is safe inside a storage key.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "unnamed"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == 0:
			b.WriteRune('_')
		case r < 0x20:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	// Keys built from filenames must not climb the hierarchy.
	out = strings.ReplaceAll(out, "..", "_")
	if out == "" {
		return "unnamed"
	}
	return out
}
