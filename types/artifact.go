package types

import "time"

// ArtifactKind identifies one of the four output formats derived from a
// final word list.
type ArtifactKind string

// Artifact kinds.
const (
	ArtifactTXT  ArtifactKind = "txt"
	ArtifactJSON ArtifactKind = "json"
	ArtifactSRT  ArtifactKind = "srt"
	ArtifactVTT  ArtifactKind = "vtt"
)

// ArtifactKinds returns all artifact kinds in canonical order.
func ArtifactKinds() []ArtifactKind {
	return []ArtifactKind{ArtifactTXT, ArtifactJSON, ArtifactSRT, ArtifactVTT}
}

// ValidArtifactKind reports whether k names a known artifact format.
func ValidArtifactKind(k ArtifactKind) bool {
	switch k {
	case ArtifactTXT, ArtifactJSON, ArtifactSRT, ArtifactVTT:
		return true
	}
	return false
}

// ContentType returns the MIME type served for this artifact kind.
func (k ArtifactKind) ContentType() string {
	switch k {
	case ArtifactJSON:
		return "application/json"
	case ArtifactSRT:
		return "application/x-subrip"
	case ArtifactVTT:
		return "text/vtt"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Artifact describes one persisted output file.
type Artifact struct {
	JobID       string       `json:"job_id"`
	Kind        ArtifactKind `json:"kind"`
	BlobKey     string       `json:"blob_key"`
	Size        int64        `json:"size"`
	SHA256      string       `json:"sha256"`
	ContentType string       `json:"content_type"`
	CreatedAt   time.Time    `json:"created_at"`
}
