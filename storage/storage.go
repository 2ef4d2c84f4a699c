// Package storage defines the object-storage abstraction behind which
// the local-filesystem and S3 backends sit. Keys are hierarchical
// strings; the backend is selected at startup by configuration and the
// rest of the system never knows which one it is talking to.
package storage

import (
	"context"
	"io"
	"mime"
	"path/filepath"
	"time"
)

// DefaultContentType is used when no type can be derived from the key.
const DefaultContentType = "application/octet-stream"

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	ModifiedAt  time.Time `json:"modified_at"`
}

// ObjectStore is the blob storage contract. Put is atomic from the
// reader's perspective: a concurrent Get either sees the whole object
// or NotFound, never a partial write.
//
// Missing keys surface as fault.KindNotFound; a backend that cannot be
// reached surfaces fault.KindUnavailable. Delete is best-effort and
// never reports an error for an absent key.
type ObjectStore interface {
	// Put stores data under key and returns the key.
	Put(ctx context.Context, key string, data []byte) (string, error)

	// PutReader streams data from r into the object under key. Used by
	// upload assembly so memory stays O(chunk size).
	PutReader(ctx context.Context, key string, r io.Reader) (string, error)

	// Get returns the object's bytes.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetReader returns a streaming reader over the object. The caller
	// must close it.
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)

	// GetURL returns a location a client can fetch the object from: an
	// absolute path for the local backend, a time-limited presigned URL
	// for S3.
	GetURL(ctx context.Context, key string, expiry time.Duration) (string, error)

	// Delete removes the object. Returns true when an object was
	// deleted, false when the key was already absent.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists reports whether the key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Stat returns object metadata.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
}

// ContentTypeForKey derives a Content-Type from the key's extension.
func ContentTypeForKey(key string) string {
	ext := filepath.Ext(key)
	if ext == "" {
		return DefaultContentType
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	// Extensions the platform mime table commonly lacks.
	switch ext {
	case ".srt":
		return "application/x-subrip"
	case ".vtt":
		return "text/vtt"
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".webm":
		return "audio/webm"
	case ".flac":
		return "audio/flac"
	case ".ogg", ".oga":
		return "audio/ogg"
	}
	return DefaultContentType
}
