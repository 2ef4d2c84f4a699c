package artifacts

import (
	"context"
	"time"

	"github.com/AuralStack/ScribeFlow/logger"
	"github.com/AuralStack/ScribeFlow/storage"
	"github.com/AuralStack/ScribeFlow/transcript"
	"github.com/AuralStack/ScribeFlow/types"
)

// Writer renders all four artifacts and stores them.
type Writer struct {
	blobs storage.ObjectStore
	now   func() time.Time
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

func withClock(now func() time.Time) WriterOption {
	return func(w *Writer) {
		w.now = now
	}
}

// NewWriter creates an artifact writer over the object store.
func NewWriter(blobs storage.ObjectStore, opts ...WriterOption) *Writer {
	w := &Writer{blobs: blobs, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// render produces the four artifact payloads for one transcript.
func (w *Writer) render(id string, words transcript.Words) (map[types.ArtifactKind][]byte, error) {
	jsonDoc, err := RenderJSON(id, words, w.now())
	if err != nil {
		return nil, err
	}
	return map[types.ArtifactKind][]byte{
		types.ArtifactTXT:  RenderTXT(words),
		types.ArtifactJSON: jsonDoc,
		types.ArtifactSRT:  RenderSRT(words),
		types.ArtifactVTT:  RenderVTT(words),
	}, nil
}

func (w *Writer) generate(ctx context.Context, id string, words transcript.Words, keyFor func(kind string) string) (map[types.ArtifactKind]string, error) {
	payloads, err := w.render(id, words)
	if err != nil {
		return nil, err
	}

	keys := make(map[types.ArtifactKind]string, len(payloads))
	for _, kind := range types.ArtifactKinds() {
		key := keyFor(string(kind))
		if _, err := w.blobs.Put(ctx, key, payloads[kind]); err != nil {
			return nil, err
		}
		keys[kind] = key
	}
	logger.InfoContext(ctx, "artifacts generated", "id", id, "words", len(words))
	return keys, nil
}

// GenerateSession writes a live session's artifacts and returns their
// blob keys.
func (w *Writer) GenerateSession(ctx context.Context, sessionID string, words transcript.Words) (map[types.ArtifactKind]string, error) {
	return w.generate(ctx, sessionID, words, func(kind string) string {
		return storage.LiveArtifactKey(sessionID, kind)
	})
}

// GenerateJob writes a batch job's artifacts and returns their blob
// keys.
func (w *Writer) GenerateJob(ctx context.Context, jobID string, words transcript.Words) (map[types.ArtifactKind]string, error) {
	return w.generate(ctx, jobID, words, func(kind string) string {
		return storage.JobArtifactKey(jobID, kind)
	})
}
