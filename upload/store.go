// Package upload implements resumable chunked media ingest: session
// records, idempotent chunk puts, and the streaming finalize that
// assembles chunks into a single source blob and hands it to the batch
// pipeline.
package upload

import (
	"context"

	"github.com/AuralStack/ScribeFlow/types"
)

// SessionStore persists upload session records. Chunk receipt is a
// separate write path from the session metadata so concurrent chunk
// puts on one session never lose indices to a read-modify-write race.
type SessionStore interface {
	// Put writes the session record, replacing any previous version.
	Put(ctx context.Context, session *types.UploadSession) error

	// Get returns the session, with its received chunk set populated.
	// Missing sessions surface as fault.KindNotFound.
	Get(ctx context.Context, id string) (*types.UploadSession, error)

	// MarkChunk records chunk idx as received. Duplicate marks are
	// no-ops.
	MarkChunk(ctx context.Context, id string, idx int) error

	// Delete removes the session record.
	Delete(ctx context.Context, id string) error
}
