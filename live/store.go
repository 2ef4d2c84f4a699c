// Package live runs streaming transcription sessions: chunk intake,
// per-session sequential dispatch to the STT provider, rolling-state
// merging, and finalization into the four artifacts.
package live

import (
	"context"
	"time"

	"github.com/AuralStack/ScribeFlow/transcript"
	"github.com/AuralStack/ScribeFlow/types"
)

// FinalResult is the cached outcome of session finalization. A second
// finalize call returns it unchanged.
type FinalResult struct {
	SessionID    string                        `json:"session_id"`
	Text         string                        `json:"text"`
	Words        transcript.Words              `json:"words"`
	WordCount    int                           `json:"word_count"`
	DurationMs   int64                         `json:"duration_ms"`
	ArtifactKeys map[types.ArtifactKind]string `json:"artifact_keys"`
	FinalizedAt  time.Time                     `json:"finalized_at"`
}

// StateStore persists per-session rolling state, chunk metadata, and
// the finalization result. Everything for one session lives under the
// meeting:{session_id}:rolling hash.
//
// Chunk records survive finalization for audit; the rolling state is
// ephemeral and released once the session is final.
type StateStore interface {
	// ClaimOwner records ownerID as the session owner if none is set
	// and returns the owner on record.
	ClaimOwner(ctx context.Context, sessionID, ownerID string) (string, error)

	// LoadState returns the rolling state. Missing state surfaces as
	// fault.KindNotFound.
	LoadState(ctx context.Context, sessionID string) (*transcript.RollingState, error)

	// SaveState replaces the rolling state.
	SaveState(ctx context.Context, sessionID string, st *transcript.RollingState) error

	// ReleaseState drops the rolling state, keeping chunk records and
	// the final result.
	ReleaseState(ctx context.Context, sessionID string) error

	// PutChunkRecord stores metadata for one received chunk.
	PutChunkRecord(ctx context.Context, sessionID string, rec *types.ChunkRecord) error

	// ChunkRecords returns the session's chunk metadata in index order.
	ChunkRecords(ctx context.Context, sessionID string) ([]*types.ChunkRecord, error)

	// SaveFinal caches the finalization result.
	SaveFinal(ctx context.Context, sessionID string, final *FinalResult) error

	// LoadFinal returns the cached finalization result, or
	// fault.KindNotFound while the session is still live.
	LoadFinal(ctx context.Context, sessionID string) (*FinalResult, error)
}
