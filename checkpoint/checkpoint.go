// Package checkpoint persists per-stage pipeline state so a retried
// job resumes at the earliest stage without a valid checkpoint instead
// of starting over. State is opaque JSON owned by each stage; the
// store only guarantees durable atomic replace per (job, stage).
package checkpoint

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/AuralStack/ScribeFlow/logger"
	"github.com/AuralStack/ScribeFlow/types"
)

// Store persists stage checkpoints keyed by (job, stage). Save must be
// durable before the stage is marked complete; Load returns the last
// successful write. Missing checkpoints surface as fault.KindNotFound.
type Store interface {
	// Save serializes state and replaces the checkpoint for the stage.
	Save(ctx context.Context, jobID string, stage types.Stage, state any) error

	// Load unmarshals the stage's checkpoint into out.
	Load(ctx context.Context, jobID string, stage types.Stage, out any) error

	// Exists reports whether the stage has a checkpoint.
	Exists(ctx context.Context, jobID string, stage types.Stage) (bool, error)

	// DeleteStage removes one stage's checkpoint. Used when a retry
	// overrides the resume point to an earlier stage.
	DeleteStage(ctx context.Context, jobID string, stage types.Stage) error

	// Delete removes every checkpoint of the job.
	Delete(ctx context.Context, jobID string) error
}

// describeState reports the top-level keys of a serialized checkpoint
// and, when the state carries a transcripts collection, its length.
func describeState(data []byte) (keys []string, transcripts int) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, 0
	}
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if raw, ok := fields["transcripts"]; ok {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err == nil {
			transcripts = len(items)
		}
	}
	return keys, transcripts
}

func logSaving(ctx context.Context, jobID string, stage types.Stage, data []byte) {
	keys, transcripts := describeState(data)
	logger.DebugContext(ctx, "saving checkpoint with "+strconv.Itoa(transcripts)+" transcripts",
		"job_id", jobID, "stage", string(stage), "keys", keys, "bytes", len(data))
}

func logVerified(ctx context.Context, jobID string, stage types.Stage) {
	logger.DebugContext(ctx, "checkpoint verified",
		"job_id", jobID, "stage", string(stage))
}

func logFound(ctx context.Context, jobID string, stage types.Stage, data []byte) {
	keys, _ := describeState(data)
	logger.DebugContext(ctx, "found checkpoint with keys",
		"job_id", jobID, "stage", string(stage), "keys", keys)
}
