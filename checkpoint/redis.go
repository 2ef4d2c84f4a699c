package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/types"
)

// RedisStore keeps a job's checkpoints in one hash at
// job:{id}:checkpoints, one field per stage. The key shape is part of
// the persisted layout and is not prefixed.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed checkpoint store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func checkpointKey(jobID string) string {
	return fmt.Sprintf("job:%s:checkpoints", jobID)
}

// Save writes the stage checkpoint and reads it back to confirm the
// write landed before the stage is allowed to complete.
func (s *RedisStore) Save(ctx context.Context, jobID string, stage types.Stage, state any) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	logSaving(ctx, jobID, stage, data)

	key := checkpointKey(jobID)
	if err := s.client.HSet(ctx, key, string(stage), data).Err(); err != nil {
		return fmt.Errorf("redis hset failed: %w", err)
	}

	stored, err := s.client.HGet(ctx, key, string(stage)).Bytes()
	if err != nil {
		return fmt.Errorf("redis hget failed: %w", err)
	}
	if !bytes.Equal(stored, data) {
		return fault.Internal("checkpoint readback mismatch", nil)
	}
	logVerified(ctx, jobID, stage)
	return nil
}

// Load reads the stage checkpoint into out.
func (s *RedisStore) Load(ctx context.Context, jobID string, stage types.Stage, out any) error {
	data, err := s.client.HGet(ctx, checkpointKey(jobID), string(stage)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fault.NotFound("checkpoint_not_found", "no checkpoint for stage")
		}
		return fmt.Errorf("redis hget failed: %w", err)
	}
	logFound(ctx, jobID, stage, data)
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return nil
}

// Exists reports whether the stage has a checkpoint.
func (s *RedisStore) Exists(ctx context.Context, jobID string, stage types.Stage) (bool, error) {
	ok, err := s.client.HExists(ctx, checkpointKey(jobID), string(stage)).Result()
	if err != nil {
		return false, fmt.Errorf("redis hexists failed: %w", err)
	}
	return ok, nil
}

// DeleteStage removes one stage's checkpoint field.
func (s *RedisStore) DeleteStage(ctx context.Context, jobID string, stage types.Stage) error {
	if err := s.client.HDel(ctx, checkpointKey(jobID), string(stage)).Err(); err != nil {
		return fmt.Errorf("redis hdel failed: %w", err)
	}
	return nil
}

// Delete removes the job's checkpoint hash.
func (s *RedisStore) Delete(ctx context.Context, jobID string) error {
	if err := s.client.Del(ctx, checkpointKey(jobID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
