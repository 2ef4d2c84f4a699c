package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/transcript"
	"github.com/AuralStack/ScribeFlow/types"
)

// DefaultKeyTTL is the Redis TTL on a session's rolling hash. Every
// write refreshes it; an abandoned session's data ages out on its own.
const DefaultKeyTTL = 86400 * time.Second

const (
	ownerField       = "owner"
	stateField       = "state"
	finalField       = "final"
	chunkFieldPrefix = "chunk:"
)

// RedisStateStore keeps each session in one hash at
// meeting:{session_id}:rolling. The key shape is part of the persisted
// layout and is not prefixed.
type RedisStateStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisStateOption configures a RedisStateStore.
type RedisStateOption func(*RedisStateStore)

// WithKeyTTL overrides the per-key TTL.
func WithKeyTTL(ttl time.Duration) RedisStateOption {
	return func(s *RedisStateStore) {
		s.ttl = ttl
	}
}

// NewRedisStateStore creates a Redis-backed session state store.
func NewRedisStateStore(client *redis.Client, opts ...RedisStateOption) *RedisStateStore {
	s := &RedisStateStore{client: client, ttl: DefaultKeyTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("meeting:%s:rolling", sessionID)
}

func (s *RedisStateStore) setField(ctx context.Context, sessionID, field string, value []byte) error {
	key := sessionKey(sessionID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, field, value)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis hset failed: %w", err)
	}
	return nil
}

func (s *RedisStateStore) getField(ctx context.Context, sessionID, field, missCode string) ([]byte, error) {
	data, err := s.client.HGet(ctx, sessionKey(sessionID), field).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fault.NotFound(missCode, "no "+field+" for session")
		}
		return nil, fmt.Errorf("redis hget failed: %w", err)
	}
	return data, nil
}

// ClaimOwner sets the owner if unset and returns the owner on record.
func (s *RedisStateStore) ClaimOwner(ctx context.Context, sessionID, ownerID string) (string, error) {
	key := sessionKey(sessionID)
	if _, err := s.client.HSetNX(ctx, key, ownerField, ownerID).Result(); err != nil {
		return "", fmt.Errorf("redis hsetnx failed: %w", err)
	}
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("redis expire failed: %w", err)
	}
	owner, err := s.client.HGet(ctx, key, ownerField).Result()
	if err != nil {
		return "", fmt.Errorf("redis hget failed: %w", err)
	}
	return owner, nil
}

// LoadState returns the rolling state.
func (s *RedisStateStore) LoadState(ctx context.Context, sessionID string) (*transcript.RollingState, error) {
	data, err := s.getField(ctx, sessionID, stateField, "state_not_found")
	if err != nil {
		return nil, err
	}
	var st transcript.RollingState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal rolling state: %w", err)
	}
	return &st, nil
}

// SaveState replaces the rolling state.
func (s *RedisStateStore) SaveState(ctx context.Context, sessionID string, st *transcript.RollingState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal rolling state: %w", err)
	}
	return s.setField(ctx, sessionID, stateField, data)
}

// ReleaseState drops the rolling state field.
func (s *RedisStateStore) ReleaseState(ctx context.Context, sessionID string) error {
	if err := s.client.HDel(ctx, sessionKey(sessionID), stateField).Err(); err != nil {
		return fmt.Errorf("redis hdel failed: %w", err)
	}
	return nil
}

// PutChunkRecord stores one chunk's metadata.
func (s *RedisStateStore) PutChunkRecord(ctx context.Context, sessionID string, rec *types.ChunkRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal chunk record: %w", err)
	}
	return s.setField(ctx, sessionID, fmt.Sprintf("%s%04d", chunkFieldPrefix, rec.Idx), data)
}

// ChunkRecords returns chunk metadata in index order.
func (s *RedisStateStore) ChunkRecords(ctx context.Context, sessionID string) ([]*types.ChunkRecord, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}

	var records []*types.ChunkRecord
	for field, value := range fields {
		if !strings.HasPrefix(field, chunkFieldPrefix) {
			continue
		}
		if _, err := strconv.Atoi(strings.TrimPrefix(field, chunkFieldPrefix)); err != nil {
			continue
		}
		var rec types.ChunkRecord
		if err := json.Unmarshal([]byte(value), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal chunk record: %w", err)
		}
		records = append(records, &rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Idx < records[j].Idx })
	return records, nil
}

// SaveFinal caches the finalization result.
func (s *RedisStateStore) SaveFinal(ctx context.Context, sessionID string, final *FinalResult) error {
	data, err := json.Marshal(final)
	if err != nil {
		return fmt.Errorf("marshal final result: %w", err)
	}
	return s.setField(ctx, sessionID, finalField, data)
}

// LoadFinal returns the cached finalization result.
func (s *RedisStateStore) LoadFinal(ctx context.Context, sessionID string) (*FinalResult, error) {
	data, err := s.getField(ctx, sessionID, finalField, "final_not_found")
	if err != nil {
		return nil, err
	}
	var final FinalResult
	if err := json.Unmarshal(data, &final); err != nil {
		return nil, fmt.Errorf("unmarshal final result: %w", err)
	}
	return &final, nil
}
