package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/types"
)

// DefaultSessionTTL is how long an idle session record survives in
// Redis. Chunk blobs of sessions that age out are reclaimed by the
// storage retention sweeper.
const DefaultSessionTTL = 24 * time.Hour

const (
	metaField        = "meta"
	chunkFieldPrefix = "chunk:"
)

// RedisSessionStore keeps each session as a Redis hash: the metadata
// JSON under one field plus one field per received chunk, so MarkChunk
// is a single HSet and never races a concurrent metadata write.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisStoreOption configures a RedisSessionStore.
type RedisStoreOption func(*RedisSessionStore)

// WithStorePrefix sets the key prefix. Default is "scribeflow".
func WithStorePrefix(prefix string) RedisStoreOption {
	return func(s *RedisSessionStore) {
		s.prefix = prefix
	}
}

// WithSessionTTL overrides the session record TTL.
func WithSessionTTL(ttl time.Duration) RedisStoreOption {
	return func(s *RedisSessionStore) {
		s.ttl = ttl
	}
}

// NewRedisSessionStore creates a Redis-backed session store.
func NewRedisSessionStore(client *redis.Client, opts ...RedisStoreOption) *RedisSessionStore {
	s := &RedisSessionStore{
		client: client,
		prefix: "scribeflow",
		ttl:    DefaultSessionTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisSessionStore) key(id string) string {
	return fmt.Sprintf("%s:upload:session:%s", s.prefix, id)
}

// Put writes the session metadata and refreshes the record TTL. The
// chunk set is tracked in its own hash fields and is not written here.
func (s *RedisSessionStore) Put(ctx context.Context, session *types.UploadSession) error {
	meta := *session
	meta.ChunksUploaded = nil
	data, err := json.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("marshal upload session: %w", err)
	}

	key := s.key(session.ID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, metaField, data)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis hset failed: %w", err)
	}
	return nil
}

// Get loads the session and rebuilds its chunk set from the hash.
func (s *RedisSessionStore) Get(ctx context.Context, id string) (*types.UploadSession, error) {
	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}
	meta, ok := fields[metaField]
	if !ok {
		return nil, fault.NotFound("upload_not_found", "upload session not found")
	}

	var session types.UploadSession
	if err := json.Unmarshal([]byte(meta), &session); err != nil {
		return nil, fmt.Errorf("unmarshal upload session: %w", err)
	}

	chunks := []int{}
	for field := range fields {
		if !strings.HasPrefix(field, chunkFieldPrefix) {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimPrefix(field, chunkFieldPrefix))
		if err != nil {
			continue
		}
		chunks = append(chunks, idx)
	}
	sort.Ints(chunks)
	session.ChunksUploaded = chunks
	return &session, nil
}

// MarkChunk records chunk idx with a single hash field write.
func (s *RedisSessionStore) MarkChunk(ctx context.Context, id string, idx int) error {
	field := fmt.Sprintf("%s%d", chunkFieldPrefix, idx)
	if err := s.client.HSet(ctx, s.key(id), field, "1").Err(); err != nil {
		return fmt.Errorf("redis hset failed: %w", err)
	}
	return nil
}

// Delete removes the session record.
func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
