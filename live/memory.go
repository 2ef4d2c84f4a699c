package live

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/transcript"
	"github.com/AuralStack/ScribeFlow/types"
)

type memorySession struct {
	owner  string
	state  []byte
	final  []byte
	chunks map[int][]byte
}

// MemoryStateStore is an in-process StateStore for tests. Values are
// kept serialized so copy semantics match the Redis backend exactly.
type MemoryStateStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
}

// NewMemoryStateStore creates an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{sessions: make(map[string]*memorySession)}
}

func (s *MemoryStateStore) session(sessionID string) *memorySession {
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &memorySession{chunks: make(map[int][]byte)}
		s.sessions[sessionID] = sess
	}
	return sess
}

// ClaimOwner sets the owner if unset and returns the owner on record.
func (s *MemoryStateStore) ClaimOwner(_ context.Context, sessionID, ownerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.session(sessionID)
	if sess.owner == "" {
		sess.owner = ownerID
	}
	return sess.owner, nil
}

// LoadState returns the rolling state.
func (s *MemoryStateStore) LoadState(_ context.Context, sessionID string) (*transcript.RollingState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.state == nil {
		return nil, fault.NotFound("state_not_found", "no state for session")
	}
	var st transcript.RollingState
	if err := json.Unmarshal(sess.state, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// SaveState replaces the rolling state.
func (s *MemoryStateStore) SaveState(_ context.Context, sessionID string, st *transcript.RollingState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session(sessionID).state = data
	return nil
}

// ReleaseState drops the rolling state.
func (s *MemoryStateStore) ReleaseState(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		sess.state = nil
	}
	return nil
}

// PutChunkRecord stores one chunk's metadata.
func (s *MemoryStateStore) PutChunkRecord(_ context.Context, sessionID string, rec *types.ChunkRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session(sessionID).chunks[rec.Idx] = data
	return nil
}

// ChunkRecords returns chunk metadata in index order.
func (s *MemoryStateStore) ChunkRecords(_ context.Context, sessionID string) ([]*types.ChunkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}

	var records []*types.ChunkRecord
	for _, data := range sess.chunks {
		var rec types.ChunkRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Idx < records[j].Idx })
	return records, nil
}

// SaveFinal caches the finalization result.
func (s *MemoryStateStore) SaveFinal(_ context.Context, sessionID string, final *FinalResult) error {
	data, err := json.Marshal(final)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session(sessionID).final = data
	return nil
}

// LoadFinal returns the cached finalization result.
func (s *MemoryStateStore) LoadFinal(_ context.Context, sessionID string) (*FinalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.final == nil {
		return nil, fault.NotFound("final_not_found", "no final for session")
	}
	var final FinalResult
	if err := json.Unmarshal(sess.final, &final); err != nil {
		return nil, err
	}
	return &final, nil
}
