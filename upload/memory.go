package upload

import (
	"context"
	"sync"

	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/types"
)

// MemorySessionStore is an in-process SessionStore for tests and
// single-node development runs.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*types.UploadSession
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*types.UploadSession),
	}
}

func copySession(s *types.UploadSession) *types.UploadSession {
	out := *s
	out.ChunksUploaded = append([]int{}, s.ChunksUploaded...)
	return &out
}

// Put stores a copy of the session.
func (s *MemorySessionStore) Put(_ context.Context, session *types.UploadSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copySession(session)
	// Chunk receipt is owned by MarkChunk; keep the set already
	// recorded for this session.
	if prev, ok := s.sessions[session.ID]; ok {
		stored.ChunksUploaded = append([]int{}, prev.ChunksUploaded...)
	}
	s.sessions[session.ID] = stored
	return nil
}

// Get returns a copy of the session.
func (s *MemorySessionStore) Get(_ context.Context, id string) (*types.UploadSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, fault.NotFound("upload_not_found", "upload session not found")
	}
	return copySession(session), nil
}

// MarkChunk records chunk idx as received.
func (s *MemorySessionStore) MarkChunk(_ context.Context, id string, idx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return fault.NotFound("upload_not_found", "upload session not found")
	}
	session.AddChunk(idx)
	return nil
}

// Delete removes the session.
func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}
