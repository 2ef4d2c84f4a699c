package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/types"
)

// MemoryStore is an in-process Store for tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[types.Stage][]byte
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[types.Stage][]byte)}
}

// Save replaces the stage checkpoint.
func (s *MemoryStore) Save(ctx context.Context, jobID string, stage types.Stage, state any) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	logSaving(ctx, jobID, stage, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[jobID] == nil {
		s.data[jobID] = make(map[types.Stage][]byte)
	}
	s.data[jobID][stage] = data
	logVerified(ctx, jobID, stage)
	return nil
}

// Load reads the stage checkpoint into out.
func (s *MemoryStore) Load(ctx context.Context, jobID string, stage types.Stage, out any) error {
	s.mu.RLock()
	data, ok := s.data[jobID][stage]
	s.mu.RUnlock()
	if !ok {
		return fault.NotFound("checkpoint_not_found", "no checkpoint for stage")
	}
	logFound(ctx, jobID, stage, data)
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return nil
}

// Exists reports whether the stage has a checkpoint.
func (s *MemoryStore) Exists(_ context.Context, jobID string, stage types.Stage) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[jobID][stage]
	return ok, nil
}

// DeleteStage removes one stage's checkpoint.
func (s *MemoryStore) DeleteStage(_ context.Context, jobID string, stage types.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[jobID], stage)
	return nil
}

// Delete removes every checkpoint of the job.
func (s *MemoryStore) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, jobID)
	return nil
}
