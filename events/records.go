package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AuralStack/ScribeFlow/fault"
)

// DefaultRecordTTL is how long a pollable session record stays readable.
// Consumers poll within this window; delivery is at-least-once and consumers
// deduplicate by (session_id, type, timestamp).
const DefaultRecordTTL = 5 * time.Minute

// Record is the wire shape of a pollable session event.
type Record struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// RecordStore keeps the latest partial/commit/final record per session in
// Redis so HTTP pollers can read live progress without holding a connection.
type RecordStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RecordStoreOption configures a RecordStore.
type RecordStoreOption func(*RecordStore)

// WithRecordTTL overrides the record TTL.
func WithRecordTTL(ttl time.Duration) RecordStoreOption {
	return func(s *RecordStore) {
		s.ttl = ttl
	}
}

// NewRecordStore creates a Redis-backed record store.
func NewRecordStore(client *redis.Client, opts ...RecordStoreOption) *RecordStore {
	s := &RecordStore{
		client: client,
		ttl:    DefaultRecordTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func recordKey(sessionID string, eventType EventType) string {
	return fmt.Sprintf("events:%s:%s", sessionID, eventType)
}

// Put stores a record, replacing any previous record of the same type.
func (s *RecordStore) Put(ctx context.Context, record *Record) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal event record: %w", err)
	}
	key := recordKey(record.SessionID, record.Type)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Latest returns the most recent record of the given type for a session.
func (s *RecordStore) Latest(ctx context.Context, sessionID string, eventType EventType) (*Record, error) {
	data, err := s.client.Get(ctx, recordKey(sessionID, eventType)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fault.NotFound("event_not_found",
				fmt.Sprintf("no %s event for session %s", eventType, sessionID))
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event record: %w", err)
	}
	return &record, nil
}

// Bridge subscribes the record store to a bus so transcript events become
// pollable. Only partial, commit, and final events are recorded.
func (s *RecordStore) Bridge(ctx context.Context, bus *EventBus) {
	for _, t := range []EventType{EventTranscriptPartial, EventTranscriptCommit, EventTranscriptFinal} {
		bus.Subscribe(t, func(e *Event) {
			_ = s.PutEvent(ctx, e)
		})
	}
}

// PutEvent converts a bus event into a record and stores it.
func (s *RecordStore) PutEvent(ctx context.Context, e *Event) error {
	var data json.RawMessage
	if e.Data != nil {
		encoded, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		data = encoded
	}
	return s.Put(ctx, &Record{
		Type:      e.Type,
		SessionID: e.SessionID,
		Timestamp: e.Timestamp,
		Data:      data,
	})
}
