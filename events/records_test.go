package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AuralStack/ScribeFlow/fault"
)

func recordStore(t *testing.T, opts ...RecordStoreOption) (*RecordStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRecordStore(client, opts...), mr
}

func TestRecordStore_PutAndLatest(t *testing.T) {
	store, _ := recordStore(t)
	ctx := context.Background()

	data, _ := json.Marshal(map[string]any{"text": "hello world"})
	require.NoError(t, store.Put(ctx, &Record{
		Type:      EventTranscriptCommit,
		SessionID: "sess-1",
		Data:      data,
	}))

	got, err := store.Latest(ctx, "sess-1", EventTranscriptCommit)
	require.NoError(t, err)
	assert.Equal(t, EventTranscriptCommit, got.Type)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.False(t, got.Timestamp.IsZero(), "Put stamps missing timestamps")
	assert.JSONEq(t, `{"text":"hello world"}`, string(got.Data))
}

func TestRecordStore_LatestReplacesPrevious(t *testing.T) {
	store, _ := recordStore(t)
	ctx := context.Background()

	first, _ := json.Marshal(map[string]any{"chunk_idx": 1})
	second, _ := json.Marshal(map[string]any{"chunk_idx": 2})
	require.NoError(t, store.Put(ctx, &Record{Type: EventTranscriptPartial, SessionID: "s", Data: first}))
	require.NoError(t, store.Put(ctx, &Record{Type: EventTranscriptPartial, SessionID: "s", Data: second}))

	got, err := store.Latest(ctx, "s", EventTranscriptPartial)
	require.NoError(t, err)
	assert.JSONEq(t, `{"chunk_idx":2}`, string(got.Data))
}

func TestRecordStore_MissIsNotFound(t *testing.T) {
	store, _ := recordStore(t)

	_, err := store.Latest(context.Background(), "absent", EventTranscriptFinal)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindNotFound))
}

func TestRecordStore_RecordsExpire(t *testing.T) {
	store, mr := recordStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Record{Type: EventTranscriptPartial, SessionID: "s"}))
	mr.FastForward(DefaultRecordTTL + time.Second)

	_, err := store.Latest(ctx, "s", EventTranscriptPartial)
	assert.True(t, fault.IsKind(err, fault.KindNotFound))
}

func TestRecordStore_TypesAreIndependent(t *testing.T) {
	store, _ := recordStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Record{Type: EventTranscriptPartial, SessionID: "s"}))

	_, err := store.Latest(ctx, "s", EventTranscriptCommit)
	assert.True(t, fault.IsKind(err, fault.KindNotFound))
}

func TestRecordStore_PutEvent(t *testing.T) {
	store, _ := recordStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutEvent(ctx, &Event{
		Type:      EventTranscriptFinal,
		Timestamp: time.Now(),
		SessionID: "sess-9",
		Data:      TranscriptFinalData{Text: "done", WordCount: 1, DurationS: 2.5},
	}))

	got, err := store.Latest(ctx, "sess-9", EventTranscriptFinal)
	require.NoError(t, err)

	var payload TranscriptFinalData
	require.NoError(t, json.Unmarshal(got.Data, &payload))
	assert.Equal(t, "done", payload.Text)
	assert.InDelta(t, 2.5, payload.DurationS, 1e-9)
}
