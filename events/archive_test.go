package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := NewArchive(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestArchive_AppendAndQueryBySession(t *testing.T) {
	a := testArchive(t)
	ctx := context.Background()

	for i, typ := range []EventType{EventSessionStarted, EventTranscriptCommit, EventSessionFinalized} {
		require.NoError(t, a.Append(ctx, &Event{
			Type:      typ,
			Timestamp: time.Now().Add(time.Duration(i) * time.Second),
			SessionID: "sess-1",
			UserID:    "user-1",
		}))
	}
	require.NoError(t, a.Append(ctx, &Event{
		Type:      EventSessionStarted,
		Timestamp: time.Now(),
		SessionID: "sess-2",
	}))

	got, err := a.Query(ctx, &ArchiveFilter{SessionID: "sess-1"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, EventSessionStarted, got[0].Type)
	assert.Equal(t, EventSessionFinalized, got[2].Type)
}

func TestArchive_QueryFiltersByType(t *testing.T) {
	a := testArchive(t)
	ctx := context.Background()

	require.NoError(t, a.Append(ctx, &Event{Type: EventJobStageStarted, Timestamp: time.Now(), JobID: "job-1"}))
	require.NoError(t, a.Append(ctx, &Event{Type: EventJobStageCompleted, Timestamp: time.Now(), JobID: "job-1"}))
	require.NoError(t, a.Append(ctx, &Event{Type: EventJobCompleted, Timestamp: time.Now(), JobID: "job-1"}))

	got, err := a.Query(ctx, &ArchiveFilter{
		JobID: "job-1",
		Types: []EventType{EventJobCompleted},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, EventJobCompleted, got[0].Type)
}

func TestArchive_QueryLimit(t *testing.T) {
	a := testArchive(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, a.Append(ctx, &Event{Type: EventTranscriptPartial, Timestamp: time.Now(), SessionID: "s"}))
	}

	got, err := a.Query(ctx, &ArchiveFilter{SessionID: "s", Limit: 4})
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestArchive_QueryMissingStreamReturnsNil(t *testing.T) {
	a := testArchive(t)

	got, err := a.Query(context.Background(), &ArchiveFilter{SessionID: "never-seen"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestArchive_QueryRequiresStreamSelector(t *testing.T) {
	a := testArchive(t)

	_, err := a.Query(context.Background(), &ArchiveFilter{UserID: "user-1"})
	require.Error(t, err)
}

func TestArchive_ListenRecordsBusEvents(t *testing.T) {
	a := testArchive(t)
	ctx := context.Background()

	bus := NewEventBus()
	a.Listen(ctx, bus)

	bus.Publish(&Event{Type: EventTranscriptFinal, Timestamp: time.Now(), SessionID: "sess-x"})

	require.Eventually(t, func() bool {
		got, err := a.Query(ctx, &ArchiveFilter{SessionID: "sess-x"})
		return err == nil && len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
