package live

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AuralStack/ScribeFlow/events"
	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/ratelimit"
	"github.com/AuralStack/ScribeFlow/storage"
	"github.com/AuralStack/ScribeFlow/storage/local"
	"github.com/AuralStack/ScribeFlow/stt"
	"github.com/AuralStack/ScribeFlow/transcript"
	"github.com/AuralStack/ScribeFlow/types"
)

type fakeArtifacts struct {
	calls atomic.Int32
}

func (f *fakeArtifacts) GenerateSession(_ context.Context, sessionID string, _ transcript.Words) (map[types.ArtifactKind]string, error) {
	f.calls.Add(1)
	keys := make(map[types.ArtifactKind]string)
	for _, kind := range types.ArtifactKinds() {
		keys[kind] = storage.LiveArtifactKey(sessionID, string(kind))
	}
	return keys, nil
}

type engineFixture struct {
	engine    *Engine
	store     *MemoryStateStore
	blobs     storage.ObjectStore
	mock      *stt.MockService
	bus       *events.EventBus
	artifacts *fakeArtifacts
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Params = transcript.Params{ChunkMs: 1000, OverlapMs: 250, CommitWindowMs: 500}
	cfg.FinalizeWait = 2 * time.Second
	return cfg
}

func newEngineFixture(t *testing.T, cfg Config, opts ...EngineOption) *engineFixture {
	t.Helper()
	blobs, err := local.New(t.TempDir())
	require.NoError(t, err)

	f := &engineFixture{
		store:     NewMemoryStateStore(),
		blobs:     blobs,
		mock:      stt.NewMock(),
		bus:       events.NewEventBus(),
		artifacts: &fakeArtifacts{},
	}
	base := []EngineOption{WithConfig(cfg), WithBus(f.bus), WithArtifacts(f.artifacts)}
	f.engine = NewEngine(f.store, f.blobs, f.mock, append(base, opts...)...)
	t.Cleanup(f.engine.Shutdown)
	return f
}

func w(text string, startMs, endMs int64, conf float64) transcript.Word {
	return transcript.Word{Text: text, StartMs: startMs, EndMs: endMs, Confidence: conf}
}

func chunkAudio() []byte { return make([]byte, 3200) }

func TestEngine_FirstChunkProducesPartialOnly(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	ctx := context.Background()
	f.mock.ReturnResult(transcript.Words{
		w("hello", 0, 300, 0.9),
		w("world", 400, 700, 0.9),
	}, 0.9)

	require.NoError(t, f.engine.AcceptChunk(ctx, "user-1", "sess-1", 0, chunkAudio(), 16000, "pcm"))

	require.Eventually(t, func() bool {
		live, err := f.engine.Live(ctx, "user-1", "sess-1")
		return err == nil && live.TailText == "hello world"
	}, 2*time.Second, 10*time.Millisecond)

	live, err := f.engine.Live(ctx, "user-1", "sess-1")
	require.NoError(t, err)
	assert.Empty(t, live.CommittedText)
	assert.Zero(t, live.LastCommittedMs)
	assert.Len(t, live.TailWords, 2)
}

func TestEngine_SecondChunkCommitsStableWords(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	ctx := context.Background()
	f.mock.
		ReturnResult(transcript.Words{
			w("hello", 0, 300, 0.9),
			w("world", 400, 700, 0.9),
		}, 0.9).
		// Chunk 1 audio starts at 750 ms absolute; times are relative.
		ReturnResult(transcript.Words{
			w("again", 350, 600, 0.9),
		}, 0.9)

	require.NoError(t, f.engine.AcceptChunk(ctx, "user-1", "sess-1", 0, chunkAudio(), 16000, "pcm"))
	require.NoError(t, f.engine.AcceptChunk(ctx, "user-1", "sess-1", 1, chunkAudio(), 16000, "pcm"))

	// Chunk 1 boundary: 1000 + 1*1000 - 500 = 1500 ms. All three words
	// end at or before it.
	require.Eventually(t, func() bool {
		live, err := f.engine.Live(ctx, "user-1", "sess-1")
		return err == nil && live.CommittedText == "hello world again"
	}, 2*time.Second, 10*time.Millisecond)

	live, err := f.engine.Live(ctx, "user-1", "sess-1")
	require.NoError(t, err)
	assert.Empty(t, live.TailText)
	assert.Equal(t, int64(1350), live.LastCommittedMs)
}

func TestEngine_DuplicateChunkIndexIsIdempotent(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	ctx := context.Background()
	f.mock.
		ReturnResult(transcript.Words{w("first", 0, 300, 0.9)}, 0.9).
		ReturnResult(transcript.Words{w("replay", 0, 300, 0.99)}, 0.99)

	require.NoError(t, f.engine.AcceptChunk(ctx, "user-1", "sess-1", 0, chunkAudio(), 16000, "pcm"))
	require.NoError(t, f.engine.AcceptChunk(ctx, "user-1", "sess-1", 0, chunkAudio(), 16000, "pcm"))

	require.Eventually(t, func() bool { return f.mock.Calls() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		live, err := f.engine.Live(ctx, "user-1", "sess-1")
		return err == nil && live.TailText == "first"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_FinalizeCollapsesTailAndCachesResult(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	ctx := context.Background()
	f.mock.ReturnResult(transcript.Words{
		w("hello", 0, 300, 0.9),
		w("world", 400, 700, 0.9),
	}, 0.9)

	require.NoError(t, f.engine.AcceptChunk(ctx, "user-1", "sess-1", 0, chunkAudio(), 16000, "pcm"))

	final, err := f.engine.Finalize(ctx, "user-1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "hello world", final.Text)
	assert.Equal(t, 2, final.WordCount)
	assert.Equal(t, int64(700), final.DurationMs)
	assert.Len(t, final.ArtifactKeys, 4)
	assert.Equal(t, "sessions/sess-1/artifacts/transcript.srt", final.ArtifactKeys[types.ArtifactSRT])

	// Finalizing twice returns the cached result without regenerating.
	again, err := f.engine.Finalize(ctx, "user-1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, final.FinalizedAt, again.FinalizedAt)
	assert.Equal(t, int32(1), f.artifacts.calls.Load())

	// The sealed session refuses new chunks but keeps chunk metadata.
	err = f.engine.AcceptChunk(ctx, "user-1", "sess-1", 1, chunkAudio(), 16000, "pcm")
	assert.Equal(t, "session_finalized", fault.CodeOf(err))

	records, err := f.store.ChunkRecords(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, records, 1)

	// Ephemeral merge state is gone.
	_, err = f.store.LoadState(ctx, "sess-1")
	assert.True(t, fault.IsKind(err, fault.KindNotFound))
}

func TestEngine_Ownership(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	ctx := context.Background()
	f.mock.ReturnResult(transcript.Words{w("hi", 0, 200, 0.9)}, 0.9)

	require.NoError(t, f.engine.AcceptChunk(ctx, "user-1", "sess-1", 0, chunkAudio(), 16000, "pcm"))

	err := f.engine.AcceptChunk(ctx, "user-2", "sess-1", 1, chunkAudio(), 16000, "pcm")
	assert.True(t, fault.IsKind(err, fault.KindForbidden))

	_, err = f.engine.Live(ctx, "user-2", "sess-1")
	assert.True(t, fault.IsKind(err, fault.KindForbidden))

	_, err = f.engine.Finalize(ctx, "user-2", "sess-1")
	assert.True(t, fault.IsKind(err, fault.KindForbidden))

	_, err = f.engine.Live(ctx, "user-1", "unknown")
	assert.True(t, fault.IsKind(err, fault.KindNotFound))
}

func TestEngine_ProviderFailureLeavesChunkUnmerged(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	ctx := context.Background()
	f.mock.
		ReturnError(fault.ProviderUnavailable("stt_down", "stt down", nil)).
		ReturnResult(transcript.Words{w("retry", 0, 300, 0.9)}, 0.9)

	require.NoError(t, f.engine.AcceptChunk(ctx, "user-1", "sess-1", 0, chunkAudio(), 16000, "pcm"))
	require.Eventually(t, func() bool { return f.mock.Calls() == 1 }, 2*time.Second, 10*time.Millisecond)

	// The failed index was never merged, so the client can resend it.
	require.NoError(t, f.engine.AcceptChunk(ctx, "user-1", "sess-1", 0, chunkAudio(), 16000, "pcm"))
	require.Eventually(t, func() bool {
		live, err := f.engine.Live(ctx, "user-1", "sess-1")
		return err == nil && live.TailText == "retry"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_IdleTimeoutFinalizesWithPresentWords(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTTL = 150 * time.Millisecond
	f := newEngineFixture(t, cfg)
	ctx := context.Background()
	f.mock.ReturnResult(transcript.Words{w("lonely", 0, 300, 0.9)}, 0.9)

	require.NoError(t, f.engine.AcceptChunk(ctx, "user-1", "sess-1", 0, chunkAudio(), 16000, "pcm"))

	require.Eventually(t, func() bool {
		final, err := f.store.LoadFinal(ctx, "sess-1")
		return err == nil && final.Text == "lonely"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestEngine_CommitEventsReachTheBus(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	ctx := context.Background()

	type seen struct {
		commits atomic.Int32
	}
	var got seen
	f.bus.Subscribe(events.EventTranscriptCommit, func(ev *events.Event) {
		data, ok := ev.Data.(events.TranscriptCommitData)
		if ok && ev.SessionID == "sess-1" && data.Text != "" {
			got.commits.Add(1)
		}
	})

	f.mock.
		ReturnResult(transcript.Words{w("hello", 0, 300, 0.9)}, 0.9).
		ReturnResult(transcript.Words{w("there", 350, 600, 0.9)}, 0.9)

	require.NoError(t, f.engine.AcceptChunk(ctx, "user-1", "sess-1", 0, chunkAudio(), 16000, "pcm"))
	require.NoError(t, f.engine.AcceptChunk(ctx, "user-1", "sess-1", 1, chunkAudio(), 16000, "pcm"))

	require.Eventually(t, func() bool { return got.commits.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_AcceptChunkDeniedWhenMinutesExhausted(t *testing.T) {
	ctx := context.Background()
	quota := ratelimit.NewQuotaManager(ratelimit.NewMemoryUsageStore())
	require.NoError(t, quota.RecordTranscription(ctx, "user-1", 60))

	f := newEngineFixture(t, testConfig(), WithQuota(quota, ratelimit.FreeTier))

	err := f.engine.AcceptChunk(ctx, "user-1", "sess-quota", 0, chunkAudio(), 16000, "pcm")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindRateLimited))

	var qe *ratelimit.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Contains(t, qe.Violations, types.ViolationDailyMinutes)

	// Nothing was persisted for the rejected chunk.
	exists, eerr := f.blobs.Exists(ctx, storage.LiveChunkKey("sess-quota", 0))
	require.NoError(t, eerr)
	assert.False(t, exists)
}

func TestEngine_ProcessedChunksRecordMinutes(t *testing.T) {
	ctx := context.Background()
	quota := ratelimit.NewQuotaManager(ratelimit.NewMemoryUsageStore())

	f := newEngineFixture(t, testConfig(), WithQuota(quota, ratelimit.FreeTier))
	f.mock.ReturnResult(transcript.Words{w("hello", 0, 300, 0.9)}, 0.9)

	require.NoError(t, f.engine.AcceptChunk(ctx, "user-1", "sess-1", 0, chunkAudio(), 16000, "pcm"))

	require.Eventually(t, func() bool {
		u, err := quota.Usage(ctx, "user-1")
		return err == nil && u.MinutesUsedToday > 0
	}, 2*time.Second, 10*time.Millisecond)
}
