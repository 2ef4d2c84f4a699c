package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AuralStack/ScribeFlow/artifacts"
	"github.com/AuralStack/ScribeFlow/audio"
	"github.com/AuralStack/ScribeFlow/checkpoint"
	"github.com/AuralStack/ScribeFlow/events"
	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/jobs"
	"github.com/AuralStack/ScribeFlow/media"
	"github.com/AuralStack/ScribeFlow/ratelimit"
	"github.com/AuralStack/ScribeFlow/storage"
	"github.com/AuralStack/ScribeFlow/storage/local"
	"github.com/AuralStack/ScribeFlow/stt"
	"github.com/AuralStack/ScribeFlow/transcript"
	"github.com/AuralStack/ScribeFlow/types"
)

// fakeMedia stands in for the ffmpeg transcoder: it treats the source
// as already normalized WAV and reports a fixed probe.
type fakeMedia struct {
	durationS   float64
	onNormalize func()
}

func (f *fakeMedia) Probe(context.Context, []byte, string) (*media.ProbeResult, error) {
	return &media.ProbeResult{
		DurationS: f.durationS,
		Container: "wav",
		Streams:   []media.StreamInfo{{Type: "audio", Codec: "pcm_s16le"}},
	}, nil
}

func (f *fakeMedia) Normalize(_ context.Context, data []byte, _ string) ([]byte, error) {
	if f.onNormalize != nil {
		f.onNormalize()
	}
	return data, nil
}

type runnerFixture struct {
	runner *Runner
	svc    *jobs.Service
	store  jobs.Store
	queue  *jobs.MemoryQueue
	cps    *checkpoint.MemoryStore
	blobs  *local.Store
	mock   *stt.MockService
	quota  *ratelimit.QuotaManager
	media  *fakeMedia
	bus    *events.EventBus
}

func newRunnerFixture(t *testing.T, cfg Config) *runnerFixture {
	t.Helper()
	blobs, err := local.New(t.TempDir())
	require.NoError(t, err)

	f := &runnerFixture{
		store: jobs.NewMemoryStore(),
		queue: jobs.NewMemoryQueue(16),
		cps:   checkpoint.NewMemoryStore(),
		blobs: blobs,
		mock:  stt.NewMock(),
		quota: ratelimit.NewQuotaManager(ratelimit.NewMemoryUsageStore()),
		media: &fakeMedia{durationS: 2},
		bus:   events.NewEventBus(),
	}
	f.svc = jobs.NewService(f.store, f.queue, f.bus)
	f.runner = NewRunner(
		f.svc, f.cps, f.blobs, f.mock, f.media, artifacts.NewWriter(f.blobs),
		ratelimit.NewMemoryLimiter(), f.quota,
		WithConfig(cfg), WithBus(f.bus),
	)
	t.Cleanup(f.bus.Clear)
	return f
}

func testRunnerConfig() Config {
	cfg := DefaultConfig()
	cfg.SegmentMaxBytes = 40000
	cfg.SegmentOverlap = 250 * time.Millisecond
	cfg.StageRetries = 0
	cfg.RequeueDelay = 10 * time.Millisecond
	return cfg
}

// seedJob stores a WAV source of pcmBytes zero samples and a created
// job pointing at it.
func (f *runnerFixture) seedJob(t *testing.T, pcmBytes int) *types.Job {
	t.Helper()
	ctx := context.Background()
	format := audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
	data := audio.EncodeWAV(make([]byte, pcmBytes), format)

	key := storage.JobSourceKey("job-1", "meeting.wav")
	_, err := f.blobs.Put(ctx, key, data)
	require.NoError(t, err)

	job := types.NewJob("job-1", "user-1", key, "meeting.wav", "audio/wav", int64(len(data)))
	require.NoError(t, f.store.Put(ctx, job))
	return job
}

func sampleSegmentWords() transcript.Words {
	return transcript.Words{
		{Text: "hello", StartMs: 0, EndMs: 400, Confidence: 0.9},
		{Text: "world", StartMs: 500, EndMs: 900, Confidence: 0.9},
	}
}

func TestRunner_CompletesJobThroughAllStages(t *testing.T) {
	f := newRunnerFixture(t, testRunnerConfig())
	f.mock.ReturnResult(sampleSegmentWords(), 0.9)
	job := f.seedJob(t, 64000) // 2s of audio, splits into two segments
	ctx := context.Background()

	require.NoError(t, f.runner.Run(ctx, job.ID))

	got, err := f.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusComplete, got.Status)
	assert.Equal(t, types.StageGeneratingOutputs, got.CurrentStage)
	assert.Equal(t, "en", got.DetectedLanguage)
	assert.InDelta(t, 2.0, got.TotalDurationS, 0.001)

	for _, stage := range types.Stages() {
		assert.Greater(t, got.StageDurations[stage], 0.0, "stage %s has no duration", stage)
		assert.Equal(t, 100.0, got.StageProgress[stage], "stage %s not at 100%%", stage)
	}

	// Two segments, two words each, no boundary collisions.
	assert.Equal(t, 4, got.WordCount)
	assert.Len(t, got.ArtifactKeys, 4)
	for kind, key := range got.ArtifactKeys {
		ok, err := f.blobs.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, "artifact %s missing", kind)
	}

	// One detect call plus one call per segment.
	assert.Equal(t, 3, f.mock.Calls())
	assert.Zero(t, EstimatedRemainingS(got))

	usage, err := f.quota.Usage(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, usage.ActiveJobs)
	assert.InDelta(t, 2.0/60, usage.MinutesUsedToday, 0.0001)
}

func TestRunner_MissingOrTerminalJobIsSkipped(t *testing.T) {
	f := newRunnerFixture(t, testRunnerConfig())
	ctx := context.Background()

	require.NoError(t, f.runner.Run(ctx, "nope"))

	job := f.seedJob(t, 32000)
	job.Status = types.JobStatusComplete
	require.NoError(t, f.store.Put(ctx, job))
	require.NoError(t, f.runner.Run(ctx, job.ID))
	assert.Zero(t, f.mock.Calls())
}

func TestRunner_PermanentFailureFailsJobAndReleasesSlot(t *testing.T) {
	f := newRunnerFixture(t, testRunnerConfig())
	job := f.seedJob(t, 32000)
	job.MIMEType = "text/plain"
	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, job))

	require.NoError(t, f.runner.Run(ctx, job.ID))

	got, err := f.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, got.Status)
	assert.Equal(t, "unsupported_media_type", got.ErrorCode)
	assert.NotEmpty(t, got.ErrorMessage)

	usage, err := f.quota.Usage(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, usage.ActiveJobs)
}

func TestRunner_TransientFailureRequeuesWithRetryBudget(t *testing.T) {
	f := newRunnerFixture(t, testRunnerConfig())
	f.mock.ReturnError(fault.ProviderUnavailable("stt_unavailable", "upstream down", nil))
	job := f.seedJob(t, 32000)
	ctx := context.Background()

	require.NoError(t, f.runner.Run(ctx, job.ID))

	got, err := f.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCreated, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	id, err := f.queue.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, id)
}

func TestRunner_RetriesExhaustedFailsPermanently(t *testing.T) {
	f := newRunnerFixture(t, testRunnerConfig())
	f.mock.ReturnError(fault.ProviderUnavailable("stt_unavailable", "upstream down", nil))
	job := f.seedJob(t, 32000)
	job.MaxRetries = 0
	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, job))

	require.NoError(t, f.runner.Run(ctx, job.ID))

	got, err := f.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, got.Status)
	assert.Equal(t, "stt_unavailable", got.ErrorCode)
}

func TestRunner_OverQuotaJobStaysCreatedAndRequeues(t *testing.T) {
	f := newRunnerFixture(t, testRunnerConfig())
	job := f.seedJob(t, 32000)
	ctx := context.Background()

	// Occupy the single free-tier slot so admission defers the job.
	ok, err := f.quota.AcquireJobSlot(ctx, "user-1", types.TierFree)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.runner.Run(ctx, job.ID))

	got, err := f.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCreated, got.Status)
	assert.Zero(t, got.RetryCount)
	assert.Zero(t, f.mock.Calls())

	id, err := f.queue.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, id)
}

func TestRunner_CancellationObservedAtStageBoundary(t *testing.T) {
	f := newRunnerFixture(t, testRunnerConfig())
	f.mock.ReturnResult(sampleSegmentWords(), 0.9)
	job := f.seedJob(t, 32000)
	ctx := context.Background()

	// Cancel mid-transcoding; the worker must notice before segmenting.
	f.media.onNormalize = func() {
		_, err := f.runner.Cancel(ctx, "user-1", job.ID)
		require.NoError(t, err)
	}

	require.NoError(t, f.runner.Run(ctx, job.ID))

	got, err := f.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, got.Status)

	ok, err := f.cps.Exists(ctx, job.ID, types.StageSegmenting)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, f.mock.Calls())
}

func TestRunner_RetryFromStageSkipsCheckpointedWork(t *testing.T) {
	f := newRunnerFixture(t, testRunnerConfig())
	f.mock.ReturnResult(sampleSegmentWords(), 0.9)
	job := f.seedJob(t, 32000) // single segment
	ctx := context.Background()

	require.NoError(t, f.runner.Run(ctx, job.ID))
	callsAfterFirst := f.mock.Calls()

	_, err := f.runner.Retry(ctx, "user-1", job.ID, types.StageMerging)
	require.NoError(t, err)

	id, err := f.queue.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, job.ID, id)
	require.NoError(t, f.runner.Run(ctx, id))

	got, err := f.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusComplete, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	// Transcribing was checkpointed, so the rerun made no provider calls.
	assert.Equal(t, callsAfterFirst, f.mock.Calls())
}

func TestRunner_DiarizationAnnotatesSpeakers(t *testing.T) {
	f := newRunnerFixture(t, testRunnerConfig())
	f.mock.ReturnResult(transcript.Words{
		{Text: "hi", StartMs: 0, EndMs: 300, Confidence: 0.9},
		{Text: "there", StartMs: 2500, EndMs: 2900, Confidence: 0.9},
	}, 0.9)
	job := f.seedJob(t, 32000)
	job.EnableDiarization = true
	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, job))

	require.NoError(t, f.runner.Run(ctx, job.ID))

	var d diarizeState
	require.NoError(t, f.cps.Load(ctx, job.ID, types.StageDiarizing, &d))
	require.Len(t, d.WordsWithSpeaker, 2)
	assert.NotEmpty(t, d.WordsWithSpeaker[0].Speaker)
	assert.NotEqual(t, d.WordsWithSpeaker[0].Speaker, d.WordsWithSpeaker[1].Speaker)
}

func TestEstimatedRemainingS(t *testing.T) {
	job := types.NewJob("job-1", "user-1", "k", "a.wav", "audio/wav", 10)
	job.TotalDurationS = 100

	assert.InDelta(t, 350.0, EstimatedRemainingS(job), 0.001)

	for _, stage := range types.Stages()[:4] {
		job.StageDurations[stage] = 1
	}
	assert.InDelta(t, 175.0, EstimatedRemainingS(job), 0.001)

	job.Status = types.JobStatusComplete
	assert.Zero(t, EstimatedRemainingS(job))
}
