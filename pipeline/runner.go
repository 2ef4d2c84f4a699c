package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/AuralStack/ScribeFlow/artifacts"
	"github.com/AuralStack/ScribeFlow/cache"
	"github.com/AuralStack/ScribeFlow/checkpoint"
	"github.com/AuralStack/ScribeFlow/events"
	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/jobs"
	"github.com/AuralStack/ScribeFlow/logger"
	"github.com/AuralStack/ScribeFlow/ratelimit"
	"github.com/AuralStack/ScribeFlow/storage"
	"github.com/AuralStack/ScribeFlow/stt"
	"github.com/AuralStack/ScribeFlow/types"
)

// Runner executes one job at a time: admission, the stage loop, and
// the terminal transition. It is safe for concurrent use; each Run
// call owns its job exclusively because the queue hands every ID to
// exactly one worker.
type Runner struct {
	jobs        *jobs.Service
	checkpoints checkpoint.Store
	blobs       storage.ObjectStore
	provider    stt.Service
	media       MediaProcessor
	artifacts   *artifacts.Writer
	results     cache.Cache
	limiter     ratelimit.Limiter
	quota       *ratelimit.QuotaManager
	bus         *events.EventBus
	diarizer    Diarizer
	tier        TierResolver
	cfg         Config
	now         func() time.Time
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) RunnerOption {
	return func(r *Runner) { r.cfg = cfg }
}

// WithBus attaches an event bus for job lifecycle events.
func WithBus(bus *events.EventBus) RunnerOption {
	return func(r *Runner) { r.bus = bus }
}

// WithDiarizer replaces the default pause-gap diarizer.
func WithDiarizer(d Diarizer) RunnerOption {
	return func(r *Runner) { r.diarizer = d }
}

// WithTierResolver replaces the default everyone-is-free resolver.
func WithTierResolver(tr TierResolver) RunnerOption {
	return func(r *Runner) { r.tier = tr }
}

// WithResultCache attaches a cache whose job entries are invalidated
// as the job progresses.
func WithResultCache(c cache.Cache) RunnerOption {
	return func(r *Runner) { r.results = c }
}

func withClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner wires a job runner.
func NewRunner(
	jobSvc *jobs.Service,
	checkpoints checkpoint.Store,
	blobs storage.ObjectStore,
	provider stt.Service,
	media MediaProcessor,
	writer *artifacts.Writer,
	limiter ratelimit.Limiter,
	quota *ratelimit.QuotaManager,
	opts ...RunnerOption,
) *Runner {
	r := &Runner{
		jobs:        jobSvc,
		checkpoints: checkpoints,
		blobs:       blobs,
		provider:    provider,
		media:       media,
		artifacts:   writer,
		results:     cache.NewDisabled(),
		limiter:     limiter,
		quota:       quota,
		diarizer:    NewPauseGapDiarizer(),
		tier:        ratelimit.FreeTier,
		cfg:         DefaultConfig(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes the job end to end. A nil return means the job reached
// a decision: completed, failed, cancelled, or requeued. Errors are
// infrastructure failures where the job's state in the store is what
// it was before the failing write.
func (r *Runner) Run(ctx context.Context, jobID string) error {
	job, err := r.jobs.Store().Get(ctx, jobID)
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			logger.WarnContext(ctx, "queued job no longer exists", "job_id", jobID)
			return nil
		}
		return err
	}
	if job.Status.Terminal() {
		logger.DebugContext(ctx, "skipping terminal job", "job_id", jobID, "status", string(job.Status))
		return nil
	}

	admitted, err := r.admit(ctx, job)
	if err != nil {
		return err
	}
	if !admitted {
		return r.deferJob(ctx, job)
	}
	defer r.releaseSlots(job.OwnerID)

	return r.process(ctx, job)
}

// admit takes the owner's concurrent-job slot and quota slot. Both
// must be held before any stage runs; a false return leaves neither
// held.
func (r *Runner) admit(ctx context.Context, job *types.Job) (bool, error) {
	res, err := r.limiter.AcquireResource(ctx, job.OwnerID, ratelimit.ClassConcurrentJobs)
	if err != nil {
		return false, err
	}
	if !res.Allowed {
		return false, nil
	}

	ok, err := r.quota.AcquireJobSlot(ctx, job.OwnerID, r.tier(ctx, job.OwnerID))
	if err != nil || !ok {
		if rerr := r.limiter.ReleaseResource(ctx, job.OwnerID, ratelimit.ClassConcurrentJobs); rerr != nil {
			logger.WarnContext(ctx, "failed to release concurrency slot", "user_id", job.OwnerID, "error", rerr)
		}
		return false, err
	}
	return true, nil
}

// releaseSlots balances admit on every exit path, including panics in
// the stage loop.
func (r *Runner) releaseSlots(ownerID string) {
	ctx := context.Background()
	if err := r.limiter.ReleaseResource(ctx, ownerID, ratelimit.ClassConcurrentJobs); err != nil {
		logger.Warn("failed to release concurrency slot", "user_id", ownerID, "error", err)
	}
	if err := r.quota.ReleaseJobSlot(ctx, ownerID); err != nil {
		logger.Warn("failed to release quota job slot", "user_id", ownerID, "error", err)
	}
}

// deferJob puts an over-quota job back on the queue after a pause. The
// job stays in created state the whole time.
func (r *Runner) deferJob(ctx context.Context, job *types.Job) error {
	logger.DebugContext(ctx, "job deferred, owner at concurrency limit", "job_id", job.ID, "user_id", job.OwnerID)
	select {
	case <-ctx.Done():
	case <-time.After(r.cfg.RequeueDelay):
	}
	// Requeue even on shutdown so the ID is not lost.
	return r.jobs.Requeue(context.Background(), job.ID)
}

func (r *Runner) process(ctx context.Context, job *types.Job) error {
	job.Status = types.JobStatusProcessing
	if err := r.persist(ctx, job); err != nil {
		return err
	}

	em := events.NewEmitter(r.bus, "", job.ID, job.OwnerID)
	stages := types.Stages()
	start, err := r.resumeIndex(ctx, job)
	if err != nil {
		return err
	}

	for i := start; i < len(stages); i++ {
		stage := stages[i]

		cancelled, err := r.syncStatus(ctx, job)
		if err != nil {
			return err
		}
		if cancelled {
			logger.InfoContext(ctx, "job cancelled, dropping at stage boundary", "job_id", job.ID, "stage", string(stage))
			em.JobCancelled()
			return nil
		}

		em.JobStageStarted(stage)
		logger.StageTransition(job.ID, string(job.CurrentStage), string(stage))
		job.CurrentStage = stage
		job.StageProgress[stage] = 0
		if err := r.persistGuarded(ctx, job); err != nil {
			return err
		}

		began := r.now()
		if err := r.runStage(ctx, job, stage); err != nil {
			return r.settleFailure(ctx, job, em, err)
		}
		elapsed := r.now().Sub(began)
		secs := elapsed.Seconds()
		if secs <= 0 {
			secs = 0.001
		}
		job.StageDurations[stage] = secs
		job.StageProgress[stage] = 100
		if err := r.persistGuarded(ctx, job); err != nil {
			return err
		}
		if job.Status == types.JobStatusCancelled {
			logger.InfoContext(ctx, "job cancelled, dropping at stage boundary", "job_id", job.ID, "stage", string(stage))
			em.JobCancelled()
			return nil
		}
		em.JobStageCompleted(stage, elapsed)
	}

	job.Status = types.JobStatusComplete
	if err := r.persist(ctx, job); err != nil {
		return err
	}
	em.JobCompleted(job.WordCount, job.TotalDurationS)
	if err := r.quota.RecordTranscription(ctx, job.OwnerID, job.TotalDurationS/60); err != nil {
		logger.WarnContext(ctx, "failed to record transcription minutes", "user_id", job.OwnerID, "error", err)
	}
	logger.InfoContext(ctx, "job complete", "job_id", job.ID, "words", job.WordCount, "duration_s", job.TotalDurationS)
	return nil
}

// runStage executes one stage with in-worker retries for transient
// failures.
func (r *Runner) runStage(ctx context.Context, job *types.Job, stage types.Stage) error {
	var err error
	for attempt := 0; attempt <= r.cfg.StageRetries; attempt++ {
		if attempt > 0 {
			logger.WarnContext(ctx, "retrying stage", "job_id", job.ID, "stage", string(stage), "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		err = r.execStage(ctx, job, stage)
		if err == nil || !fault.IsRetryable(err) {
			return err
		}
	}
	return err
}

func (r *Runner) execStage(ctx context.Context, job *types.Job, stage types.Stage) error {
	switch stage {
	case types.StageValidating:
		return r.stageValidating(ctx, job)
	case types.StageTranscoding:
		return r.stageTranscoding(ctx, job)
	case types.StageSegmenting:
		return r.stageSegmenting(ctx, job)
	case types.StageDetectingLanguage:
		return r.stageDetectingLanguage(ctx, job)
	case types.StageTranscribing:
		return r.stageTranscribing(ctx, job)
	case types.StageMerging:
		return r.stageMerging(ctx, job)
	case types.StageDiarizing:
		return r.stageDiarizing(ctx, job)
	case types.StageGeneratingOutputs:
		return r.stageGeneratingOutputs(ctx, job)
	}
	return fault.Internal("unknown pipeline stage: "+string(stage), nil)
}

// settleFailure turns a stage error into a terminal failure or a
// requeue, depending on whether it is transient and how many attempts
// the job has left.
func (r *Runner) settleFailure(ctx context.Context, job *types.Job, em *events.Emitter, stageErr error) error {
	if fault.IsRetryable(stageErr) && job.RetryCount < job.MaxRetries {
		job.RetryCount++
		job.Status = types.JobStatusCreated
		if err := r.persist(ctx, job); err != nil {
			return err
		}
		logger.WarnContext(ctx, "stage failed, requeueing job",
			"job_id", job.ID, "stage", string(job.CurrentStage), "retry_count", job.RetryCount, "error", stageErr)
		return r.jobs.Requeue(ctx, job.ID)
	}

	code := fault.CodeOf(stageErr)
	if code == "" {
		code = "stage_failed"
	}
	job.SetFailure(code, safeMessage(stageErr))
	if err := r.persist(ctx, job); err != nil {
		return err
	}
	em.JobFailed(job.ErrorCode, job.ErrorMessage)
	logger.ErrorContext(ctx, "job failed",
		"job_id", job.ID, "stage", string(job.CurrentStage), "code", code, "error", stageErr)
	return nil
}

// safeMessage returns the caller-safe message of a classified error
// and a generic one otherwise, so raw paths and keys never reach the
// job record.
func safeMessage(err error) string {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return "processing failed"
}

// resumeIndex finds the earliest stage whose checkpoint is missing or
// incomplete. A fresh job resumes at zero.
func (r *Runner) resumeIndex(ctx context.Context, job *types.Job) (int, error) {
	stages := types.Stages()
	for i, stage := range stages {
		done, err := r.stageDone(ctx, job, stage)
		if err != nil {
			return 0, err
		}
		if !done {
			return i, nil
		}
	}
	// Everything checkpointed: rerun the final stage, it is idempotent.
	return len(stages) - 1, nil
}

func (r *Runner) stageDone(ctx context.Context, job *types.Job, stage types.Stage) (bool, error) {
	ok, err := r.checkpoints.Exists(ctx, job.ID, stage)
	if err != nil || !ok {
		return false, err
	}
	if stage != types.StageTranscribing {
		return true, nil
	}

	// The transcribing checkpoint grows incrementally; it only counts
	// as complete once every segment has a transcript.
	var segs segmentState
	if err := r.checkpoints.Load(ctx, job.ID, types.StageSegmenting, &segs); err != nil {
		return false, nil
	}
	var ts transcribeState
	if err := r.checkpoints.Load(ctx, job.ID, types.StageTranscribing, &ts); err != nil {
		return false, nil
	}
	return len(ts.Transcripts) >= len(segs.Segments), nil
}

// syncStatus refreshes the job's status from the store so an API-side
// cancellation is observed and never overwritten by progress writes.
func (r *Runner) syncStatus(ctx context.Context, job *types.Job) (cancelled bool, err error) {
	fresh, err := r.jobs.Store().Get(ctx, job.ID)
	if err != nil {
		return false, err
	}
	if fresh.Status == types.JobStatusCancelled {
		job.Status = types.JobStatusCancelled
		return true, nil
	}
	return false, nil
}

// persistGuarded is persist for in-flight progress writes: it carries
// over a cancellation written by the API while the stage ran, so a
// progress write never revives a cancelled job.
func (r *Runner) persistGuarded(ctx context.Context, job *types.Job) error {
	fresh, err := r.jobs.Store().Get(ctx, job.ID)
	if err == nil && fresh.Status == types.JobStatusCancelled {
		job.Status = types.JobStatusCancelled
	}
	return r.persist(ctx, job)
}

// persist writes the job and drops the caches that shadow it.
func (r *Runner) persist(ctx context.Context, job *types.Job) error {
	job.Touch()
	if err := r.jobs.Store().Put(ctx, job); err != nil {
		return err
	}
	r.invalidate(ctx, job)
	return nil
}

func (r *Runner) invalidate(ctx context.Context, job *types.Job) {
	if err := r.results.Delete(ctx, cache.JobStatusKey(job.ID)); err != nil {
		logger.DebugContext(ctx, "cache invalidation failed", "job_id", job.ID, "error", err)
	}
	if err := r.results.Delete(ctx, cache.UserJobsKey(job.OwnerID)); err != nil {
		logger.DebugContext(ctx, "cache invalidation failed", "user_id", job.OwnerID, "error", err)
	}
}
