package pipeline

import (
	"context"

	"github.com/AuralStack/ScribeFlow/events"
	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/logger"
	"github.com/AuralStack/ScribeFlow/storage"
	"github.com/AuralStack/ScribeFlow/types"
)

// Retry requeues a failed or cancelled job. The job resumes at the
// earliest stage without a valid checkpoint; fromStage overrides the
// resume point by invalidating every checkpoint from that stage on,
// and must not be past the last completed stage.
func (r *Runner) Retry(ctx context.Context, ownerID, jobID string, fromStage types.Stage) (*types.Job, error) {
	job, err := r.jobs.GetOwned(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == types.JobStatusCreated || job.Status == types.JobStatusProcessing {
		return nil, fault.InvalidInput("job_not_retryable", "job is still queued or running")
	}
	if job.RetryCount >= job.MaxRetries {
		return nil, fault.InvalidInput("retries_exhausted", "job has no retries left")
	}

	if fromStage != "" {
		if !types.ValidStage(fromStage) {
			return nil, fault.InvalidInput("unknown_stage", "unknown stage: "+string(fromStage))
		}
		last := job.LastCompletedStage()
		if last == "" || types.StageIndex(fromStage) > types.StageIndex(last) {
			return nil, fault.InvalidInput("stage_not_reached", "from_stage must not be past the last completed stage")
		}
		for _, stage := range types.Stages()[types.StageIndex(fromStage):] {
			if err := r.checkpoints.DeleteStage(ctx, jobID, stage); err != nil {
				return nil, err
			}
			delete(job.StageDurations, stage)
			delete(job.StageProgress, stage)
		}
	}

	job.RetryCount++
	job.Status = types.JobStatusCreated
	job.ErrorCode = ""
	job.ErrorMessage = ""
	if err := r.persist(ctx, job); err != nil {
		return nil, err
	}
	if err := r.jobs.Requeue(ctx, jobID); err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "job retry queued",
		"job_id", jobID, "retry_count", job.RetryCount, "from_stage", string(fromStage))
	return job, nil
}

// Cancel marks the job cancelled. A worker holding the job drops it at
// the next stage boundary; a queued job is skipped when popped.
func (r *Runner) Cancel(ctx context.Context, ownerID, jobID string) (*types.Job, error) {
	job, err := r.jobs.GetOwned(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, fault.InvalidInput("job_already_terminal", "job already finished")
	}

	job.Status = types.JobStatusCancelled
	if err := r.persist(ctx, job); err != nil {
		return nil, err
	}
	events.NewEmitter(r.bus, "", job.ID, job.OwnerID).JobCancelled()
	return job, nil
}

// DeleteJob removes a terminal job: its blobs, checkpoints, record,
// and cache entries. Blob deletes are best effort; a missing blob is
// not an error.
func (r *Runner) DeleteJob(ctx context.Context, ownerID, jobID string) error {
	job, err := r.jobs.GetOwned(ctx, ownerID, jobID)
	if err != nil {
		return err
	}
	if !job.Status.Terminal() {
		return fault.InvalidInput("job_not_terminal", "cancel the job before deleting it")
	}

	keys := []string{job.SourceBlobKey, storage.JobNormalizedKey(jobID)}
	var segs segmentState
	if err := r.checkpoints.Load(ctx, jobID, types.StageSegmenting, &segs); err == nil {
		for _, seg := range segs.Segments {
			keys = append(keys, seg.BlobKey)
		}
	}
	for _, key := range job.ArtifactKeys {
		keys = append(keys, key)
	}
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, err := r.blobs.Delete(ctx, key); err != nil {
			logger.WarnContext(ctx, "failed to delete job blob", "job_id", jobID, "key", key, "error", err)
		}
	}

	if err := r.checkpoints.Delete(ctx, jobID); err != nil {
		return err
	}
	if err := r.jobs.Store().Delete(ctx, job); err != nil {
		return err
	}
	if r.quota != nil && job.TotalSize > 0 {
		if err := r.quota.RecordStorage(ctx, ownerID, -float64(job.TotalSize)/(1<<30)); err != nil {
			logger.WarnContext(ctx, "failed to reclaim storage usage", "job_id", jobID, "error", err)
		}
	}
	r.invalidate(ctx, job)
	logger.InfoContext(ctx, "job deleted", "job_id", jobID)
	return nil
}
