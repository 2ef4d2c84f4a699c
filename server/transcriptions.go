package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/AuralStack/ScribeFlow/cache"
	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/jobs"
	"github.com/AuralStack/ScribeFlow/logger"
	"github.com/AuralStack/ScribeFlow/metrics/prometheus"
	"github.com/AuralStack/ScribeFlow/pipeline"
	"github.com/AuralStack/ScribeFlow/types"
)

// jobStatusResponse is the job record plus the progress estimate the
// polling UI renders.
type jobStatusResponse struct {
	*types.Job
	EstimatedRemainingS float64 `json:"estimated_remaining_s,omitempty"`
}

func (s *Server) handleJobGet(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	owner := userID(r.Context())

	if job := s.cachedJob(r, jobID, owner); job != nil {
		writeJSON(w, http.StatusOK, jobStatusResponse{
			Job:                 job,
			EstimatedRemainingS: pipeline.EstimatedRemainingS(job),
		})
		return
	}

	job, err := s.deps.Jobs.GetOwned(r.Context(), owner, jobID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if data, err := json.Marshal(job); err == nil {
		if err := s.deps.Cache.Set(r.Context(), cache.JobStatusKey(jobID), data, s.cacheTTL); err != nil {
			logger.WarnContext(r.Context(), "job status cache write failed",
				"job_id", jobID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, jobStatusResponse{
		Job:                 job,
		EstimatedRemainingS: pipeline.EstimatedRemainingS(job),
	})
}

// cachedJob returns the cached job record when present and owned by the
// caller. Ownership is re-checked because the cache is keyed by job ID.
func (s *Server) cachedJob(r *http.Request, jobID, owner string) *types.Job {
	data, err := s.deps.Cache.Get(r.Context(), cache.JobStatusKey(jobID))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			logger.WarnContext(r.Context(), "job status cache read failed",
				"job_id", jobID, "error", err)
		}
		prometheus.RecordCacheLookup(false)
		return nil
	}

	var job types.Job
	if err := json.Unmarshal(data, &job); err != nil || job.OwnerID != owner {
		prometheus.RecordCacheLookup(false)
		return nil
	}
	prometheus.RecordCacheLookup(true)
	return &job
}

func (s *Server) handleJobDownload(w http.ResponseWriter, r *http.Request) {
	format := types.ArtifactKind(r.URL.Query().Get("format"))
	switch format {
	case types.ArtifactTXT, types.ArtifactJSON, types.ArtifactSRT, types.ArtifactVTT:
	default:
		writeError(w, r, fault.InvalidInput("bad_format",
			"format must be one of txt, json, srt, vtt"))
		return
	}

	job, err := s.deps.Jobs.GetOwned(r.Context(), userID(r.Context()), r.PathValue("job_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	key, ok := job.ArtifactKeys[format]
	if !ok {
		writeError(w, r, fault.NotFound("artifact_not_found",
			"artifact is not available for this job"))
		return
	}

	url, err := s.deps.Blobs.GetURL(r.Context(), key, signedURLTTL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (s *Server) handleJobRetry(w http.ResponseWriter, r *http.Request) {
	var req types.RetryJobRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	job, err := s.deps.Runner.Retry(r.Context(), userID(r.Context()), r.PathValue("job_id"), req.FromStage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Runner.Cancel(r.Context(), userID(r.Context()), r.PathValue("job_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Runner.DeleteJob(r.Context(), userID(r.Context()), r.PathValue("job_id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJobList(w http.ResponseWriter, r *http.Request) {
	filter := jobs.ListFilter{}

	if v := r.URL.Query().Get("status"); v != "" {
		status := types.JobStatus(v)
		switch status {
		case types.JobStatusCreated, types.JobStatusProcessing,
			types.JobStatusComplete, types.JobStatusFailed, types.JobStatusCancelled:
			filter.Status = status
		default:
			writeError(w, r, fault.InvalidInput("bad_status", "unknown job status"))
			return
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			writeError(w, r, fault.InvalidInput("bad_limit", "limit must be a positive integer"))
			return
		}
		filter.Limit = limit
	}

	owner := userID(r.Context())

	// Only the default query is cached; filtered views hit the store so the
	// runner's single-key invalidation stays correct.
	cacheable := filter.Status == "" && filter.Limit <= 0
	if cacheable {
		if data, err := s.deps.Cache.Get(r.Context(), cache.UserJobsKey(owner)); err == nil {
			var resp types.JobListResponse
			if json.Unmarshal(data, &resp) == nil {
				prometheus.RecordCacheLookup(true)
				writeJSON(w, http.StatusOK, resp)
				return
			}
		}
		prometheus.RecordCacheLookup(false)
	}

	list, err := s.deps.Jobs.Store().ListByUser(r.Context(), owner, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = jobs.DefaultListLimit
	}
	resp := types.JobListResponse{
		Jobs:  list,
		Total: len(list),
		Limit: limit,
	}

	if cacheable {
		if data, err := json.Marshal(resp); err == nil {
			if err := s.deps.Cache.Set(r.Context(), cache.UserJobsKey(owner), data, s.cacheTTL); err != nil {
				logger.WarnContext(r.Context(), "job list cache write failed",
					"user_id", owner, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
