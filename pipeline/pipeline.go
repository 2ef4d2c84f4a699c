// Package pipeline runs batch transcription jobs: a worker pool pops
// job IDs off the queue and drives each job through the staged
// pipeline (validating, transcoding, segmenting, detecting_language,
// transcribing, merging, diarizing, generating_outputs). Every stage
// reads the checkpoints of the stages before it, does its work, and
// writes its own checkpoint before the stage is marked complete, so a
// retried job resumes at the earliest stage without a valid
// checkpoint.
package pipeline

import (
	"context"
	"time"

	"github.com/AuralStack/ScribeFlow/media"
	"github.com/AuralStack/ScribeFlow/ratelimit"
	"github.com/AuralStack/ScribeFlow/transcript"
	"github.com/AuralStack/ScribeFlow/types"
)

// Defaults for the pipeline configuration.
const (
	DefaultWorkerCount      = 4
	DefaultMaxConcurrentSTT = 4
	DefaultSegmentMaxBytes  = 24 << 20 // provider upload limit
	DefaultSegmentOverlap   = time.Second
	DefaultMinSTTTimeout    = 30 * time.Second
	DefaultStageRetries     = 2
	DefaultRequeueDelay     = 2 * time.Second
	DefaultMaxSourceBytes   = 2 << 30
)

// sttTimeoutFactor scales a segment's audio duration into the budget
// for its provider call.
const sttTimeoutFactor = 3

// etaFactor converts remaining audio seconds into estimated
// processing seconds.
const etaFactor = 3.5

// Config tunes the pipeline.
type Config struct {
	// WorkerCount is the number of pool workers pulling jobs.
	WorkerCount int

	// MaxConcurrentSTT bounds parallel provider calls inside the
	// transcribing stage.
	MaxConcurrentSTT int64

	// SegmentMaxBytes caps the size of one audio segment.
	SegmentMaxBytes int

	// SegmentOverlap is the audio overlap between adjacent segments.
	SegmentOverlap time.Duration

	// MinSTTTimeout is the floor on any provider call budget.
	MinSTTTimeout time.Duration

	// StageRetries is how many extra in-worker attempts a stage gets
	// when it fails with a retryable error.
	StageRetries int

	// RequeueDelay is how long an over-quota job waits before it goes
	// back on the queue.
	RequeueDelay time.Duration

	// MaxSourceBytes rejects source media above this size at the
	// validating stage.
	MaxSourceBytes int64
}

// DefaultConfig returns the standard pipeline configuration.
func DefaultConfig() Config {
	return Config{
		WorkerCount:      DefaultWorkerCount,
		MaxConcurrentSTT: DefaultMaxConcurrentSTT,
		SegmentMaxBytes:  DefaultSegmentMaxBytes,
		SegmentOverlap:   DefaultSegmentOverlap,
		MinSTTTimeout:    DefaultMinSTTTimeout,
		StageRetries:     DefaultStageRetries,
		RequeueDelay:     DefaultRequeueDelay,
		MaxSourceBytes:   DefaultMaxSourceBytes,
	}
}

// MediaProcessor is the subset of the media transcoder the pipeline
// needs. *media.Transcoder satisfies it.
type MediaProcessor interface {
	Probe(ctx context.Context, data []byte, fromMIME string) (*media.ProbeResult, error)
	Normalize(ctx context.Context, data []byte, fromMIME string) ([]byte, error)
}

// Diarizer annotates words with speaker labels.
type Diarizer interface {
	Diarize(ctx context.Context, words transcript.Words) (transcript.Words, error)
}

// PauseGapDiarizer assigns speaker labels from pauses between words: a
// silence longer than GapMs hands the floor to the next speaker.
type PauseGapDiarizer struct {
	GapMs       int64
	MaxSpeakers int
}

// NewPauseGapDiarizer returns a diarizer with the default gap and a
// two-speaker ceiling.
func NewPauseGapDiarizer() *PauseGapDiarizer {
	return &PauseGapDiarizer{GapMs: transcript.DefaultSpeakerGapMs, MaxSpeakers: 2}
}

// Diarize implements Diarizer.
func (d *PauseGapDiarizer) Diarize(_ context.Context, words transcript.Words) (transcript.Words, error) {
	return transcript.AssignSpeakers(words, d.GapMs, d.MaxSpeakers), nil
}

// TierResolver maps a user to their subscription tier for quota
// decisions. The default resolver places everyone on the free tier.
type TierResolver = ratelimit.TierResolver

// EstimatedRemainingS estimates the seconds of processing left for the
// job: the unprocessed fraction of its stages scaled by the audio
// duration. Zero for terminal jobs.
func EstimatedRemainingS(job *types.Job) float64 {
	if job.Status.Terminal() {
		return 0
	}
	stages := types.Stages()
	var progress float64
	for _, s := range stages {
		if job.StageDurations[s] > 0 {
			progress++
			continue
		}
		progress += job.StageProgress[s] / 100
	}
	fraction := 1 - progress/float64(len(stages))
	if fraction < 0 {
		fraction = 0
	}
	return fraction * etaFactor * job.TotalDurationS
}
