package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/AuralStack/ScribeFlow/audio"
	"github.com/AuralStack/ScribeFlow/events"
	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/logger"
	"github.com/AuralStack/ScribeFlow/media"
	"github.com/AuralStack/ScribeFlow/storage"
	"github.com/AuralStack/ScribeFlow/stt"
	"github.com/AuralStack/ScribeFlow/transcript"
	"github.com/AuralStack/ScribeFlow/types"
)

// stageValidating checks the declared MIME type against the allow
// list, verifies the source blob is present and within the size cap,
// and probes the container for audio.
func (r *Runner) stageValidating(ctx context.Context, job *types.Job) error {
	if !media.IsAllowedMIMEType(job.MIMEType) {
		return fault.InvalidInput("unsupported_media_type", "media type is not supported: "+job.MIMEType)
	}

	info, err := r.blobs.Stat(ctx, job.SourceBlobKey)
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			return fault.InvalidInput("source_missing", "source media is gone")
		}
		return err
	}
	if info.Size > r.cfg.MaxSourceBytes {
		return fault.InvalidInput("file_too_large", "source media exceeds the size limit")
	}

	data, err := r.blobs.Get(ctx, job.SourceBlobKey)
	if err != nil {
		return err
	}
	probe, err := r.media.Probe(ctx, data, job.MIMEType)
	if err != nil {
		return err
	}
	if !probe.HasAudio() {
		return fault.InvalidInput("no_audio_stream", "media has no audio stream")
	}

	job.TotalDurationS = probe.DurationS
	streams := make([]string, 0, len(probe.Streams))
	for _, s := range probe.Streams {
		streams = append(streams, s.Type+"/"+s.Codec)
	}
	return r.checkpoints.Save(ctx, job.ID, types.StageValidating, validateState{
		DurationS: probe.DurationS,
		Container: probe.Container,
		Streams:   streams,
	})
}

// stageTranscoding decodes the source into 16 kHz mono PCM WAV and
// stores it next to the source.
func (r *Runner) stageTranscoding(ctx context.Context, job *types.Job) error {
	data, err := r.blobs.Get(ctx, job.SourceBlobKey)
	if err != nil {
		return err
	}
	normalized, err := r.media.Normalize(ctx, data, job.MIMEType)
	if err != nil {
		return err
	}

	key := storage.JobNormalizedKey(job.ID)
	if _, err := r.blobs.Put(ctx, key, normalized); err != nil {
		return err
	}
	return r.checkpoints.Save(ctx, job.ID, types.StageTranscoding, transcodeState{
		NormalizedBlobKey: key,
	})
}

// stageSegmenting cuts the normalized audio into provider-sized
// segments. Each cut is nudged toward silence so no word is split, and
// adjacent segments overlap slightly so the merge stage can stitch the
// boundary back together.
func (r *Runner) stageSegmenting(ctx context.Context, job *types.Job) error {
	var tc transcodeState
	if err := r.checkpoints.Load(ctx, job.ID, types.StageTranscoding, &tc); err != nil {
		return err
	}
	wav, err := r.blobs.Get(ctx, tc.NormalizedBlobKey)
	if err != nil {
		return err
	}
	format, pcm, err := audio.ParseWAV(wav)
	if err != nil {
		return fault.Wrap(fault.KindInvalidInput, "bad_normalized_audio", "normalized audio is not valid WAV", err)
	}

	frame := format.Channels * format.BitsPerSample / 8
	maxPCM := r.cfg.SegmentMaxBytes
	maxPCM -= maxPCM % frame
	if maxPCM <= 0 {
		return fault.Internal("segment size smaller than one frame", nil)
	}
	overlap := format.BytesForDuration(r.cfg.SegmentOverlap)

	var refs []segmentRef
	start := 0
	for idx := 0; start < len(pcm); idx++ {
		end := len(pcm)
		if len(pcm)-start > maxPCM {
			cut := audio.FindSplitPoint(pcm[start:], format, maxPCM, audio.DefaultSplitParams())
			if cut <= 0 {
				cut = maxPCM
			}
			end = start + cut
		}

		key := storage.JobSegmentKey(job.ID, idx)
		if _, err := r.blobs.Put(ctx, key, audio.EncodeWAV(pcm[start:end], format)); err != nil {
			return err
		}
		refs = append(refs, segmentRef{
			Idx:     idx,
			BlobKey: key,
			StartMs: format.DurationMs(start),
			EndMs:   format.DurationMs(end),
		})

		if end == len(pcm) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}

	logger.DebugContext(ctx, "audio segmented",
		"job_id", job.ID, "segments", len(refs), "pcm_bytes", len(pcm))
	return r.checkpoints.Save(ctx, job.ID, types.StageSegmenting, segmentState{Segments: refs})
}

// stageDetectingLanguage resolves the transcription language: the
// caller's choice when given, otherwise one detect-mode provider call
// on the first segment.
func (r *Runner) stageDetectingLanguage(ctx context.Context, job *types.Job) error {
	if job.Language != "" {
		job.DetectedLanguage = job.Language
		return r.checkpoints.Save(ctx, job.ID, types.StageDetectingLanguage, languageState{
			DetectedLanguage: job.Language,
			Confidence:       1,
		})
	}

	var segs segmentState
	if err := r.checkpoints.Load(ctx, job.ID, types.StageSegmenting, &segs); err != nil {
		return err
	}
	if len(segs.Segments) == 0 {
		return fault.InvalidInput("no_segments", "audio produced no segments")
	}

	first := segs.Segments[0]
	data, err := r.blobs.Get(ctx, first.BlobKey)
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, r.sttBudget(first))
	defer cancel()
	res, err := r.provider.Transcribe(callCtx, data, stt.TranscriptionConfig{
		Format:         stt.FormatWAV,
		DetectLanguage: true,
	})
	if err != nil {
		return r.classifySTT(callCtx, err)
	}

	lang := res.Language
	if lang == "" {
		lang = "en"
	}
	job.DetectedLanguage = lang
	logger.InfoContext(ctx, "language detected", "job_id", job.ID, "language", lang)
	return r.checkpoints.Save(ctx, job.ID, types.StageDetectingLanguage, languageState{
		DetectedLanguage: lang,
		Confidence:       res.Confidence,
	})
}

// stageTranscribing runs bounded-parallel provider calls over the
// segments that do not have a transcript yet. The checkpoint is
// re-saved after every finished segment, so a crash mid-stage loses at
// most the segments still in flight.
func (r *Runner) stageTranscribing(ctx context.Context, job *types.Job) error {
	var segs segmentState
	if err := r.checkpoints.Load(ctx, job.ID, types.StageSegmenting, &segs); err != nil {
		return err
	}
	var lang languageState
	if err := r.checkpoints.Load(ctx, job.ID, types.StageDetectingLanguage, &lang); err != nil {
		return err
	}

	var state transcribeState
	if err := r.checkpoints.Load(ctx, job.ID, types.StageTranscribing, &state); err != nil &&
		!fault.IsKind(err, fault.KindNotFound) {
		return err
	}
	done := state.doneIdx()
	total := len(segs.Segments)

	sem := semaphore.NewWeighted(r.cfg.MaxConcurrentSTT)
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for _, seg := range segs.Segments {
		if done[seg.Idx] {
			continue
		}
		seg := seg
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			words, conf, err := r.transcribeSegment(gctx, job, seg, lang.DetectedLanguage)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			state.Transcripts = append(state.Transcripts, segmentTranscript{
				Idx:        seg.Idx,
				Words:      words,
				Confidence: conf,
			})
			state.sortByIdx()
			if err := r.checkpoints.Save(gctx, job.ID, types.StageTranscribing, state); err != nil {
				return err
			}
			job.StageProgress[types.StageTranscribing] = float64(len(state.Transcripts)) / float64(total) * 100
			if err := r.persistGuarded(gctx, job); err != nil {
				logger.WarnContext(gctx, "failed to persist transcribing progress", "job_id", job.ID, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// transcribeSegment calls the provider for one segment and shifts the
// returned word times to absolute positions.
func (r *Runner) transcribeSegment(ctx context.Context, job *types.Job, seg segmentRef, language string) (transcript.Words, float64, error) {
	data, err := r.blobs.Get(ctx, seg.BlobKey)
	if err != nil {
		return nil, 0, err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.sttBudget(seg))
	defer cancel()

	em := events.NewEmitter(r.bus, "", job.ID, job.OwnerID)
	began := r.now()
	res, err := r.provider.Transcribe(callCtx, data, stt.TranscriptionConfig{
		Format:   stt.FormatWAV,
		Language: language,
	})
	elapsed := r.now().Sub(began)
	if err != nil {
		em.ProviderCallFailed(r.provider.Name(), err, elapsed)
		return nil, 0, r.classifySTT(callCtx, err)
	}
	em.ProviderCallCompleted(r.provider.Name(), len(res.Words), len(data), elapsed)

	words := res.Words
	if len(words) == 0 {
		words = transcript.SynthesizeUniform(res.Text, 0, seg.EndMs-seg.StartMs)
	}
	shifted := words.Clone()
	for i := range shifted {
		shifted[i].StartMs += seg.StartMs
		shifted[i].EndMs += seg.StartMs
	}
	return shifted, res.Confidence, nil
}

// sttBudget derives the provider call timeout from the segment's audio
// duration, never below the configured floor.
func (r *Runner) sttBudget(seg segmentRef) time.Duration {
	budget := time.Duration(seg.EndMs-seg.StartMs) * time.Millisecond * sttTimeoutFactor
	if budget < r.cfg.MinSTTTimeout {
		budget = r.cfg.MinSTTTimeout
	}
	return budget
}

// classifySTT maps a deadline blowout on a provider call to the
// timeout kind; classified errors pass through unchanged.
func (r *Runner) classifySTT(callCtx context.Context, err error) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fault.Timeout("stt_timeout", "provider call exceeded its budget", err)
	}
	return fault.ProviderUnavailable("stt_call_failed", "provider call failed", err)
}

// stageMerging concatenates per-segment transcripts in index order,
// resolving the overlapping boundary regions.
func (r *Runner) stageMerging(ctx context.Context, job *types.Job) error {
	var segs segmentState
	if err := r.checkpoints.Load(ctx, job.ID, types.StageSegmenting, &segs); err != nil {
		return err
	}
	var ts transcribeState
	if err := r.checkpoints.Load(ctx, job.ID, types.StageTranscribing, &ts); err != nil {
		return err
	}
	if len(ts.Transcripts) < len(segs.Segments) {
		return fault.Unavailable("transcripts_incomplete",
			fmt.Sprintf("have %d of %d segment transcripts", len(ts.Transcripts), len(segs.Segments)))
	}

	byIdx := make(map[int]segmentRef, len(segs.Segments))
	for _, s := range segs.Segments {
		byIdx[s.Idx] = s
	}
	segments := make([]transcript.Segment, 0, len(ts.Transcripts))
	for _, t := range ts.Transcripts {
		ref := byIdx[t.Idx]
		segments = append(segments, transcript.Segment{
			Idx:     t.Idx,
			StartMs: ref.StartMs,
			EndMs:   ref.EndMs,
			Words:   t.Words,
		})
	}

	merged := transcript.MergeSegments(segments, r.cfg.SegmentOverlap.Milliseconds())
	job.WordCount = len(merged)
	return r.checkpoints.Save(ctx, job.ID, types.StageMerging, mergeState{MergedWords: merged})
}

// stageDiarizing annotates speakers when the job asked for it and
// passes the merged words through otherwise, so the stage after it
// always reads from the same checkpoint.
func (r *Runner) stageDiarizing(ctx context.Context, job *types.Job) error {
	var m mergeState
	if err := r.checkpoints.Load(ctx, job.ID, types.StageMerging, &m); err != nil {
		return err
	}

	words := m.MergedWords
	if job.EnableDiarization {
		var err error
		words, err = r.diarizer.Diarize(ctx, words)
		if err != nil {
			return err
		}
	}
	return r.checkpoints.Save(ctx, job.ID, types.StageDiarizing, diarizeState{WordsWithSpeaker: words})
}

// stageGeneratingOutputs writes the four artifacts and records their
// keys on the job.
func (r *Runner) stageGeneratingOutputs(ctx context.Context, job *types.Job) error {
	var d diarizeState
	if err := r.checkpoints.Load(ctx, job.ID, types.StageDiarizing, &d); err != nil {
		return err
	}

	keys, err := r.artifacts.GenerateJob(ctx, job.ID, d.WordsWithSpeaker)
	if err != nil {
		return err
	}
	job.ArtifactKeys = keys
	job.WordCount = len(d.WordsWithSpeaker)
	return r.checkpoints.Save(ctx, job.ID, types.StageGeneratingOutputs, outputsState{ArtifactKeys: keys})
}
