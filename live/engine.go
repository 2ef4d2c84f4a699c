package live

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AuralStack/ScribeFlow/events"
	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/logger"
	"github.com/AuralStack/ScribeFlow/ratelimit"
	"github.com/AuralStack/ScribeFlow/storage"
	"github.com/AuralStack/ScribeFlow/stt"
	"github.com/AuralStack/ScribeFlow/transcript"
	"github.com/AuralStack/ScribeFlow/types"
)

// Config carries the engine's time constants.
type Config struct {
	// Params are the merge constants (chunk, overlap, commit window).
	Params transcript.Params

	// IdleTTL finalizes a session that stops sending chunks.
	IdleTTL time.Duration

	// FinalizeWait bounds how long finalize waits for in-flight chunks.
	FinalizeWait time.Duration

	// STTTimeout bounds one provider call for a streamed chunk.
	STTTimeout time.Duration

	// QueueDepth is the per-session chunk backlog before intake pushes
	// back.
	QueueDepth int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Params:       transcript.DefaultParams(),
		IdleTTL:      90 * time.Second,
		FinalizeWait: 5 * time.Second,
		STTTimeout:   30 * time.Second,
		QueueDepth:   64,
	}
}

// ArtifactGenerator writes the four artifacts for a finalized session
// and returns their blob keys. Implemented by the artifacts package.
type ArtifactGenerator interface {
	GenerateSession(ctx context.Context, sessionID string, words transcript.Words) (map[types.ArtifactKind]string, error)
}

type chunkWork struct {
	idx        int
	audio      []byte
	sampleRate int
}

// sessionWorker is the single consumer of one session's chunks. All
// rolling-state writes for a session happen on its goroutine, which is
// what keeps the state single-writer without locks.
type sessionWorker struct {
	sessionID string
	ownerID   string
	ch        chan chunkWork
	pending   atomic.Int64
	stopCh    chan struct{}
	done      chan struct{}
}

// Engine accepts streamed chunks, dispatches them to the STT provider
// one session at a time, and finalizes sessions on request or idle
// timeout.
type Engine struct {
	store     StateStore
	blobs     storage.ObjectStore
	provider  stt.Service
	artifacts ArtifactGenerator
	bus       *events.EventBus
	quota     *ratelimit.QuotaManager
	tier      ratelimit.TierResolver
	cfg       Config

	mu      sync.Mutex
	workers map[string]*sessionWorker
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithConfig overrides the default time constants.
func WithConfig(cfg Config) EngineOption {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithBus attaches the event bus.
func WithBus(bus *events.EventBus) EngineOption {
	return func(e *Engine) {
		e.bus = bus
	}
}

// WithArtifacts attaches the artifact generator used at finalize.
func WithArtifacts(gen ArtifactGenerator) EngineOption {
	return func(e *Engine) {
		e.artifacts = gen
	}
}

// WithQuota attaches the tier quota gate. Chunk intake checks the
// estimated minutes; each transcribed chunk is recorded against the
// daily and monthly budgets.
func WithQuota(quota *ratelimit.QuotaManager, tier ratelimit.TierResolver) EngineOption {
	return func(e *Engine) {
		e.quota = quota
		e.tier = tier
	}
}

// NewEngine creates a live transcription engine.
func NewEngine(store StateStore, blobs storage.ObjectStore, provider stt.Service, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		blobs:    blobs,
		provider: provider,
		tier:     ratelimit.FreeTier,
		cfg:      DefaultConfig(),
		workers:  make(map[string]*sessionWorker),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AcceptChunk persists the chunk and hands it to the session's
// consumer. It returns as soon as the chunk is durable; transcription
// continues asynchronously.
func (e *Engine) AcceptChunk(ctx context.Context, ownerID, sessionID string, idx int, audio []byte, sampleRate int, codec string) error {
	if len(audio) == 0 {
		return fault.InvalidInput("empty_chunk", "chunk carries no audio")
	}
	if idx < 0 {
		return fault.InvalidInput("chunk_index_out_of_range", "chunk index must be non-negative")
	}

	owner, err := e.store.ClaimOwner(ctx, sessionID, ownerID)
	if err != nil {
		return err
	}
	if owner != ownerID {
		return fault.Forbidden("session_forbidden", "session belongs to another user")
	}
	if _, err := e.store.LoadFinal(ctx, sessionID); err == nil {
		return fault.InvalidInput("session_finalized", "session is already finalized")
	} else if !fault.IsKind(err, fault.KindNotFound) {
		return err
	}

	if e.quota != nil {
		decision, err := e.quota.Check(ctx, ownerID, e.tier(ctx, ownerID), ratelimit.QuotaRequest{
			Minutes: chunkMinutes(audio, sampleRate),
		})
		if err != nil {
			return err
		}
		if err := decision.Err(); err != nil {
			return err
		}
	}

	blobKey := storage.LiveChunkKey(sessionID, idx)
	if _, err := e.blobs.Put(ctx, blobKey, audio); err != nil {
		return err
	}
	if err := e.store.PutChunkRecord(ctx, sessionID, &types.ChunkRecord{
		Idx:        idx,
		BlobRef:    blobKey,
		Size:       int64(len(audio)),
		SampleRate: sampleRate,
		Codec:      codec,
		ChunkMs:    e.cfg.Params.ChunkMs,
		OverlapMs:  e.cfg.Params.OverlapMs,
		UploadedAt: time.Now().UTC(),
		OwnerID:    ownerID,
	}); err != nil {
		return err
	}

	w := e.workerFor(sessionID, ownerID)
	w.pending.Add(1)
	select {
	case w.ch <- chunkWork{idx: idx, audio: audio, sampleRate: sampleRate}:
		return nil
	default:
		w.pending.Add(-1)
		return fault.Unavailable("session_backlogged", "session has too many chunks in flight")
	}
}

// chunkMinutes converts a 16-bit PCM chunk's byte length into audio
// minutes. Zero sample rate falls back to the streaming default.
func chunkMinutes(audio []byte, sampleRate int) float64 {
	if sampleRate <= 0 {
		sampleRate = stt.DefaultSampleRate
	}
	return float64(len(audio)) / float64(sampleRate*2) / 60.0
}

// workerFor returns the session's consumer, starting one on first use.
func (e *Engine) workerFor(sessionID, ownerID string) *sessionWorker {
	e.mu.Lock()
	defer e.mu.Unlock()

	if w, ok := e.workers[sessionID]; ok {
		return w
	}
	w := &sessionWorker{
		sessionID: sessionID,
		ownerID:   ownerID,
		ch:        make(chan chunkWork, e.cfg.QueueDepth),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	e.workers[sessionID] = w
	go e.runWorker(w)
	events.NewEmitter(e.bus, sessionID, "", ownerID).SessionStarted()
	return w
}

func (e *Engine) runWorker(w *sessionWorker) {
	defer close(w.done)
	idle := time.NewTimer(e.cfg.IdleTTL)
	defer idle.Stop()

	for {
		select {
		case work := <-w.ch:
			e.processChunk(w, work)
			w.pending.Add(-1)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(e.cfg.IdleTTL)
		case <-w.stopCh:
			return
		case <-idle.C:
			logger.Warn("live session idle timeout, finalizing with present words",
				"session_id", w.sessionID)
			if _, err := e.finalizeSession(context.Background(), w.ownerID, w.sessionID, w); err != nil {
				logger.Error("idle finalize failed", "session_id", w.sessionID, "error", err)
			}
			return
		}
	}
}

// processChunk runs STT on one chunk and merges the words into the
// session's rolling state.
func (e *Engine) processChunk(w *sessionWorker, work chunkWork) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.STTTimeout)
	defer cancel()
	ctx = logger.WithSessionID(ctx, w.sessionID)

	emitter := events.NewEmitter(e.bus, w.sessionID, "", w.ownerID)
	started := time.Now()
	result, err := e.provider.Transcribe(ctx, work.audio, stt.TranscriptionConfig{
		Format:     stt.FormatPCM,
		SampleRate: work.sampleRate,
		SessionID:  w.sessionID,
		ChunkIdx:   work.idx,
	})
	elapsed := time.Since(started)
	if err != nil {
		// The chunk index stays unmerged; a client retry of the same
		// index will be processed fresh.
		logger.WarnContext(ctx, "chunk transcription failed",
			"chunk_idx", work.idx, "error", err)
		emitter.ProviderCallFailed(e.provider.Name(), err, elapsed)
		return
	}
	emitter.ProviderCallCompleted(e.provider.Name(), len(result.Words), len(work.audio), elapsed)
	if e.quota != nil {
		if err := e.quota.RecordTranscription(ctx, w.ownerID, chunkMinutes(work.audio, work.sampleRate)); err != nil {
			logger.WarnContext(ctx, "failed to record transcription minutes",
				"chunk_idx", work.idx, "error", err)
		}
	}

	p := e.cfg.Params
	chunkStartMs := int64(work.idx) * p.ChunkMs

	// Provider times are relative to the chunk's audio, which begins
	// overlap_ms before the chunk boundary for every chunk but the
	// first.
	audioStartMs := chunkStartMs - p.OverlapMs
	if audioStartMs < 0 {
		audioStartMs = 0
	}
	words := result.Words.Clone()
	for i := range words {
		words[i].StartMs += audioStartMs
		words[i].EndMs += audioStartMs
	}

	st, err := e.store.LoadState(ctx, w.sessionID)
	if err != nil {
		if !fault.IsKind(err, fault.KindNotFound) {
			logger.ErrorContext(ctx, "load rolling state failed", "error", err)
			return
		}
		st = transcript.NewRollingState()
	}

	out := st.Upsert(work.idx, words, result.Confidence, chunkStartMs, p)
	if err := e.store.SaveState(ctx, w.sessionID, st); err != nil {
		logger.ErrorContext(ctx, "save rolling state failed", "error", err)
		return
	}

	if out.Commit != nil {
		emitter.TranscriptCommit(work.idx, out.Commit.Words, st.LastCommittedMs)
	}
	if out.Partial != nil {
		emitter.TranscriptPartial(work.idx, out.Partial.Words)
	}
}

// Live returns the session's current rolling transcript.
func (e *Engine) Live(ctx context.Context, ownerID, sessionID string) (*types.LiveTranscriptResponse, error) {
	if err := e.verifyOwner(ctx, ownerID, sessionID); err != nil {
		return nil, err
	}

	if final, err := e.store.LoadFinal(ctx, sessionID); err == nil {
		return &types.LiveTranscriptResponse{
			SessionID:       sessionID,
			CommittedText:   final.Text,
			LastCommittedMs: final.DurationMs,
		}, nil
	}

	st, err := e.store.LoadState(ctx, sessionID)
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			// Chunks received but none transcribed yet.
			return &types.LiveTranscriptResponse{SessionID: sessionID}, nil
		}
		return nil, err
	}
	return &types.LiveTranscriptResponse{
		SessionID:       sessionID,
		CommittedText:   st.CommittedWords.Text(),
		TailText:        st.TailBuffer.Text(),
		TailWords:       st.TailBuffer.Clone(),
		LastCommittedMs: st.LastCommittedMs,
	}, nil
}

// Finalize seals the session: waits briefly for in-flight chunks,
// collapses the tail, emits the final event, and generates artifacts.
// Finalizing an already final session returns the cached result.
func (e *Engine) Finalize(ctx context.Context, ownerID, sessionID string) (*FinalResult, error) {
	return e.finalizeSession(ctx, ownerID, sessionID, nil)
}

func (e *Engine) finalizeSession(ctx context.Context, ownerID, sessionID string, self *sessionWorker) (*FinalResult, error) {
	if err := e.verifyOwner(ctx, ownerID, sessionID); err != nil {
		return nil, err
	}
	if final, err := e.store.LoadFinal(ctx, sessionID); err == nil {
		return final, nil
	} else if !fault.IsKind(err, fault.KindNotFound) {
		return nil, err
	}

	e.drainWorker(sessionID, self)

	records, err := e.store.ChunkRecords(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	st, err := e.store.LoadState(ctx, sessionID)
	if err != nil {
		if !fault.IsKind(err, fault.KindNotFound) {
			return nil, err
		}
		st = transcript.NewRollingState()
	}
	fin := st.CollapseTail()

	emitter := events.NewEmitter(e.bus, sessionID, "", ownerID)
	emitter.TranscriptFinal(fin.Words, float64(fin.DurationMs)/1000.0)
	emitter.SessionFinalized(len(records))

	keys := map[types.ArtifactKind]string{}
	if e.artifacts != nil {
		keys, err = e.artifacts.GenerateSession(ctx, sessionID, fin.Words)
		if err != nil {
			return nil, fmt.Errorf("generate session artifacts: %w", err)
		}
	}

	result := &FinalResult{
		SessionID:    sessionID,
		Text:         fin.Text,
		Words:        fin.Words,
		WordCount:    fin.WordCount,
		DurationMs:   fin.DurationMs,
		ArtifactKeys: keys,
		FinalizedAt:  time.Now().UTC(),
	}
	if err := e.store.SaveFinal(ctx, sessionID, result); err != nil {
		return nil, err
	}
	// Chunk records stay for audit; only the merge state is ephemeral.
	if err := e.store.ReleaseState(ctx, sessionID); err != nil {
		logger.WarnContext(ctx, "release rolling state failed",
			"session_id", sessionID, "error", err)
	}

	logger.InfoContext(ctx, "live session finalized",
		"session_id", sessionID, "words", result.WordCount,
		"duration_ms", result.DurationMs, "chunks", len(records))
	return result, nil
}

// drainWorker waits up to FinalizeWait for the session's in-flight
// chunks, then stops the consumer. self marks the calling worker so
// the idle path never waits on itself.
func (e *Engine) drainWorker(sessionID string, self *sessionWorker) {
	e.mu.Lock()
	w, ok := e.workers[sessionID]
	if ok {
		delete(e.workers, sessionID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	deadline := time.Now().Add(e.cfg.FinalizeWait)
	for w.pending.Load() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := w.pending.Load(); n > 0 {
		logger.Warn("finalize proceeding with chunks still in flight",
			"session_id", sessionID, "in_flight", n)
	}

	if w != self {
		close(w.stopCh)
		<-w.done
	}
}

// verifyOwner checks ownership against the chunk metadata.
func (e *Engine) verifyOwner(ctx context.Context, ownerID, sessionID string) error {
	records, err := e.store.ChunkRecords(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fault.NotFound("session_not_found", "session has no chunks")
	}
	if records[0].OwnerID != ownerID {
		return fault.Forbidden("session_forbidden", "session belongs to another user")
	}
	return nil
}

// Shutdown stops every session consumer without finalizing. In-flight
// chunks finish; queued chunks are dropped and can be re-sent.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	workers := make([]*sessionWorker, 0, len(e.workers))
	for _, w := range e.workers {
		workers = append(workers, w)
	}
	e.workers = make(map[string]*sessionWorker)
	e.mu.Unlock()

	for _, w := range workers {
		close(w.stopCh)
		<-w.done
	}
}
