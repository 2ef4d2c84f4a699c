package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AuralStack/ScribeFlow/events"
)

// spanEntry tracks an in-flight span and its context.
type spanEntry struct {
	span trace.Span
	ctx  context.Context //nolint:containedctx // needed to parent child spans
}

// pendingEnd buffers a span completion that arrived before the corresponding start.
// The EventBus dispatches each Publish() in a separate goroutine, so completion
// events can race ahead of start events.
type pendingEnd struct {
	errMsg string // empty means success
	attrs  []attribute.KeyValue
}

// OTelEventListener converts platform events into OTel spans in real time.
// It implements the events.Listener function signature via its OnEvent method.
// It is safe for concurrent use and tolerates out-of-order event delivery.
type OTelEventListener struct {
	tracer trace.Tracer

	mu          sync.Mutex
	inflight    map[string]*spanEntry  // "job:<id>", "stage:<id>:<stage>", "session:<id>" → span + ctx
	pendingEnds map[string]*pendingEnd // buffered completions for out-of-order delivery
}

// NewOTelEventListener creates a listener that creates OTel spans from platform events.
func NewOTelEventListener(tracer trace.Tracer) *OTelEventListener {
	return &OTelEventListener{
		tracer:      tracer,
		inflight:    make(map[string]*spanEntry),
		pendingEnds: make(map[string]*pendingEnd),
	}
}

// OnEvent handles a single platform event and creates/completes OTel spans accordingly.
// It is safe for concurrent use and can be passed to EventBus.SubscribeAll.
func (l *OTelEventListener) OnEvent(evt *events.Event) {
	switch evt.Type {
	case events.EventJobQueued:
		l.startJob(evt)
	case events.EventJobStageStarted:
		l.startStage(evt)
	case events.EventJobStageCompleted:
		l.completeStage(evt)
	case events.EventJobCompleted:
		l.completeJob(evt)
	case events.EventJobFailed:
		l.failJob(evt)
	case events.EventJobCancelled:
		l.cancelJob(evt)
	case events.EventProviderCallCompleted:
		l.recordProviderCall(evt, "")
	case events.EventProviderCallFailed:
		l.recordProviderFailure(evt)
	case events.EventSessionStarted:
		l.startLiveSession(evt)
	case events.EventSessionFinalized:
		l.finalizeLiveSession(evt)
	case events.EventTranscriptFinal:
		l.recordFinalTranscript(evt)
	}
}

// parentCtx returns the context of the in-flight span under the given key
// so child spans can be parented. Falls back to context.Background().
func (l *OTelEventListener) parentCtx(key string) context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.inflight[key]; ok {
		return entry.ctx
	}
	return context.Background()
}

// startSpan starts a span parented under parentKey and stores it in inflight.
// If a completion was already buffered (out-of-order delivery), the span is
// immediately ended.
func (l *OTelEventListener) startSpan(
	parentKey, key, name string, kind trace.SpanKind, attrs ...attribute.KeyValue,
) {
	parentCtx := context.Background()
	if parentKey != "" {
		parentCtx = l.parentCtx(parentKey)
	}
	ctx, span := l.tracer.Start(parentCtx, name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(attrs...),
	)
	l.mu.Lock()
	pe, havePending := l.pendingEnds[key]
	if havePending {
		delete(l.pendingEnds, key)
	} else {
		l.inflight[key] = &spanEntry{span: span, ctx: ctx}
	}
	l.mu.Unlock()

	if havePending {
		span.SetAttributes(pe.attrs...)
		if pe.errMsg != "" {
			span.SetStatus(codes.Error, pe.errMsg)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// endSpan ends an inflight span and removes it from the map.
// If the span hasn't started yet (out-of-order delivery), the completion is
// buffered and will be applied when startSpan creates the span.
func (l *OTelEventListener) endSpan(key string, attrs ...attribute.KeyValue) {
	l.mu.Lock()
	entry, ok := l.inflight[key]
	if ok {
		delete(l.inflight, key)
	} else {
		l.pendingEnds[key] = &pendingEnd{attrs: attrs}
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	entry.span.SetAttributes(attrs...)
	entry.span.SetStatus(codes.Ok, "")
	entry.span.End()
}

// failSpan ends an inflight span with an error status.
// If the span hasn't started yet (out-of-order delivery), the failure is
// buffered and will be applied when startSpan creates the span.
func (l *OTelEventListener) failSpan(key, errMsg string, attrs ...attribute.KeyValue) {
	l.mu.Lock()
	entry, ok := l.inflight[key]
	if ok {
		delete(l.inflight, key)
	} else {
		l.pendingEnds[key] = &pendingEnd{errMsg: errMsg, attrs: attrs}
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	entry.span.SetAttributes(attrs...)
	entry.span.SetStatus(codes.Error, errMsg)
	entry.span.End()
}

// asPtr extracts event data as a pointer, handling both value and pointer types.
func asPtr[T any](data any) (*T, bool) {
	if p, ok := data.(*T); ok {
		return p, true
	}
	if v, ok := data.(T); ok {
		return &v, true
	}
	return nil, false
}

func jobKey(jobID string) string { return "job:" + jobID }

func sessionKey(id string) string { return "session:" + id }

func stageKey(jobID, st string) string { return "stage:" + jobID + ":" + st }

// --- Job ---

func (l *OTelEventListener) startJob(evt *events.Event) {
	l.startSpan("", jobKey(evt.JobID), "scribeflow.job",
		trace.SpanKindConsumer,
		attribute.String("job.id", evt.JobID),
		attribute.String("user.id", evt.UserID),
	)
}

func (l *OTelEventListener) completeJob(evt *events.Event) {
	data, ok := asPtr[events.JobTerminalData](evt.Data)
	if !ok {
		return
	}
	l.endSpan(jobKey(evt.JobID),
		attribute.Int("job.word_count", data.WordCount),
		attribute.Float64("job.audio_duration_s", data.DurationS),
	)
}

func (l *OTelEventListener) failJob(evt *events.Event) {
	data, ok := asPtr[events.JobTerminalData](evt.Data)
	if !ok {
		return
	}
	l.failSpan(jobKey(evt.JobID), data.ErrorMessage,
		attribute.String("job.error_code", data.ErrorCode),
	)
}

func (l *OTelEventListener) cancelJob(evt *events.Event) {
	l.endSpan(jobKey(evt.JobID),
		attribute.Bool("job.cancelled", true),
	)
}

// --- Stage ---

func (l *OTelEventListener) startStage(evt *events.Event) {
	data, ok := asPtr[events.JobStageData](evt.Data)
	if !ok {
		return
	}
	stage := string(data.Stage)
	l.startSpan(jobKey(evt.JobID), stageKey(evt.JobID, stage), "scribeflow.stage."+stage,
		trace.SpanKindInternal,
		attribute.String("job.id", evt.JobID),
		attribute.String("stage.name", stage),
	)
}

func (l *OTelEventListener) completeStage(evt *events.Event) {
	data, ok := asPtr[events.JobStageData](evt.Data)
	if !ok {
		return
	}
	l.endSpan(stageKey(evt.JobID, string(data.Stage)),
		attribute.Int64("stage.duration_ms", data.Elapsed.Milliseconds()),
	)
}

// --- Provider ---

// recordProviderCall emits an instantaneous client span for an STT call.
// There is no call-started event, so the span covers zero wall time and
// carries the call duration as an attribute.
func (l *OTelEventListener) recordProviderCall(evt *events.Event, errMsg string) {
	data, ok := asPtr[events.ProviderCallData](evt.Data)
	if !ok {
		return
	}
	parentCtx := l.parentCtx(jobKey(evt.JobID))
	_, span := l.tracer.Start(parentCtx, "scribeflow.provider."+data.Provider,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("stt.provider", data.Provider),
			attribute.Int("stt.words", data.Words),
			attribute.Int("stt.audio_bytes", data.AudioBytes),
			attribute.Int64("stt.duration_ms", data.Elapsed.Milliseconds()),
		),
	)
	if errMsg != "" {
		span.SetStatus(codes.Error, errMsg)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (l *OTelEventListener) recordProviderFailure(evt *events.Event) {
	data, ok := asPtr[events.ProviderCallData](evt.Data)
	if !ok {
		return
	}
	errMsg := data.Error
	if errMsg == "" {
		errMsg = "provider call failed"
	}
	l.recordProviderCall(evt, errMsg)
}

// --- Live session ---

func (l *OTelEventListener) startLiveSession(evt *events.Event) {
	l.startSpan("", sessionKey(evt.SessionID), "scribeflow.session",
		trace.SpanKindServer,
		attribute.String("session.id", evt.SessionID),
		attribute.String("user.id", evt.UserID),
	)
}

func (l *OTelEventListener) finalizeLiveSession(evt *events.Event) {
	data, ok := asPtr[events.SessionData](evt.Data)
	if !ok {
		return
	}
	l.endSpan(sessionKey(evt.SessionID),
		attribute.Int("session.chunk_count", data.ChunkCount),
	)
}

// recordFinalTranscript attaches the finalization summary to the session root span.
func (l *OTelEventListener) recordFinalTranscript(evt *events.Event) {
	data, ok := asPtr[events.TranscriptFinalData](evt.Data)
	if !ok {
		return
	}
	l.mu.Lock()
	entry, ok := l.inflight[sessionKey(evt.SessionID)]
	if ok {
		entry.span.AddEvent("transcript.final", trace.WithAttributes(
			attribute.Int("transcript.word_count", data.WordCount),
			attribute.Float64("transcript.duration_s", data.DurationS),
		))
	}
	l.mu.Unlock()
}
