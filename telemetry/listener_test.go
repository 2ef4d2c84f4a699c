package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/AuralStack/ScribeFlow/events"
	"github.com/AuralStack/ScribeFlow/types"
)

// newTestListener returns a listener, in-memory exporter, and TracerProvider for tests.
func newTestListener(t *testing.T) (*OTelEventListener, *tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	tracer := tp.Tracer(InstrumentationName)
	listener := NewOTelEventListener(tracer)
	return listener, exp, tp
}

// flushAndGetSpans forces span export and returns spans.
// ForceFlush ensures all ended spans are exported; we read them before Shutdown
// because InMemoryExporter.Shutdown resets the buffer.
func flushAndGetSpans(t *testing.T, tp *sdktrace.TracerProvider, exp *tracetest.InMemoryExporter) tracetest.SpanStubs {
	t.Helper()
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	spans := exp.GetSpans()
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	return spans
}

// findSpan finds a span by name in the stubs or fails.
func findSpan(t *testing.T, spans tracetest.SpanStubs, name string) tracetest.SpanStub {
	t.Helper()
	for _, s := range spans {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("span %q not found in %d spans", name, len(spans))
	return tracetest.SpanStub{}
}

// hasAttr checks if a span has an attribute with the given key and string value.
func hasAttr(span tracetest.SpanStub, key, want string) bool {
	for _, a := range span.Attributes {
		if string(a.Key) == key && a.Value.AsString() == want {
			return true
		}
	}
	return false
}

func TestOTelEventListener_JobLifecycle(t *testing.T) {
	listener, exp, tp := newTestListener(t)
	now := time.Now()

	listener.OnEvent(&events.Event{
		Type: events.EventJobQueued, Timestamp: now,
		JobID: "job-1", UserID: "user-1",
	})
	listener.OnEvent(&events.Event{
		Type: events.EventJobStageStarted, Timestamp: now,
		JobID: "job-1",
		Data:  &events.JobStageData{Stage: types.StageValidating},
	})
	listener.OnEvent(&events.Event{
		Type: events.EventJobStageCompleted, Timestamp: now.Add(time.Second),
		JobID: "job-1",
		Data:  &events.JobStageData{Stage: types.StageValidating, Elapsed: time.Second},
	})
	listener.OnEvent(&events.Event{
		Type: events.EventJobCompleted, Timestamp: now.Add(2 * time.Second),
		JobID: "job-1",
		Data:  &events.JobTerminalData{Status: types.JobStatusComplete, WordCount: 42, DurationS: 60},
	})

	spans := flushAndGetSpans(t, tp, exp)

	jobSpan := findSpan(t, spans, "scribeflow.job")
	if jobSpan.Status.Code != codes.Ok {
		t.Errorf("expected Ok status, got %v", jobSpan.Status.Code)
	}
	if !hasAttr(jobSpan, "job.id", "job-1") {
		t.Error("expected job.id attribute")
	}

	stageSpan := findSpan(t, spans, "scribeflow.stage.validating")
	if stageSpan.Parent.SpanID() != jobSpan.SpanContext.SpanID() {
		t.Error("stage span should be child of job span")
	}
}

func TestOTelEventListener_JobFailed(t *testing.T) {
	listener, exp, tp := newTestListener(t)

	listener.OnEvent(&events.Event{
		Type:  events.EventJobQueued,
		JobID: "job-1",
	})
	listener.OnEvent(&events.Event{
		Type:  events.EventJobFailed,
		JobID: "job-1",
		Data: &events.JobTerminalData{
			Status:       types.JobStatusFailed,
			ErrorCode:    "unsupported_media_type",
			ErrorMessage: "container not supported",
		},
	})

	spans := flushAndGetSpans(t, tp, exp)
	jobSpan := findSpan(t, spans, "scribeflow.job")
	if jobSpan.Status.Code != codes.Error {
		t.Errorf("expected Error status, got %v", jobSpan.Status.Code)
	}
	if !hasAttr(jobSpan, "job.error_code", "unsupported_media_type") {
		t.Error("expected job.error_code attribute")
	}
}

func TestOTelEventListener_OutOfOrderStage(t *testing.T) {
	listener, exp, tp := newTestListener(t)

	// Completion arrives before start; the listener buffers it.
	listener.OnEvent(&events.Event{
		Type:  events.EventJobStageCompleted,
		JobID: "job-1",
		Data:  &events.JobStageData{Stage: types.StageTranscribing, Elapsed: 3 * time.Second},
	})
	listener.OnEvent(&events.Event{
		Type:  events.EventJobStageStarted,
		JobID: "job-1",
		Data:  &events.JobStageData{Stage: types.StageTranscribing},
	})

	spans := flushAndGetSpans(t, tp, exp)
	stageSpan := findSpan(t, spans, "scribeflow.stage.transcribing")
	if stageSpan.Status.Code != codes.Ok {
		t.Errorf("expected Ok status, got %v", stageSpan.Status.Code)
	}
}

func TestOTelEventListener_ProviderCallSpans(t *testing.T) {
	listener, exp, tp := newTestListener(t)

	listener.OnEvent(&events.Event{
		Type:  events.EventJobQueued,
		JobID: "job-1",
	})
	listener.OnEvent(&events.Event{
		Type:  events.EventProviderCallCompleted,
		JobID: "job-1",
		Data: &events.ProviderCallData{
			Provider: "whisper", Words: 12, AudioBytes: 64000, Elapsed: 2 * time.Second,
		},
	})
	listener.OnEvent(&events.Event{
		Type:  events.EventProviderCallFailed,
		JobID: "job-1",
		Data: &events.ProviderCallData{
			Provider: "whisper", Error: "stt_timeout", Elapsed: 30 * time.Second,
		},
	})
	listener.OnEvent(&events.Event{
		Type:  events.EventJobCancelled,
		JobID: "job-1",
		Data:  &events.JobTerminalData{Status: types.JobStatusCancelled},
	})

	spans := flushAndGetSpans(t, tp, exp)

	jobSpan := findSpan(t, spans, "scribeflow.job")
	var ok, failed int
	for _, s := range spans {
		if s.Name != "scribeflow.provider.whisper" {
			continue
		}
		if s.Parent.SpanID() != jobSpan.SpanContext.SpanID() {
			t.Error("provider span should be child of job span")
		}
		switch s.Status.Code {
		case codes.Ok:
			ok++
		case codes.Error:
			failed++
		}
	}
	if ok != 1 || failed != 1 {
		t.Errorf("expected 1 ok and 1 failed provider span, got %d/%d", ok, failed)
	}
}

func TestOTelEventListener_LiveSession(t *testing.T) {
	listener, exp, tp := newTestListener(t)

	listener.OnEvent(&events.Event{
		Type:      events.EventSessionStarted,
		SessionID: "sess-1", UserID: "user-1",
		Data: &events.SessionData{},
	})
	listener.OnEvent(&events.Event{
		Type:      events.EventTranscriptFinal,
		SessionID: "sess-1",
		Data:      &events.TranscriptFinalData{WordCount: 20, DurationS: 12.5},
	})
	listener.OnEvent(&events.Event{
		Type:      events.EventSessionFinalized,
		SessionID: "sess-1",
		Data:      &events.SessionData{ChunkCount: 5},
	})

	spans := flushAndGetSpans(t, tp, exp)
	sessionSpan := findSpan(t, spans, "scribeflow.session")
	if !hasAttr(sessionSpan, "session.id", "sess-1") {
		t.Error("expected session.id attribute")
	}
	if len(sessionSpan.Events) != 1 || sessionSpan.Events[0].Name != "transcript.final" {
		t.Errorf("expected transcript.final span event, got %v", sessionSpan.Events)
	}
}

func TestOTelEventListener_IgnoresUnknownData(t *testing.T) {
	listener, exp, tp := newTestListener(t)

	// Wrong payload types should be ignored, not panic.
	listener.OnEvent(&events.Event{Type: events.EventJobStageStarted, JobID: "job-1"})
	listener.OnEvent(&events.Event{Type: events.EventJobCompleted, JobID: "job-1"})
	listener.OnEvent(&events.Event{Type: events.EventSessionFinalized, SessionID: "sess-1"})

	spans := flushAndGetSpans(t, tp, exp)
	if len(spans) != 0 {
		t.Errorf("expected no spans, got %d", len(spans))
	}
}
