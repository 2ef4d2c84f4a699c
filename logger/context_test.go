package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()

	ctx = WithRequestID(ctx, "req-123")
	ctx = WithSessionID(ctx, "sess-456")
	ctx = WithUploadID(ctx, "upl-789")
	ctx = WithJobID(ctx, "job-abc")
	ctx = WithUserID(ctx, "user-def")
	ctx = WithStage(ctx, "transcribing")
	ctx = WithProvider(ctx, "whisper")
	ctx = WithCorrelationID(ctx, "corr-xyz")
	ctx = WithEnvironment(ctx, "production")

	if v := ctx.Value(ContextKeyRequestID); v != "req-123" {
		t.Errorf("RequestID: expected req-123, got %v", v)
	}
	if v := ctx.Value(ContextKeySessionID); v != "sess-456" {
		t.Errorf("SessionID: expected sess-456, got %v", v)
	}
	if v := ctx.Value(ContextKeyUploadID); v != "upl-789" {
		t.Errorf("UploadID: expected upl-789, got %v", v)
	}
	if v := ctx.Value(ContextKeyJobID); v != "job-abc" {
		t.Errorf("JobID: expected job-abc, got %v", v)
	}
	if v := ctx.Value(ContextKeyUserID); v != "user-def" {
		t.Errorf("UserID: expected user-def, got %v", v)
	}
	if v := ctx.Value(ContextKeyStage); v != "transcribing" {
		t.Errorf("Stage: expected transcribing, got %v", v)
	}
	if v := ctx.Value(ContextKeyProvider); v != "whisper" {
		t.Errorf("Provider: expected whisper, got %v", v)
	}
	if v := ctx.Value(ContextKeyCorrelationID); v != "corr-xyz" {
		t.Errorf("CorrelationID: expected corr-xyz, got %v", v)
	}
	if v := ctx.Value(ContextKeyEnvironment); v != "production" {
		t.Errorf("Environment: expected production, got %v", v)
	}
}

func TestWithLoggingContext(t *testing.T) {
	fields := &LoggingFields{
		RequestID: "req-1",
		JobID:     "job-2",
		Stage:     "merging",
	}

	ctx := WithLoggingContext(context.Background(), fields)

	if v := ctx.Value(ContextKeyRequestID); v != "req-1" {
		t.Errorf("RequestID: expected req-1, got %v", v)
	}
	if v := ctx.Value(ContextKeyJobID); v != "job-2" {
		t.Errorf("JobID: expected job-2, got %v", v)
	}
	if v := ctx.Value(ContextKeyStage); v != "merging" {
		t.Errorf("Stage: expected merging, got %v", v)
	}

	// Empty fields must not be set
	if v := ctx.Value(ContextKeySessionID); v != nil {
		t.Errorf("SessionID: expected nil, got %v", v)
	}
}

func TestWithLoggingContextNil(t *testing.T) {
	ctx := context.Background()
	if got := WithLoggingContext(ctx, nil); got != ctx {
		t.Error("nil fields should return the original context")
	}
}

func TestExtractLoggingFields(t *testing.T) {
	ctx := context.Background()
	ctx = WithSessionID(ctx, "sess-1")
	ctx = WithProvider(ctx, "azure")

	fields := ExtractLoggingFields(ctx)

	if fields.SessionID != "sess-1" {
		t.Errorf("SessionID: expected sess-1, got %q", fields.SessionID)
	}
	if fields.Provider != "azure" {
		t.Errorf("Provider: expected azure, got %q", fields.Provider)
	}
	if fields.JobID != "" {
		t.Errorf("JobID: expected empty, got %q", fields.JobID)
	}
}

func TestContextHandlerAddsContextFields(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := NewContextHandler(inner, slog.String("service", "scribeflow"))
	log := slog.New(handler)

	ctx := WithJobID(context.Background(), "job-77")
	ctx = WithStage(ctx, "diarizing")

	log.InfoContext(ctx, "stage complete", "segments", 4)

	out := buf.String()
	for _, want := range []string{
		`"job_id":"job-77"`,
		`"stage":"diarizing"`,
		`"service":"scribeflow"`,
		`"segments":4`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}

func TestContextHandlerSkipsEmptyValues(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	log := slog.New(NewContextHandler(inner))

	ctx := WithJobID(context.Background(), "")
	log.InfoContext(ctx, "no job attached")

	if strings.Contains(buf.String(), "job_id") {
		t.Errorf("empty context value should not be logged: %s", buf.String())
	}
}

func TestContextHandlerUnwrap(t *testing.T) {
	inner := slog.NewTextHandler(&bytes.Buffer{}, nil)
	handler := NewContextHandler(inner)

	if handler.Unwrap() != inner {
		t.Error("Unwrap should return the inner handler")
	}
}
