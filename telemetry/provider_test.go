package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestTracer(t *testing.T) {
	assert.NotNil(t, Tracer(nil), "nil provider falls back to the global tracer")
	assert.NotNil(t, Tracer(noop.NewTracerProvider()))
}

func TestSetupPropagation(t *testing.T) {
	orig := otel.GetTextMapPropagator()
	defer otel.SetTextMapPropagator(orig)

	SetupPropagation()

	prop := otel.GetTextMapPropagator()
	require.NotNil(t, prop)
	assert.Contains(t, prop.Fields(), "traceparent")
	assert.Contains(t, prop.Fields(), "X-Amzn-Trace-Id")
}

func TestNewTracerProvider(t *testing.T) {
	// The exporter connects lazily, so construction succeeds even against
	// an unreachable endpoint.
	tp, err := NewTracerProvider(t.Context(), "http://localhost:0/v1/traces", "scribeflow-test")
	require.NoError(t, err)
	defer func() { _ = tp.Shutdown(t.Context()) }()

	var _ trace.TracerProvider = tp
}
