package telemetry

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/AuralStack/ScribeFlow/logger"
)

// requestIDHeader carries the client-supplied request identifier; when
// absent the middleware mints one and echoes it back.
const requestIDHeader = "X-Request-ID"

type traceContextKey struct{}

// traceparentRe matches the W3C traceparent format:
// version-trace_id-parent_id-trace_flags.
var traceparentRe = regexp.MustCompile(`^[0-9a-f]{2}-[0-9a-f]{32}-[0-9a-f]{16}-[0-9a-f]{2}$`)

// TraceContext carries the distributed-trace headers of an inbound request
// so outbound provider calls can join the caller's trace.
type TraceContext struct {
	Traceparent string
	Tracestate  string
	XRayTraceID string
}

// IsEmpty reports whether no trace data is present.
func (tc TraceContext) IsEmpty() bool {
	return tc.Traceparent == "" && tc.Tracestate == "" && tc.XRayTraceID == ""
}

// ExtractTraceContext reads trace headers from an inbound request.
// A malformed traceparent is dropped rather than propagated downstream.
func ExtractTraceContext(r *http.Request) TraceContext {
	tc := TraceContext{
		Tracestate:  r.Header.Get("tracestate"),
		XRayTraceID: r.Header.Get("X-Amzn-Trace-Id"),
	}
	if tp := r.Header.Get("traceparent"); traceparentRe.MatchString(tp) {
		tc.Traceparent = tp
	}
	return tc
}

// ContextWithTrace stores a TraceContext on the context.
func ContextWithTrace(ctx context.Context, tc TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, tc)
}

// TraceContextFromContext returns the stored TraceContext, zero when none.
func TraceContextFromContext(ctx context.Context) TraceContext {
	tc, _ := ctx.Value(traceContextKey{}).(TraceContext)
	return tc
}

// TraceMiddleware gives every request an ID, stamps it into the logging
// context, and keeps inbound trace headers available for outbound
// propagation. The request ID is echoed in the response.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := logger.WithRequestID(r.Context(), reqID)
		if tc := ExtractTraceContext(r); !tc.IsEmpty() {
			ctx = ContextWithTrace(ctx, tc)
		}
		w.Header().Set(requestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// InjectTraceHeaders copies trace headers from the context onto an
// outbound request. No-op when the context carries no trace data.
func InjectTraceHeaders(ctx context.Context, req *http.Request) {
	tc := TraceContextFromContext(ctx)
	if tc.IsEmpty() {
		return
	}
	if tc.Traceparent != "" {
		req.Header.Set("traceparent", tc.Traceparent)
	}
	if tc.Tracestate != "" {
		req.Header.Set("tracestate", tc.Tracestate)
	}
	if tc.XRayTraceID != "" {
		req.Header.Set("X-Amzn-Trace-Id", tc.XRayTraceID)
	}
}
