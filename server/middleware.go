package server

import (
	"context"
	"net/http"

	"github.com/AuralStack/ScribeFlow/logger"
	"github.com/AuralStack/ScribeFlow/metrics/prometheus"
	"github.com/AuralStack/ScribeFlow/ratelimit"
	"github.com/AuralStack/ScribeFlow/types"
)

// userIDHeader carries the caller identity. Authentication itself lives
// at the gateway; this surface only needs the resolved user ID.
const userIDHeader = "X-User-ID"

type ctxKey int

const userIDKey ctxKey = iota

// userID returns the caller identity stored by the auth middleware.
func userID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// authenticated requires the X-User-ID header and stores it on the
// request context.
func (s *Server) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(userIDHeader)
		if id == "" {
			writeJSON(w, http.StatusUnauthorized, types.ErrorResponse{
				Error: "missing " + userIDHeader + " header",
				Code:  "unauthenticated",
			})
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, id)))
	})
}

// route wraps a handler with authentication and a per-class rate-limit
// check.
func (s *Server) route(class ratelimit.Class, next http.HandlerFunc) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request) {
		res, err := s.deps.Limiter.Check(r.Context(), userID(r.Context()), class, 1)
		if err != nil {
			// Limiter backend trouble fails open; the quota layer
			// still guards the expensive paths.
			logger.WarnContext(r.Context(), "rate limit check failed",
				"class", string(class), "error", err)
		} else if !res.Allowed {
			prometheus.RecordRateLimitRejection(string(class))
			secs := int(res.RetryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			writeJSON(w, http.StatusTooManyRequests, types.ErrorResponse{
				Error:      "rate limit exceeded",
				Code:       "rate_limited",
				RetryAfter: secs,
			})
			return
		}
		if s.deps.Quota != nil {
			if err := s.deps.Quota.RecordAPICall(r.Context(), userID(r.Context())); err != nil {
				logger.DebugContext(r.Context(), "failed to record api call",
					"class", string(class), "error", err)
			}
		}
		next(w, r)
	})
}
