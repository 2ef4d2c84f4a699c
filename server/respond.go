package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/logger"
	"github.com/AuralStack/ScribeFlow/ratelimit"
	"github.com/AuralStack/ScribeFlow/types"
)

// statusOf maps a fault kind to its HTTP status code.
func statusOf(kind fault.Kind) int {
	switch kind {
	case fault.KindInvalidInput:
		return http.StatusBadRequest
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindForbidden:
		return http.StatusForbidden
	case fault.KindIntegrityMismatch, fault.KindProviderBadMedia:
		return http.StatusUnprocessableEntity
	case fault.KindRateLimited:
		return http.StatusTooManyRequests
	case fault.KindProviderUnavailable:
		return http.StatusBadGateway
	case fault.KindTimeout:
		return http.StatusGatewayTimeout
	case fault.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders an error as the uniform envelope. Fault messages
// are caller-safe by construction; anything else collapses to a generic
// internal error so no path, key, or credential can leak.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var fe *fault.Error
	if !errors.As(err, &fe) {
		logger.ErrorContext(r.Context(), "unhandled error",
			"method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, types.ErrorResponse{
			Error: "internal error",
			Code:  "internal",
		})
		return
	}

	status := statusOf(fe.Kind)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path,
			"kind", string(fe.Kind), "code", fe.Code, "error", err)
	}

	resp := types.ErrorResponse{Error: fe.Message, Code: fe.Code}
	var qe *ratelimit.QuotaExceededError
	if errors.As(err, &qe) {
		resp.Violations = qe.Violations
		remaining := qe.Remaining
		resp.Remaining = &remaining
	}
	if ra := fault.RetryAfterOf(err); ra > 0 {
		secs := int(ra.Seconds())
		if secs < 1 {
			secs = 1
		}
		resp.RetryAfter = secs
	}
	writeJSON(w, status, resp)
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v
// at its zero value so optional request bodies stay optional.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fault.InvalidInput("bad_request_body", "request body is not valid JSON")
	}
	return nil
}
