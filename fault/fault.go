// Package fault defines the error taxonomy shared by all ScribeFlow
// components. Every error that crosses a package boundary is classified
// into a Kind so that transport layers can map it to a status code and
// retry loops can decide whether another attempt is worthwhile.
//
// Messages carried by an Error are safe to show to API callers: they
// must never contain filesystem paths, storage keys, provider
// credentials, or stack traces. Internal detail belongs in Cause, which
// is logged but never serialized.
package fault

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error into one of the stable categories understood
// by every transport and retry policy in the system.
type Kind string

const (
	// KindInvalidInput marks requests that are malformed or violate a
	// documented precondition. Never retryable.
	KindInvalidInput Kind = "invalid_input"

	// KindNotFound marks lookups for sessions, jobs, or artifacts that
	// do not exist or have been deleted.
	KindNotFound Kind = "not_found"

	// KindForbidden marks operations the caller is not allowed to
	// perform, such as touching another user's job.
	KindForbidden Kind = "forbidden"

	// KindIntegrityMismatch marks checksum or size verification
	// failures on assembled uploads.
	KindIntegrityMismatch Kind = "integrity_mismatch"

	// KindRateLimited marks requests rejected by a quota. RetryAfter
	// carries the wait hint when one is known.
	KindRateLimited Kind = "rate_limited"

	// KindProviderUnavailable marks transient upstream STT failures
	// (5xx responses, connection errors). Retryable.
	KindProviderUnavailable Kind = "provider_unavailable"

	// KindProviderBadMedia marks media the upstream provider rejected
	// as undecodable. Retrying the same bytes cannot succeed.
	KindProviderBadMedia Kind = "provider_bad_media"

	// KindTimeout marks operations that exceeded their deadline.
	KindTimeout Kind = "timeout"

	// KindUnavailable marks local subsystems that are temporarily
	// unable to serve, such as a full work queue.
	KindUnavailable Kind = "unavailable"

	// KindInternal is the fallback for unexpected failures. Unknown
	// errors are reported as internal rather than leaking detail.
	KindInternal Kind = "internal"
)

// retryableKinds lists the kinds for which another attempt may succeed
// without the caller changing anything about the request.
var retryableKinds = map[Kind]bool{
	KindRateLimited:         true,
	KindProviderUnavailable: true,
	KindTimeout:             true,
	KindUnavailable:         true,
}

// Error is the structured error carried across package boundaries.
type Error struct {
	// Kind is the taxonomy category.
	Kind Kind

	// Code is a stable machine-readable identifier for the specific
	// failure, e.g. "session_expired" or "chunk_too_large".
	Code string

	// Message is a human-readable description safe for API responses.
	Message string

	// Cause is the underlying error, if any. It is never serialized.
	Cause error

	// Retryable indicates whether the same request can be retried.
	Retryable bool

	// RetryAfter is an optional wait hint for rate-limited requests.
	RetryAfter time.Duration
}

// New creates an Error of the given kind. Retryability defaults from
// the kind and can be adjusted with WithRetryable.
func New(kind Kind, code, message string) *Error {
	return &Error{
		Kind:      kind,
		Code:      code,
		Message:   message,
		Retryable: retryableKinds[kind],
	}
}

// Wrap creates an Error of the given kind with an underlying cause.
func Wrap(kind Kind, code, message string, cause error) *Error {
	e := New(kind, code, message)
	e.Cause = cause
	return e
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, code, format string, args ...any) *Error {
	return New(kind, code, fmt.Sprintf(format, args...))
}

// WithRetryable overrides the retryability derived from the kind.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithRetryAfter attaches a wait hint, typically from a rate limiter
// or an upstream Retry-After header.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements error matching for errors.Is. Two Errors match when
// their kinds agree and the target's code is empty or equal, so
// callers can test against a bare New(KindNotFound, "", "") probe.
func (e *Error) Is(target error) bool {
	if e.Cause != nil && errors.Is(e.Cause, target) {
		return true
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

// InvalidInput creates an invalid-input error.
func InvalidInput(code, message string) *Error {
	return New(KindInvalidInput, code, message)
}

// NotFound creates a not-found error.
func NotFound(code, message string) *Error {
	return New(KindNotFound, code, message)
}

// Forbidden creates a forbidden error.
func Forbidden(code, message string) *Error {
	return New(KindForbidden, code, message)
}

// IntegrityMismatch creates an integrity-mismatch error.
func IntegrityMismatch(code, message string) *Error {
	return New(KindIntegrityMismatch, code, message)
}

// RateLimited creates a rate-limited error with a wait hint.
func RateLimited(code, message string, retryAfter time.Duration) *Error {
	return New(KindRateLimited, code, message).WithRetryAfter(retryAfter)
}

// ProviderUnavailable creates a transient provider error.
func ProviderUnavailable(code, message string, cause error) *Error {
	return Wrap(KindProviderUnavailable, code, message, cause)
}

// ProviderBadMedia creates a permanent bad-media provider error.
func ProviderBadMedia(code, message string, cause error) *Error {
	return Wrap(KindProviderBadMedia, code, message, cause)
}

// Timeout creates a timeout error.
func Timeout(code, message string, cause error) *Error {
	return Wrap(KindTimeout, code, message, cause)
}

// Unavailable creates a local-unavailability error.
func Unavailable(code, message string) *Error {
	return New(KindUnavailable, code, message)
}

// Internal creates an internal error. The message should stay generic;
// put the real detail in cause.
func Internal(message string, cause error) *Error {
	return Wrap(KindInternal, "", message, cause)
}

// KindOf extracts the Kind from an error chain. Errors that carry no
// classification report KindInternal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// CodeOf extracts the machine-readable code from an error chain, or ""
// when the error is unclassified.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsKind reports whether the error chain contains an Error of the
// given kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// IsRetryable reports whether another attempt at the failed operation
// may succeed. Unclassified errors are treated as non-retryable.
func IsRetryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// RetryAfterOf extracts the wait hint from an error chain, or zero.
func RetryAfterOf(err error) time.Duration {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.RetryAfter
	}
	return 0
}
