// Package logger provides structured logging with automatic credential
// redaction.
//
// This package wraps Go's standard log/slog with convenience functions for:
//   - STT provider call logging (requests, responses, errors)
//   - Pipeline stage transition logging
//   - Automatic API key, token, and signed-URL redaction
//   - Contextual logging with request tracing
//   - Level-based verbosity control
//
// All exported functions use the global DefaultLogger which can be configured
// for different output formats and log levels.
package logger

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"
)

var (
	// DefaultLogger is the global structured logger instance.
	// It is safe for concurrent use and initialized with slog.LevelInfo by default.
	DefaultLogger *slog.Logger

	// logOutput is where handlers write. Tests swap it for a buffer.
	logOutput io.Writer = os.Stderr

	// customHandler is set via SetLogger and survives Configure calls.
	customHandler slog.Handler
)

func init() {
	level := slog.LevelInfo
	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		level = ParseLevel(envLevel)
	}

	// Initialize with text handler writing to stderr
	handler := slog.NewTextHandler(logOutput, &slog.HandlerOptions{
		Level: level,
	})
	DefaultLogger = slog.New(handler)
}

// ParseLevel converts a level name to a slog.Level. Unknown names fall
// back to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the logging level for all subsequent log operations.
// This is safe for concurrent use as it replaces the entire logger instance.
func SetLevel(level slog.Level) {
	handler := slog.NewTextHandler(logOutput, &slog.HandlerOptions{
		Level: level,
	})
	DefaultLogger = slog.New(handler)
}

// SetVerbose enables debug-level logging when verbose is true, otherwise sets info-level.
// This is a convenience wrapper around SetLevel for command-line verbose flags.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
	} else {
		SetLevel(slog.LevelInfo)
	}
}

// SetLogger installs a custom handler as the global logger. A handler
// installed this way is preserved across Configure calls.
func SetLogger(handler slog.Handler) {
	customHandler = handler
	DefaultLogger = slog.New(handler)
}

// Info logs an informational message with structured key-value attributes.
// Args should be provided in key-value pairs: key1, value1, key2, value2, ...
func Info(msg string, args ...any) {
	DefaultLogger.Info(msg, args...)
}

// InfoContext logs an informational message with context and structured attributes.
// The context can be used for request tracing and cancellation.
func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}

// Debug logs a debug-level message with structured attributes.
// Debug messages are only output when the log level is set to LevelDebug or lower.
func Debug(msg string, args ...any) {
	DefaultLogger.Debug(msg, args...)
}

// DebugContext logs a debug message with context and structured attributes.
func DebugContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.DebugContext(ctx, msg, args...)
}

// Warn logs a warning message with structured attributes.
// Use for recoverable errors or unexpected but non-critical situations.
func Warn(msg string, args ...any) {
	DefaultLogger.Warn(msg, args...)
}

// WarnContext logs a warning message with context and structured attributes.
func WarnContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.WarnContext(ctx, msg, args...)
}

// Error logs an error message with structured attributes.
// Use for errors that affect operation but don't cause complete failure.
func Error(msg string, args ...any) {
	DefaultLogger.Error(msg, args...)
}

// ErrorContext logs an error message with context and structured attributes.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.ErrorContext(ctx, msg, args...)
}

// ProviderCall logs an STT provider request with structured fields for
// observability. Additional attributes can be passed as key-value pairs
// after the required parameters.
func ProviderCall(provider, op string, audioBytes int, attrs ...any) {
	allAttrs := make([]any, 0, 6+len(attrs))
	allAttrs = append(allAttrs,
		"provider", provider,
		"op", op,
		"audio_bytes", audioBytes,
	)
	allAttrs = append(allAttrs, attrs...)
	Info("🎙️ STT Provider Call", allAttrs...)
}

// ProviderResponse logs an STT provider response with word count and
// latency for throughput tracking.
func ProviderResponse(provider, op string, words int, elapsed time.Duration, attrs ...any) {
	allAttrs := make([]any, 0, 8+len(attrs))
	allAttrs = append(allAttrs,
		"provider", provider,
		"op", op,
		"words", words,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	allAttrs = append(allAttrs, attrs...)
	Info("✅ STT Provider Response", allAttrs...)
}

// ProviderError logs an STT provider failure for debugging and monitoring.
func ProviderError(provider, op string, err error, attrs ...any) {
	allAttrs := make([]any, 0, 6+len(attrs))
	allAttrs = append(allAttrs,
		"provider", provider,
		"op", op,
		"error", err,
	)
	allAttrs = append(allAttrs, attrs...)
	Error("❌ STT Provider Call Failed", allAttrs...)
}

// StageTransition logs a batch pipeline stage change for a job.
func StageTransition(jobID, from, to string, attrs ...any) {
	allAttrs := make([]any, 0, 6+len(attrs))
	allAttrs = append(allAttrs,
		"job_id", jobID,
		"from_stage", from,
		"to_stage", to,
	)
	allAttrs = append(allAttrs, attrs...)
	Info("➡️ Stage Transition", allAttrs...)
}

// sensitiveHeaderNames lists headers whose values are credentials and are
// redacted wholesale, since a bare value carries no recognizable shape.
var sensitiveHeaderNames = map[string]bool{
	"authorization":              true,
	"api-key":                    true,
	"ocp-apim-subscription-key":  true,
	"x-amz-security-token":       true,
	"proxy-authorization":        true,
}

var (
	// sensitivePatterns contains compiled regular expressions for detecting
	// credentials in URLs, headers, and bodies before they reach a log line.
	sensitivePatterns = []*regexp.Regexp{
		regexp.MustCompile(`sk-[a-zA-Z0-9]{32,}`),                              // OpenAI-style API keys
		regexp.MustCompile(`Bearer\s+[a-zA-Z0-9_.-]+`),                         // Bearer tokens
		regexp.MustCompile(`(?i)(api-key|ocp-apim-subscription-key):\s*\S+`),   // Azure header values
		regexp.MustCompile(`X-Amz-Signature=[0-9a-fA-F]+`),                     // S3 presigned URL signatures
		regexp.MustCompile(`X-Amz-Credential=[^&\s]+`),                         // S3 presigned URL credentials
		regexp.MustCompile(`(?i)([?&])sig=[a-zA-Z0-9%/+=]+`),                   // Azure SAS signatures
	}
)

// RedactSensitiveData removes API keys, tokens, and signed-URL parameters
// from strings. It replaces matched patterns with a redacted form that
// preserves the first few characters for debugging while hiding the
// sensitive portion.
//
// Supported patterns:
//   - OpenAI-style keys (sk-...): shows first 4 chars
//   - Bearer tokens: shows only "Bearer [REDACTED]"
//   - Azure api-key and subscription-key header values
//   - S3 presigned URL X-Amz-Signature and X-Amz-Credential parameters
//   - Azure SAS sig= query parameters
//
// This function is safe for concurrent use as it only reads from the
// compiled patterns.
func RedactSensitiveData(input string) string {
	result := input

	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			switch {
			case strings.HasPrefix(match, "Bearer "):
				return "Bearer [REDACTED]"
			case strings.HasPrefix(match, "X-Amz-Signature="):
				return "X-Amz-Signature=[REDACTED]"
			case strings.HasPrefix(match, "X-Amz-Credential="):
				return "X-Amz-Credential=[REDACTED]"
			}
			if idx := strings.Index(match, "sig="); idx != -1 {
				return match[:idx] + "sig=[REDACTED]"
			}
			if idx := strings.Index(match, ":"); idx != -1 {
				return match[:idx+1] + " [REDACTED]"
			}
			// Show first 4 characters for debugging context
			if len(match) > 8 {
				return match[:4] + "...[REDACTED]"
			}
			return "[REDACTED]"
		})
	}

	return result
}

// APIRequest logs HTTP API request details at debug level with automatic
// credential redaction. This function is a no-op when debug logging is
// disabled for performance.
//
// Parameters:
//   - provider: The API provider name (e.g., "whisper", "azure")
//   - method: HTTP method (GET, POST, etc.)
//   - url: Request URL (will be redacted for sensitive data)
//   - headers: HTTP headers map (will be redacted)
//   - body: Request body (will be marshaled to JSON and redacted)
func APIRequest(provider, method, url string, headers map[string]string, body interface{}) {
	// Early return if debug logging is disabled for performance
	if !DefaultLogger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}

	attrs := make([]any, 0, 8)
	attrs = append(attrs,
		"provider", provider,
		"method", method,
		"url", RedactSensitiveData(url),
	)

	if len(headers) > 0 {
		redactedHeaders := make(map[string]string, len(headers))
		for key, value := range headers {
			if sensitiveHeaderNames[strings.ToLower(key)] {
				redactedHeaders[key] = "[REDACTED]"
				continue
			}
			redactedHeaders[key] = RedactSensitiveData(value)
		}
		attrs = append(attrs, "headers", redactedHeaders)
	}

	if body != nil {
		bodyJSON, err := json.Marshal(body)
		if err != nil {
			attrs = append(attrs, "body_error", err.Error())
		} else {
			attrs = append(attrs, "body", RedactSensitiveData(string(bodyJSON)))
		}
	}

	Debug("🔵 API Request", attrs...)
}

// APIResponse logs HTTP API response details at debug level with automatic
// credential redaction. This function is a no-op when debug logging is
// disabled for performance.
//
// Parameters:
//   - provider: The API provider name
//   - statusCode: HTTP status code
//   - body: Response body as string (will be redacted)
//   - err: Error if the request failed (takes precedence over body logging)
//
// Status codes are logged with emoji indicators: 🟢 (2xx), 🟡 (3xx), 🔴 (4xx/5xx).
func APIResponse(provider string, statusCode int, body string, err error) {
	// Early return if debug logging is disabled for performance
	if !DefaultLogger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}

	attrs := make([]any, 0, 6)
	attrs = append(attrs,
		"provider", provider,
		"status_code", statusCode,
	)

	// Log errors at error level
	if err != nil {
		attrs = append(attrs, "error", err.Error())
		Error("🔴 API Response Error", attrs...)
		return
	}

	var emoji string
	switch {
	case statusCode >= 200 && statusCode < 300:
		emoji = "🟢"
	case statusCode >= 400:
		emoji = "🔴"
	default:
		emoji = "🟡"
	}

	if body != "" {
		attrs = append(attrs, "body", RedactSensitiveData(body))
	}

	Debug(emoji+" API Response", attrs...)
}
