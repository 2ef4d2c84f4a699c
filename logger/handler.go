package logger

import (
	"context"
	"log/slog"
	"runtime"
	"strings"
)

// ContextHandler is a slog.Handler that automatically extracts logging fields
// from context and adds them to log records. It wraps an inner handler and
// delegates all actual logging to it after enriching records with context data.
type ContextHandler struct {
	inner        slog.Handler
	commonFields []slog.Attr
}

// ComponentHandler extends ContextHandler with per-component log level
// filtering. It determines the component name from the call stack and applies
// the appropriate log level from the component configuration.
type ComponentHandler struct {
	ContextHandler
	componentConfig *ComponentConfig
}

// NewContextHandler creates a new ContextHandler wrapping the given handler.
// The commonFields are added to every log record (useful for environment, service name, etc.).
func NewContextHandler(inner slog.Handler, commonFields ...slog.Attr) *ContextHandler {
	return &ContextHandler{
		inner:        inner,
		commonFields: commonFields,
	}
}

// Enabled reports whether the handler handles records at the given level.
// It delegates to the inner handler.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle processes the log record by extracting context fields and adding them
// to the record before delegating to the inner handler.
//
//nolint:gocritic // slog.Record is passed by value per slog.Handler interface contract
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	newRecord := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)

	// Add common fields first (lowest priority, can be overridden)
	for _, attr := range h.commonFields {
		newRecord.AddAttrs(attr)
	}

	h.addContextFields(ctx, &newRecord)

	// Add original attributes (highest priority)
	r.Attrs(func(a slog.Attr) bool {
		newRecord.AddAttrs(a)
		return true
	})

	return h.inner.Handle(ctx, newRecord)
}

// addContextFields extracts all known context keys and adds them as attributes.
func (h *ContextHandler) addContextFields(ctx context.Context, r *slog.Record) {
	for _, key := range allContextKeys {
		if v := ctx.Value(key); v != nil {
			if s, ok := v.(string); ok && s != "" {
				r.AddAttrs(slog.String(string(key), s))
			}
		}
	}
}

// WithAttrs returns a new handler with the given attributes added.
// The attributes are added to the inner handler.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{
		inner:        h.inner.WithAttrs(attrs),
		commonFields: h.commonFields,
	}
}

// WithGroup returns a new handler with the given group name.
// The group is added to the inner handler.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{
		inner:        h.inner.WithGroup(name),
		commonFields: h.commonFields,
	}
}

// Unwrap returns the inner handler. This is useful for handler chains
// that need to inspect or replace the underlying handler.
func (h *ContextHandler) Unwrap() slog.Handler {
	return h.inner
}

// compile-time check that ContextHandler implements slog.Handler
var _ slog.Handler = (*ContextHandler)(nil)

// NewComponentHandler creates a new ComponentHandler with per-component log
// level filtering.
func NewComponentHandler(inner slog.Handler, componentConfig *ComponentConfig, commonFields ...slog.Attr) *ComponentHandler {
	return &ComponentHandler{
		ContextHandler: ContextHandler{
			inner:        inner,
			commonFields: commonFields,
		},
		componentConfig: componentConfig,
	}
}

// Enabled reports whether the handler handles records at the given level.
// It uses the component configuration to determine the level for the calling
// component.
func (h *ComponentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	component := getCallerComponent()
	componentLevel := h.componentConfig.LevelFor(component)
	return level >= componentLevel
}

// Handle processes the log record, adding the component name as an attribute.
//
//nolint:gocritic // slog.Record is passed by value per slog.Handler interface contract
func (h *ComponentHandler) Handle(ctx context.Context, r slog.Record) error {
	component := getCallerComponentFromPC(r.PC)
	componentLevel := h.componentConfig.LevelFor(component)
	if r.Level < componentLevel {
		return nil
	}

	newRecord := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)

	// Add common fields first (lowest priority, can be overridden)
	for _, attr := range h.commonFields {
		newRecord.AddAttrs(attr)
	}

	if component != "" {
		newRecord.AddAttrs(slog.String("logger", component))
	}

	h.addContextFields(ctx, &newRecord)

	// Add original attributes (highest priority)
	r.Attrs(func(a slog.Attr) bool {
		newRecord.AddAttrs(a)
		return true
	})

	return h.inner.Handle(ctx, newRecord)
}

// WithAttrs returns a new handler with the given attributes added.
func (h *ComponentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ComponentHandler{
		ContextHandler: ContextHandler{
			inner:        h.inner.WithAttrs(attrs),
			commonFields: h.commonFields,
		},
		componentConfig: h.componentConfig,
	}
}

// WithGroup returns a new handler with the given group name.
func (h *ComponentHandler) WithGroup(name string) slog.Handler {
	return &ComponentHandler{
		ContextHandler: ContextHandler{
			inner:        h.inner.WithGroup(name),
			commonFields: h.commonFields,
		},
		componentConfig: h.componentConfig,
	}
}

// getCallerComponent returns the component name of the calling code.
// It walks up the stack to find the first frame outside the logger package.
func getCallerComponent() string {
	const maxDepth = 10
	var pcs [maxDepth]uintptr
	//nolint:mnd // 3 is the number of stack frames to skip (getCallerComponent, Enabled, slog)
	n := runtime.Callers(3, pcs[:])
	if n == 0 {
		return ""
	}

	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		component := extractComponentFromFunction(frame.Function)
		if component != "" && !strings.HasPrefix(component, "logger") {
			return component
		}
		if !more {
			break
		}
	}
	return ""
}

// getCallerComponentFromPC extracts the component name from a program counter.
func getCallerComponentFromPC(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	frame, _ := frames.Next()
	return extractComponentFromFunction(frame.Function)
}

// extractComponentFromFunction extracts a component name from a fully
// qualified function name. For example,
// "github.com/AuralStack/ScribeFlow/pipeline.(*Runner).Run" becomes "pipeline".
func extractComponentFromFunction(fn string) string {
	if fn == "" {
		return ""
	}

	const moduleRoot = "github.com/AuralStack/ScribeFlow/"
	idx := strings.Index(fn, moduleRoot)
	if idx == -1 {
		// Not in our module
		return ""
	}

	path := fn[idx+len(moduleRoot):]

	// Strip the function name and any method receiver, e.g.
	// "pipeline.(*Runner).Run" -> "pipeline".
	if parenIdx := strings.Index(path, "("); parenIdx != -1 {
		path = path[:parenIdx]
	}
	if dotIdx := strings.LastIndex(path, "."); dotIdx != -1 {
		path = path[:dotIdx]
	}

	// Convert slashes to dots for hierarchical component names
	path = strings.ReplaceAll(path, "/", ".")

	return path
}

// compile-time check that ComponentHandler implements slog.Handler
var _ slog.Handler = (*ComponentHandler)(nil)
