package logger

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// ComponentConfig manages per-component logging configuration.
// It supports hierarchical component names where more specific components
// override less specific ones (e.g., "stt.whisper" overrides "stt").
type ComponentConfig struct {
	defaultLevel slog.Level
	components   map[string]slog.Level
	sortedKeys   []string // sorted by specificity (most specific first)
	mu           sync.RWMutex
}

// NewComponentConfig creates a new ComponentConfig with the given default level.
func NewComponentConfig(defaultLevel slog.Level) *ComponentConfig {
	return &ComponentConfig{
		defaultLevel: defaultLevel,
		components:   make(map[string]slog.Level),
	}
}

// SetComponentLevel sets the log level for a specific component.
// Component names use dot notation (e.g., "storage.s3").
func (c *ComponentConfig) SetComponentLevel(component string, level slog.Level) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.components[component] = level
	c.updateSortedKeys()
}

// SetDefaultLevel sets the default log level.
func (c *ComponentConfig) SetDefaultLevel(level slog.Level) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultLevel = level
}

// LevelFor returns the log level for the given component.
// It checks for exact match first, then walks up the hierarchy.
// For example, for "storage.s3.multipart":
//  1. Check "storage.s3.multipart" (exact match)
//  2. Check "storage.s3" (parent)
//  3. Check "storage" (grandparent)
//  4. Return default level
func (c *ComponentConfig) LevelFor(component string) slog.Level {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if level, ok := c.components[component]; ok {
		return level
	}

	// Walk up the hierarchy
	for {
		lastDot := strings.LastIndex(component, ".")
		if lastDot == -1 {
			break
		}
		component = component[:lastDot]
		if level, ok := c.components[component]; ok {
			return level
		}
	}

	return c.defaultLevel
}

// updateSortedKeys updates the sorted keys list.
// Keys are sorted by specificity (number of dots) in descending order.
// Must be called with lock held.
func (c *ComponentConfig) updateSortedKeys() {
	c.sortedKeys = make([]string, 0, len(c.components))
	for k := range c.components {
		c.sortedKeys = append(c.sortedKeys, k)
	}
	// Sort by number of dots (more specific first)
	sort.Slice(c.sortedKeys, func(i, j int) bool {
		dotsI := strings.Count(c.sortedKeys[i], ".")
		dotsJ := strings.Count(c.sortedKeys[j], ".")
		if dotsI != dotsJ {
			return dotsI > dotsJ
		}
		return c.sortedKeys[i] < c.sortedKeys[j]
	})
}

// globalComponentConfig is the global component configuration.
var globalComponentConfig = NewComponentConfig(slog.LevelInfo)

// LoggingSpec defines the logging configuration for the Configure function.
// This mirrors config.LoggingSpec to avoid import cycles.
type LoggingSpec struct {
	DefaultLevel string
	Format       string // "json" or "text"
	CommonFields map[string]string
	Components   []ComponentLoggingSpec
}

// ComponentLoggingSpec configures logging for a specific component.
type ComponentLoggingSpec struct {
	Name  string
	Level string
}

// Log format constants
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Configure applies a LoggingSpec to the global logger.
// This reconfigures the logger with the new settings.
func Configure(cfg *LoggingSpec) error {
	if cfg == nil {
		return nil
	}

	// If a custom logger was set via SetLogger(), preserve it.
	if customHandler != nil {
		return nil
	}

	defaultLevel := slog.LevelInfo
	if cfg.DefaultLevel != "" {
		defaultLevel = ParseLevel(cfg.DefaultLevel)
	}

	var commonFields []slog.Attr
	for k, v := range cfg.CommonFields {
		commonFields = append(commonFields, slog.String(k, v))
	}

	componentConfig := NewComponentConfig(defaultLevel)
	for _, comp := range cfg.Components {
		componentConfig.SetComponentLevel(comp.Name, ParseLevel(comp.Level))
	}

	globalComponentConfig = componentConfig

	useJSON := cfg.Format == FormatJSON
	initLoggerWithConfig(defaultLevel, commonFields, componentConfig, useJSON)

	return nil
}

// initLoggerWithConfig creates the logger with full configuration.
func initLoggerWithConfig(level slog.Level, commonFields []slog.Attr, componentConfig *ComponentConfig, useJSON bool) {
	var baseHandler slog.Handler
	opts := &slog.HandlerOptions{
		Level: level,
	}

	if useJSON {
		baseHandler = slog.NewJSONHandler(logOutput, opts)
	} else {
		baseHandler = slog.NewTextHandler(logOutput, opts)
	}

	// Wrap with component-aware handler only when per-component levels exist
	var handler slog.Handler
	if componentConfig != nil && len(componentConfig.components) > 0 {
		handler = NewComponentHandler(baseHandler, componentConfig, commonFields...)
	} else {
		handler = NewContextHandler(baseHandler, commonFields...)
	}

	DefaultLogger = slog.New(handler)
	slog.SetDefault(DefaultLogger)
}

// GetComponentConfig returns the global component configuration.
// This is primarily for testing.
func GetComponentConfig() *ComponentConfig {
	return globalComponentConfig
}
