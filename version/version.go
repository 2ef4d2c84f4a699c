// Package version provides build version information for the ScribeFlow
// platform. The variables are overridable at build time:
//
//	go build -ldflags "-X github.com/AuralStack/ScribeFlow/version.version=1.0.0"
package version

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
)

const (
	devVersion     = "dev"
	shortCommitLen = 7
)

// Build-time variables, set via -ldflags.
var (
	version   = devVersion
	gitCommit = ""
	buildDate = ""
)

// GetVersion returns the release version, falling back to the module
// version from build info when no ldflags override is present.
func GetVersion() string {
	if version != devVersion {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return devVersion
}

// vcsSetting returns one key from the embedded VCS build settings.
func vcsSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}

// commit prefers the ldflags value over the VCS stamp, shortened either way.
func commit() string {
	c := gitCommit
	if c == "" {
		c = vcsSetting("vcs.revision")
	}
	if len(c) > shortCommitLen {
		c = c[:shortCommitLen]
	}
	return c
}

// GetVersionInfo returns the multi-line human-readable version block.
func GetVersionInfo() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ScribeFlow version %s", GetVersion())
	if c := commit(); c != "" {
		fmt.Fprintf(&b, "\ncommit: %s", c)
	}
	if buildDate != "" {
		fmt.Fprintf(&b, "\nbuilt: %s", buildDate)
	}
	return b.String()
}

// GetBuildInfo returns version details as slog attributes for startup logs.
func GetBuildInfo() []any {
	attrs := []any{"version", GetVersion()}
	if c := commit(); c != "" {
		attrs = append(attrs, "commit", c)
	}
	if gitCommit == "" && vcsSetting("vcs.modified") == "true" {
		attrs = append(attrs, "dirty", true)
	}
	if buildDate != "" {
		attrs = append(attrs, "built", buildDate)
	}
	return attrs
}

// LogStartup logs the build info, but only when LOG_LEVEL asks for debug
// output so production startup stays quiet.
func LogStartup() {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug", "trace":
	default:
		return
	}
	slog.Log(context.Background(), slog.LevelDebug, "ScribeFlow starting", GetBuildInfo()...)
}
