package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setBuildVars overrides the ldflags variables for one test.
func setBuildVars(t *testing.T, v, c, d string) {
	t.Helper()
	origV, origC, origD := version, gitCommit, buildDate
	t.Cleanup(func() { version, gitCommit, buildDate = origV, origC, origD })
	version, gitCommit, buildDate = v, c, d
}

func TestGetVersion(t *testing.T) {
	assert.NotEmpty(t, GetVersion())

	setBuildVars(t, "1.0.0", "", "")
	assert.Equal(t, "1.0.0", GetVersion())
}

func TestGetVersionInfo(t *testing.T) {
	assert.Contains(t, GetVersionInfo(), "ScribeFlow version")

	setBuildVars(t, "2.0.0", "def456", "2024-06-15")
	info := GetVersionInfo()
	assert.Contains(t, info, "2.0.0")
	assert.Contains(t, info, "def456")
	assert.Contains(t, info, "2024-06-15")
}

func TestGetBuildInfo(t *testing.T) {
	attrs := GetBuildInfo()
	require.GreaterOrEqual(t, len(attrs), 2)
	assert.Equal(t, "version", attrs[0])
}

func TestGetBuildInfo_WithLdflags(t *testing.T) {
	setBuildVars(t, "1.2.3", "abc123", "2024-01-01")

	attrs := GetBuildInfo()
	require.Zero(t, len(attrs)%2)
	got := make(map[string]any, len(attrs)/2)
	for i := 0; i < len(attrs); i += 2 {
		got[attrs[i].(string)] = attrs[i+1]
	}

	assert.Equal(t, "1.2.3", got["version"])
	assert.Equal(t, "abc123", got["commit"])
	assert.Equal(t, "2024-01-01", got["built"])
}

func TestCommitShortened(t *testing.T) {
	setBuildVars(t, devVersion, "0123456789abcdef", "")
	assert.Equal(t, "0123456", commit())
}

func TestLogStartup(t *testing.T) {
	for _, level := range []string{"debug", "trace", "info", ""} {
		t.Setenv("LOG_LEVEL", level)
		LogStartup()
	}
}
