package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "jobs/j1/source/audio.wav", JobSourceKey("j1", "audio.wav"))
	assert.Equal(t, "jobs/j1/normalized.wav", JobNormalizedKey("j1"))
	assert.Equal(t, "jobs/j1/segments/0003.wav", JobSegmentKey("j1", 3))
	assert.Equal(t, "jobs/j1/artifacts/transcript.srt", JobArtifactKey("j1", "srt"))
	assert.Equal(t, "sessions/u1/chunks/0000", UploadChunkKey("u1", 0))
	assert.Equal(t, "sessions/s1/chunks/0012.wav", LiveChunkKey("s1", 12))
	assert.Equal(t, "sessions/s1/artifacts/transcript.vtt", LiveArtifactKey("s1", "vtt"))
	assert.Equal(t, "temp/scratch.bin", TempKey("scratch.bin"))

	ts := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "users/u9/2026/03/07/a.mp3", UserDatedKey("u9", ts, "a.mp3"))
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "audio.wav", "audio.wav"},
		{"path separators", "a/b\\c.wav", "a_b_c.wav"},
		{"traversal", "../../etc/passwd", "____etc_passwd"},
		{"empty", "", "unnamed"},
		{"whitespace only", "   ", "unnamed"},
		{"control chars", "a\x00b\x1fc", "a_b_c"},
		{"colon", "drive:file", "drive_file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.in))
		})
	}
}

func TestContentTypeForKey(t *testing.T) {
	assert.Equal(t, "application/x-subrip", ContentTypeForKey("jobs/j/artifacts/transcript.srt"))
	assert.Equal(t, "text/vtt", ContentTypeForKey("a.vtt"))
	assert.Equal(t, "audio/wav", ContentTypeForKey("chunks/0001.wav"))
	assert.Equal(t, DefaultContentType, ContentTypeForKey("sessions/s1/chunks/0001"))
}
