package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/logger"
)

// ProbeResult describes a media container as reported by ffprobe.
type ProbeResult struct {
	DurationS float64
	Container string
	Streams   []StreamInfo
}

// StreamInfo is one stream of a probed container.
type StreamInfo struct {
	Type  string // "audio" or "video"
	Codec string
}

// HasAudio reports whether the container carries at least one audio stream.
func (r *ProbeResult) HasAudio() bool {
	for _, s := range r.Streams {
		if s.Type == "audio" {
			return true
		}
	}
	return false
}

// ffprobe JSON output shapes.
type ffprobeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
	} `json:"streams"`
}

// Probe runs ffprobe against the media bytes and returns container metadata.
// Inputs ffprobe cannot parse produce an invalid_input fault.
func (t *Transcoder) Probe(ctx context.Context, data []byte, fromMIME string) (*ProbeResult, error) {
	if len(data) == 0 {
		return nil, fault.InvalidInput("empty_media", "empty media data")
	}

	tempDir, err := os.MkdirTemp("", "scribeflow-probe-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() {
		if removeErr := os.RemoveAll(tempDir); removeErr != nil {
			logger.Warn("Failed to remove temp directory", "path", tempDir, "error", removeErr)
		}
	}()

	inputPath := filepath.Join(tempDir, "input."+ExtensionForMIMEType(fromMIME))
	if writeErr := os.WriteFile(inputPath, data, DefaultTempFilePermissions); writeErr != nil {
		return nil, fmt.Errorf("failed to write input file: %w", writeErr)
	}

	probeCtx, cancel := context.WithTimeout(ctx, DefaultProbeTimeout)
	defer cancel()

	//nolint:gosec // G204: FFprobePath is configurable but expected to be ffprobe binary
	cmd := exec.CommandContext(probeCtx, t.config.FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if probeCtx.Err() == context.DeadlineExceeded {
			return nil, fault.Timeout("probe_timeout", "ffprobe execution timed out", probeCtx.Err())
		}
		if execErr, ok := err.(*exec.Error); ok && execErr.Err == exec.ErrNotFound {
			return nil, fault.Unavailable("ffprobe_missing", "ffprobe not found in PATH")
		}
		return nil, fault.Wrap(fault.KindInvalidInput, "unrecognized_media",
			"media container could not be parsed", err)
	}

	return parseProbeOutput(stdout.Bytes())
}

// parseProbeOutput decodes ffprobe's JSON report.
func parseProbeOutput(raw []byte) (*ProbeResult, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	result := &ProbeResult{Container: out.Format.FormatName}

	if out.Format.Duration != "" {
		d, err := strconv.ParseFloat(out.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ffprobe duration %q: %w", out.Format.Duration, err)
		}
		result.DurationS = d
	}

	for _, s := range out.Streams {
		result.Streams = append(result.Streams, StreamInfo{
			Type:  s.CodecType,
			Codec: s.CodecName,
		})
	}

	return result, nil
}

// EstimateWAVDuration returns the duration of a PCM16 WAV byte stream
// without shelling out, for already-normalized blobs.
func EstimateWAVDuration(data []byte, sampleRate, channels int) time.Duration {
	const wavHeaderSize = 44
	if len(data) <= wavHeaderSize || sampleRate <= 0 || channels <= 0 {
		return 0
	}
	byteRate := sampleRate * channels * 2
	return time.Duration(float64(len(data)-wavHeaderSize) / float64(byteRate) * float64(time.Second))
}
