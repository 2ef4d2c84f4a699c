package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/logger"
)

// Default configuration values.
const (
	DefaultFFmpegPath          = "ffmpeg"
	DefaultFFprobePath         = "ffprobe"
	DefaultTranscodeTimeout    = 10 * time.Minute
	DefaultProbeTimeout        = 30 * time.Second
	DefaultFFmpegCheckTimeout  = 5 * time.Second
	DefaultTempFilePermissions = 0600 // owner read/write only

	// Provider-normalized output: 16kHz mono PCM16 WAV.
	NormalizedSampleRate = 16000
	NormalizedChannels   = 1
)

// FFmpeg error types.
var (
	ErrFFmpegNotFound = fmt.Errorf("ffmpeg not found in PATH")
	ErrFFmpegTimeout  = fmt.Errorf("ffmpeg execution timed out")
)

// TranscoderConfig configures the ffmpeg transcoder.
type TranscoderConfig struct {
	// FFmpegPath is the path to the ffmpeg binary.
	// Default: "ffmpeg" (uses PATH).
	FFmpegPath string

	// FFprobePath is the path to the ffprobe binary.
	// Default: "ffprobe" (uses PATH).
	FFprobePath string

	// Timeout is the maximum time for a single ffmpeg execution.
	Timeout time.Duration

	// SampleRate is the output sample rate in Hz.
	SampleRate int

	// Channels is the number of output channels.
	Channels int
}

// DefaultTranscoderConfig returns the normalized-output defaults.
func DefaultTranscoderConfig() TranscoderConfig {
	return TranscoderConfig{
		FFmpegPath:  DefaultFFmpegPath,
		FFprobePath: DefaultFFprobePath,
		Timeout:     DefaultTranscodeTimeout,
		SampleRate:  NormalizedSampleRate,
		Channels:    NormalizedChannels,
	}
}

// Transcoder converts uploaded media to normalized WAV using ffmpeg.
type Transcoder struct {
	config TranscoderConfig
}

// NewTranscoder creates a transcoder with the given config.
func NewTranscoder(config TranscoderConfig) *Transcoder {
	if config.FFmpegPath == "" {
		config.FFmpegPath = DefaultFFmpegPath
	}
	if config.FFprobePath == "" {
		config.FFprobePath = DefaultFFprobePath
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTranscodeTimeout
	}
	if config.SampleRate <= 0 {
		config.SampleRate = NormalizedSampleRate
	}
	if config.Channels <= 0 {
		config.Channels = NormalizedChannels
	}
	return &Transcoder{config: config}
}

// Normalize decodes any accepted audio or video source to 16kHz mono PCM16
// WAV. Video inputs have their audio track extracted; unplayable inputs
// produce an invalid_input fault.
func (t *Transcoder) Normalize(ctx context.Context, data []byte, fromMIME string) ([]byte, error) {
	if len(data) == 0 {
		return nil, fault.InvalidInput("empty_media", "empty media data")
	}

	tempDir, err := os.MkdirTemp("", "scribeflow-transcode-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() {
		if removeErr := os.RemoveAll(tempDir); removeErr != nil {
			logger.Warn("Failed to remove temp directory", "path", tempDir, "error", removeErr)
		}
	}()

	inputPath := filepath.Join(tempDir, "input."+ExtensionForMIMEType(fromMIME))
	outputPath := filepath.Join(tempDir, "output.wav")

	if writeErr := os.WriteFile(inputPath, data, DefaultTempFilePermissions); writeErr != nil {
		return nil, fmt.Errorf("failed to write input file: %w", writeErr)
	}

	args := t.buildFFmpegArgs(inputPath, outputPath)
	if runErr := t.runFFmpeg(ctx, args); runErr != nil {
		return nil, runErr
	}

	//nolint:gosec // G304: outputPath is constructed from temp directory, not user input
	output, readErr := os.ReadFile(outputPath)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read output file: %w", readErr)
	}

	return output, nil
}

// buildFFmpegArgs constructs the normalization command arguments.
func (t *Transcoder) buildFFmpegArgs(inputPath, outputPath string) []string {
	return []string{
		"-y",
		"-i", inputPath,
		"-vn", // drop video streams, keep audio
		"-ar", fmt.Sprintf("%d", t.config.SampleRate),
		"-ac", fmt.Sprintf("%d", t.config.Channels),
		"-acodec", "pcm_s16le",
		outputPath,
	}
}

// runFFmpeg executes ffmpeg with timeout.
func (t *Transcoder) runFFmpeg(ctx context.Context, args []string) error {
	ffmpegCtx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	//nolint:gosec // G204: FFmpegPath is configurable but expected to be ffmpeg binary
	cmd := exec.CommandContext(ffmpegCtx, t.config.FFmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Debug("Running ffmpeg", "args", args)

	if err := cmd.Run(); err != nil {
		if ffmpegCtx.Err() == context.DeadlineExceeded {
			return fault.Timeout("transcode_timeout", ErrFFmpegTimeout.Error(), ffmpegCtx.Err())
		}
		if execErr, ok := err.(*exec.Error); ok && execErr.Err == exec.ErrNotFound {
			return fault.Unavailable("ffmpeg_missing", ErrFFmpegNotFound.Error())
		}

		// A nonzero exit on well-formed args means ffmpeg could not decode
		// the input.
		return fault.Wrap(fault.KindInvalidInput, "unplayable_media",
			fmt.Sprintf("media could not be decoded: %s", firstStderrLine(stderr.String())), err)
	}

	return nil
}

// firstStderrLine trims ffmpeg's multi-line stderr down to the message that
// matters for the job error record.
func firstStderrLine(stderr string) string {
	lines := bytes.Split([]byte(stderr), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) > 0 {
			return string(line)
		}
	}
	return "unknown decode error"
}

// CheckFFmpegAvailable checks if ffmpeg is available in PATH.
func CheckFFmpegAvailable(ffmpegPath string) error {
	if ffmpegPath == "" {
		ffmpegPath = DefaultFFmpegPath
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultFFmpegCheckTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffmpegPath, "-version")
	if err := cmd.Run(); err != nil {
		if execErr, ok := err.(*exec.Error); ok && execErr.Err == exec.ErrNotFound {
			return ErrFFmpegNotFound
		}
		return fmt.Errorf("ffmpeg check failed: %w", err)
	}
	return nil
}
