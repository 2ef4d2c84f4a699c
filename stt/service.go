// Package stt provides the speech-to-text provider layer: a common
// Service interface, concrete providers (OpenAI-compatible Whisper,
// Azure OpenAI, generic REST), and the Facade that adds retry,
// fallback, and word-timing synthesis on top of any provider pair.
package stt

import (
	"context"
	"encoding/json"

	"github.com/AuralStack/ScribeFlow/transcript"
)

const (
	// Default audio settings for streamed PCM chunks.
	DefaultSampleRate = 16000
	DefaultChannels   = 1
	DefaultBitDepth   = 16

	// Common audio formats.
	FormatPCM = "pcm"
	FormatWAV = "wav"
	FormatMP3 = "mp3"
)

// Service transcribes audio to time-aligned words. Implementations
// abstract individual STT providers so the engine can use any of them
// interchangeably.
type Service interface {
	// Name returns the provider identifier (for logging and metrics).
	Name() string

	// Transcribe converts audio to a transcription result. Word times
	// in the result are relative to the start of the supplied audio.
	Transcribe(ctx context.Context, audio []byte, config TranscriptionConfig) (*Result, error)

	// SupportedFormats returns supported audio input formats.
	SupportedFormats() []string
}

// Result is the uniform provider response shape.
type Result struct {
	// Text is the full transcribed text.
	Text string `json:"text"`

	// Words carries word-level timings relative to the audio start.
	// May be empty when the provider cannot supply timings; the Facade
	// synthesizes uniform intervals in that case.
	Words transcript.Words `json:"words"`

	// Confidence is the provider's overall confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Language is the detected or confirmed BCP-47 language tag.
	Language string `json:"language,omitempty"`

	// DurationS is the audio duration in seconds as the provider saw it.
	DurationS float64 `json:"duration_s,omitempty"`

	// ProviderMeta is the provider's raw response payload, retained
	// opaquely for debugging. Never interpreted.
	ProviderMeta json.RawMessage `json:"provider_meta,omitempty"`
}

// TranscriptionConfig configures one transcription call.
type TranscriptionConfig struct {
	// Format is the audio format ("pcm", "wav", "mp3").
	// Default: "pcm", which is wrapped as WAV before upload.
	Format string

	// SampleRate is the audio sample rate in Hz. Default: 16000.
	SampleRate int

	// Channels is the number of audio channels. Default: 1.
	Channels int

	// BitDepth is the bits per sample for PCM audio. Default: 16.
	BitDepth int

	// Language is a hint for the transcription language (e.g. "en").
	// Empty requests language detection where the provider supports it.
	Language string

	// DetectLanguage asks the provider to report the language without
	// a hint. Used by the detecting_language pipeline stage.
	DetectLanguage bool

	// Prompt guides transcription with domain vocabulary
	// (provider-specific).
	Prompt string

	// SessionID and ChunkIdx identify the streaming chunk for logging.
	// Zero values for batch segments.
	SessionID string
	ChunkIdx  int
}

// withDefaults fills zero fields with the package defaults.
func (c TranscriptionConfig) withDefaults() TranscriptionConfig {
	if c.Format == "" {
		c.Format = FormatPCM
	}
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Channels == 0 {
		c.Channels = DefaultChannels
	}
	if c.BitDepth == 0 {
		c.BitDepth = DefaultBitDepth
	}
	return c
}

// DefaultTranscriptionConfig returns sensible defaults for PCM chunks.
func DefaultTranscriptionConfig() TranscriptionConfig {
	return TranscriptionConfig{
		Format:     FormatPCM,
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
		BitDepth:   DefaultBitDepth,
	}
}

// pcmDurationMs computes the duration of raw PCM audio under the
// config's sample parameters.
func pcmDurationMs(audio []byte, cfg TranscriptionConfig) int64 {
	bytesPerSecond := cfg.SampleRate * cfg.Channels * cfg.BitDepth / 8
	if bytesPerSecond <= 0 {
		return 0
	}
	return int64(len(audio)) * 1000 / int64(bytesPerSecond)
}
