package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/logger"
	"github.com/AuralStack/ScribeFlow/telemetry"
	"github.com/AuralStack/ScribeFlow/transcript"
)

const (
	whisperBaseURL            = "https://api.openai.com/v1"
	whisperTranscribeEndpoint = "/audio/transcriptions"

	// ModelWhisper1 is the OpenAI Whisper model for transcription.
	ModelWhisper1 = "whisper-1"

	// Default timeout for STT requests.
	defaultWhisperTimeout = 60 * time.Second

	// HTTP status code threshold for server errors.
	serverErrorThreshold = 500
)

// WhisperService implements Service over an OpenAI-compatible
// /audio/transcriptions endpoint, requesting verbose_json with
// word-level timestamps.
type WhisperService struct {
	apiKey  string
	baseURL string
	client  *http.Client
	model   string
}

// WhisperOption configures the Whisper STT service.
type WhisperOption func(*WhisperService)

// WithWhisperBaseURL sets a custom base URL (for testing, proxies, or
// OpenAI-compatible servers).
func WithWhisperBaseURL(url string) WhisperOption {
	return func(s *WhisperService) {
		s.baseURL = url
	}
}

// WithWhisperClient sets a custom HTTP client.
func WithWhisperClient(client *http.Client) WhisperOption {
	return func(s *WhisperService) {
		s.client = client
	}
}

// WithWhisperModel sets the STT model to use.
func WithWhisperModel(model string) WhisperOption {
	return func(s *WhisperService) {
		s.model = model
	}
}

// NewWhisper creates a Whisper STT service.
func NewWhisper(apiKey string, opts ...WhisperOption) *WhisperService {
	s := &WhisperService{
		apiKey:  apiKey,
		baseURL: whisperBaseURL,
		client:  &http.Client{Timeout: defaultWhisperTimeout},
		model:   ModelWhisper1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the provider identifier.
func (s *WhisperService) Name() string {
	return "whisper"
}

// Transcribe converts audio to time-aligned words.
func (s *WhisperService) Transcribe(
	ctx context.Context, audio []byte, config TranscriptionConfig,
) (*Result, error) {
	if len(audio) == 0 {
		return nil, fault.InvalidInput("empty_audio", "audio data is empty")
	}
	config = config.withDefaults()

	audioData := audio
	filename := "audio." + config.Format
	if config.Format == FormatPCM {
		// PCM must be wrapped as WAV for upload endpoints.
		audioData = pcmToWAV(audio, config.SampleRate, config.Channels, config.BitDepth)
		filename = "audio.wav"
	}

	body, contentType, err := s.buildForm(audioData, filename, config)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, s.baseURL+whisperTranscribeEndpoint, body,
	)
	if err != nil {
		return nil, fault.Internal("could not build provider request", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", contentType)
	telemetry.InjectTraceHeaders(ctx, req)

	started := time.Now()
	logger.ProviderCall(s.Name(), "transcribe", len(audio),
		"session_id", config.SessionID, "chunk_idx", config.ChunkIdx)

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fault.Timeout("provider_timeout", "transcription timed out", err)
		}
		return nil, fault.ProviderUnavailable("provider_request_failed", "transcription request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.ProviderUnavailable("provider_read_failed", "could not read provider response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyProviderError(s.Name(), resp.StatusCode, raw)
	}

	result, err := parseVerboseJSON(raw)
	if err != nil {
		return nil, err
	}
	logger.ProviderResponse(s.Name(), "transcribe", len(result.Words), time.Since(started))
	return result, nil
}

// buildForm assembles the multipart upload: file, model, response
// format with word granularity, and optional hints.
func (s *WhisperService) buildForm(audioData []byte, filename string, config TranscriptionConfig) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fault.Internal("could not build provider request", err)
	}
	if _, err := part.Write(audioData); err != nil {
		return nil, "", fault.Internal("could not build provider request", err)
	}

	fields := map[string]string{
		"model":                     s.model,
		"response_format":           "verbose_json",
		"timestamp_granularities[]": "word",
	}
	if config.Language != "" && !config.DetectLanguage {
		fields["language"] = config.Language
	}
	if config.Prompt != "" {
		fields["prompt"] = config.Prompt
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, "", fault.Internal("could not build provider request", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fault.Internal("could not build provider request", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

// verboseResponse is the verbose_json response shape, with times in
// fractional seconds.
type verboseResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Words    []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
	Segments []struct {
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// parseVerboseJSON converts a verbose_json payload to a Result.
// Whisper reports no per-word confidence; the segment log-probability
// average is mapped through exp() as the chunk confidence.
func parseVerboseJSON(raw []byte) (*Result, error) {
	var vr verboseResponse
	if err := json.Unmarshal(raw, &vr); err != nil {
		return nil, fault.ProviderUnavailable("provider_bad_response", "provider returned an unreadable response", err)
	}

	confidence := confidenceFromLogprobs(vr)
	words := make(transcript.Words, 0, len(vr.Words))
	for _, w := range vr.Words {
		words = append(words, transcript.Word{
			Text:       w.Word,
			StartMs:    int64(w.Start * 1000),
			EndMs:      int64(w.End * 1000),
			Confidence: confidence,
		})
	}

	return &Result{
		Text:         vr.Text,
		Words:        transcript.SortDedupe(words),
		Confidence:   confidence,
		Language:     vr.Language,
		DurationS:    vr.Duration,
		ProviderMeta: json.RawMessage(raw),
	}, nil
}

func confidenceFromLogprobs(vr verboseResponse) float64 {
	if len(vr.Segments) == 0 {
		if vr.Text == "" {
			return 0
		}
		return 0.9 // verbose_json without segments gives no signal
	}
	var sum float64
	for _, seg := range vr.Segments {
		sum += seg.AvgLogprob
	}
	c := math.Exp(sum / float64(len(vr.Segments)))
	if c > 1 {
		c = 1
	}
	if c < 0 {
		c = 0
	}
	return c
}

// classifyProviderError maps a provider HTTP error onto the taxonomy.
// 429 is surfaced as RateLimited so callers never receive silently
// empty text; 4xx decode errors preserve the provider message.
func classifyProviderError(provider string, statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	message := ""
	code := fmt.Sprintf("%d", statusCode)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		if errResp.Error.Code != "" {
			code = errResp.Error.Code
		}
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		if message == "" {
			message = "provider rate limit reached"
		}
		return fault.RateLimited(code, message, 0)
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnsupportedMediaType:
		if message == "" {
			message = "provider rejected the audio"
		}
		return fault.ProviderBadMedia(code, message, nil)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fault.ProviderUnavailable(code, "provider rejected credentials", nil).WithRetryable(false)
	case statusCode >= serverErrorThreshold:
		if message == "" {
			message = "provider unavailable"
		}
		return fault.ProviderUnavailable(code, message, nil)
	default:
		if message == "" {
			message = "provider request failed"
		}
		return fault.ProviderUnavailable(code, message, nil).WithRetryable(false)
	}
}

// SupportedFormats returns audio formats accepted by Whisper uploads.
func (s *WhisperService) SupportedFormats() []string {
	return []string{
		"flac", "m4a", "mp3", "mp4", "mpeg", "mpga",
		"oga", "ogg", "wav", "webm",
		"pcm", // wrapped as WAV internally
	}
}

var _ Service = (*WhisperService)(nil)
