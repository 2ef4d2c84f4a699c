package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/jmespath/go-jmespath"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/logger"
	"github.com/AuralStack/ScribeFlow/transcript"
)

// RESTMapping declares how to extract the uniform Result fields from a
// provider's JSON response using JMESPath expressions. Word paths are
// evaluated relative to each element of the Words array.
type RESTMapping struct {
	// Text extracts the full transcript. Required.
	Text string `yaml:"text" json:"text"`

	// Words extracts the word array. Optional; when empty or the path
	// yields nothing, the Facade synthesizes timings.
	Words string `yaml:"words,omitempty" json:"words,omitempty"`

	// WordText, WordStart, WordEnd, WordConfidence extract fields from
	// one word element.
	WordText       string `yaml:"word_text,omitempty" json:"word_text,omitempty"`
	WordStart      string `yaml:"word_start,omitempty" json:"word_start,omitempty"`
	WordEnd        string `yaml:"word_end,omitempty" json:"word_end,omitempty"`
	WordConfidence string `yaml:"word_confidence,omitempty" json:"word_confidence,omitempty"`

	// Confidence and Language extract the chunk-level fields. Optional.
	Confidence string `yaml:"confidence,omitempty" json:"confidence,omitempty"`
	Language   string `yaml:"language,omitempty" json:"language,omitempty"`

	// TimeUnit is "s" (default) or "ms" for the word timestamps.
	TimeUnit string `yaml:"time_unit,omitempty" json:"time_unit,omitempty"`
}

// RESTConfig configures a generic JSON-over-HTTP STT provider.
type RESTConfig struct {
	// Name identifies the provider in logs and metrics.
	Name string `yaml:"name" json:"name"`

	// URL is the transcription endpoint.
	URL string `yaml:"url" json:"url"`

	// AudioField is the multipart field carrying the audio file.
	// Default "file".
	AudioField string `yaml:"audio_field,omitempty" json:"audio_field,omitempty"`

	// Fields are extra multipart form fields sent verbatim.
	Fields map[string]string `yaml:"fields,omitempty" json:"fields,omitempty"`

	// LanguageField names the form field for the language hint.
	// Empty omits the hint.
	LanguageField string `yaml:"language_field,omitempty" json:"language_field,omitempty"`

	// Mapping extracts the result fields.
	Mapping RESTMapping `yaml:"mapping" json:"mapping"`

	// APIKey is sent as a bearer token when OAuth2 is not configured.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// OAuth2 enables client-credentials token auth instead of APIKey.
	OAuth2 *clientcredentials.Config `yaml:"-" json:"-"`

	// Timeout bounds each request. Default 60s.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// RESTService implements Service against any JSON STT API described by
// a RESTConfig. Operators wire new providers through configuration
// rather than code.
type RESTService struct {
	cfg    RESTConfig
	client *http.Client
}

// NewREST creates a generic REST STT service.
func NewREST(cfg RESTConfig) *RESTService {
	if cfg.AudioField == "" {
		cfg.AudioField = "file"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.OAuth2 != nil {
		// The oauth2 transport fetches and refreshes tokens as needed.
		client = cfg.OAuth2.Client(context.Background())
		client.Timeout = cfg.Timeout
	}
	return &RESTService{cfg: cfg, client: client}
}

// Name returns the configured provider identifier.
func (s *RESTService) Name() string {
	if s.cfg.Name != "" {
		return s.cfg.Name
	}
	return "rest"
}

// Transcribe posts the audio and maps the JSON response through the
// configured JMESPath expressions.
func (s *RESTService) Transcribe(
	ctx context.Context, audio []byte, config TranscriptionConfig,
) (*Result, error) {
	if len(audio) == 0 {
		return nil, fault.InvalidInput("empty_audio", "audio data is empty")
	}
	config = config.withDefaults()

	audioData := audio
	filename := "audio." + config.Format
	if config.Format == FormatPCM {
		audioData = pcmToWAV(audio, config.SampleRate, config.Channels, config.BitDepth)
		filename = "audio.wav"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(s.cfg.AudioField, filename)
	if err != nil {
		return nil, fault.Internal("could not build provider request", err)
	}
	if _, err := part.Write(audioData); err != nil {
		return nil, fault.Internal("could not build provider request", err)
	}
	for name, value := range s.cfg.Fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, fault.Internal("could not build provider request", err)
		}
	}
	if s.cfg.LanguageField != "" && config.Language != "" && !config.DetectLanguage {
		if err := writer.WriteField(s.cfg.LanguageField, config.Language); err != nil {
			return nil, fault.Internal("could not build provider request", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fault.Internal("could not build provider request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, &buf)
	if err != nil {
		return nil, fault.Internal("could not build provider request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if s.cfg.OAuth2 == nil && s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

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

	result, err := s.mapResponse(raw)
	if err != nil {
		return nil, err
	}
	logger.ProviderResponse(s.Name(), "transcribe", len(result.Words), time.Since(started))
	return result, nil
}

// mapResponse applies the JMESPath mapping over the decoded payload.
func (s *RESTService) mapResponse(raw []byte) (*Result, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fault.ProviderUnavailable("provider_bad_response", "provider returned an unreadable response", err)
	}

	text, err := searchString(doc, s.cfg.Mapping.Text)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Text:         text,
		ProviderMeta: json.RawMessage(raw),
	}
	if s.cfg.Mapping.Confidence != "" {
		if c, err := searchNumber(doc, s.cfg.Mapping.Confidence); err == nil {
			result.Confidence = c
		}
	}
	if s.cfg.Mapping.Language != "" {
		if lang, err := searchString(doc, s.cfg.Mapping.Language); err == nil {
			result.Language = lang
		}
	}
	result.Words = s.mapWords(doc, result.Confidence)
	return result, nil
}

// mapWords extracts the word list, or nil when the mapping has no word
// path or it yields nothing.
func (s *RESTService) mapWords(doc any, chunkConfidence float64) transcript.Words {
	m := s.cfg.Mapping
	if m.Words == "" {
		return nil
	}
	node, err := jmespath.Search(m.Words, doc)
	if err != nil {
		return nil
	}
	elems, ok := node.([]any)
	if !ok {
		return nil
	}

	scale := 1000.0 // seconds → ms
	if m.TimeUnit == "ms" {
		scale = 1
	}

	words := make(transcript.Words, 0, len(elems))
	for _, elem := range elems {
		text, err := searchString(elem, m.WordText)
		if err != nil || text == "" {
			continue
		}
		start, err := searchNumber(elem, m.WordStart)
		if err != nil {
			continue
		}
		end, err := searchNumber(elem, m.WordEnd)
		if err != nil {
			continue
		}
		confidence := chunkConfidence
		if m.WordConfidence != "" {
			if c, err := searchNumber(elem, m.WordConfidence); err == nil {
				confidence = c
			}
		}
		words = append(words, transcript.Word{
			Text:       text,
			StartMs:    int64(start * scale),
			EndMs:      int64(end * scale),
			Confidence: confidence,
		})
	}
	return transcript.SortDedupe(words)
}

func searchString(doc any, expr string) (string, error) {
	if expr == "" {
		return "", fault.Internal("response mapping expression is empty", nil)
	}
	node, err := jmespath.Search(expr, doc)
	if err != nil {
		return "", fault.ProviderUnavailable("provider_bad_response", "provider response did not match mapping", err)
	}
	str, ok := node.(string)
	if !ok {
		return "", fault.ProviderUnavailable("provider_bad_response", "provider response did not match mapping", nil)
	}
	return str, nil
}

func searchNumber(doc any, expr string) (float64, error) {
	if expr == "" {
		return 0, fault.Internal("response mapping expression is empty", nil)
	}
	node, err := jmespath.Search(expr, doc)
	if err != nil {
		return 0, fault.ProviderUnavailable("provider_bad_response", "provider response did not match mapping", err)
	}
	num, ok := node.(float64)
	if !ok {
		return 0, fault.ProviderUnavailable("provider_bad_response", "provider response did not match mapping", nil)
	}
	return num, nil
}

// SupportedFormats reports the generic container formats.
func (s *RESTService) SupportedFormats() []string {
	return []string{"wav", "mp3", "flac", "ogg", "pcm"}
}

var _ Service = (*RESTService)(nil)
