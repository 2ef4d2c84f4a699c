package stt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/AuralStack/ScribeFlow/credentials"
	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/logger"
)

const (
	// defaultAzureAPIVersion is the api-version query parameter sent to
	// Azure OpenAI audio endpoints.
	defaultAzureAPIVersion = "2024-06-01"

	defaultAzureTimeout = 60 * time.Second
)

// AzureService implements Service over an Azure OpenAI Whisper
// deployment. Authentication goes through a credentials.Credential:
// either an api-key header or an Azure AD bearer token.
type AzureService struct {
	endpoint   string // https://{resource}.openai.azure.com
	deployment string
	apiVersion string
	credential credentials.Credential
	client     *http.Client
}

// AzureOption configures the Azure STT service.
type AzureOption func(*AzureService)

// WithAzureAPIVersion overrides the api-version query parameter.
func WithAzureAPIVersion(version string) AzureOption {
	return func(s *AzureService) {
		s.apiVersion = version
	}
}

// WithAzureClient sets a custom HTTP client.
func WithAzureClient(client *http.Client) AzureOption {
	return func(s *AzureService) {
		s.client = client
	}
}

// NewAzure creates an Azure OpenAI Whisper service. The credential is
// typically credentials.NewAPIKeyCredential(key,
// credentials.WithHeaderName("api-key")) or an AzureCredential for AD
// auth.
func NewAzure(endpoint, deployment string, credential credentials.Credential, opts ...AzureOption) *AzureService {
	s := &AzureService{
		endpoint:   endpoint,
		deployment: deployment,
		apiVersion: defaultAzureAPIVersion,
		credential: credential,
		client:     &http.Client{Timeout: defaultAzureTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the provider identifier.
func (s *AzureService) Name() string {
	return "azure-whisper"
}

// Transcribe converts audio to time-aligned words via the Azure
// deployment's transcription endpoint.
func (s *AzureService) Transcribe(
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
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fault.Internal("could not build provider request", err)
	}
	if _, err := part.Write(audioData); err != nil {
		return nil, fault.Internal("could not build provider request", err)
	}
	if err := writer.WriteField("response_format", "verbose_json"); err != nil {
		return nil, fault.Internal("could not build provider request", err)
	}
	if err := writer.WriteField("timestamp_granularities[]", "word"); err != nil {
		return nil, fault.Internal("could not build provider request", err)
	}
	if config.Language != "" && !config.DetectLanguage {
		if err := writer.WriteField("language", config.Language); err != nil {
			return nil, fault.Internal("could not build provider request", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fault.Internal("could not build provider request", err)
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/audio/transcriptions?api-version=%s",
		s.endpoint, s.deployment, s.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fault.Internal("could not build provider request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if s.credential != nil {
		if err := s.credential.Apply(ctx, req); err != nil {
			return nil, fault.ProviderUnavailable("provider_auth_failed", "could not authenticate with provider", err).WithRetryable(false)
		}
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

	result, err := parseVerboseJSON(raw)
	if err != nil {
		return nil, err
	}
	logger.ProviderResponse(s.Name(), "transcribe", len(result.Words), time.Since(started))
	return result, nil
}

// SupportedFormats returns audio formats accepted by the deployment.
func (s *AzureService) SupportedFormats() []string {
	return []string{"flac", "m4a", "mp3", "mp4", "ogg", "wav", "webm", "pcm"}
}

var _ Service = (*AzureService)(nil)
