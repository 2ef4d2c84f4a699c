package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AuralStack/ScribeFlow/fault"
)

func TestWhisper_TranscribeVerboseJSON(t *testing.T) {
	var gotAuth, gotFormat string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotFormat = r.FormValue("response_format")

		_, _, err := r.FormFile("file")
		require.NoError(t, err)

		resp := map[string]any{
			"text":     "the cat sat",
			"language": "en",
			"duration": 1.2,
			"words": []map[string]any{
				{"word": "the", "start": 0.0, "end": 0.2},
				{"word": "cat", "start": 0.2, "end": 0.4},
				{"word": "sat", "start": 0.4, "end": 0.6},
			},
			"segments": []map[string]any{{"avg_logprob": -0.1}},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	svc := NewWhisper("test-key", WithWhisperBaseURL(server.URL))
	result, err := svc.Transcribe(context.Background(), []byte{0, 0, 0, 0}, DefaultTranscriptionConfig())
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "verbose_json", gotFormat)
	assert.Equal(t, "the cat sat", result.Text)
	assert.Equal(t, "en", result.Language)
	assert.Len(t, result.Words, 3)
	assert.Equal(t, int64(200), result.Words[1].StartMs)
	assert.Equal(t, int64(400), result.Words[1].EndMs)
	assert.InDelta(t, 0.905, result.Confidence, 0.01)
	assert.NotEmpty(t, result.ProviderMeta)
}

func TestWhisper_EmptyAudio(t *testing.T) {
	svc := NewWhisper("k")
	_, err := svc.Transcribe(context.Background(), nil, DefaultTranscriptionConfig())
	assert.True(t, fault.IsKind(err, fault.KindInvalidInput))
}

func TestWhisper_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","code":"rate_limit_exceeded"}}`))
	}))
	defer server.Close()

	svc := NewWhisper("k", WithWhisperBaseURL(server.URL))
	_, err := svc.Transcribe(context.Background(), []byte{1}, DefaultTranscriptionConfig())
	assert.True(t, fault.IsKind(err, fault.KindRateLimited))
	assert.Equal(t, "rate_limit_exceeded", fault.CodeOf(err))
}

func TestWhisper_BadMediaPreservesProviderMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Audio file could not be decoded","code":"invalid_audio"}}`))
	}))
	defer server.Close()

	svc := NewWhisper("k", WithWhisperBaseURL(server.URL))
	_, err := svc.Transcribe(context.Background(), []byte{1}, DefaultTranscriptionConfig())
	assert.True(t, fault.IsKind(err, fault.KindProviderBadMedia))

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "Audio file could not be decoded", fe.Message)
	assert.False(t, fe.Retryable)
}

func TestWhisper_ServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	svc := NewWhisper("k", WithWhisperBaseURL(server.URL))
	_, err := svc.Transcribe(context.Background(), []byte{1}, DefaultTranscriptionConfig())
	assert.True(t, fault.IsKind(err, fault.KindProviderUnavailable))
	assert.True(t, fault.IsRetryable(err))
}

func TestWhisper_LanguageHintOmittedWhenDetecting(t *testing.T) {
	var gotLanguage string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotLanguage = r.FormValue("language")
		_, _ = w.Write([]byte(`{"text":"hola","language":"es","duration":1.0}`))
	}))
	defer server.Close()

	svc := NewWhisper("k", WithWhisperBaseURL(server.URL))
	cfg := DefaultTranscriptionConfig()
	cfg.Language = "en"
	cfg.DetectLanguage = true

	result, err := svc.Transcribe(context.Background(), []byte{1}, cfg)
	require.NoError(t, err)
	assert.Empty(t, gotLanguage)
	assert.Equal(t, "es", result.Language)
}
