package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restTestServer(t *testing.T, payload string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, _, err := r.FormFile("audio")
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(payload))
	}))
}

func TestREST_MapsNestedResponse(t *testing.T) {
	server := restTestServer(t, `{
		"result": {
			"transcript": "good morning",
			"lang": "en",
			"score": 0.87,
			"tokens": [
				{"w": "good", "ts": 0.0, "te": 0.4, "p": 0.9},
				{"w": "morning", "ts": 0.4, "te": 1.0, "p": 0.85}
			]
		}
	}`)
	defer server.Close()

	svc := NewREST(RESTConfig{
		Name:       "acme-stt",
		URL:        server.URL,
		AudioField: "audio",
		Mapping: RESTMapping{
			Text:           "result.transcript",
			Language:       "result.lang",
			Confidence:     "result.score",
			Words:          "result.tokens",
			WordText:       "w",
			WordStart:      "ts",
			WordEnd:        "te",
			WordConfidence: "p",
		},
	})

	result, err := svc.Transcribe(context.Background(), []byte{1}, DefaultTranscriptionConfig())
	require.NoError(t, err)

	assert.Equal(t, "acme-stt", svc.Name())
	assert.Equal(t, "good morning", result.Text)
	assert.Equal(t, "en", result.Language)
	assert.InDelta(t, 0.87, result.Confidence, 1e-9)
	require.Len(t, result.Words, 2)
	assert.Equal(t, "morning", result.Words[1].Text)
	assert.Equal(t, int64(400), result.Words[1].StartMs)
	assert.Equal(t, int64(1000), result.Words[1].EndMs)
	assert.InDelta(t, 0.85, result.Words[1].Confidence, 1e-9)
}

func TestREST_MillisecondTimeUnit(t *testing.T) {
	server := restTestServer(t, `{
		"text": "hi",
		"words": [{"word": "hi", "start": 100, "end": 350}]
	}`)
	defer server.Close()

	svc := NewREST(RESTConfig{
		URL:        server.URL,
		AudioField: "audio",
		Mapping: RESTMapping{
			Text:      "text",
			Words:     "words",
			WordText:  "word",
			WordStart: "start",
			WordEnd:   "end",
			TimeUnit:  "ms",
		},
	})

	result, err := svc.Transcribe(context.Background(), []byte{1}, DefaultTranscriptionConfig())
	require.NoError(t, err)
	require.Len(t, result.Words, 1)
	assert.Equal(t, int64(100), result.Words[0].StartMs)
	assert.Equal(t, int64(350), result.Words[0].EndMs)
}

func TestREST_NoWordPathLeavesWordsEmpty(t *testing.T) {
	server := restTestServer(t, `{"text": "just text"}`)
	defer server.Close()

	svc := NewREST(RESTConfig{
		URL:        server.URL,
		AudioField: "audio",
		Mapping:    RESTMapping{Text: "text"},
	})

	result, err := svc.Transcribe(context.Background(), []byte{1}, DefaultTranscriptionConfig())
	require.NoError(t, err)
	assert.Equal(t, "just text", result.Text)
	assert.Empty(t, result.Words, "the facade synthesizes timings, not the provider")
}
