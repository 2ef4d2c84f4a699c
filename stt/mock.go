package stt

import (
	"context"
	"sync"

	"github.com/AuralStack/ScribeFlow/transcript"
)

// MockService is a scripted Service for tests. Each call consumes the
// next scripted response; when the script runs out the last entry
// repeats.
type MockService struct {
	// ProviderName defaults to "mock".
	ProviderName string

	mu     sync.Mutex
	script []mockResponse
	calls  int
}

type mockResponse struct {
	result *Result
	err    error
}

// NewMock creates an empty mock; queue responses with ReturnResult and
// ReturnError.
func NewMock() *MockService {
	return &MockService{}
}

// ReturnResult queues a successful response built from words.
func (m *MockService) ReturnResult(words transcript.Words, confidence float64) *MockService {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, mockResponse{result: &Result{
		Text:       words.Text(),
		Words:      words,
		Confidence: confidence,
		DurationS:  float64(words.EndMs()) / 1000,
	}})
	return m
}

// ReturnTextOnly queues a response with text but no word timings.
func (m *MockService) ReturnTextOnly(text string, durationS float64) *MockService {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, mockResponse{result: &Result{
		Text:      text,
		DurationS: durationS,
	}})
	return m
}

// ReturnError queues a failure.
func (m *MockService) ReturnError(err error) *MockService {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, mockResponse{err: err})
	return m
}

// Calls reports how many times Transcribe ran.
func (m *MockService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Name implements Service.
func (m *MockService) Name() string {
	if m.ProviderName != "" {
		return m.ProviderName
	}
	return "mock"
}

// Transcribe implements Service by replaying the script.
func (m *MockService) Transcribe(_ context.Context, _ []byte, _ TranscriptionConfig) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.calls
	m.calls++
	if idx >= len(m.script) {
		idx = len(m.script) - 1
	}
	if idx < 0 {
		return &Result{}, nil
	}
	entry := m.script[idx]
	if entry.err != nil {
		return nil, entry.err
	}
	out := *entry.result
	out.Words = entry.result.Words.Clone()
	return &out, nil
}

// SupportedFormats implements Service.
func (m *MockService) SupportedFormats() []string {
	return []string{"pcm", "wav"}
}

var _ Service = (*MockService)(nil)
