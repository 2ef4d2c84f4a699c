// Package prometheus provides Prometheus metrics exporters for the
// transcription platform.
package prometheus

import (
	"github.com/AuralStack/ScribeFlow/events"
)

// Status constants for metric labels.
const (
	statusSuccess = "success"
	statusError   = "error"

	uploadCreated   = "created"
	uploadCompleted = "completed"
)

// MetricsListener records platform events as Prometheus metrics.
// It implements the events.Listener signature and should be registered
// with an EventBus using SubscribeAll.
type MetricsListener struct{}

// NewMetricsListener creates a new MetricsListener.
func NewMetricsListener() *MetricsListener {
	return &MetricsListener{}
}

// Handle processes an event and records relevant metrics.
// This method is designed to be used with EventBus.SubscribeAll.
func (l *MetricsListener) Handle(event *events.Event) {
	switch event.Type {
	case events.EventJobQueued:
		RecordJobQueued()
	case events.EventJobStageCompleted:
		l.handleStageCompleted(event)
	case events.EventJobCompleted, events.EventJobFailed, events.EventJobCancelled:
		l.handleJobTerminal(event)
	case events.EventProviderCallCompleted:
		l.handleProviderCallCompleted(event)
	case events.EventProviderCallFailed:
		l.handleProviderCallFailed(event)
	case events.EventSessionStarted:
		RecordSessionStart()
	case events.EventSessionFinalized:
		l.handleSessionFinalized(event)
	case events.EventUploadCreated:
		RecordUpload(uploadCreated)
	case events.EventUploadCompleted:
		RecordUpload(uploadCompleted)
	default:
		// Ignore events that don't have metrics
	}
}

func (l *MetricsListener) handleStageCompleted(event *events.Event) {
	if data, ok := event.Data.(*events.JobStageData); ok {
		RecordStageDuration(string(data.Stage), data.Elapsed.Seconds())
	}
}

func (l *MetricsListener) handleJobTerminal(event *events.Event) {
	data, ok := event.Data.(*events.JobTerminalData)
	if !ok {
		return
	}
	RecordJobEnd(string(data.Status))
	if event.Type == events.EventJobCompleted {
		RecordAudioTranscribed(data.DurationS)
	}
}

func (l *MetricsListener) handleProviderCallCompleted(event *events.Event) {
	if data, ok := event.Data.(*events.ProviderCallData); ok {
		RecordProviderRequest(data.Provider, statusSuccess, data.Elapsed.Seconds())
		RecordProviderVolume(data.Provider, data.Words, data.AudioBytes)
	}
}

func (l *MetricsListener) handleProviderCallFailed(event *events.Event) {
	if data, ok := event.Data.(*events.ProviderCallData); ok {
		RecordProviderRequest(data.Provider, statusError, data.Elapsed.Seconds())
	}
}

func (l *MetricsListener) handleSessionFinalized(event *events.Event) {
	if data, ok := event.Data.(*events.SessionData); ok {
		RecordSessionEnd(data.ChunkCount)
	}
}

// Listener returns an events.Listener function that can be registered with an EventBus.
func (l *MetricsListener) Listener() events.Listener {
	return l.Handle
}
