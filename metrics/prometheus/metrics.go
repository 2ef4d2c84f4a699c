// Package prometheus provides Prometheus metrics exporters for the
// transcription platform.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "scribeflow"

var (
	// jobStageDuration is a histogram of pipeline stage duration in seconds.
	jobStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_stage_duration_seconds",
			Help:      "Histogram of pipeline stage duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	// jobsActive is a gauge of jobs between queueing and a terminal state.
	jobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Number of jobs queued or processing",
		},
	)

	// jobsTotal is a counter of jobs reaching a terminal state.
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Total number of jobs by terminal status",
		},
		[]string{"status"}, // status: complete, failed, cancelled
	)

	// audioTranscribedSeconds is a counter of audio transcribed by completed jobs.
	audioTranscribedSeconds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_transcribed_seconds_total",
			Help:      "Total seconds of audio transcribed by completed jobs",
		},
	)

	// providerRequestDuration is a histogram of STT provider call duration.
	providerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of STT provider calls in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	// providerRequestsTotal is a counter of STT provider calls.
	providerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of STT provider calls",
		},
		[]string{"provider", "status"}, // status: success, error
	)

	// providerWordsTotal is a counter of words returned by provider calls.
	providerWordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_words_total",
			Help:      "Total words returned by STT provider calls",
		},
		[]string{"provider"},
	)

	// providerAudioBytesTotal is a counter of audio bytes sent to providers.
	providerAudioBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_audio_bytes_total",
			Help:      "Total audio bytes sent to STT providers",
		},
		[]string{"provider"},
	)

	// sessionsActive is a gauge of live sessions accepting chunks.
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live sessions accepting chunks",
		},
	)

	// sessionChunksTotal is a counter of chunks processed by finalized sessions.
	sessionChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_chunks_total",
			Help:      "Total chunks processed by finalized live sessions",
		},
	)

	// cacheRequestsTotal is a counter of result cache lookups.
	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Total number of result cache lookups",
		},
		[]string{"outcome"}, // outcome: hit, miss
	)

	// rateLimitRejectionsTotal is a counter of rate-limited requests.
	rateLimitRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Total number of requests rejected by rate limiting",
		},
		[]string{"class"},
	)

	// uploadsTotal is a counter of upload session lifecycle transitions.
	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Total number of upload sessions by lifecycle event",
		},
		[]string{"event"}, // event: created, completed
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		jobStageDuration,
		jobsActive,
		jobsTotal,
		audioTranscribedSeconds,
		providerRequestDuration,
		providerRequestsTotal,
		providerWordsTotal,
		providerAudioBytesTotal,
		sessionsActive,
		sessionChunksTotal,
		cacheRequestsTotal,
		rateLimitRejectionsTotal,
		uploadsTotal,
	}
)

// RecordStageDuration records the duration of a pipeline stage.
func RecordStageDuration(stage string, durationSeconds float64) {
	jobStageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordJobQueued records a job entering the queue.
func RecordJobQueued() {
	jobsActive.Inc()
}

// RecordJobEnd records a job reaching a terminal state.
func RecordJobEnd(status string) {
	jobsActive.Dec()
	jobsTotal.WithLabelValues(status).Inc()
}

// RecordAudioTranscribed records seconds of audio transcribed by a completed job.
func RecordAudioTranscribed(seconds float64) {
	if seconds > 0 {
		audioTranscribedSeconds.Add(seconds)
	}
}

// RecordProviderRequest records an STT provider call.
func RecordProviderRequest(provider, status string, durationSeconds float64) {
	providerRequestDuration.WithLabelValues(provider).Observe(durationSeconds)
	providerRequestsTotal.WithLabelValues(provider, status).Inc()
}

// RecordProviderVolume records the words and audio bytes of a provider call.
func RecordProviderVolume(provider string, words, audioBytes int) {
	if words > 0 {
		providerWordsTotal.WithLabelValues(provider).Add(float64(words))
	}
	if audioBytes > 0 {
		providerAudioBytesTotal.WithLabelValues(provider).Add(float64(audioBytes))
	}
}

// RecordSessionStart records a live session starting.
func RecordSessionStart() {
	sessionsActive.Inc()
}

// RecordSessionEnd records a live session finalizing.
func RecordSessionEnd(chunkCount int) {
	sessionsActive.Dec()
	if chunkCount > 0 {
		sessionChunksTotal.Add(float64(chunkCount))
	}
}

// RecordCacheLookup records a result cache lookup outcome.
func RecordCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	cacheRequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordRateLimitRejection records a request rejected by rate limiting.
func RecordRateLimitRejection(class string) {
	rateLimitRejectionsTotal.WithLabelValues(class).Inc()
}

// RecordUpload records an upload session lifecycle event.
func RecordUpload(event string) {
	uploadsTotal.WithLabelValues(event).Inc()
}
