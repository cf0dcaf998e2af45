package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Consultation metrics
	activeConsultations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediconnect_active_consultations",
		Help: "Number of live consultations currently connecting or open",
	})

	totalConsultations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediconnect_consultations_total",
		Help: "Total number of live consultations started",
	})

	consultationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mediconnect_consultation_duration_seconds",
		Help:    "Duration of live consultations in seconds",
		Buckets: []float64{5, 30, 60, 120, 300, 600, 1200, 1800},
	})

	consultationEnds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediconnect_consultation_ends_total",
		Help: "Live consultation endings by reason",
	}, []string{"reason"}) // stopped, closed, error, microphone, unsupported

	// Audio metrics
	audioFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediconnect_audio_frames_total",
		Help: "Microphone frames by outcome",
	}, []string{"outcome"}) // sent, dropped

	audioChunksScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediconnect_audio_chunks_scheduled_total",
		Help: "Synthesized audio chunks scheduled for playback",
	})

	playbackQueueSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mediconnect_playback_queue_seconds",
		Help:    "Audio already queued ahead of the output clock when a chunk is scheduled",
		Buckets: []float64{0, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	turnsFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediconnect_turns_finalized_total",
		Help: "Conversational turns appended to consultation history",
	})

	// Text model metrics
	llmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediconnect_llm_requests_total",
		Help: "Text model requests by operation and status",
	}, []string{"operation", "status"})

	llmLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mediconnect_llm_latency_seconds",
		Help:    "Text model latency in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"operation"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediconnect_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})
)

// ConsultationMetrics tracks metrics for a single consultation attempt
type ConsultationMetrics struct {
	startTime time.Time
	ended     bool
	mu        sync.Mutex
}

// NewConsultationMetrics records the start of an attempt and returns its tracker
func NewConsultationMetrics() *ConsultationMetrics {
	activeConsultations.Inc()
	totalConsultations.Inc()
	return &ConsultationMetrics{startTime: time.Now()}
}

// RecordEnd records the end of the attempt. Only the first call counts.
func (m *ConsultationMetrics) RecordEnd(reason string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return
	}
	m.ended = true
	activeConsultations.Dec()
	consultationDuration.Observe(time.Since(m.startTime).Seconds())
	consultationEnds.WithLabelValues(reason).Inc()
}

// RecordFrameSent counts a microphone frame forwarded to the live session
func RecordFrameSent() {
	audioFrames.WithLabelValues("sent").Inc()
}

// RecordFrameDropped counts a microphone frame discarded because no session was open
func RecordFrameDropped() {
	audioFrames.WithLabelValues("dropped").Inc()
}

// RecordChunkScheduled counts a playback chunk and how much audio was queued ahead of it
func RecordChunkScheduled(queued time.Duration) {
	audioChunksScheduled.Inc()
	playbackQueueSeconds.Observe(queued.Seconds())
}

// RecordTurn counts a finalized turn
func RecordTurn() {
	turnsFinalized.Inc()
}

// RecordLLMRequest records a text model call
func RecordLLMRequest(operation string, started time.Time, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	llmRequests.WithLabelValues(operation, status).Inc()
	llmLatency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}
