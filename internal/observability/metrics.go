package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speech_bridge_active_sessions",
		Help: "Number of recognition sessions in flight",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_bridge_sessions_total",
		Help: "Total number of recognition sessions by provider and outcome",
	}, []string{"provider", "outcome"})

	sessionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "speech_bridge_session_latency_seconds",
		Help:    "Wall time from connect to resolved transcript",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"provider"})

	finalWaitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_bridge_final_wait_seconds",
		Help:    "Time spent waiting for the server-final message after the last audio frame",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Wire metrics
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_bridge_frames_total",
		Help: "Wire frames by direction and message type",
	}, []string{"direction", "type"}) // direction: "sent" or "received"

	malformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_bridge_malformed_frames_total",
		Help: "Inbound frames dropped because they could not be decoded",
	})

	audioBytesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_bridge_audio_bytes_total",
		Help: "Total audio bytes forwarded to a provider",
	}, []string{"provider"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_bridge_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "speech_bridge_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_bridge_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// SessionStats is the per-session counter snapshot returned with a result.
type SessionStats struct {
	FramesSent      int           `json:"frames_sent"`
	FramesReceived  int           `json:"frames_received"`
	FramesDropped   int           `json:"frames_dropped"`
	AudioBytesSent  int64         `json:"audio_bytes_sent"`
	TextUpdates     int           `json:"text_updates"`
	ServerErrors    int           `json:"server_errors"`
	Duration        time.Duration `json:"duration_ns"`
	FinalWait       time.Duration `json:"final_wait_ns"`
	ReceivedFinal   bool          `json:"received_final"`
	TimedOutOnFinal bool          `json:"timed_out_on_final"`
}

// SessionMetrics tracks counters for a single recognition session and mirrors
// them into the process-wide Prometheus collectors.
type SessionMetrics struct {
	provider       string
	startTime      time.Time
	finalWaitStart time.Time
	stats          SessionStats
	ended          bool
	mu             sync.Mutex
}

// NewSessionMetrics creates a metrics tracker for one session
func NewSessionMetrics(provider string) *SessionMetrics {
	return &SessionMetrics{
		provider:  provider,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()
	activeSessions.Inc()
}

// RecordSessionEnd records the end of a session with its outcome label.
// Calls after the first are ignored.
func (m *SessionMetrics) RecordSessionEnd(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended {
		return
	}
	m.ended = true

	m.stats.Duration = time.Since(m.startTime)
	activeSessions.Dec()
	sessionsTotal.WithLabelValues(m.provider, outcome).Inc()
	sessionLatency.WithLabelValues(m.provider).Observe(m.stats.Duration.Seconds())
}

// RecordFrameSent counts an outbound frame. audioBytes is zero for control frames.
func (m *SessionMetrics) RecordFrameSent(frameType string, audioBytes int) {
	m.mu.Lock()
	m.stats.FramesSent++
	m.stats.AudioBytesSent += int64(audioBytes)
	m.mu.Unlock()

	framesTotal.WithLabelValues("sent", frameType).Inc()
	if audioBytes > 0 {
		audioBytesSent.WithLabelValues(m.provider).Add(float64(audioBytes))
	}
}

// RecordFrameReceived counts an inbound frame
func (m *SessionMetrics) RecordFrameReceived(frameType string) {
	m.mu.Lock()
	m.stats.FramesReceived++
	m.mu.Unlock()

	framesTotal.WithLabelValues("received", frameType).Inc()
}

// RecordFrameDropped counts an inbound frame that could not be decoded
func (m *SessionMetrics) RecordFrameDropped() {
	m.mu.Lock()
	m.stats.FramesDropped++
	m.mu.Unlock()

	malformedFrames.Inc()
}

// RecordTextUpdate counts a change of the best-known transcript
func (m *SessionMetrics) RecordTextUpdate() {
	m.mu.Lock()
	m.stats.TextUpdates++
	m.mu.Unlock()
}

// RecordServerError counts a service-reported error
func (m *SessionMetrics) RecordServerError() {
	m.mu.Lock()
	m.stats.ServerErrors++
	m.mu.Unlock()

	errorsTotal.WithLabelValues("server_reported", m.provider).Inc()
}

// RecordFinalWaitStart marks the moment the terminal audio frame went out
func (m *SessionMetrics) RecordFinalWaitStart() {
	m.mu.Lock()
	m.finalWaitStart = time.Now()
	m.mu.Unlock()
}

// RecordFinalWaitEnd records how the final wait ended
func (m *SessionMetrics) RecordFinalWaitEnd(receivedFinal bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finalWaitStart.IsZero() {
		return
	}
	m.stats.FinalWait = time.Since(m.finalWaitStart)
	m.stats.ReceivedFinal = receivedFinal
	m.stats.TimedOutOnFinal = !receivedFinal
	finalWaitLatency.Observe(m.stats.FinalWait.Seconds())
}

// RecordError records an error
func (m *SessionMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// Snapshot returns a copy of the session counters
func (m *SessionMetrics) Snapshot() SessionStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	if !m.ended {
		stats.Duration = time.Since(m.startTime)
	}
	return stats
}

// RecordError records an error outside of any session
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
