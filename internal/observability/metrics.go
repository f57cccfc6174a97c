package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Voice server stream metrics
	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "narrator_active_streams",
		Help: "Number of audio streams currently relayed to clients",
	})

	streamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narrator_stream_requests_total",
		Help: "Total number of stream_audio requests",
	}, []string{"transport", "status"})

	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narrator_upstream_requests_total",
		Help: "Total number of upstream TTS requests",
	}, []string{"provider", "status"})

	upstreamFirstByte = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "narrator_upstream_first_byte_seconds",
		Help:    "Latency until the upstream TTS vendor returns response headers",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	}, []string{"provider"})

	audioBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narrator_audio_bytes_total",
		Help: "Total audio bytes streamed",
	}, []string{"side"}) // side: "server" or "client"

	// Narration session metrics (reader side)
	narrationSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narrator_sessions_total",
		Help: "Narration sessions by outcome",
	}, []string{"event"})

	narrationChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "narrator_chunks_total",
		Help: "Audio chunks appended to the decode buffer",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narrator_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "narrator_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narrator_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// StreamMetrics tracks a single relayed stream on the voice server
type StreamMetrics struct {
	transport string
	startTime time.Time
}

// NewStreamMetrics records the start of a relayed stream
func NewStreamMetrics(transport string) *StreamMetrics {
	activeStreams.Inc()
	return &StreamMetrics{transport: transport, startTime: time.Now()}
}

// RecordBytes records audio bytes written to the client
func (m *StreamMetrics) RecordBytes(n int) {
	audioBytes.WithLabelValues("server").Add(float64(n))
}

// End records the end of the stream with its final status
func (m *StreamMetrics) End(status string) {
	activeStreams.Dec()
	streamRequests.WithLabelValues(m.transport, status).Inc()
}

// RecordUpstream records an upstream TTS request outcome and its time to headers
func RecordUpstream(provider string, success bool, latency time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	upstreamRequests.WithLabelValues(provider, status).Inc()
	upstreamFirstByte.WithLabelValues(provider).Observe(latency.Seconds())
}

// RecordNarrationEvent counts a narration session lifecycle event
// (started, completed, reset, failed)
func RecordNarrationEvent(event string) {
	narrationSessions.WithLabelValues(event).Inc()
}

// RecordNarrationChunk counts one appended chunk and its bytes
func RecordNarrationChunk(n int) {
	narrationChunks.Inc()
	audioBytes.WithLabelValues("client").Add(float64(n))
}

// RecordError records an error
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

// MetricsHandler exposes the default Prometheus registry
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
