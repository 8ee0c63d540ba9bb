package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's Prometheus metrics on a private registry.
// All recording methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Relay metrics
	RelayRequests   *prometheus.CounterVec
	OpenAttempts    *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
	SessionDuration prometheus.Histogram
	StreamEnds      *prometheus.CounterVec

	// Frame metrics
	FramesEmitted prometheus.Counter
	BytesEmitted  prometheus.Counter
	FrameSize     prometheus.Histogram

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates and registers all metrics
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RelayRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamrelay_relay_requests_total",
				Help: "Relay requests by outcome before streaming started",
			},
			[]string{"outcome"},
		),
		OpenAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamrelay_open_attempts_total",
				Help: "Capture open attempts by source kind and result",
			},
			[]string{"kind", "result"},
		),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streamrelay_active_sessions",
			Help: "Number of capture sessions currently open",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamrelay_session_duration_seconds",
			Help:    "Lifetime of capture sessions from open to release",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2.3h
		}),
		StreamEnds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamrelay_stream_ends_total",
				Help: "Chunk sequences terminated, by reason",
			},
			[]string{"reason"},
		),

		FramesEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamrelay_frames_emitted_total",
			Help: "Framed JPEG chunks handed to clients",
		}),
		BytesEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamrelay_bytes_emitted_total",
			Help: "Bytes of multipart body handed to clients",
		}),
		FrameSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamrelay_jpeg_size_bytes",
			Help:    "Size of encoded JPEG payloads",
			Buckets: prometheus.ExponentialBuckets(4096, 2, 10), // 4KB to ~2MB
		}),

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamrelay_http_requests_total",
				Help: "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "streamrelay_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus exposition handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RelayOutcome counts a relay request outcome ("ok", "bad_request", ...)
func (m *Metrics) RelayOutcome(outcome string) {
	if m == nil {
		return
	}
	m.RelayRequests.WithLabelValues(outcome).Inc()
}

// OpenAttempt counts one capture open attempt
func (m *Metrics) OpenAttempt(kind, result string) {
	if m == nil {
		return
	}
	m.OpenAttempts.WithLabelValues(kind, result).Inc()
}

// SessionOpened marks a session as open
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionReleased marks a session as released after living for d
func (m *Metrics) SessionReleased(d time.Duration) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(d.Seconds())
}

// ChunkEmitted records one chunk of n bytes carrying a payload of jpegSize bytes
func (m *Metrics) ChunkEmitted(n, jpegSize int) {
	if m == nil {
		return
	}
	m.FramesEmitted.Inc()
	m.BytesEmitted.Add(float64(n))
	m.FrameSize.Observe(float64(jpegSize))
}

// StreamEnded counts a terminated chunk sequence
func (m *Metrics) StreamEnded(reason string) {
	if m == nil {
		return
	}
	m.StreamEnds.WithLabelValues(reason).Inc()
}

// HTTPRequest records a served HTTP request
func (m *Metrics) HTTPRequest(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
