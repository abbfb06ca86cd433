package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsStopped prometheus.Counter

	// Control-plane metrics
	RTSPRequests *prometheus.CounterVec
	Connections  prometheus.Counter
	Disconnects  prometheus.Counter

	// Data-plane metrics
	FramesIngested prometheus.Counter
	FrameSize      prometheus.Histogram
	PacketsSent    prometheus.Counter
	BytesSent      prometheus.Counter
	SendErrors     prometheus.Counter

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers all metrics on the given registry. Tests use a
// fresh registry per instance to avoid duplicate registration.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rapidrtsp_active_sessions",
			Help: "Number of currently registered sessions",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidrtsp_sessions_started_total",
			Help: "Total number of sessions created via SETUP",
		}),
		SessionsStopped: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidrtsp_sessions_stopped_total",
			Help: "Total number of sessions torn down",
		}),

		RTSPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidrtsp_rtsp_requests_total",
				Help: "Total number of RTSP requests handled",
			},
			[]string{"method", "status"},
		),
		Connections: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidrtsp_connections_total",
			Help: "Total number of control connections accepted",
		}),
		Disconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidrtsp_disconnects_total",
			Help: "Total number of control connections closed",
		}),

		FramesIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidrtsp_frames_ingested_total",
			Help: "Total number of access units accepted by SendFrame",
		}),
		FrameSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rapidrtsp_frame_size_bytes",
			Help:    "Size of ingested access units in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 10), // 1KB to ~512KB
		}),
		PacketsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidrtsp_rtp_packets_sent_total",
			Help: "Total number of RTP packets sent across all sessions",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidrtsp_rtp_bytes_sent_total",
			Help: "Total RTP bytes sent across all sessions",
		}),
		SendErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidrtsp_rtp_send_errors_total",
			Help: "Total number of per-session transport send failures",
		}),

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidrtsp_http_requests_total",
				Help: "Total number of HTTP API requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rapidrtsp_http_request_duration_seconds",
				Help:    "Duration of HTTP API requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// RecordSessionStarted records a session created via SETUP
func (m *Metrics) RecordSessionStarted() {
	m.ActiveSessions.Inc()
	m.SessionsStarted.Inc()
}

// RecordSessionsStopped records n sessions torn down
func (m *Metrics) RecordSessionsStopped(n int) {
	m.ActiveSessions.Sub(float64(n))
	m.SessionsStopped.Add(float64(n))
}

// RecordRTSPRequest records a handled RTSP request
func (m *Metrics) RecordRTSPRequest(method string, status int) {
	m.RTSPRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// RecordConnection records an accepted control connection
func (m *Metrics) RecordConnection() {
	m.Connections.Inc()
}

// RecordDisconnect records a closed control connection
func (m *Metrics) RecordDisconnect() {
	m.Disconnects.Inc()
}

// RecordFrameIngested records one access unit accepted by SendFrame
func (m *Metrics) RecordFrameIngested(size int) {
	m.FramesIngested.Inc()
	m.FrameSize.Observe(float64(size))
}

// RecordPacketsSent records packets delivered by one broadcast
func (m *Metrics) RecordPacketsSent(packets, bytes int) {
	m.PacketsSent.Add(float64(packets))
	m.BytesSent.Add(float64(bytes))
}

// RecordSendErrors records per-session transport failures
func (m *Metrics) RecordSendErrors(n int) {
	m.SendErrors.Add(float64(n))
}

// RecordHTTPRequest records an HTTP API request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(durationSeconds)
}
