// Package metrics exposes Prometheus instrumentation for voice sessions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice client. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Uplink
	ChunksCaptured prometheus.Counter
	ChunksSent     prometheus.Counter
	ChunksDropped  prometheus.Counter
	BytesSent      prometheus.Counter
	QueueDepth     prometheus.Gauge

	// Downlink
	FramesReceived  *prometheus.CounterVec
	BytesReceived   prometheus.Counter
	ControlMessages *prometheus.CounterVec

	// Sessions
	ActiveSessions  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram
}

// New creates all metrics and registers them with reg. Passing nil uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ChunksCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "duplexvoice_chunks_captured_total",
			Help: "Total number of 80ms audio chunks captured",
		}),
		ChunksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "duplexvoice_chunks_sent_total",
			Help: "Total number of audio chunks sent to the server",
		}),
		ChunksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "duplexvoice_chunks_dropped_total",
			Help: "Total number of captured chunks dropped on queue overflow",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "duplexvoice_bytes_sent_total",
			Help: "Total PCM bytes sent",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "duplexvoice_queue_depth",
			Help: "Current number of chunks waiting to be sent",
		}),

		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "duplexvoice_frames_received_total",
			Help: "Total number of inbound frames by kind",
		}, []string{"kind"}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "duplexvoice_bytes_received_total",
			Help: "Total PCM bytes received for playback",
		}),
		ControlMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "duplexvoice_control_messages_total",
			Help: "Total number of inbound text messages by event type",
		}, []string{"type"}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "duplexvoice_active_sessions",
			Help: "Number of sessions currently streaming",
		}),
		SessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "duplexvoice_sessions_total",
			Help: "Total number of finished sessions by status",
		}, []string{"status"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "duplexvoice_session_duration_seconds",
			Help:    "Session duration from connect to close",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
	}
}

func (m *Metrics) ChunkCaptured() {
	if m == nil {
		return
	}
	m.ChunksCaptured.Inc()
}

func (m *Metrics) ChunkSent(n int) {
	if m == nil {
		return
	}
	m.ChunksSent.Inc()
	m.BytesSent.Add(float64(n))
}

func (m *Metrics) ChunkDropped() {
	if m == nil {
		return
	}
	m.ChunksDropped.Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// FrameReceived counts an inbound frame; audio frames also count bytes.
func (m *Metrics) FrameReceived(kind string, n int) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(kind).Inc()
	if kind == "audio" {
		m.BytesReceived.Add(float64(n))
	}
}

func (m *Metrics) ControlMessage(eventType string) {
	if m == nil {
		return
	}
	m.ControlMessages.WithLabelValues(eventType).Inc()
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionFinished records a closed session. wasStreaming says whether
// SessionStarted was called for it.
func (m *Metrics) SessionFinished(status string, seconds float64, wasStreaming bool) {
	if m == nil {
		return
	}
	if wasStreaming {
		m.ActiveSessions.Dec()
	}
	m.SessionsTotal.WithLabelValues(status).Inc()
	m.SessionDuration.Observe(seconds)
}
