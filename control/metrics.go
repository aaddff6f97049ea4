// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for the WebSocket engine. Metrics implements the api
// observer hooks so connections report into it directly.

package control

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/protocol"
)

// MetricsConfig configures Metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "hioload").
	Namespace string
	// Subsystem is the metrics subsystem (default: "ws").
	Subsystem string
	// Registry receives the collectors (default: prometheus.DefaultRegisterer).
	Registry prometheus.Registerer
}

// MetricsOption configures Metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) { c.Namespace = namespace }
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) { c.Registry = registry }
}

// Metrics holds the engine collectors.
type Metrics struct {
	frames           *prometheus.CounterVec
	frameBytes       *prometheus.CounterVec
	messages         *prometheus.CounterVec
	messageBytes     *prometheus.HistogramVec
	protocolErrors   *prometheus.CounterVec
	closes           *prometheus.CounterVec
	activeConns      prometheus.Gauge
	connsTotal       prometheus.Counter
	handshakeFailure *prometheus.CounterVec
}

// NewMetrics registers the collectors.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := MetricsConfig{
		Namespace: "hioload",
		Subsystem: "ws",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "frames_total",
			Help:      "Frames by direction and opcode",
		}, []string{"direction", "opcode"}),

		frameBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "frame_bytes_total",
			Help:      "Encoded frame bytes by direction",
		}, []string{"direction"}),

		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "messages_total",
			Help:      "Application messages by direction and kind",
		}, []string{"direction", "kind"}),

		messageBytes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "message_size_bytes",
			Help:      "Application message payload sizes",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8), // 64B to 1MB
		}, []string{"direction"}),

		protocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "protocol_errors_total",
			Help:      "Fatal protocol errors by kind",
		}, []string{"kind"}),

		closes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "closes_total",
			Help:      "Closed connections by close code and initiating side",
		}, []string{"code", "initiator"}),

		activeConns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "active_connections",
			Help:      "Number of open WebSocket connections",
		}),

		connsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "connections_total",
			Help:      "Total accepted or dialed WebSocket connections",
		}),

		handshakeFailure: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "handshake_failures_total",
			Help:      "Rejected upgrade handshakes by reason",
		}, []string{"reason"}),
	}
}

// ObserveFrame implements api.FrameObserver.
func (m *Metrics) ObserveFrame(info api.FrameInfo) {
	dir := info.Dir.String()
	m.frames.WithLabelValues(dir, protocol.Opcode(info.Opcode).String()).Inc()
	m.frameBytes.WithLabelValues(dir).Add(float64(info.Encoded))
}

// ConnOpened implements api.ConnObserver.
func (m *Metrics) ConnOpened(string) {
	m.activeConns.Inc()
	m.connsTotal.Inc()
}

// MessageObserved implements api.ConnObserver.
func (m *Metrics) MessageObserved(_ string, dir api.Direction, text bool, size int) {
	kind := "binary"
	if text {
		kind = "text"
	}
	m.messages.WithLabelValues(dir.String(), kind).Inc()
	m.messageBytes.WithLabelValues(dir.String()).Observe(float64(size))
}

// ProtocolError implements api.ConnObserver.
func (m *Metrics) ProtocolError(_ string, kind string) {
	m.protocolErrors.WithLabelValues(kind).Inc()
}

// ConnClosed implements api.ConnObserver.
func (m *Metrics) ConnClosed(_ string, code uint16, remote bool) {
	initiator := "local"
	if remote {
		initiator = "remote"
	}
	m.closes.WithLabelValues(strconv.Itoa(int(code)), initiator).Inc()
	m.activeConns.Dec()
}

// HandshakeFailed counts a rejected upgrade.
func (m *Metrics) HandshakeFailed(reason string) {
	m.handshakeFailure.WithLabelValues(reason).Inc()
}

var (
	_ api.FrameObserver = (*Metrics)(nil)
	_ api.ConnObserver  = (*Metrics)(nil)
)
