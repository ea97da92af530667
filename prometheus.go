package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics holds all bridge metrics. A nil *PrometheusMetrics is
// valid; callers guard every Record call so disabling metrics costs nothing.
type PrometheusMetrics struct {
	framesParsed      *prometheus.CounterVec
	sweepsSent        *prometheus.CounterVec
	framesDropped     prometheus.Counter
	broadcastErrors   prometheus.Counter
	serialReadErrors  prometheus.Counter
	serialWriteErrors prometheus.Counter
	connectedClients  prometheus.Gauge
}

func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		framesParsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rfbridge_frames_parsed_total",
			Help: "Total frames decoded from the serial stream, by frame type",
		}, []string{"type"}),
		sweepsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rfbridge_sweeps_sent_total",
			Help: "Total sweep messages queued to clients, by encoding",
		}, []string{"encoding"}),
		framesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rfbridge_frames_dropped_total",
			Help: "Total frames dropped because a client send buffer was full",
		}),
		broadcastErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rfbridge_broadcast_errors_total",
			Help: "Total frames that failed to encode during broadcast",
		}),
		serialReadErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rfbridge_serial_read_errors_total",
			Help: "Total serial read failures in the poll loop",
		}),
		serialWriteErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rfbridge_serial_write_errors_total",
			Help: "Total serial write failures for device commands",
		}),
		connectedClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rfbridge_connected_clients",
			Help: "Number of currently connected WebSocket clients",
		}),
	}
}

func (m *PrometheusMetrics) RecordFrameParsed(frameType string) {
	m.framesParsed.WithLabelValues(frameType).Inc()
}

func (m *PrometheusMetrics) RecordSweepSent(encoding string) {
	m.sweepsSent.WithLabelValues(encoding).Inc()
}

func (m *PrometheusMetrics) RecordFrameDropped() {
	m.framesDropped.Inc()
}

func (m *PrometheusMetrics) RecordBroadcastError() {
	m.broadcastErrors.Inc()
}

func (m *PrometheusMetrics) RecordSerialReadError() {
	m.serialReadErrors.Inc()
}

func (m *PrometheusMetrics) RecordSerialWriteError() {
	m.serialWriteErrors.Inc()
}

func (m *PrometheusMetrics) RecordClientConnect() {
	m.connectedClients.Inc()
}

func (m *PrometheusMetrics) RecordClientDisconnect() {
	m.connectedClients.Dec()
}
