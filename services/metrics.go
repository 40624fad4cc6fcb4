package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the gateway collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	activeConns   prometheus.Gauge
	connTotal     prometheus.Counter
	events        *prometheus.CounterVec
	eventLatency  *prometheus.HistogramVec
	appended      prometheus.Counter
	droppedConns  prometheus.Counter
	notifications *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "securechat_connections_active",
			Help: "Current number of open WebSocket connections.",
		}),
		connTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "securechat_connections_total",
			Help: "Total number of WebSocket connections accepted since start.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "securechat_events_total",
			Help: "Client events handled, by event and outcome code.",
		}, []string{"event", "code"}),
		eventLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "securechat_event_latency_seconds",
			Help:    "Latency for handling client events.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"event"}),
		appended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "securechat_messages_appended_total",
			Help: "Messages appended to the message log.",
		}),
		droppedConns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "securechat_slow_consumers_total",
			Help: "Connections closed because their outbound buffer was full.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "securechat_notifications_total",
			Help: "User notifications published, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.activeConns,
		m.connTotal,
		m.events,
		m.eventLatency,
		m.appended,
		m.droppedConns,
		m.notifications,
	)
	return m
}

func (m *Metrics) incConn() {
	if m == nil {
		return
	}
	m.activeConns.Inc()
	m.connTotal.Inc()
}

func (m *Metrics) decConn() {
	if m == nil {
		return
	}
	m.activeConns.Dec()
}

func (m *Metrics) recordEvent(event, code string, dur time.Duration) {
	if m == nil {
		return
	}
	if event == "" {
		event = "unknown"
	}
	if code == "" {
		code = "ok"
	}
	m.events.WithLabelValues(event, code).Inc()
	m.eventLatency.WithLabelValues(event).Observe(dur.Seconds())
}

func (m *Metrics) recordAppend() {
	if m == nil {
		return
	}
	m.appended.Inc()
}

func (m *Metrics) recordSlowConsumer() {
	if m == nil {
		return
	}
	m.droppedConns.Inc()
}

func (m *Metrics) recordNotification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}
