package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the relay's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	connections    prometheus.Gauge
	framesSent     prometheus.Counter
	framesDropped  prometheus.Counter
	eventsTotal    *prometheus.CounterVec
	storeErrors    *prometheus.CounterVec
	messagesStored prometheus.Counter
}

// NewMetrics registers the collectors on reg. Pass prometheus.NewRegistry()
// in tests to avoid clashing with the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat",
			Name:      "connections",
			Help:      "Connections currently attached to the hub.",
		}),
		framesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "frames_sent_total",
			Help:      "Frames handed to connection send buffers.",
		}),
		framesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped because the recipient could not take them.",
		}),
		eventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "inbound_events_total",
			Help:      "Inbound events handled, by event name.",
		}, []string{"event"}),
		storeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "store_errors_total",
			Help:      "Message store failures, by operation.",
		}, []string{"op"}),
		messagesStored: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "messages_stored_total",
			Help:      "Chat messages durably appended.",
		}),
	}
}

func (m *Metrics) setConnections(n int) {
	if m != nil {
		m.connections.Set(float64(n))
	}
}

func (m *Metrics) delivered() {
	if m != nil {
		m.framesSent.Inc()
	}
}

func (m *Metrics) dropped() {
	if m != nil {
		m.framesDropped.Inc()
	}
}

func (m *Metrics) event(name string) {
	if m != nil {
		m.eventsTotal.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) storeError(op string) {
	if m != nil {
		m.storeErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) stored() {
	if m != nil {
		m.messagesStored.Inc()
	}
}
