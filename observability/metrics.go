// Package observability exposes the board's Prometheus collectors.
package observability

import (
	"sync/atomic"

	"message-board/domain"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "message_board"

// Metrics records bus activity, operation failures and WebSocket connections.
// It implements contract.BusObserver.
type Metrics struct {
	eventsPublished     *prometheus.CounterVec
	eventsDropped       *prometheus.CounterVec
	deliveries          *prometheus.CounterVec
	messagesCreated     prometheus.Counter
	activeSubscriptions *prometheus.GaugeVec
	operationErrors     *prometheus.CounterVec
	wsConnections       prometheus.Gauge

	// mirrors for the heartbeat log line
	published   atomic.Uint64
	dropped     atomic.Uint64
	failures    atomic.Uint64
	connections atomic.Int64
}

// Stats is a point-in-time view of the counters.
type Stats struct {
	EventsPublished uint64
	EventsDropped   uint64
	OperationErrors uint64
	WSConnections   int64
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help},
		labels,
	)
}

func newGaugeVec(name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
		labels,
	)
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		eventsPublished:     newCounterVec("events_published_total", "Events published on the bus.", []string{"topic"}),
		eventsDropped:       newCounterVec("events_dropped_total", "Events evicted from a slow subscriber queue.", []string{"topic"}),
		deliveries:          newCounterVec("event_deliveries_total", "Events enqueued for a subscriber.", []string{"topic"}),
		activeSubscriptions: newGaugeVec("active_subscriptions", "Live bus subscriptions.", []string{"topic"}),
		operationErrors:     newCounterVec("operation_errors_total", "Rejected GraphQL operations by error code.", []string{"code"}),
		messagesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_created_total",
			Help:      "Messages committed by createMessage.",
		}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open WebSocket connections.",
		}),
	}

	collectors := []prometheus.Collector{
		m.eventsPublished, m.eventsDropped, m.deliveries, m.messagesCreated,
		m.activeSubscriptions, m.operationErrors, m.wsConnections,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) SubscriptionOpened(topic domain.Topic) {
	m.activeSubscriptions.WithLabelValues(string(topic)).Inc()
}

func (m *Metrics) SubscriptionClosed(topic domain.Topic) {
	m.activeSubscriptions.WithLabelValues(string(topic)).Dec()
}

func (m *Metrics) EventPublished(topic domain.Topic, receivers int) {
	m.published.Add(1)
	m.eventsPublished.WithLabelValues(string(topic)).Inc()
	m.deliveries.WithLabelValues(string(topic)).Add(float64(receivers))
}

// MessageCreated counts a committed createMessage, whether or not anyone heard of it.
func (m *Metrics) MessageCreated() {
	m.messagesCreated.Inc()
}

func (m *Metrics) EventDropped(topic domain.Topic) {
	m.dropped.Add(1)
	m.eventsDropped.WithLabelValues(string(topic)).Inc()
}

// OperationFailed counts a rejected operation under its extension code.
func (m *Metrics) OperationFailed(code string) {
	m.failures.Add(1)
	m.operationErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) ConnectionOpened() {
	m.connections.Add(1)
	m.wsConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	m.connections.Add(-1)
	m.wsConnections.Dec()
}

func (m *Metrics) Stats() Stats {
	return Stats{
		EventsPublished: m.published.Load(),
		EventsDropped:   m.dropped.Load(),
		OperationErrors: m.failures.Load(),
		WSConnections:   m.connections.Load(),
	}
}
