package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	apiRequestsTotal       *prometheus.CounterVec
	apiLatencySeconds      *prometheus.HistogramVec
	chatConnectionsActive  prometheus.Gauge
	chatEventsTotal        *prometheus.CounterVec
	chatEventErrorsTotal   *prometheus.CounterVec
	chatFanoutDeliveries   prometheus.Counter
	chatBridgeEventsTotal  *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used across the chat backend.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		chatConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Number of websocket connections currently registered in the hub.",
		})

		chatEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_events_total",
			Help: "Total number of inbound chat events handled, by event name.",
		}, []string{"event"})

		chatEventErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_event_errors_total",
			Help: "Total number of chat events that ended in an error reply, by status.",
		}, []string{"event", "status"})

		chatFanoutDeliveries = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_fanout_deliveries_total",
			Help: "Total number of payloads enqueued to per-user channels by the dispatcher.",
		})

		chatBridgeEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_bridge_events_total",
			Help: "Cross-node chat events exchanged over redis/nats, by direction.",
		}, []string{"transport", "direction"})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			chatConnectionsActive,
			chatEventsTotal,
			chatEventErrorsTotal,
			chatFanoutDeliveries,
			chatBridgeEventsTotal,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// ChatConnectionsActive exposes the active connection gauge.
func ChatConnectionsActive() prometheus.Gauge {
	RegisterMetrics()
	return chatConnectionsActive
}

// ChatEvents exposes the counter for handled chat events.
func ChatEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return chatEventsTotal
}

// ChatEventErrors exposes the counter for chat handler errors.
func ChatEventErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return chatEventErrorsTotal
}

// ChatFanoutDeliveries exposes the counter for dispatcher deliveries.
func ChatFanoutDeliveries() prometheus.Counter {
	RegisterMetrics()
	return chatFanoutDeliveries
}

// ChatBridgeEvents exposes the counter for cross-node event traffic.
func ChatBridgeEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return chatBridgeEventsTotal
}
