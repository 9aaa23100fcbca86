package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Client connection metrics
	SocketEventsTotal      *prometheus.CounterVec
	SocketReconnectsTotal  prometheus.Counter
	SocketBytesTotal       *prometheus.CounterVec
	SocketOpen             prometheus.Gauge
	SocketQueuedMessages   prometheus.Gauge
	SubscriberDroppedTotal prometheus.Counter

	// Development server metrics
	ServerClients          prometheus.Gauge
	ServerConnectionsTotal prometheus.Counter
	ServerBroadcastsTotal  prometheus.Counter
	ServerDroppedTotal     prometheus.Counter
}

var (
	instance *Metrics
	once     sync.Once
)

// Initialize creates and registers all Prometheus metrics
func Initialize() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			SocketEventsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "emoine_socket_events_total",
					Help: "Lifecycle events emitted by the shared WebSocket connection",
				},
				[]string{"event"},
			),
			SocketReconnectsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "emoine_socket_reconnects_total",
					Help: "Reconnection attempts made after a dropped or failed connection",
				},
			),
			SocketBytesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "emoine_socket_bytes_total",
					Help: "Payload bytes transferred over the WebSocket connection",
				},
				[]string{"direction"},
			),
			SocketOpen: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "emoine_socket_open",
					Help: "1 while the WebSocket connection is open",
				},
			),
			SocketQueuedMessages: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "emoine_socket_queued_messages",
					Help: "Messages waiting for the connection to open",
				},
			),
			SubscriberDroppedTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "emoine_socket_subscriber_dropped_total",
					Help: "Events dropped because a subscriber channel was full",
				},
			),
			ServerClients: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "emoine_server_clients",
					Help: "WebSocket clients connected to the development server",
				},
			),
			ServerConnectionsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "emoine_server_connections_total",
					Help: "WebSocket connections accepted by the development server",
				},
			),
			ServerBroadcastsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "emoine_server_broadcasts_total",
					Help: "Frames broadcast by the development server",
				},
			),
			ServerDroppedTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "emoine_server_dropped_total",
					Help: "Frames dropped because a client send buffer was full",
				},
			),
		}
	})
	return instance
}

// Get returns the metrics instance, initializing it on first use
func Get() *Metrics {
	return Initialize()
}
