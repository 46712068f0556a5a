// Package metrics exposes the server's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	reg = prometheus.NewRegistry()

	WSConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signal_ws_connections_total", Help: "Total accepted WebSocket connections",
	})
	WSMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_ws_messages_total", Help: "Inbound WebSocket messages by type",
	}, []string{"type"})
	WSErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signal_ws_errors_total", Help: "Dropped/invalid inbound frames",
	})
	EventsEmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_events_emitted_total", Help: "Event bus emissions by event name",
	}, []string{"event"})
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signal_rooms_active", Help: "Currently active rooms",
	})
	PeersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signal_peers_active", Help: "Currently connected peers",
	})
)

// Init registers every collector. Safe to call once at process startup.
func Init() {
	reg.MustRegister(
		WSConnectionsTotal,
		WSMessagesTotal,
		WSErrorsTotal,
		EventsEmittedTotal,
		RoomsActive,
		PeersActive,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// SetRooms updates the active-rooms gauge.
func SetRooms(n int) { RoomsActive.Set(float64(n)) }

// SetPeers updates the active-peers gauge.
func SetPeers(n int) { PeersActive.Set(float64(n)) }
