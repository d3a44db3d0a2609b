// Package metrics exposes prometheus instrumentation for the queue and
// realtime layers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueJoins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_joins_total",
			Help: "Queue join attempts by outcome",
		},
		[]string{"outcome"}, // created, idempotent, conflict, reclaimed_retry, error
	)

	queueTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_transitions_total",
			Help: "Queue entry status transitions",
		},
		[]string{"from", "to"},
	)

	reaperReclaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reaper_reclaims_total",
			Help: "Stale entries reclaimed by the background sweep",
		},
		[]string{"prior_status"},
	)

	broadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_broadcasts_total",
			Help: "Events published to realtime topics",
		},
		[]string{"event"},
	)

	connectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connected_clients",
			Help: "Currently connected websocket clients",
		},
	)
)

// TrackJoin records a queue join attempt outcome.
func TrackJoin(outcome string) {
	queueJoins.WithLabelValues(outcome).Inc()
}

// TrackTransition records a queue entry status transition.
func TrackTransition(from, to string) {
	queueTransitions.WithLabelValues(from, to).Inc()
}

// TrackReclaim records a reaper reclamation.
func TrackReclaim(priorStatus string) {
	reaperReclaims.WithLabelValues(priorStatus).Inc()
}

// TrackBroadcast records a published realtime event.
func TrackBroadcast(event string) {
	broadcasts.WithLabelValues(event).Inc()
}

// ClientConnected adjusts the connected client gauge.
func ClientConnected(delta int) {
	connectedClients.Add(float64(delta))
}
