// Package metrics exposes prometheus collectors for the coordination core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Registered duplex connections",
		},
	)

	ConnectionsIdentified = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_identified",
			Help: "Registered connections with a resolved user",
		},
	)

	UsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_users_online",
			Help: "Distinct users holding at least one connection",
		},
	)

	StaleEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_stale_evictions_total",
			Help: "Connections closed by the heartbeat monitor",
		},
	)

	FramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_frames_dropped_total",
			Help: "Frames not delivered because a send buffer was full or closed",
		},
	)

	PresenceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_transitions_total",
			Help: "Online and offline transitions emitted",
		},
		[]string{"direction"},
	)

	SignalsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaling_messages_total",
			Help: "Signaling messages by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	VoiceOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_operations_total",
			Help: "Voice session operations by kind and outcome",
		},
		[]string{"op", "outcome"},
	)

	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voice_provider_request_duration_seconds",
			Help:    "Latency of external voice provider calls",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"op"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "0=closed, 1=half-open, 2=open",
		},
		[]string{"name"},
	)
)

// Outcome collapses an error into a label value.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func RecordVoiceOp(op string, err error) {
	VoiceOperations.WithLabelValues(op, Outcome(err)).Inc()
}

func RecordProviderCall(op string, start time.Time) {
	ProviderRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
