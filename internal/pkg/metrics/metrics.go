package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds every spotpeer collector and backs the /metrics endpoint.
var Registry = prometheus.NewRegistry()

var (
	// ConnectionState is 1 for the current push-channel state and 0 for the others.
	ConnectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spotpeer_connection_state",
			Help: "Push channel connection state (1 for the current state).",
		},
		[]string{"state"}, // disconnected/connecting/connected
	)

	// ReconnectAttempts is the number of consecutive failed dials.
	ReconnectAttempts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "spotpeer_reconnect_attempts",
			Help: "Consecutive failed push channel dials since the last success.",
		},
	)

	// ReconnectExhaustedTotal counts how often the retry budget ran out.
	ReconnectExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spotpeer_reconnect_exhausted_total",
			Help: "Number of times the reconnect budget was exhausted.",
		},
	)

	// EventsTotal counts inbound push events.
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotpeer_events_total",
			Help: "Inbound push events by kind and result.",
		},
		[]string{"kind", "result"}, // result: applied/malformed/unrecognized/ignored
	)

	// SnapshotFetchTotal counts baseline fetches.
	SnapshotFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotpeer_snapshot_fetch_total",
			Help: "Baseline snapshot fetches by result.",
		},
		[]string{"result"}, // success/transport_error/data_error/stale
	)

	// SnapshotFetchLatency records fetch durations.
	SnapshotFetchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spotpeer_snapshot_fetch_duration_seconds",
			Help:    "Latency of baseline snapshot fetches.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Spots is the merged view of the active lot broken down by effective status.
	Spots = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spotpeer_spots",
			Help: "Spots of the active lot by effective status.",
		},
		[]string{"status"},
	)

	// UnmatchedLiveEvents is the number of stored live events for the active
	// lot that match no baseline spot.
	UnmatchedLiveEvents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "spotpeer_unmatched_live_events",
			Help: "Live events of the active lot that match no baseline spot.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ConnectionState,
		ReconnectAttempts,
		ReconnectExhaustedTotal,
		EventsTotal,
		SnapshotFetchTotal,
		SnapshotFetchLatency,
		Spots,
		UnmatchedLiveEvents,
	)
}

// SetConnectionState marks state as the current one.
func SetConnectionState(state string, all ...string) {
	for _, s := range all {
		ConnectionState.WithLabelValues(s).Set(0)
	}
	ConnectionState.WithLabelValues(state).Set(1)
}
