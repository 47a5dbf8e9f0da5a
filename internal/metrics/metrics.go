// Package metrics provides Prometheus collectors for the signaling server and
// the participant client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Server side.
var (
	// RoomMembers tracks members currently joined to any room.
	RoomMembers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vision_room_members",
			Help: "Number of members currently joined to a room",
		},
	)

	// SignalConnections tracks open signaling websockets.
	SignalConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vision_signal_connections",
			Help: "Number of open signaling connections",
		},
	)

	Joins = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vision_room_joins_total",
			Help: "Total number of successful room joins",
		},
	)

	// Leaves is labelled by reason: leave or disconnect.
	Leaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_room_leaves_total",
			Help: "Total number of members removed from rooms",
		},
		[]string{"reason"},
	)

	DroppedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vision_signal_dropped_events_total",
			Help: "Signaling events dropped because a member channel was saturated",
		},
	)

	RelayedSignals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_signal_relayed_total",
			Help: "Negotiation messages relayed between members",
		},
		[]string{"type"},
	)
)

// Client side.
var (
	OpenSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vision_peer_sessions_open",
			Help: "Number of peer sessions currently open",
		},
	)

	// Negotiations is labelled by result: opened, failed, stale.
	Negotiations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_peer_negotiations_total",
			Help: "Completed peer negotiations by result",
		},
		[]string{"result"},
	)

	ActiveViewChanges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vision_active_view_changes_total",
			Help: "Number of times the active view changed",
		},
	)

	Frames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vision_detect_frames_total",
			Help: "Frames handed to the detector",
		},
	)

	Detections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vision_detect_detections_total",
			Help: "Objects reported by the detector",
		},
	)

	DetectDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vision_detect_duration_seconds",
			Help:    "Duration of a single detector invocation",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	// FrameLatency measures first packet received to detection finished.
	FrameLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vision_detect_frame_latency_seconds",
			Help:    "Time from first packet of a frame to detection completion",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// RecordJoin increments join metrics.
func RecordJoin() {
	Joins.Inc()
	RoomMembers.Inc()
}

// RecordLeave increments leave metrics for reason.
func RecordLeave(reason string) {
	Leaves.WithLabelValues(reason).Inc()
	RoomMembers.Dec()
}
