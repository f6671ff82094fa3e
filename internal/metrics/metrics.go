// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Room deletion reasons.
const (
	ReasonEmpty    = "empty"
	ReasonExpired  = "expired"
	ReasonDeleted  = "deleted"
	ReasonShutdown = "shutdown"
)

var (
	// ActiveRooms tracks the number of live rooms.
	ActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_active_rooms",
			Help: "Number of currently live rooms",
		},
	)

	// RoomsCreated tracks the total number of rooms created.
	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_rooms_created_total",
			Help: "Total number of rooms created",
		},
	)

	// RoomsDeleted tracks room removals by reason.
	RoomsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rooms_deleted_total",
			Help: "Total number of rooms removed",
		},
		[]string{"reason"},
	)

	// ConnectedPeers tracks open peer connections.
	ConnectedPeers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_connected_peers",
			Help: "Number of currently connected peers",
		},
	)

	// FramesDispatched counts inbound frames by message type.
	FramesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_frames_dispatched_total",
			Help: "Total number of inbound frames dispatched",
		},
		[]string{"type"},
	)

	// FramesRejected counts inbound frames answered with an error event.
	FramesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_frames_rejected_total",
			Help: "Total number of inbound frames rejected",
		},
		[]string{"kind"},
	)

	// RateLimited counts frames dropped by the per-peer limiter.
	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_rate_limited_total",
			Help: "Total number of frames rejected by the rate limiter",
		},
	)

	// TokensIssued counts session tokens handed out.
	TokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_tokens_issued_total",
			Help: "Total number of session tokens issued",
		},
	)

	// TokensConsumed counts token redemption attempts by result.
	TokensConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_tokens_consumed_total",
			Help: "Total number of session token redemption attempts",
		},
		[]string{"result"},
	)
)

// RecordRoomCreated increments room creation metrics.
func RecordRoomCreated() {
	RoomsCreated.Inc()
	ActiveRooms.Inc()
}

// RecordRoomDeleted increments room deletion metrics.
func RecordRoomDeleted(reason string) {
	RoomsDeleted.WithLabelValues(reason).Inc()
	ActiveRooms.Dec()
}

func RecordPeerConnected()    { ConnectedPeers.Inc() }
func RecordPeerDisconnected() { ConnectedPeers.Dec() }

func RecordFrame(msgType string) { FramesDispatched.WithLabelValues(msgType).Inc() }

func RecordRejected(kind string) { FramesRejected.WithLabelValues(kind).Inc() }

func RecordRateLimited() { RateLimited.Inc() }

func RecordTokenIssued() { TokensIssued.Inc() }

// RecordTokenConsumed records a redemption attempt.
func RecordTokenConsumed(accepted bool) {
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	TokensConsumed.WithLabelValues(result).Inc()
}
