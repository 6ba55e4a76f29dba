// Package monitoring exposes prometheus metrics for the offline core.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transport metrics
	TransportRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offsync_transport_requests_total",
			Help: "Total number of transport sends by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	TransportRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offsync_transport_request_duration_seconds",
			Help:    "Transport send latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"method", "outcome"},
	)

	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offsync_token_refreshes_total",
			Help: "Total number of token refresh attempts by status",
		},
		[]string{"status"},
	)

	// Queue metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "offsync_queue_depth",
			Help: "Number of pending entries in the durable queue",
		},
	)

	QueueEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offsync_queue_enqueued_total",
			Help: "Total number of requests enqueued for later replay",
		},
	)

	QueueReplayedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offsync_queue_replayed_total",
			Help: "Total number of queued requests replayed successfully",
		},
	)

	QueueDeadLetteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offsync_queue_dead_lettered_total",
			Help: "Total number of queued requests moved to the dead letter state",
		},
		[]string{"reason"},
	)

	QueueDrainPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offsync_queue_drain_passes_total",
			Help: "Total number of drain passes by result",
		},
		[]string{"result"},
	)

	// Connectivity metrics
	ConnectivityOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "offsync_connectivity_online",
			Help: "Whether the connectivity monitor currently reports online (1) or offline (0)",
		},
	)

	ConnectivityTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offsync_connectivity_transitions_total",
			Help: "Total number of connectivity state transitions",
		},
		[]string{"to"},
	)
)
