// Package metrics provides Prometheus instrumentation for AgentMesh.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentmesh_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentmesh_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Session metrics.
var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentmesh_active_sessions",
		Help: "Number of currently attached agent sessions.",
	})

	SessionsDisplaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentmesh_sessions_displaced_total",
		Help: "Number of sessions closed because the same agent reconnected.",
	})

	SessionsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentmesh_sessions_evicted_total",
		Help: "Number of registrations evicted after the reconnect grace window.",
	})
)

// Mention metrics.
var (
	MentionsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentmesh_mentions_enqueued_total",
		Help: "Total mention deliveries enqueued into agent buffers.",
	})

	MentionsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentmesh_mentions_delivered_total",
		Help: "Total mention deliveries drained by wait calls.",
	})

	MentionsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentmesh_mentions_dropped_total",
		Help: "Total mention deliveries dropped due to buffer overflow.",
	})

	ActiveWaits = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentmesh_active_waits",
		Help: "Number of wait-for-mentions calls currently parked.",
	})
)

// Thread metrics.
var (
	ThreadsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentmesh_threads_created_total",
		Help: "Total threads created.",
	})

	MessagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentmesh_messages_appended_total",
		Help: "Total messages appended across all threads.",
	})
)

// WebSocket metrics.
var (
	WSConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentmesh_ws_connections_active",
		Help: "Number of active WebSocket event watchers.",
	})

	WSEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentmesh_ws_events_total",
		Help: "Total number of events sent to WebSocket watchers.",
	})
)
