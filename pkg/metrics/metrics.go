package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Events published to the bus, by event type.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Total number of events published to the event bus",
		},
		[]string{"type"},
	)

	// Events dispatched by the listener to local handlers.
	EventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_dispatched_total",
			Help: "Total number of events dispatched to registered handlers",
		},
		[]string{"type"},
	)

	// Handler failures (panic or error), by event type.
	HandlerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_handler_errors_total",
			Help: "Total number of event handler failures",
		},
		[]string{"type"},
	)

	// Live SSE connections across all users.
	SSEConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections",
			Help: "Number of currently open SSE connections",
		},
	)

	// Events dropped because a connection queue was full.
	SSEEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sse_events_dropped_total",
			Help: "Total number of events dropped for slow SSE connections",
		},
	)

	// Notifications claimed (is_sent flipped) by reconciliation passes.
	NotificationsClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_claimed_total",
			Help: "Total number of notifications claimed as sent",
		},
	)

	// Pending-notification reads, by cache outcome.
	PendingReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pending_reads_total",
			Help: "Total number of pending-notification reads",
		},
		[]string{"outcome"}, // outcome: hit, miss
	)

	// Background jobs processed, by kind and status.
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Total number of background jobs processed",
		},
		[]string{"kind", "status"}, // status: done, failed
	)

	// Background job retries, by kind.
	JobRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_retries_total",
			Help: "Total number of background job retries",
		},
		[]string{"kind"},
	)
)
