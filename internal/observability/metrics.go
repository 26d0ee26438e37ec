package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChangeEventsTotal counts change events by table, op and how they were applied.
	ChangeEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socialsync_change_events_total",
		Help: "Change events received from the change feed",
	}, []string{"table", "op", "outcome"})

	// OptimisticMutationsTotal counts settled optimistic mutations by result.
	OptimisticMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socialsync_optimistic_mutations_total",
		Help: "Optimistic mutations by final state",
	}, []string{"name", "result"})

	// PendingMutations is the number of optimistic mutations awaiting a remote result.
	PendingMutations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "socialsync_pending_mutations",
		Help: "Optimistic mutations currently pending",
	})

	// ResyncsTotal counts full resynchronizations by table.
	ResyncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socialsync_resyncs_total",
		Help: "Full resynchronizations triggered by start or reconnect",
	}, []string{"table"})

	// SubscriptionsActive is the number of live change feed subscriptions.
	SubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "socialsync_subscriptions_active",
		Help: "Live change feed subscriptions",
	})

	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socialsync_redis_errors_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "socialsync_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// WebSocketConnectionsTotal is the gauge of UI push connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "socialsync_websocket_connections",
		Help: "Active UI WebSocket connections",
	})

	// WebSocketBackpressureDrops counts pushes dropped because a client was too slow.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socialsync_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}
