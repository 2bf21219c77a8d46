package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all dispatcher instrumentation.
type Metrics struct {
	ItemsProcessed    *prometheus.CounterVec
	ItemsFailed       *prometheus.CounterVec
	ItemsDeadLettered *prometheus.CounterVec
	ItemsDeferred     *prometheus.CounterVec
	DispatchLatency   *prometheus.HistogramVec
	ClaimBatchSize    prometheus.Histogram

	DatabaseOperations *prometheus.CounterVec

	IdempotencyHits      prometheus.Counter
	IdempotencyConflicts prometheus.Counter
}

// NewMetrics creates and registers all dispatcher metrics.
func NewMetrics(namespace, subsystem string) *Metrics {
	return &Metrics{
		ItemsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "items_processed_total",
			Help:      "Outbox items delivered successfully",
		}, []string{"kind"}),
		ItemsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "items_failed_total",
			Help:      "Outbox item delivery attempts that failed",
		}, []string{"kind", "retryable"}),
		ItemsDeadLettered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "items_dead_lettered_total",
			Help:      "Outbox items that exhausted their retry budget",
		}, []string{"kind"}),
		ItemsDeferred: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "items_deferred_total",
			Help:      "Outbox items requeued by rate-limit admission control",
		}, []string{"kind"}),
		DispatchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent delivering one outbox item",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		ClaimBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "claim_batch_size",
			Help:      "Number of items claimed per poll cycle",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
		}),
		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),

		IdempotencyHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "idempotency_replays_total",
			Help:      "Requests answered from the idempotency ledger",
		}),
		IdempotencyConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "idempotency_conflicts_total",
			Help:      "Idempotency keys reused with a different request body",
		}),
	}
}
