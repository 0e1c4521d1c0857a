// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotal counts handled HTTP requests.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of http requests handled by the service.",
		},
		[]string{"path", "method", "code"},
	)

	// TaskOutcomesTotal counts resolved requests by how they ended.
	TaskOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_outcomes_total",
			Help: "Total number of requests resolved by the dispatcher.",
		},
		[]string{"task", "outcome"}, // success / executor_failure / timeout / worker_crashed / shutdown
	)

	// TaskDuration observes submit-to-result latency.
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "task_duration_seconds",
			Help:    "Time from submission to result delivery.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"task"},
	)

	// QueueDepth is the number of requests waiting for an idle worker.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_queue_depth",
			Help: "Requests waiting in the dispatch queue.",
		},
	)

	// QueueWait observes how long queued requests waited for a worker.
	QueueWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_queue_wait_seconds",
			Help:    "Time a request spent in the queue before dispatch.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	// PoolWorkers tracks live workers per lifecycle state.
	PoolWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pool_workers",
			Help: "Live workers by state.",
		},
		[]string{"state"},
	)

	// WorkerRespawnsTotal counts replacements of crashed workers.
	WorkerRespawnsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_respawns_total",
			Help: "Total number of workers spawned to replace a dead one.",
		},
	)

	// WorkerExecutionsTotal counts tasks executed inside workers.
	WorkerExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_executions_total",
			Help: "Total number of task executions run by workers.",
		},
		[]string{"task", "status"},
	)
)
