// Package metrics exposes a Prometheus registry object the runner
// updates as it drains the queue. It registers the gauges and counters
// but opens no HTTP server of its own — serving /metrics is the caller's
// job, typically a dashboard or sidecar scraper. Namespace and metric
// names are scoped to the orchestrator's cross-task queue and worker
// pool rather than a single workflow run's node steps.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every metric the runner reports. Callers get one from
// New, backed either by prometheus.DefaultRegisterer or an isolated
// registry for tests; executor.New also accepts a nil *Registry and then
// records no metrics.
type Registry struct {
	queueDepth       prometheus.Gauge
	activeWorkers    prometheus.Gauge
	nodeLatency      *prometheus.HistogramVec
	retries          *prometheus.CounterVec
	nodesCompleted   *prometheus.CounterVec
	tasksCompleted   prometheus.Counter
	tasksFailed      prometheus.Counter
}

// New registers every metric against registry. Pass
// prometheus.NewRegistry() for an isolated instance (recommended for
// tests and for multiple Registry instances in one process); pass
// prometheus.DefaultRegisterer to expose through the default /metrics
// handler a caller wires up elsewhere.
func New(registry prometheus.Registerer) *Registry {
	factory := promauto.With(registry)

	return &Registry{
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "cah",
			Name:      "queue_depth",
			Help:      "Number of jobs currently waiting in queue.json",
		}),
		activeWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "cah",
			Name:      "active_workers",
			Help:      "Number of NodeWorker goroutines currently executing a node",
		}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cah",
			Name:      "node_latency_ms",
			Help:      "Node handler execution duration in milliseconds",
			Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 30000, 120000},
		}, []string{"node_type", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cah",
			Name:      "node_retries_total",
			Help:      "Cumulative node retry attempts, by error category",
		}, []string{"node_type", "category"}),
		nodesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cah",
			Name:      "nodes_completed_total",
			Help:      "Cumulative nodes reaching a terminal status",
		}, []string{"node_type", "status"}),
		tasksCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cah",
			Name:      "tasks_completed_total",
			Help:      "Cumulative tasks that reached the completed status",
		}),
		tasksFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cah",
			Name:      "tasks_failed_total",
			Help:      "Cumulative tasks that reached the failed status",
		}),
	}
}

// SetQueueDepth records the current number of waiting jobs.
func (r *Registry) SetQueueDepth(n int) { r.queueDepth.Set(float64(n)) }

// SetActiveWorkers records the current number of busy worker goroutines.
func (r *Registry) SetActiveWorkers(n int32) { r.activeWorkers.Set(float64(n)) }

// ObserveNodeLatency records how long a node handler took to run.
func (r *Registry) ObserveNodeLatency(nodeType, status string, d time.Duration) {
	r.nodeLatency.WithLabelValues(nodeType, status).Observe(float64(d.Milliseconds()))
}

// IncRetry records one retry of a node, classified by error category.
func (r *Registry) IncRetry(nodeType, category string) {
	r.retries.WithLabelValues(nodeType, category).Inc()
}

// IncNodeCompleted records one node reaching a terminal status
// (done|failed|skipped).
func (r *Registry) IncNodeCompleted(nodeType, status string) {
	r.nodesCompleted.WithLabelValues(nodeType, status).Inc()
}

// IncTaskCompleted records one task reaching the completed status.
func (r *Registry) IncTaskCompleted() { r.tasksCompleted.Inc() }

// IncTaskFailed records one task reaching the failed status.
func (r *Registry) IncTaskFailed() { r.tasksFailed.Inc() }
