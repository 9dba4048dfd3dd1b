package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics
	WorkerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costtrend_worker_executions_total",
			Help: "Total number of worker executions",
		},
		[]string{"worker", "status"}, // status: success|error
	)

	WorkerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "costtrend_worker_duration_seconds",
			Help:    "Worker execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"worker"},
	)

	WorkerLastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "costtrend_worker_last_run_timestamp",
			Help: "Unix timestamp of last worker execution",
		},
		[]string{"worker"},
	)

	// Job metrics
	JobsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costtrend_jobs_submitted_total",
			Help: "Total number of trend job submissions",
		},
		[]string{"outcome"}, // outcome: queued|deduplicated|rejected
	)

	JobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costtrend_jobs_finished_total",
			Help: "Total number of finished trend jobs",
		},
		[]string{"status", "code"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "costtrend_job_duration_seconds",
			Help:    "Trend job run time in seconds",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"status"},
	)

	JobQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "costtrend_job_queue_depth",
			Help: "Number of jobs waiting for a worker",
		},
	)

	JobsEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "costtrend_jobs_evicted_total",
			Help: "Total number of terminal jobs evicted after retention",
		},
	)

	// Cache metrics
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costtrend_cache_lookups_total",
			Help: "Result cache lookups",
		},
		[]string{"kind", "result"}, // result: hit|miss|error|bypass
	)

	// Upstream provider metrics
	UpstreamCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costtrend_upstream_calls_total",
			Help: "Consumption provider page fetches",
		},
		[]string{"source", "status"}, // status: success|error|retry|open
	)

	UpstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "costtrend_upstream_latency_seconds",
			Help:    "Consumption provider page fetch latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"source"},
	)

	UpstreamBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "costtrend_upstream_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"source"},
	)

	// Database metrics
	DBQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costtrend_db_queries_total",
			Help: "Total database queries",
		},
		[]string{"database", "operation", "status"},
	)

	DBQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "costtrend_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"database", "operation"},
	)

	// Kafka metrics
	KafkaMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costtrend_kafka_messages_total",
			Help: "Total Kafka messages published",
		},
		[]string{"topic", "status"},
	)
)

var initOnce sync.Once

// Init registers all metrics with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		// Worker metrics
		prometheus.MustRegister(WorkerExecutions)
		prometheus.MustRegister(WorkerDuration)
		prometheus.MustRegister(WorkerLastRun)

		// Job metrics
		prometheus.MustRegister(JobsSubmitted)
		prometheus.MustRegister(JobsFinished)
		prometheus.MustRegister(JobDuration)
		prometheus.MustRegister(JobQueueDepth)
		prometheus.MustRegister(JobsEvicted)

		// Cache and upstream metrics
		prometheus.MustRegister(CacheLookups)
		prometheus.MustRegister(UpstreamCalls)
		prometheus.MustRegister(UpstreamLatency)
		prometheus.MustRegister(UpstreamBreakerState)

		// Database metrics
		prometheus.MustRegister(DBQueries)
		prometheus.MustRegister(DBQueryDuration)

		prometheus.MustRegister(KafkaMessages)
	})
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordWorkerExecution records a worker execution
func RecordWorkerExecution(worker string, duration time.Duration, err error) {
	WorkerExecutions.WithLabelValues(worker, statusOf(err)).Inc()
	WorkerDuration.WithLabelValues(worker).Observe(duration.Seconds())
	WorkerLastRun.WithLabelValues(worker).SetToCurrentTime()
}

// RecordJobFinished records a terminal job transition
func RecordJobFinished(status, code string, duration time.Duration) {
	JobsFinished.WithLabelValues(status, code).Inc()
	JobDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordCacheLookup records a cache lookup outcome
func RecordCacheLookup(kind, result string) {
	CacheLookups.WithLabelValues(kind, result).Inc()
}

// RecordUpstreamCall records one provider page fetch attempt
func RecordUpstreamCall(source string, latency time.Duration, err error) {
	UpstreamCalls.WithLabelValues(source, statusOf(err)).Inc()
	UpstreamLatency.WithLabelValues(source).Observe(latency.Seconds())
}

// RecordDBQuery records a database query
func RecordDBQuery(database, operation string, duration time.Duration, err error) {
	DBQueries.WithLabelValues(database, operation, statusOf(err)).Inc()
	DBQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// RecordKafkaMessage records a published Kafka message
func RecordKafkaMessage(topic string, err error) {
	KafkaMessages.WithLabelValues(topic, statusOf(err)).Inc()
}
