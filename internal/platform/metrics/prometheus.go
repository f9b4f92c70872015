// Package metrics registers the Prometheus series cmd/prana exposes at
// /metrics. Grounded on the teacher's prometheus.go CounterVec/
// HistogramVec/GaugeVec catalogue and HTTP middleware shape, trimmed of
// auth/user/organization/API-key series (Prana has no multi-tenant
// auth surface) and Kafka *consumer* series (kafkapublish only
// produces), with execution/node/suspension series added for the
// graph executor's own lifecycle.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus series the engine exposes.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec
	HTTPActiveRequests  *prometheus.GaugeVec

	// Workflow metrics
	WorkflowsCompiled *prometheus.CounterVec

	// Execution metrics
	ExecutionsStarted    *prometheus.CounterVec
	ExecutionsCompleted  *prometheus.CounterVec
	ExecutionsFailed     *prometheus.CounterVec
	ExecutionsSuspended  *prometheus.CounterVec
	ExecutionDuration    *prometheus.HistogramVec
	ExecutionsInProgress *prometheus.GaugeVec

	// Node/action execution metrics
	NodeExecutionsTotal   *prometheus.CounterVec
	NodeExecutionDuration *prometheus.HistogramVec
	LoopIterationsTotal   *prometheus.CounterVec

	// Suspension/resume metrics
	SuspensionsByType *prometheus.CounterVec
	ResumesByType     *prometheus.CounterVec

	// Sub-workflow metrics
	SubWorkflowDispatches *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen  *prometheus.GaugeVec
	DBConnectionsInUse *prometheus.GaugeVec
	DBQueryDuration    *prometheus.HistogramVec
	DBQueryErrors      *prometheus.CounterVec

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Queue metrics
	QueueDepth           *prometheus.GaugeVec
	KafkaMessagesPublished *prometheus.CounterVec

	// Worker pool metrics
	WorkerPoolActiveTasks *prometheus.GaugeVec
	WorkerPoolQueuedTasks *prometheus.GaugeVec
}

// NewMetrics creates and registers all Prometheus metrics under the
// given namespace.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_size_bytes",
				Help:      "HTTP request size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 7),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 7),
			},
			[]string{"method", "path"},
		),
		HTTPActiveRequests: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_active_requests",
				Help:      "Number of active HTTP requests",
			},
			[]string{"method"},
		),

		WorkflowsCompiled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_compiled_total",
				Help:      "Total number of workflow compilations",
			},
			[]string{"result"},
		),

		ExecutionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_started_total",
				Help:      "Total number of executions started",
			},
			[]string{"workflow_id", "trigger"},
		),
		ExecutionsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_completed_total",
				Help:      "Total number of completed executions",
			},
			[]string{"workflow_id"},
		),
		ExecutionsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_failed_total",
				Help:      "Total number of failed executions",
			},
			[]string{"workflow_id", "error_code"},
		),
		ExecutionsSuspended: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_suspended_total",
				Help:      "Total number of executions that entered a suspended state",
			},
			[]string{"workflow_id", "suspension_type"},
		),
		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Wall-clock execution duration in seconds, excluding suspended time",
				Buckets:   []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"workflow_id"},
		),
		ExecutionsInProgress: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "executions_in_progress",
				Help:      "Number of executions currently running or suspended",
			},
			[]string{"workflow_id"},
		),

		NodeExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_executions_total",
				Help:      "Total number of node (action) executions",
			},
			[]string{"integration", "action", "status"},
		),
		NodeExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_execution_duration_seconds",
				Help:      "Node (action) execution duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"integration", "action"},
		),
		LoopIterationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loop_iterations_total",
				Help:      "Total number of simple-loop iterations taken",
			},
			[]string{"workflow_id"},
		),

		SuspensionsByType: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "suspensions_total",
				Help:      "Total number of suspensions, by type",
			},
			[]string{"type"},
		),
		ResumesByType: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resumes_total",
				Help:      "Total number of resumes, by suspension type",
			},
			[]string{"type"},
		),

		SubWorkflowDispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subworkflow_dispatches_total",
				Help:      "Total number of sub-workflow dispatches, by mode",
			},
			[]string{"mode"},
		),

		DBConnectionsOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections_open",
				Help:      "Number of open database connections",
			},
			[]string{"database"},
		),
		DBConnectionsInUse: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections_in_use",
				Help:      "Number of database connections in use",
			},
			[]string{"database"},
		),
		DBQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
		DBQueryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_query_errors_total",
				Help:      "Total number of database query errors",
			},
			[]string{"operation", "error_type"},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of compiled-graph cache hits",
			},
			[]string{"cache_name"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of compiled-graph cache misses",
			},
			[]string{"cache_name"},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Number of jobs waiting in the sub-workflow dispatch queue",
			},
			[]string{"queue"},
		),
		KafkaMessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "kafka_messages_published_total",
				Help:      "Total number of Kafka messages published by the kafka_publish action",
			},
			[]string{"topic"},
		),

		WorkerPoolActiveTasks: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workerpool_active_tasks",
				Help:      "Number of executions currently being driven by the worker pool",
			},
			[]string{},
		),
		WorkerPoolQueuedTasks: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workerpool_queued_tasks",
				Help:      "Number of executions waiting for a free worker pool slot",
			},
			[]string{},
		),
	}

	m.Register()

	return m
}

// Register registers all metrics with the default Prometheus registry.
func (m *Metrics) Register() {
	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.HTTPActiveRequests,
		m.WorkflowsCompiled,
		m.ExecutionsStarted,
		m.ExecutionsCompleted,
		m.ExecutionsFailed,
		m.ExecutionsSuspended,
		m.ExecutionDuration,
		m.ExecutionsInProgress,
		m.NodeExecutionsTotal,
		m.NodeExecutionDuration,
		m.LoopIterationsTotal,
		m.SuspensionsByType,
		m.ResumesByType,
		m.SubWorkflowDispatches,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBQueryDuration,
		m.DBQueryErrors,
		m.CacheHits,
		m.CacheMisses,
		m.QueueDepth,
		m.KafkaMessagesPublished,
		m.WorkerPoolActiveTasks,
		m.WorkerPoolQueuedTasks,
	)
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// HTTPMetricsMiddleware returns middleware that records per-request
// HTTP metrics.
func (m *Metrics) HTTPMetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			m.HTTPActiveRequests.WithLabelValues(r.Method).Inc()
			defer m.HTTPActiveRequests.WithLabelValues(r.Method).Dec()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			if r.ContentLength > 0 {
				m.HTTPRequestSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(r.ContentLength))
			}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)

			if wrapped.size > 0 {
				m.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(wrapped.size))
			}
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	size, err := w.ResponseWriter.Write(b)
	w.size += size
	return size, err
}
