// Package monitoring provides Prometheus metrics for AGENTOPS-CORE.
//
// HTTP metrics are recorded by the gin middleware in internal/api/middleware;
// pipeline and infrastructure metrics are recorded through the helper
// functions below.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics, driven by the metrics middleware.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentops_core_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentops_core_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Valkey cache metrics.
	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentops_core_cache_requests_total",
			Help: "Total number of cache requests",
		},
		[]string{"operation", "result"},
	)

	// Work queue metrics.
	QueueOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentops_core_queue_operations_total",
			Help: "Total number of work queue operations",
		},
		[]string{"operation", "result"},
	)

	// RCA pipeline metrics.
	RCAJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentops_core_rca_jobs_total",
			Help: "RCA jobs by terminal status",
		},
		[]string{"status", "category"},
	)

	RCAStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentops_core_rca_stage_duration_seconds",
			Help:    "Duration of RCA pipeline stages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// Streaming gateway metrics.
	ActiveProgressStreams = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentops_core_active_progress_streams",
			Help: "Currently connected progress stream subscribers",
		},
		[]string{"transport"},
	)

	// Durable store metrics.
	DBOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentops_core_db_operations_total",
			Help: "Durable store operations",
		},
		[]string{"operation", "status"},
	)
)

// RecordCacheOperation records a cache call outcome (hit/miss/error/success).
func RecordCacheOperation(operation, result string) {
	CacheRequestsTotal.WithLabelValues(operation, result).Inc()
}

// RecordQueueOperation records a work queue call outcome.
func RecordQueueOperation(operation, result string) {
	QueueOperationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordRCAJob records one job reaching a terminal status.
func RecordRCAJob(status, category string) {
	RCAJobsTotal.WithLabelValues(status, category).Inc()
}

// RecordRCAStage records the duration of one pipeline stage.
func RecordRCAStage(stage string, d time.Duration) {
	RCAStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordDBOperation records a durable store call outcome.
func RecordDBOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DBOperationsTotal.WithLabelValues(operation, status).Inc()
}
