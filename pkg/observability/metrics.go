package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Recorder metrics
	AuditRecordsTotal     *prometheus.CounterVec
	AuditRecordFailures   *prometheus.CounterVec
	AuditRecordDuration   prometheus.Histogram
	AuditQueueDepth       prometheus.Gauge
	AuditCaptureSkipped   *prometheus.CounterVec
	AuditDispatchOverflow prometheus.Counter

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Retention metrics
	RetentionPurgedTotal   prometheus.Counter
	RetentionArchivedTotal prometheus.Counter
	RetentionLastRun       prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shina_audit_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shina_audit_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		AuditRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shina_audit_records_total",
				Help: "Total number of audit records persisted",
			},
			[]string{"entity_type", "action"},
		),
		AuditRecordFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shina_audit_record_failures_total",
				Help: "Total number of audit records dropped after a write failure",
			},
			[]string{"entity_type", "action"},
		),
		AuditRecordDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shina_audit_record_duration_seconds",
				Help:    "Time spent resolving and persisting one audit record",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
			},
		),
		AuditQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "shina_audit_queue_depth",
				Help: "Audit records dispatched but not yet persisted",
			},
		),
		AuditCaptureSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shina_audit_capture_skipped_total",
				Help: "Lifecycle events the capture hook could not record",
			},
			[]string{"entity_type", "reason"},
		),
		AuditDispatchOverflow: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shina_audit_dispatch_overflow_total",
				Help: "Audit writes that bypassed the worker pool because its queue was full",
			},
		),

		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shina_audit_store_operations_total",
				Help: "Total number of audit store operations",
			},
			[]string{"operation", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shina_audit_store_operation_duration_seconds",
				Help:    "Audit store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shina_audit_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shina_audit_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		RetentionPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shina_audit_retention_purged_total",
				Help: "Audit records deleted by retention sweeps",
			},
		),
		RetentionArchivedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shina_audit_retention_archived_total",
				Help: "Audit records copied to the archive bucket before deletion",
			},
		),
		RetentionLastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "shina_audit_retention_last_run_timestamp_seconds",
				Help: "Unix time of the last completed retention sweep",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuditRecordsTotal,
		m.AuditRecordFailures,
		m.AuditRecordDuration,
		m.AuditQueueDepth,
		m.AuditCaptureSkipped,
		m.AuditDispatchOverflow,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.RetentionPurgedTotal,
		m.RetentionArchivedTotal,
		m.RetentionLastRun,
	)

	return m
}

// ObserveStore records the outcome and latency of a store operation
func (m *Metrics) ObserveStore(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests, labelling by route template
// so that entity IDs in paths do not explode label cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
