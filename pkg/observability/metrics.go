package observability

import (
	"database/sql"
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
	HTTPResponseSize    *prometheus.HistogramVec

	// Storage metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive    prometheus.Gauge
	DBConnectionsIdle      prometheus.Gauge
	DBConnectionsWaitCount prometheus.Gauge

	// Import metrics
	ImportsTotal        *prometheus.CounterVec
	ImportDuration      *prometheus.HistogramVec
	ImportQueueDepth    prometheus.Gauge
	StaleImportsFailed  prometheus.Counter
	DownloadsTotal      *prometheus.CounterVec

	// Search metrics
	SearchRequestsTotal *prometheus.CounterVec
	SearchDuration      *prometheus.HistogramVec
	SearchResults       *prometheus.HistogramVec

	// Access control
	AccessDecisionsTotal *prometheus.CounterVec

	// Webhooks
	WebhookDeliveriesTotal *prometheus.CounterVec
	WebhooksReceivedTotal  *prometheus.CounterVec

	// Maintenance jobs
	MaintenanceRunsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "galaxy_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "galaxy_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "galaxy_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "route"},
		),

		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "galaxy_storage_operations_total",
				Help: "Total number of storage operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "galaxy_storage_operation_duration_seconds",
				Help:    "Storage operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "galaxy_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type", "key_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "galaxy_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type", "key_type"},
		),

		DBConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "galaxy_db_connections_active",
			Help: "Number of active database connections",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "galaxy_db_connections_idle",
			Help: "Number of idle database connections",
		}),
		DBConnectionsWaitCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "galaxy_db_connections_wait_count",
			Help: "Total number of connections waited for",
		}),

		ImportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "galaxy_imports_total",
				Help: "Import tasks finished, by type and final state",
			},
			[]string{"type", "state"},
		),
		ImportDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "galaxy_import_duration_seconds",
				Help:    "Time from task start to finish",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"type"},
		),
		ImportQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "galaxy_import_queue_depth",
			Help: "Import tasks waiting for a worker",
		}),
		StaleImportsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "galaxy_stale_imports_failed_total",
			Help: "Running imports failed by maintenance after the deadline",
		}),
		DownloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "galaxy_downloads_total",
				Help: "Role and collection downloads",
			},
			[]string{"kind"},
		),

		SearchRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "galaxy_search_requests_total",
				Help: "Search requests by target and outcome",
			},
			[]string{"target", "status"},
		),
		SearchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "galaxy_search_duration_seconds",
				Help:    "Search latency",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"target", "engine"},
		),
		SearchResults: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "galaxy_search_results",
				Help:    "Total matches per search",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"target"},
		),

		AccessDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "galaxy_access_decisions_total",
				Help: "Authorization decisions by object kind, action and outcome",
			},
			[]string{"kind", "action", "allowed"},
		),

		WebhookDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "galaxy_webhook_deliveries_total",
				Help: "Outbound webhook delivery attempts",
			},
			[]string{"event", "status"},
		),
		WebhooksReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "galaxy_webhooks_received_total",
				Help: "Inbound GitHub and Travis notifications",
			},
			[]string{"source", "result"},
		),

		MaintenanceRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "galaxy_maintenance_runs_total",
				Help: "Maintenance job runs",
			},
			[]string{"job", "status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.ImportsTotal,
		m.ImportDuration,
		m.ImportQueueDepth,
		m.StaleImportsFailed,
		m.DownloadsTotal,
		m.SearchRequestsTotal,
		m.SearchDuration,
		m.SearchResults,
		m.AccessDecisionsTotal,
		m.WebhookDeliveriesTotal,
		m.WebhooksReceivedTotal,
		m.MaintenanceRunsTotal,
	)

	return m
}

// RecordDBStats copies connection pool stats into the DB gauges.
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel returns the mux route template so ids do not explode label
// cardinality.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, gatherer prometheus.Gatherer) {
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
