package observability

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_Registers(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.AccessDecisionsTotal.WithLabelValues("namespace", "change", "false").Inc()
	m.ImportsTotal.WithLabelValues("role", "SUCCESS").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AccessDecisionsTotal.WithLabelValues("namespace", "change", "false")))

	families, err := registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["galaxy_access_decisions_total"])
	assert.True(t, names["galaxy_imports_total"])

	assert.Panics(t, func() { NewMetrics(registry) }, "duplicate registration")
}

func TestRecordDBStats(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordDBStats(sql.DBStats{InUse: 3, Idle: 2, WaitCount: 7})
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DBConnectionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DBConnectionsIdle))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.DBConnectionsWaitCount))
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/api/v1/namespaces/{id}/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"not found"}`))
	})
	RegisterMetricsEndpoint(router, registry)

	for _, id := range []string{"1", "2", "3"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/namespaces/"+id+"/", nil))
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/namespaces/{id}/", "404")))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "galaxy_http_requests_total"))
}

func TestOTelMetrics_NoopProvider(t *testing.T) {
	m, err := NewOTelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordImport(ctx, "collection", "SUCCESS", time.Second, 2, 0)
	m.RecordSearch(ctx, "content", "postgres", time.Millisecond, 12, nil)
	m.RecordArtifactOperation(ctx, "put", "s3", 1024, nil)
	m.RecordWebhookDelivery(ctx, "import.failed", 500, nil)

	var nilMetrics *OTelMetrics
	assert.NotPanics(t, func() { nilMetrics.RecordSearch(ctx, "content", "memory", 0, 0, nil) })
}
