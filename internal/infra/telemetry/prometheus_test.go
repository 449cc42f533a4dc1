package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"toolgrid/internal/domain"
)

func TestPrometheusMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	metrics.ObserveCacheHit("search", "l1")
	metrics.ObserveCacheHit("search", "l1")
	metrics.ObserveCacheMiss("analysis")
	metrics.ObserveCacheEviction("search", "capacity")
	metrics.ObserveHealthTransition(domain.StateReady, domain.StateUnhealthy)
	metrics.ObserveEventPublished("register")
	metrics.ObserveEventReceived("register")
	metrics.ObserveEventIgnored("update", "stale")
	metrics.ObserveRPCReconnect()
	metrics.ObserveHeartbeat()

	require.Equal(t, float64(2), testutil.ToFloat64(metrics.cacheHits.WithLabelValues("search", "l1")))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheMisses.WithLabelValues("analysis")))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheEvictions.WithLabelValues("search", "capacity")))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.healthTransitions.WithLabelValues("READY", "UNHEALTHY")))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.eventsIgnored.WithLabelValues("update", "stale")))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.rpcReconnects))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.heartbeats))
}

func TestHealthHandler(t *testing.T) {
	ready := true
	handler := healthHandler(func() bool { return ready })

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	ready = false
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"status":"degraded"}`, rec.Body.String())
}
