package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"toolgrid/internal/domain"
)

// PrometheusMetrics exports the registry's counters through a
// prometheus registerer.
type PrometheusMetrics struct {
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	cacheEvictions    *prometheus.CounterVec
	healthTransitions *prometheus.CounterVec
	eventsPublished   *prometheus.CounterVec
	eventsReceived    *prometheus.CounterVec
	eventsIgnored     *prometheus.CounterVec
	rpcReconnects     prometheus.Counter
	heartbeats        prometheus.Counter
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolgrid_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"category", "tier"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolgrid_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"category"},
		),
		cacheEvictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolgrid_cache_evictions_total",
				Help: "Total number of cache entries evicted",
			},
			[]string{"category", "reason"},
		),
		healthTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolgrid_health_transitions_total",
				Help: "Total number of tool health state transitions",
			},
			[]string{"from", "to"},
		),
		eventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolgrid_events_published_total",
				Help: "Total number of tool events published",
			},
			[]string{"event_type"},
		),
		eventsReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolgrid_events_received_total",
				Help: "Total number of tool events received from peers",
			},
			[]string{"event_type"},
		),
		eventsIgnored: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolgrid_events_ignored_total",
				Help: "Total number of received events discarded",
			},
			[]string{"event_type", "reason"},
		),
		rpcReconnects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "toolgrid_rpc_reconnects_total",
				Help: "Total number of RPC reconnect attempts",
			},
		),
		heartbeats: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "toolgrid_heartbeats_total",
				Help: "Total number of heartbeats written",
			},
		),
	}
}

func (m *PrometheusMetrics) ObserveCacheHit(category, tier string) {
	m.cacheHits.WithLabelValues(category, tier).Inc()
}

func (m *PrometheusMetrics) ObserveCacheMiss(category string) {
	m.cacheMisses.WithLabelValues(category).Inc()
}

func (m *PrometheusMetrics) ObserveCacheEviction(category, reason string) {
	m.cacheEvictions.WithLabelValues(category, reason).Inc()
}

func (m *PrometheusMetrics) ObserveHealthTransition(from, to domain.ToolState) {
	m.healthTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *PrometheusMetrics) ObserveEventPublished(eventType string) {
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

func (m *PrometheusMetrics) ObserveEventReceived(eventType string) {
	m.eventsReceived.WithLabelValues(eventType).Inc()
}

func (m *PrometheusMetrics) ObserveEventIgnored(eventType, reason string) {
	m.eventsIgnored.WithLabelValues(eventType, reason).Inc()
}

func (m *PrometheusMetrics) ObserveRPCReconnect() {
	m.rpcReconnects.Inc()
}

func (m *PrometheusMetrics) ObserveHeartbeat() {
	m.heartbeats.Inc()
}
