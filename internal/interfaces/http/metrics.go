package http

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sawpanic/tradegate/internal/data/cache"
	"github.com/sawpanic/tradegate/internal/gates"
	"github.com/sawpanic/tradegate/internal/market"
	"github.com/sawpanic/tradegate/internal/pipeline"
	"github.com/sawpanic/tradegate/internal/regime"
)

// MetricsRegistry holds all Prometheus metrics for tradegate. It owns its
// registry so tests and multiple servers never collide on registration.
type MetricsRegistry struct {
	registry *prometheus.Registry

	StageDuration    *prometheus.HistogramVec
	Verdicts         *prometheus.CounterVec
	LedgerConflicts  prometheus.Counter
	CacheHits        *prometheus.CounterVec
	CacheMisses      *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	OpenRiskPct      prometheus.Gauge
	ActiveRegime     *prometheus.GaugeVec
	RegimeChanges    *prometheus.CounterVec
	WSClients        prometheus.Gauge
	WSDroppedRecords prometheus.Counter
}

var (
	_ pipeline.Observer       = (*MetricsRegistry)(nil)
	_ pipeline.RegimeObserver = (*MetricsRegistry)(nil)
	_ gates.Observer          = (*MetricsRegistry)(nil)
	_ cache.Observer          = (*MetricsRegistry)(nil)
	_ market.ErrorObserver    = (*MetricsRegistry)(nil)
)

// NewMetricsRegistry creates and registers every tradegate metric
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		registry: prometheus.NewRegistry(),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradegate_stage_duration_seconds",
				Help:    "Duration of each pipeline stage in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"stage", "status"},
		),

		Verdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradegate_verdicts_total",
				Help: "Gate verdicts by verdict and first failed section",
			},
			[]string{"verdict", "section"},
		),

		LedgerConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tradegate_ledger_conflicts_total",
				Help: "Ledger commits rejected for a stale version",
			},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradegate_cache_hits_total",
				Help: "Total number of cache hits by cache type",
			},
			[]string{"cache"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradegate_cache_misses_total",
				Help: "Total number of cache misses by cache type",
			},
			[]string{"cache"},
		),

		ProviderErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradegate_provider_errors_total",
				Help: "Market data provider errors by endpoint family and kind",
			},
			[]string{"endpoint", "kind"},
		),

		OpenRiskPct: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tradegate_open_risk_pct",
				Help: "Open risk as a percent of portfolio value",
			},
		),

		ActiveRegime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradegate_active_regime",
				Help: "1 for the most recently classified disposition, 0 otherwise",
			},
			[]string{"disposition"},
		),

		RegimeChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradegate_regime_changes_total",
				Help: "Disposition changes between consecutive classifications",
			},
			[]string{"from", "to"},
		),

		WSClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tradegate_ws_clients",
				Help: "Connected decision stream clients",
			},
		),

		WSDroppedRecords: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tradegate_ws_dropped_records_total",
				Help: "Decision records dropped for slow stream clients",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.StageDuration,
		m.Verdicts,
		m.LedgerConflicts,
		m.CacheHits,
		m.CacheMisses,
		m.ProviderErrors,
		m.OpenRiskPct,
		m.ActiveRegime,
		m.RegimeChanges,
		m.WSClients,
		m.WSDroppedRecords,
	)
	return m
}

// Registry exposes the underlying registry for tests and extra collectors
func (m *MetricsRegistry) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage records one pipeline stage
func (m *MetricsRegistry) ObserveStage(stage, status string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

// SetOpenRiskPct publishes the ledger's open risk after each decision
func (m *MetricsRegistry) SetOpenRiskPct(pct float64) {
	m.OpenRiskPct.Set(pct)
}

// RecordGateVerdict counts a gate verdict. Passing verdicts carry section "none".
func (m *MetricsRegistry) RecordGateVerdict(verdict, failedSection string) {
	if failedSection == "" {
		failedSection = "none"
	}
	m.Verdicts.WithLabelValues(verdict, failedSection).Inc()
}

// RecordLedgerConflict counts a stale-version commit
func (m *MetricsRegistry) RecordLedgerConflict() {
	m.LedgerConflicts.Inc()
}

// RecordCacheHit records a cache hit
func (m *MetricsRegistry) RecordCacheHit(cacheType string) {
	m.CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss
func (m *MetricsRegistry) RecordCacheMiss(cacheType string) {
	m.CacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordProviderError counts a failed provider request
func (m *MetricsRegistry) RecordProviderError(endpoint, kind string) {
	m.ProviderErrors.WithLabelValues(endpoint, kind).Inc()
}

// SetActiveRegime marks d as the current disposition
func (m *MetricsRegistry) SetActiveRegime(d regime.Disposition) {
	for _, each := range []regime.Disposition{regime.StrongBear, regime.Bear, regime.Neutral, regime.Bull, regime.StrongBull} {
		v := 0.0
		if each == d {
			v = 1
		}
		m.ActiveRegime.WithLabelValues(string(each)).Set(v)
	}
}

// RecordRegimeChange counts a disposition change and moves the active regime
func (m *MetricsRegistry) RecordRegimeChange(from, to regime.Disposition) {
	m.RegimeChanges.WithLabelValues(string(from), string(to)).Inc()
	m.SetActiveRegime(to)
}

// MetricsHandler serves the registry in the Prometheus exposition format
func (m *MetricsRegistry) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
