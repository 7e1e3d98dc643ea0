package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the insights service.
type Metrics struct {
	// Tool executor metrics
	ToolExecutions *prometheus.CounterVec
	ToolDuration   *prometheus.HistogramVec
	ToolRetries    *prometheus.CounterVec
	ToolCacheHits  *prometheus.CounterVec
	RateLimitWaits *prometheus.CounterVec

	// Tenant context metrics
	TenantCacheLookups *prometheus.CounterVec

	// Ingestion metrics
	RowsUpserted *prometheus.CounterVec
	SyncRuns     *prometheus.CounterVec

	// Analysis metrics
	Anomalies *prometheus.CounterVec
	PacingPct *prometheus.GaugeVec

	// System metrics
	CacheErrors   *prometheus.CounterVec
	DBConnections *prometheus.GaugeVec
	RateLimitHits *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_executions_total",
				Help:      "Tool executions by outcome",
			},
			[]string{"tool", "status"},
		),
		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_duration_seconds",
				Help:      "Tool execution latency including retries",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		ToolRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_retries_total",
				Help:      "Retries performed by the tool executor",
			},
			[]string{"tool"},
		),
		ToolCacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_cache_hits_total",
				Help:      "Tool results served from cache",
			},
			[]string{"tool"},
		),
		RateLimitWaits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_rate_limit_waits_total",
				Help:      "Times a tool call slept on an exhausted rate-limit window",
			},
			[]string{"tool"},
		),
		TenantCacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tenant_context_lookups_total",
				Help:      "Tenant context cache lookups",
			},
			[]string{"result"},
		),
		RowsUpserted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metric_rows_upserted_total",
				Help:      "Performance rows written to the metric store",
			},
			[]string{"platform"},
		),
		SyncRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_runs_total",
				Help:      "Daily sync runs by outcome",
			},
			[]string{"status"},
		),
		Anomalies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "anomalies_detected_total",
				Help:      "Detected anomalies",
			},
			[]string{"severity", "metric"},
		),
		PacingPct: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "budget_pacing_percent",
				Help:      "Latest computed pacing percent per tenant",
			},
			[]string{"tenant_id"},
		),
		CacheErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_errors_total",
				Help:      "Cache operations that failed and degraded",
			},
			[]string{"op"},
		),
		DBConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "Database connection pool stats",
			},
			[]string{"state"}, // idle, in_use, total
		),
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_rate_limit_hits_total",
				Help:      "HTTP requests rejected by the rate limiter",
			},
			[]string{"endpoint"},
		),
	}
}

// Handler returns the metrics HTTP handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// RecordToolExecution records one finished tool run.
func (m *Metrics) RecordToolExecution(tool string, success bool, retries int, duration time.Duration) {
	m.ToolExecutions.WithLabelValues(tool, status(success)).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if retries > 0 {
		m.ToolRetries.WithLabelValues(tool).Add(float64(retries))
	}
}

// RecordToolCacheHit records a cached tool result.
func (m *Metrics) RecordToolCacheHit(tool string) {
	m.ToolCacheHits.WithLabelValues(tool).Inc()
	m.ToolExecutions.WithLabelValues(tool, "cached").Inc()
}

// RecordRateLimitWait records a soft rate-limit sleep.
func (m *Metrics) RecordRateLimitWait(tool string) {
	m.RateLimitWaits.WithLabelValues(tool).Inc()
}

// RecordTenantLookup records a tenant context cache hit or miss.
func (m *Metrics) RecordTenantLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.TenantCacheLookups.WithLabelValues(result).Inc()
}

// RecordRowsUpserted records rows written for a platform.
func (m *Metrics) RecordRowsUpserted(platform string, n int) {
	m.RowsUpserted.WithLabelValues(platform).Add(float64(n))
}

// RecordSyncRun records a daily sync outcome.
func (m *Metrics) RecordSyncRun(success bool) {
	m.SyncRuns.WithLabelValues(status(success)).Inc()
}

// RecordAnomaly records a detected anomaly.
func (m *Metrics) RecordAnomaly(severity, metric string) {
	m.Anomalies.WithLabelValues(severity, metric).Inc()
}

// SetPacing records the latest pacing percent of a tenant.
func (m *Metrics) SetPacing(tenantID string, pct float64) {
	m.PacingPct.WithLabelValues(tenantID).Set(pct)
}

// RecordCacheError records a degraded cache operation.
func (m *Metrics) RecordCacheError(op string) {
	m.CacheErrors.WithLabelValues(op).Inc()
}

// UpdateDBStats updates database connection metrics.
func (m *Metrics) UpdateDBStats(idle, inUse, total int32) {
	m.DBConnections.WithLabelValues("idle").Set(float64(idle))
	m.DBConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.DBConnections.WithLabelValues("total").Set(float64(total))
}

// RecordRateLimitHit records an HTTP rate limit rejection.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.RateLimitHits.WithLabelValues(endpoint).Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
