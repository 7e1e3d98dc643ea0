package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("insights", reg)

	m.RecordToolExecution("fetch_meta_insights", false, 3, 7*time.Second)
	m.RecordToolCacheHit("fetch_meta_insights")
	m.RecordAnomaly("high", "roas")
	m.SetPacing("acme", 92.5)
	m.RecordTenantLookup(true)
	m.RecordTenantLookup(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolExecutions.WithLabelValues("fetch_meta_insights", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolExecutions.WithLabelValues("fetch_meta_insights", "cached")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ToolRetries.WithLabelValues("fetch_meta_insights")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Anomalies.WithLabelValues("high", "roas")))
	assert.Equal(t, 92.5, testutil.ToFloat64(m.PacingPct.WithLabelValues("acme")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TenantCacheLookups.WithLabelValues("miss")))
}

func TestHandler_ExposesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("insights", reg)
	m.RecordRowsUpserted("google", 12)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `insights_metric_rows_upserted_total{platform="google"} 12`)
}
