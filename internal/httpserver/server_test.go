package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/radiusdt/vector-insights/internal/anomaly"
	"github.com/radiusdt/vector-insights/internal/cache"
	"github.com/radiusdt/vector-insights/internal/config"
	"github.com/radiusdt/vector-insights/internal/executor"
	"github.com/radiusdt/vector-insights/internal/metrics"
	"github.com/radiusdt/vector-insights/internal/models"
	"github.com/radiusdt/vector-insights/internal/pacing"
	"github.com/radiusdt/vector-insights/internal/storage"
	"github.com/radiusdt/vector-insights/internal/tasks"
	"github.com/radiusdt/vector-insights/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const apiKey = "test-key"

type testEnv struct {
	handler http.Handler
	store   *storage.MemoryStore
	cache   *cache.MemoryCache
}

func newTestEnv(t *testing.T, health map[string]HealthCheck) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	cfg := &config.Config{
		Auth:      config.AuthConfig{Enabled: true, MasterKey: apiKey, SkipPaths: []string{"/health", "/metrics"}},
		RateLimit: config.RateLimitConfig{Enabled: false},
		Metrics:   config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics("test", reg)

	store := storage.NewMemoryStore()
	c := cache.NewMemoryCache()
	exec := executor.New(config.ExecutorConfig{
		RateLimit:      100,
		RateWindow:     time.Minute,
		MaxLimiterWait: time.Second,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Multiplier:     2,
		MaxRetries:     1,
	}, c, logger, m)
	resolver := tenant.NewResolver(store, config.TenantConfig{}, config.PlatformDefaults{}, logger, m)
	detector := anomaly.NewService(store, store, config.AnomalyConfig{ExplainTop: 5}, anomaly.DefaultRules(), logger, m)
	planner := pacing.NewPlanner(store, logger, m)
	syncer := tasks.NewSyncer(resolver, exec, store, store, c, logger, m)
	analyzer := tasks.NewAnalyzer(detector, planner, store, store, store, logger)

	h := NewServer(&Dependencies{
		Config:    cfg,
		Logger:    logger,
		Metrics:   m,
		Gatherer:  reg,
		Store:     store,
		Resolver:  resolver,
		Executor:  exec,
		Anomalies: detector,
		Planner:   planner,
		Syncer:    syncer,
		Analyzer:  analyzer,
		Health:    health,
	})
	return &testEnv{handler: h, store: store, cache: c}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	r.Header.Set("X-API-Key", apiKey)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, r)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

const ingestBody = `{
	"meta": [
		{"campaign_id": "c1", "campaign_name": "Spring", "ad_id": "a1", "date_start": "2024-03-03",
		 "impressions": "1000", "clicks": "50", "spend": "100",
		 "actions": [{"action_type": "purchase", "value": "5"}],
		 "action_values": [{"action_type": "purchase", "value": "400"}]},
		{"campaign_id": "c1", "campaign_name": "Spring", "ad_id": "a1", "date_start": "2024-03-10",
		 "impressions": "1000", "clicks": "50", "spend": "100",
		 "actions": [{"action_type": "purchase", "value": "5"}],
		 "action_values": [{"action_type": "purchase", "value": "200"}]}
	],
	"google": [
		{"campaign": {"id": 77, "name": "Brand"}, "segments": {"date": "2024-03-10"},
		 "metrics": {"impressions": "500", "clicks": "20", "costMicros": "25000000"}}
	]
}`

func TestHealth(t *testing.T) {
	env := newTestEnv(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["checks"].(map[string]any)["postgres"])
}

func TestHealth_Degraded(t *testing.T) {
	env := newTestEnv(t, map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	rec := env.do(t, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decodeBody(t, rec)["status"])
}

func TestMetricsEndpointSkipsAuth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequiresAPIKey(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tenants", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTools(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/v1/tools", "")

	require.Equal(t, http.StatusOK, rec.Code)
	tools := decodeBody(t, rec)["tools"].([]any)
	assert.Contains(t, tools, tasks.ToolFetchMeta)
	assert.Contains(t, tools, tasks.ToolFetchGoogle)
}

func TestIngestAndQuery(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/v1/tenants/acme/metrics", ingestBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3, env.store.Len())

	rec = env.do(t, http.MethodGet, "/v1/tenants/acme/summary?start=2024-03-08&end=2024-03-14", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sum models.MetricSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.InDelta(t, 125.0, sum.Spend, 1e-9)
	assert.Equal(t, int64(1500), sum.Impressions)

	rec = env.do(t, http.MethodGet, "/v1/tenants/acme/summary?platform=google&start=2024-03-08&end=2024-03-14", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.InDelta(t, 25.0, sum.Spend, 1e-9)

	rec = env.do(t, http.MethodGet, "/v1/tenants/acme/campaigns?start=2024-03-08&end=2024-03-14", "")
	require.Equal(t, http.StatusOK, rec.Code)
	campaigns := decodeBody(t, rec)["campaigns"].([]any)
	require.Len(t, campaigns, 2)
	assert.Equal(t, "c1", campaigns[0].(map[string]any)["campaign_id"])

	rec = env.do(t, http.MethodGet, "/v1/tenants/acme/trend?start=2024-03-01&end=2024-03-14", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["points"].([]any), 2)

	rec = env.do(t, http.MethodGet, "/v1/tenants/acme/audit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["entries"].([]any), 1)
}

func TestQueryValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, path := range []string{
		"/v1/tenants/acme/summary",
		"/v1/tenants/acme/summary?start=2024-03-08",
		"/v1/tenants/acme/summary?start=03/08/2024&end=2024-03-14",
		"/v1/tenants/acme/summary?start=2024-03-14&end=2024-03-08",
		"/v1/tenants/acme/campaigns?platform=tiktok&start=2024-03-08&end=2024-03-14",
	} {
		rec := env.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Contains(t, decodeBody(t, rec), "error")
	}

	rec := env.do(t, http.MethodPost, "/v1/tenants/acme/metrics", `{"meta": [`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/tenants/acme/metrics", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCredentials(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/v1/tenants/acme/context", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["platforms"].(map[string]any)["meta"])

	rec = env.do(t, http.MethodPut, "/v1/tenants/acme/credentials/meta_ads", `{"account_id": "act_1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/v1/tenants/acme/credentials/tiktok_ads", `{"account_id": "x", "access_token": "y"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/v1/tenants/acme/credentials/meta_ads", `{"account_id": "act_1", "access_token": "secret-token"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/v1/tenants/acme/context", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["platforms"].(map[string]any)["meta"])
	meta := body["context"].(map[string]any)["meta"].(map[string]any)
	assert.Equal(t, "act_1", meta["accountId"])
	assert.Equal(t, "****", meta["accessToken"])
	assert.NotContains(t, rec.Body.String(), "secret-token")

	rec = env.do(t, http.MethodGet, "/v1/tenants", "")
	require.Equal(t, http.StatusOK, rec.Code)
	tenants := decodeBody(t, rec)["tenants"].([]any)
	require.Len(t, tenants, 2)
	assert.Equal(t, models.InternalTenantID, tenants[0].(map[string]any)["tenantId"])

	rec = env.do(t, http.MethodPost, "/v1/tenants/acme/invalidate", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDetectAndListAnomalies(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/tenants/acme/metrics", ingestBody).Code)

	rec := env.do(t, http.MethodPost, "/v1/tenants/acme/anomalies/detect",
		`{"start_date": "2024-03-08", "end_date": "2024-03-14", "persist": true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report anomaly.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.NotEmpty(t, report.Anomalies)
	assert.Equal(t, "c1", report.Anomalies[0].CampaignID)
	assert.Equal(t, "2024-03-01", report.Previous.Start.Format(models.DayLayout))

	rec = env.do(t, http.MethodGet, "/v1/tenants/acme/anomalies?status=open", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["anomalies"].([]any), len(report.Anomalies))

	rec = env.do(t, http.MethodPost, "/v1/tenants/acme/anomalies/detect", `{"start_date": "2024-03-08"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/tenants/acme/anomalies/detect",
		`{"platform": "tiktok", "start_date": "2024-03-08", "end_date": "2024-03-14"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBudgetPlan(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/tenants/acme/metrics", ingestBody).Code)

	rec := env.do(t, http.MethodPost, "/v1/tenants/acme/budget/plan",
		`{"monthly_budget": 3100, "start_date": "2024-03-01", "end_date": "2024-03-31", "current_date": "2024-03-10"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var plan models.BudgetPlan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	assert.Equal(t, 10, plan.DaysElapsed)
	assert.InDelta(t, 225.0, plan.SpentToDate, 1e-9)
	assert.Equal(t, models.PacingUnder, plan.PacingStatus)
	assert.Equal(t, []string{pacing.DefaultRecommendation}, plan.Recommendations)

	rec = env.do(t, http.MethodPost, "/v1/tenants/acme/budget/plan",
		`{"monthly_budget": -1, "start_date": "2024-03-01", "end_date": "2024-03-31"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/tenants/acme/budget/plan", `{"monthly_budget": 100}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSync(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/v1/tenants/acme/sync", `{"date": "2024-03-04"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "daily_sync", body["task"])

	_, ok := env.cache.AcquireLock(context.Background(), "sync:acme:2024-03-05", time.Minute)
	require.True(t, ok)
	rec = env.do(t, http.MethodPost, "/v1/tenants/acme/sync", `{"date": "2024-03-05"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/tenants/acme/sync", `{"date": "yesterday"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/tenants/acme/sync", `{"date": "2024-03-04", "platforms": ["tiktok"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSync_FailedStepsReturnMultiStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPut, "/v1/tenants/acme/credentials/meta_ads", `{"account_id": "act_1", "access_token": "t"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/tenants/acme/sync", `{"date": "2024-03-04", "platforms": ["meta"]}`)

	assert.Equal(t, http.StatusMultiStatus, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["success"])
}

func TestAnalysis(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/tenants/acme/metrics", ingestBody).Code)

	rec := env.do(t, http.MethodPost, "/v1/tenants/acme/analysis",
		`{"start_date": "2024-03-08", "end_date": "2024-03-14", "monthly_budget": 3100}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(4), decodeBody(t, rec)["steps_completed"])

	rec = env.do(t, http.MethodGet, "/v1/tenants/acme/recommendations?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	recs := decodeBody(t, rec)["recommendations"].([]any)
	require.Len(t, recs, 1)
	assert.Equal(t, "weekly", recs[0].(map[string]any)["report_type"])

	rec = env.do(t, http.MethodPost, "/v1/tenants/acme/analysis", `{"end_date": "2024-03-14"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCatalog(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPut, "/v1/tenants/acme/catalog", `{
		"campaigns": [
			{"platform": "meta", "campaign_id": "c1", "name": "Spring"},
			{"platform": "google", "campaign_id": "77", "name": "Brand"}
		],
		"creatives": [{"platform": "meta", "ad_id": "a1", "campaign_id": "c1", "title": "Sale"}]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(2), decodeBody(t, rec)["campaigns"])

	rec = env.do(t, http.MethodGet, "/v1/tenants/acme/catalog/campaigns?platform=meta", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody(t, rec)["campaigns"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "acme", list[0].(map[string]any)["tenant_id"])

	rec = env.do(t, http.MethodPut, "/v1/tenants/acme/catalog", `{"campaigns": [{"platform": "tiktok", "campaign_id": "x"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetention(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/tenants/acme/metrics", ingestBody).Code)

	rec := env.do(t, http.MethodPost, "/v1/admin/retention", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	removed := decodeBody(t, rec)["removed"].(map[string]any)
	assert.Equal(t, float64(3), removed[storage.TablePerformance])
	assert.Equal(t, 0, env.store.Len())

	rec = env.do(t, http.MethodPost, "/v1/admin/retention", `{"policies": [{"table": "nope", "keep": 1}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
