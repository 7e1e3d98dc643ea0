package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWith_Defaults(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"VECTOR_INSIGHTS_AUTH_API_KEY_MASTER": "secret",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "ads:", cfg.Redis.KeyPrefix)
	assert.Equal(t, []string{"/health", "/metrics"}, cfg.Auth.SkipPaths)
	assert.Equal(t, 100, cfg.Executor.RateLimit)
	assert.Equal(t, time.Minute, cfg.Executor.RateWindow)
	assert.Equal(t, 5*time.Second, cfg.Executor.MaxLimiterWait)
	assert.Equal(t, time.Second, cfg.Executor.InitialBackoff)
	assert.Equal(t, 30*time.Second, cfg.Executor.MaxBackoff)
	assert.Equal(t, 2.0, cfg.Executor.Multiplier)
	assert.Equal(t, 3, cfg.Executor.MaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.Tenant.CacheTTL)
	assert.Equal(t, 5, cfg.Anomaly.ExplainTop)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestLoadWith_PlatformDefaultsUnprefixed(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"VECTOR_INSIGHTS_AUTH_ENABLED": "false",
		"META_AD_ACCOUNT_ID":           "act_123",
		"META_ACCESS_TOKEN":            "tok",
		"GOOGLE_ADS_CUSTOMER_ID":       "111-222-3333",
		"GOOGLE_ADS_LOGIN_CUSTOMER_ID": "999",
	}))
	require.NoError(t, err)

	assert.Equal(t, "act_123", cfg.Defaults.MetaAdAccountID)
	assert.Equal(t, "tok", cfg.Defaults.MetaAccessToken)
	assert.Equal(t, "111-222-3333", cfg.Defaults.GoogleCustomerID)
	assert.Equal(t, "999", cfg.Defaults.GoogleLoginCustomerID)
	assert.Empty(t, cfg.Defaults.GoogleRefreshToken)
}

func TestLoadWith_Overrides(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"VECTOR_INSIGHTS_AUTH_ENABLED":          "false",
		"VECTOR_INSIGHTS_SERVER_ENV":            "production",
		"VECTOR_INSIGHTS_DB_PORT":               "6543",
		"VECTOR_INSIGHTS_EXECUTOR_MAX_RETRIES":  "5",
		"VECTOR_INSIGHTS_CLICKHOUSE_ENABLED":    "true",
		"VECTOR_INSIGHTS_TENANT_CACHE_TTL":      "90s",
		"VECTOR_INSIGHTS_ANOMALY_RULES_PATH":    "/etc/rules.yaml",
		"VECTOR_INSIGHTS_RATE_LIMIT_RPS":        "12.5",
		"VECTOR_INSIGHTS_AUTH_SKIP_PATHS":       "/health",
		"VECTOR_INSIGHTS_REDIS_ADDR":            "cache:6380",
		"VECTOR_INSIGHTS_EXPLAINER_URL":         "http://llm.local/explain",
		"VECTOR_INSIGHTS_EXECUTOR_RATE_WINDOW":  "30s",
		"VECTOR_INSIGHTS_DB_MIGRATE":            "false",
		"VECTOR_INSIGHTS_METRICS_PATH":          "/prom",
		"VECTOR_INSIGHTS_LOG_FORMAT":            "console",
		"VECTOR_INSIGHTS_SERVER_HTTP_ADDR":      ":9999",
		"VECTOR_INSIGHTS_CLICKHOUSE_ADDR":       "ch:9000",
		"VECTOR_INSIGHTS_EXECUTOR_RATE_LIMIT":   "10",
		"VECTOR_INSIGHTS_TENANT_INTERNAL_DISPLAY_NAME": "Home",
	}))
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.False(t, cfg.Database.Migrate)
	assert.Equal(t, 5, cfg.Executor.MaxRetries)
	assert.Equal(t, 10, cfg.Executor.RateLimit)
	assert.Equal(t, 30*time.Second, cfg.Executor.RateWindow)
	assert.True(t, cfg.ClickHouse.Enabled)
	assert.Equal(t, "ch:9000", cfg.ClickHouse.Addr)
	assert.Equal(t, 90*time.Second, cfg.Tenant.CacheTTL)
	assert.Equal(t, "Home", cfg.Tenant.InternalDisplayName)
	assert.Equal(t, "/etc/rules.yaml", cfg.Anomaly.RulesPath)
	assert.Equal(t, 12.5, cfg.RateLimit.RPS)
	assert.Equal(t, []string{"/health"}, cfg.Auth.SkipPaths)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, "http://llm.local/explain", cfg.Explainer.URL)
	assert.Equal(t, "/prom", cfg.Metrics.Path)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, ":9999", cfg.Server.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "auth without master key",
			env:     map[string]string{},
			wantErr: "AUTH_API_KEY_MASTER is required",
		},
		{
			name: "non-positive rate limit",
			env: map[string]string{
				"VECTOR_INSIGHTS_AUTH_ENABLED":        "false",
				"VECTOR_INSIGHTS_EXECUTOR_RATE_LIMIT": "0",
			},
			wantErr: "rate limit must be positive",
		},
		{
			name: "shrinking backoff",
			env: map[string]string{
				"VECTOR_INSIGHTS_AUTH_ENABLED":               "false",
				"VECTOR_INSIGHTS_EXECUTOR_BACKOFF_MULTIPLIER": "0.5",
			},
			wantErr: "multiplier must be >= 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWith(context.Background(), envconfig.MapLookuper(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{User: "u", Password: "p", Host: "db", Port: 5432, DBName: "insights", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/insights?sslmode=disable", d.DSN())
}
