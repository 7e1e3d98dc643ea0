package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// EnvPrefix is prepended to every application setting.
const EnvPrefix = "VECTOR_INSIGHTS_"

// Config holds all configuration for the vector-insights application.
type Config struct {
	Server     ServerConfig     `env:", prefix=SERVER_"`
	Database   DatabaseConfig   `env:", prefix=DB_"`
	Redis      RedisConfig      `env:", prefix=REDIS_"`
	ClickHouse ClickHouseConfig `env:", prefix=CLICKHOUSE_"`
	Auth       AuthConfig       `env:", prefix=AUTH_"`
	RateLimit  RateLimitConfig  `env:", prefix=RATE_LIMIT_"`
	Log        LogConfig        `env:", prefix=LOG_"`
	Metrics    MetricsConfig    `env:", prefix=METRICS_"`
	Executor   ExecutorConfig   `env:", prefix=EXECUTOR_"`
	Tenant     TenantConfig     `env:", prefix=TENANT_"`
	Anomaly    AnomalyConfig    `env:", prefix=ANOMALY_"`
	Explainer  ExplainerConfig  `env:", prefix=EXPLAINER_"`

	// Defaults are the process-wide platform credentials. The bare variable
	// names are consulted when no prefixed value is set.
	Defaults PlatformDefaults
}

type ServerConfig struct {
	Addr            string        `env:"HTTP_ADDR, default=:8080"`
	Env             string        `env:"ENV, default=development"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT, default=30s"`
}

type DatabaseConfig struct {
	Enabled  bool   `env:"ENABLED, default=true"`
	Host     string `env:"HOST, default=localhost"`
	Port     int    `env:"PORT, default=5432"`
	User     string `env:"USER, default=insights"`
	Password string `env:"PASSWORD, default=insights_secret"`
	DBName   string `env:"NAME, default=insights"`
	SSLMode  string `env:"SSLMODE, default=disable"`
	MaxConns int    `env:"MAX_CONNS, default=25"`
	MinConns int    `env:"MIN_CONNS, default=2"`
	// Migrate applies the schema on start.
	Migrate bool `env:"MIGRATE, default=true"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled   bool   `env:"ENABLED, default=true"`
	Addr      string `env:"ADDR, default=localhost:6379"`
	Password  string `env:"PASSWORD"`
	DB        int    `env:"DB, default=0"`
	KeyPrefix string `env:"KEY_PREFIX, default=ads:"`
}

// ClickHouseConfig configures the optional columnar metric store. When
// enabled, performance rows are written to and aggregated from ClickHouse
// instead of PostgreSQL.
type ClickHouseConfig struct {
	Enabled  bool   `env:"ENABLED, default=false"`
	Addr     string `env:"ADDR, default=localhost:9000"`
	Database string `env:"DATABASE, default=insights"`
	Username string `env:"USERNAME, default=default"`
	Password string `env:"PASSWORD"`
}

type AuthConfig struct {
	Enabled   bool     `env:"ENABLED, default=true"`
	MasterKey string   `env:"API_KEY_MASTER"`
	SkipPaths []string `env:"SKIP_PATHS, default=/health,/metrics"`
}

type RateLimitConfig struct {
	Enabled bool    `env:"ENABLED, default=true"`
	RPS     float64 `env:"RPS, default=50"`
	Burst   int     `env:"BURST, default=20"`
}

type LogConfig struct {
	Level  string `env:"LEVEL, default=info"`
	Format string `env:"FORMAT, default=json"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `env:"ENABLED, default=true"`
	Path    string `env:"PATH, default=/metrics"`
}

// ExecutorConfig tunes the tool executor. The zero value is never used:
// defaults mirror the documented retry and rate-limit policy.
type ExecutorConfig struct {
	RateLimit      int           `env:"RATE_LIMIT, default=100"`
	RateWindow     time.Duration `env:"RATE_WINDOW, default=60s"`
	MaxLimiterWait time.Duration `env:"MAX_LIMITER_WAIT, default=5s"`
	InitialBackoff time.Duration `env:"INITIAL_BACKOFF, default=1s"`
	MaxBackoff     time.Duration `env:"MAX_BACKOFF, default=30s"`
	Multiplier     float64       `env:"BACKOFF_MULTIPLIER, default=2"`
	MaxRetries     int           `env:"MAX_RETRIES, default=3"`
}

type TenantConfig struct {
	CacheTTL            time.Duration `env:"CACHE_TTL, default=5m"`
	InternalDisplayName string        `env:"INTERNAL_DISPLAY_NAME, default=Agency Internal"`
}

type AnomalyConfig struct {
	// RulesPath optionally points to a YAML file overriding the default rules.
	RulesPath  string `env:"RULES_PATH"`
	ExplainTop int    `env:"EXPLAIN_TOP, default=5"`
}

// ExplainerConfig configures the external text-generation endpoint used for
// anomaly explanations. Empty URL disables it.
type ExplainerConfig struct {
	URL      string        `env:"URL"`
	APIKey   string        `env:"API_KEY"`
	Timeout  time.Duration `env:"TIMEOUT, default=20s"`
	CacheTTL time.Duration `env:"CACHE_TTL, default=1h"`
}

// PlatformDefaults holds the agency's own ad account credentials.
type PlatformDefaults struct {
	MetaAdAccountID string `env:"META_AD_ACCOUNT_ID"`
	MetaAccessToken string `env:"META_ACCESS_TOKEN"`

	GoogleCustomerID      string `env:"GOOGLE_ADS_CUSTOMER_ID"`
	GoogleClientID        string `env:"GOOGLE_ADS_CLIENT_ID"`
	GoogleClientSecret    string `env:"GOOGLE_ADS_CLIENT_SECRET"`
	GoogleRefreshToken    string `env:"GOOGLE_ADS_REFRESH_TOKEN"`
	GoogleDeveloperToken  string `env:"GOOGLE_ADS_DEVELOPER_TOKEN"`
	GoogleLoginCustomerID string `env:"GOOGLE_ADS_LOGIN_CUSTOMER_ID"`
}

// Load reads configuration from the process environment.
func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads configuration from the given lookuper. Application settings
// are looked up under EnvPrefix, platform defaults also under their bare names.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.PrefixLookuper(EnvPrefix, lookuper),
	}); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg.Defaults,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to process platform defaults: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.MasterKey == "" {
		return fmt.Errorf("%sAUTH_API_KEY_MASTER is required when auth is enabled", EnvPrefix)
	}
	if c.Executor.RateLimit <= 0 {
		return fmt.Errorf("executor rate limit must be positive, got %d", c.Executor.RateLimit)
	}
	if c.Executor.MaxRetries < 0 {
		return fmt.Errorf("executor max retries must not be negative, got %d", c.Executor.MaxRetries)
	}
	if c.Executor.Multiplier < 1 {
		return fmt.Errorf("executor backoff multiplier must be >= 1, got %v", c.Executor.Multiplier)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}
