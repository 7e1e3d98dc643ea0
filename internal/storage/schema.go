package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tenant_configs (
		tenant_id      TEXT PRIMARY KEY,
		display_name   TEXT NOT NULL,
		industry       TEXT,
		business_model TEXT,
		primary_kpis   JSONB NOT NULL DEFAULT '{}'::jsonb,
		brand_voice    TEXT NOT NULL DEFAULT 'professional',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS tenant_credentials (
		tenant_id     TEXT NOT NULL,
		service       TEXT NOT NULL,
		account_id    TEXT NOT NULL DEFAULT '',
		access_token  TEXT,
		refresh_token TEXT,
		extra         JSONB NOT NULL DEFAULT '{}'::jsonb,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (tenant_id, service)
	)`,
	`CREATE TABLE IF NOT EXISTS performance_metrics (
		platform      TEXT NOT NULL,
		tenant_id     TEXT NOT NULL,
		account_id    TEXT NOT NULL DEFAULT '',
		campaign_id   TEXT NOT NULL,
		campaign_name TEXT NOT NULL DEFAULT '',
		ad_id         TEXT NOT NULL DEFAULT '',
		ad_name       TEXT NOT NULL DEFAULT '',
		date          DATE NOT NULL,
		impressions   BIGINT NOT NULL DEFAULT 0,
		reach         BIGINT,
		clicks        BIGINT NOT NULL DEFAULT 0,
		spend         NUMERIC(14,4) NOT NULL DEFAULT 0,
		conversions   NUMERIC(14,4),
		revenue       NUMERIC(14,4),
		cpc           DOUBLE PRECISION,
		cpm           DOUBLE PRECISION,
		ctr           DOUBLE PRECISION,
		cpa           DOUBLE PRECISION,
		cvr           DOUBLE PRECISION,
		roas          DOUBLE PRECISION,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (platform, tenant_id, campaign_id, ad_id, date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_performance_tenant_date ON performance_metrics (tenant_id, date)`,
	`CREATE TABLE IF NOT EXISTS campaigns (
		platform         TEXT NOT NULL,
		tenant_id        TEXT NOT NULL,
		campaign_id      TEXT NOT NULL,
		account_id       TEXT NOT NULL DEFAULT '',
		name             TEXT NOT NULL DEFAULT '',
		objective        TEXT,
		status           TEXT,
		effective_status TEXT,
		bid_strategy     TEXT,
		daily_budget     NUMERIC(14,4),
		lifetime_budget  NUMERIC(14,4),
		start_time       TIMESTAMPTZ,
		stop_time        TIMESTAMPTZ,
		raw_data         JSONB,
		synced_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (platform, tenant_id, campaign_id)
	)`,
	`CREATE TABLE IF NOT EXISTS ad_sets (
		platform          TEXT NOT NULL,
		tenant_id         TEXT NOT NULL,
		adset_id          TEXT NOT NULL,
		account_id        TEXT NOT NULL DEFAULT '',
		campaign_id       TEXT NOT NULL DEFAULT '',
		name              TEXT NOT NULL DEFAULT '',
		status            TEXT,
		optimization_goal TEXT,
		billing_event     TEXT,
		bid_amount        NUMERIC(14,4),
		daily_budget      NUMERIC(14,4),
		targeting         JSONB,
		synced_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (platform, tenant_id, adset_id)
	)`,
	`CREATE TABLE IF NOT EXISTS creatives (
		platform            TEXT NOT NULL,
		tenant_id           TEXT NOT NULL,
		ad_id               TEXT NOT NULL,
		account_id          TEXT NOT NULL DEFAULT '',
		ad_name             TEXT,
		adset_id            TEXT,
		campaign_id         TEXT,
		creative_id         TEXT,
		title               TEXT,
		body                TEXT,
		image_url           TEXT,
		link_url            TEXT,
		call_to_action_type TEXT,
		status              TEXT,
		synced_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (platform, tenant_id, ad_id)
	)`,
	`CREATE TABLE IF NOT EXISTS anomalies (
		id             TEXT PRIMARY KEY,
		tenant_id      TEXT NOT NULL,
		platform       TEXT NOT NULL,
		campaign_id    TEXT NOT NULL,
		campaign_name  TEXT NOT NULL DEFAULT '',
		metric         TEXT NOT NULL,
		issue_type     TEXT NOT NULL,
		severity       TEXT NOT NULL,
		current_value  DOUBLE PRECISION NOT NULL,
		previous_value DOUBLE PRECISION NOT NULL,
		delta_pct      DOUBLE PRECISION NOT NULL,
		explanation    TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL DEFAULT 'open',
		detected_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_anomalies_tenant ON anomalies (tenant_id, detected_at DESC)`,
	`CREATE TABLE IF NOT EXISTS recommendations (
		id                TEXT PRIMARY KEY,
		tenant_id         TEXT NOT NULL,
		period_start      DATE NOT NULL,
		period_end        DATE NOT NULL,
		report_type       TEXT NOT NULL,
		executive_summary TEXT NOT NULL DEFAULT '',
		key_insights      JSONB NOT NULL DEFAULT '[]'::jsonb,
		action_items      JSONB NOT NULL DEFAULT '[]'::jsonb,
		raw_analysis      JSONB,
		generated_by      TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id            TEXT PRIMARY KEY,
		tenant_id     TEXT NOT NULL,
		action        TEXT NOT NULL,
		actor         TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id   TEXT,
		details       JSONB,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_tenant ON audit_log (tenant_id, created_at DESC)`,
}

// Migrate creates the schema. Statements are idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
