package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/radiusdt/vector-insights/internal/models"
)

// upsertChunk bounds the statements queued per pgx.Batch.
const upsertChunk = 500

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

const upsertMetricSQL = `
	INSERT INTO performance_metrics (
		platform, tenant_id, account_id, campaign_id, campaign_name, ad_id, ad_name, date,
		impressions, reach, clicks, spend, conversions, revenue,
		cpc, cpm, ctr, cpa, cvr, roas, updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, NOW())
	ON CONFLICT (platform, tenant_id, campaign_id, ad_id, date) DO UPDATE SET
		account_id = EXCLUDED.account_id,
		campaign_name = EXCLUDED.campaign_name,
		ad_name = EXCLUDED.ad_name,
		impressions = EXCLUDED.impressions,
		reach = EXCLUDED.reach,
		clicks = EXCLUDED.clicks,
		spend = EXCLUDED.spend,
		conversions = EXCLUDED.conversions,
		revenue = EXCLUDED.revenue,
		cpc = EXCLUDED.cpc,
		cpm = EXCLUDED.cpm,
		ctr = EXCLUDED.ctr,
		cpa = EXCLUDED.cpa,
		cvr = EXCLUDED.cvr,
		roas = EXCLUDED.roas,
		updated_at = NOW()`

// UpsertBatch implements MetricStore. Each chunk commits in one transaction.
func (s *PostgresStore) UpsertBatch(ctx context.Context, rows []models.UnifiedMetric) (int, error) {
	if err := validateRows(rows); err != nil {
		return 0, err
	}

	written := 0
	for start := 0; start < len(rows); start += upsertChunk {
		end := start + upsertChunk
		if end > len(rows) {
			end = len(rows)
		}
		if err := s.upsertChunk(ctx, rows[start:end]); err != nil {
			return written, err
		}
		written += end - start
	}
	return written, nil
}

func (s *PostgresStore) upsertChunk(ctx context.Context, rows []models.UnifiedMetric) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	b := &pgx.Batch{}
	for _, r := range rows {
		r.Recompute()
		b.Queue(upsertMetricSQL,
			r.Platform, r.TenantID, r.AccountID, r.CampaignID, r.CampaignName, r.AdID, r.AdName, models.Day(r.Date),
			r.Impressions, r.Reach, r.Clicks, r.Spend, r.Conversions, r.Revenue,
			r.CPC, r.CPM, r.CTR, r.CPA, r.CVR, r.ROAS,
		)
	}

	br := tx.SendBatch(ctx, b)
	for range rows {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to upsert metric: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to close batch: %w", err)
	}

	return tx.Commit(ctx)
}

const metricWhere = `
	WHERE ($1 = 'all' OR tenant_id = $1)
	  AND ($2 = 'all' OR platform = $2)
	  AND date BETWEEN $3 AND $4`

const summaryColumns = `
	COALESCE(SUM(impressions), 0)::BIGINT,
	COALESCE(SUM(clicks), 0)::BIGINT,
	COALESCE(SUM(spend), 0)::FLOAT8,
	COALESCE(SUM(conversions), 0)::FLOAT8,
	COALESCE(SUM(revenue), 0)::FLOAT8`

func filterArgs(f models.MetricFilter) []any {
	return []any{f.TenantID, f.Platform, models.Day(f.Start), models.Day(f.End)}
}

// Aggregate implements MetricStore.
func (s *PostgresStore) Aggregate(ctx context.Context, f models.MetricFilter) (*models.MetricSummary, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	var sum models.MetricSummary
	err := s.pool.QueryRow(ctx, `SELECT `+summaryColumns+` FROM performance_metrics`+metricWhere, filterArgs(f)...).
		Scan(&sum.Impressions, &sum.Clicks, &sum.Spend, &sum.Conversions, &sum.Revenue)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate metrics: %w", err)
	}
	sum.Finalize()
	return &sum, nil
}

// AggregateByCampaign implements MetricStore.
func (s *PostgresStore) AggregateByCampaign(ctx context.Context, f models.MetricFilter) ([]models.CampaignSummary, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT platform, campaign_id, MAX(campaign_name), `+summaryColumns+`
		FROM performance_metrics`+metricWhere+`
		GROUP BY platform, campaign_id
		ORDER BY SUM(spend) DESC, platform, campaign_id`, filterArgs(f)...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate campaigns: %w", err)
	}
	defer rows.Close()

	var out []models.CampaignSummary
	for rows.Next() {
		var c models.CampaignSummary
		if err := rows.Scan(&c.Platform, &c.CampaignID, &c.CampaignName,
			&c.Impressions, &c.Clicks, &c.Spend, &c.Conversions, &c.Revenue); err != nil {
			return nil, err
		}
		c.Finalize()
		out = append(out, c)
	}
	return out, rows.Err()
}

// DailyTrend implements MetricStore.
func (s *PostgresStore) DailyTrend(ctx context.Context, f models.MetricFilter) ([]models.DailyPoint, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT date, `+summaryColumns+`
		FROM performance_metrics`+metricWhere+`
		GROUP BY date
		ORDER BY date`, filterArgs(f)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily trend: %w", err)
	}
	defer rows.Close()

	var out []models.DailyPoint
	for rows.Next() {
		var p models.DailyPoint
		if err := rows.Scan(&p.Date, &p.Impressions, &p.Clicks, &p.Spend, &p.Conversions, &p.Revenue); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteCampaignLevel implements MetricStore.
func (s *PostgresStore) DeleteCampaignLevel(ctx context.Context, tenantID string, platform models.Platform, day time.Time, campaignIDs []string) (int64, error) {
	if !platform.Valid() {
		return 0, ErrInvalidPlatform
	}
	if len(campaignIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM performance_metrics
		WHERE tenant_id = $1 AND platform = $2 AND ad_id = '' AND date = $3 AND campaign_id = ANY($4)
	`, tenantID, platform, models.Day(day), campaignIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to delete campaign-level rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ApplyRetention implements Retainer.
func (s *PostgresStore) ApplyRetention(ctx context.Context, policies []RetentionPolicy, now time.Time) (map[string]int64, error) {
	removed := make(map[string]int64, len(policies))
	for _, p := range policies {
		var query string
		cutoff := now.Add(-p.Keep)
		switch p.Table {
		case TablePerformance:
			query = `DELETE FROM performance_metrics WHERE date < $1`
			cutoff = models.Day(cutoff)
		case TableAudit:
			query = `DELETE FROM audit_log WHERE created_at < $1`
		case TableAnomalies:
			query = `DELETE FROM anomalies WHERE detected_at < $1`
		case TableRecommendations:
			query = `DELETE FROM recommendations WHERE created_at < $1`
		default:
			return removed, fmt.Errorf("unknown retention table %q", p.Table)
		}

		tag, err := s.pool.Exec(ctx, query, cutoff)
		if err != nil {
			return removed, fmt.Errorf("failed to apply retention to %s: %w", p.Table, err)
		}
		removed[p.Table] = tag.RowsAffected()
	}
	return removed, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
