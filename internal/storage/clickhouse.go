package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/radiusdt/vector-insights/internal/models"
)

const clickHouseSchema = `
	CREATE TABLE IF NOT EXISTS performance_metrics (
		platform      LowCardinality(String),
		tenant_id     String,
		account_id    String,
		campaign_id   String,
		campaign_name String,
		ad_id         String,
		ad_name       String,
		date          Date,
		impressions   Int64,
		reach         Nullable(Int64),
		clicks        Int64,
		spend         Float64,
		conversions   Nullable(Float64),
		revenue       Nullable(Float64),
		updated_at    DateTime64(3)
	)
	ENGINE = ReplacingMergeTree(updated_at)
	PARTITION BY toYYYYMM(date)
	ORDER BY (tenant_id, platform, campaign_id, ad_id, date)`

// ClickHouseMetricStore implements MetricStore on a ReplacingMergeTree.
// Re-ingested keys collapse on merge; reads use FINAL so the latest
// version wins immediately.
type ClickHouseMetricStore struct {
	conn driver.Conn
	now  func() time.Time
}

// NewClickHouseMetricStore creates a ClickHouse-backed metric store.
func NewClickHouseMetricStore(conn driver.Conn) *ClickHouseMetricStore {
	return &ClickHouseMetricStore{conn: conn, now: time.Now}
}

// MigrateClickHouse creates the performance table.
func MigrateClickHouse(ctx context.Context, conn driver.Conn) error {
	if err := conn.Exec(ctx, clickHouseSchema); err != nil {
		return fmt.Errorf("failed to apply clickhouse schema: %w", err)
	}
	return nil
}

// UpsertBatch implements MetricStore.
func (s *ClickHouseMetricStore) UpsertBatch(ctx context.Context, rows []models.UnifiedMetric) (int, error) {
	if err := validateRows(rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO performance_metrics")
	if err != nil {
		return 0, fmt.Errorf("failed to prepare batch: %w", err)
	}

	version := s.now()
	for _, r := range rows {
		if err := batch.Append(
			string(r.Platform), r.TenantID, r.AccountID, r.CampaignID, r.CampaignName, r.AdID, r.AdName,
			models.Day(r.Date), r.Impressions, r.Reach, r.Clicks, r.Spend, r.Conversions, r.Revenue, version,
		); err != nil {
			_ = batch.Abort()
			return 0, fmt.Errorf("failed to append metric: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("failed to send batch: %w", err)
	}
	return len(rows), nil
}

const chWhere = `
	WHERE (? = 'all' OR tenant_id = ?)
	  AND (? = 'all' OR platform = ?)
	  AND date BETWEEN toDate(?) AND toDate(?)`

const chSummaryColumns = `
	toInt64(sum(impressions)),
	toInt64(sum(clicks)),
	toFloat64(sum(spend)),
	toFloat64(sum(ifNull(conversions, 0))),
	toFloat64(sum(ifNull(revenue, 0)))`

func chArgs(f models.MetricFilter) []any {
	return []any{
		f.TenantID, f.TenantID,
		f.Platform, f.Platform,
		f.Start.Format(models.DayLayout), f.End.Format(models.DayLayout),
	}
}

// Aggregate implements MetricStore.
func (s *ClickHouseMetricStore) Aggregate(ctx context.Context, f models.MetricFilter) (*models.MetricSummary, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	var sum models.MetricSummary
	err := s.conn.QueryRow(ctx, `SELECT `+chSummaryColumns+` FROM performance_metrics FINAL`+chWhere, chArgs(f)...).
		Scan(&sum.Impressions, &sum.Clicks, &sum.Spend, &sum.Conversions, &sum.Revenue)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate metrics: %w", err)
	}
	sum.Finalize()
	return &sum, nil
}

// AggregateByCampaign implements MetricStore.
func (s *ClickHouseMetricStore) AggregateByCampaign(ctx context.Context, f models.MetricFilter) ([]models.CampaignSummary, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, `
		SELECT toString(platform), campaign_id, any(campaign_name), `+chSummaryColumns+`
		FROM performance_metrics FINAL`+chWhere+`
		GROUP BY platform, campaign_id
		ORDER BY sum(spend) DESC, platform, campaign_id`, chArgs(f)...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate campaigns: %w", err)
	}
	defer rows.Close()

	var out []models.CampaignSummary
	for rows.Next() {
		var c models.CampaignSummary
		var platform string
		if err := rows.Scan(&platform, &c.CampaignID, &c.CampaignName,
			&c.Impressions, &c.Clicks, &c.Spend, &c.Conversions, &c.Revenue); err != nil {
			return nil, fmt.Errorf("failed to scan campaign summary: %w", err)
		}
		c.Platform = models.Platform(platform)
		c.Finalize()
		out = append(out, c)
	}
	return out, rows.Err()
}

// DailyTrend implements MetricStore.
func (s *ClickHouseMetricStore) DailyTrend(ctx context.Context, f models.MetricFilter) ([]models.DailyPoint, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, `
		SELECT date, `+chSummaryColumns+`
		FROM performance_metrics FINAL`+chWhere+`
		GROUP BY date
		ORDER BY date`, chArgs(f)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily trend: %w", err)
	}
	defer rows.Close()

	var out []models.DailyPoint
	for rows.Next() {
		var p models.DailyPoint
		if err := rows.Scan(&p.Date, &p.Impressions, &p.Clicks, &p.Spend, &p.Conversions, &p.Revenue); err != nil {
			return nil, fmt.Errorf("failed to scan daily point: %w", err)
		}
		p.Date = models.Day(p.Date)
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteCampaignLevel implements MetricStore using a lightweight delete.
func (s *ClickHouseMetricStore) DeleteCampaignLevel(ctx context.Context, tenantID string, platform models.Platform, day time.Time, campaignIDs []string) (int64, error) {
	if !platform.Valid() {
		return 0, ErrInvalidPlatform
	}
	if len(campaignIDs) == 0 {
		return 0, nil
	}
	args := []any{tenantID, string(platform), day.Format(models.DayLayout), campaignIDs}
	const where = `WHERE tenant_id = ? AND platform = ? AND ad_id = '' AND date = toDate(?) AND campaign_id IN (?)`

	var n uint64
	if err := s.conn.QueryRow(ctx, `SELECT count() FROM performance_metrics FINAL `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count campaign-level rows: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.conn.Exec(ctx, `DELETE FROM performance_metrics `+where, args...); err != nil {
		return 0, fmt.Errorf("failed to delete campaign-level rows: %w", err)
	}
	return int64(n), nil
}

// ApplyRetention implements Retainer for the performance table only.
func (s *ClickHouseMetricStore) ApplyRetention(ctx context.Context, policies []RetentionPolicy, now time.Time) (map[string]int64, error) {
	removed := make(map[string]int64)
	for _, p := range policies {
		if p.Table != TablePerformance {
			continue
		}
		cutoff := models.Day(now.Add(-p.Keep)).Format(models.DayLayout)

		var n uint64
		if err := s.conn.QueryRow(ctx, `SELECT count() FROM performance_metrics WHERE date < toDate(?)`, cutoff).Scan(&n); err != nil {
			return removed, fmt.Errorf("failed to count expired rows: %w", err)
		}
		if n > 0 {
			if err := s.conn.Exec(ctx, `ALTER TABLE performance_metrics DELETE WHERE date < toDate(?)`, cutoff); err != nil {
				return removed, fmt.Errorf("failed to apply retention to %s: %w", p.Table, err)
			}
		}
		removed[p.Table] = int64(n)
	}
	return removed, nil
}
