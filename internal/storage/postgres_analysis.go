package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/radiusdt/vector-insights/internal/models"
)

func (s *PostgresStore) syncedAt(t time.Time) time.Time {
	if t.IsZero() {
		return s.now()
	}
	return t
}

// SaveAnomalies stores detected anomalies with status open.
func (s *PostgresStore) SaveAnomalies(ctx context.Context, anomalies []models.DetectedAnomaly) error {
	b := &pgx.Batch{}
	for _, a := range prepareAnomalies(anomalies, s.now()) {
		b.Queue(`
			INSERT INTO anomalies (
				id, tenant_id, platform, campaign_id, campaign_name, metric, issue_type, severity,
				current_value, previous_value, delta_pct, explanation, status, detected_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, a.ID, a.TenantID, string(a.Platform), a.CampaignID, a.CampaignName, a.Metric,
			string(a.IssueType), string(a.Severity), a.CurrentValue, a.PreviousValue, a.DeltaPct,
			a.Explanation, string(a.Status), a.DetectedAt)
	}
	return s.sendBatch(ctx, b, "anomaly")
}

// ListAnomalies returns a tenant's anomalies, newest first.
func (s *PostgresStore) ListAnomalies(ctx context.Context, tenantID string, status models.AnomalyStatus, limit int) ([]models.DetectedAnomaly, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, platform, campaign_id, campaign_name, metric, issue_type, severity,
			   current_value, previous_value, delta_pct, explanation, status, detected_at
		FROM anomalies
		WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY detected_at DESC
		LIMIT $3
	`, tenantID, string(status), limitOr(limit, 100))
	if err != nil {
		return nil, fmt.Errorf("failed to list anomalies: %w", err)
	}
	defer rows.Close()

	var out []models.DetectedAnomaly
	for rows.Next() {
		var a models.DetectedAnomaly
		if err := rows.Scan(
			&a.ID, &a.TenantID, &a.Platform, &a.CampaignID, &a.CampaignName, &a.Metric, &a.IssueType, &a.Severity,
			&a.CurrentValue, &a.PreviousValue, &a.DeltaPct, &a.Explanation, &a.Status, &a.DetectedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveRecommendation stores an analysis recommendation.
func (s *PostgresStore) SaveRecommendation(ctx context.Context, rec *models.Recommendation) error {
	prepareRecommendation(rec, s.now())

	insights, err := json.Marshal(nonNil(rec.KeyInsights))
	if err != nil {
		return fmt.Errorf("failed to encode key insights: %w", err)
	}
	actions, err := json.Marshal(nonNil(rec.ActionItems))
	if err != nil {
		return fmt.Errorf("failed to encode action items: %w", err)
	}
	var raw []byte
	if rec.RawAnalysis != nil {
		if raw, err = json.Marshal(rec.RawAnalysis); err != nil {
			return fmt.Errorf("failed to encode raw analysis: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO recommendations (
			id, tenant_id, period_start, period_end, report_type, executive_summary,
			key_insights, action_items, raw_analysis, generated_by, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rec.ID, rec.TenantID, models.Day(rec.PeriodStart), models.Day(rec.PeriodEnd), rec.ReportType,
		rec.ExecutiveSummary, insights, actions, raw, rec.GeneratedBy, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save recommendation: %w", err)
	}
	return nil
}

// ListRecommendations returns a tenant's recommendations, newest first.
func (s *PostgresStore) ListRecommendations(ctx context.Context, tenantID string, limit int) ([]models.Recommendation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, period_start, period_end, report_type, executive_summary,
			   key_insights, action_items, raw_analysis, generated_by, created_at
		FROM recommendations
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limitOr(limit, 20))
	if err != nil {
		return nil, fmt.Errorf("failed to list recommendations: %w", err)
	}
	defer rows.Close()

	var out []models.Recommendation
	for rows.Next() {
		var r models.Recommendation
		var insights, actions, raw []byte
		if err := rows.Scan(
			&r.ID, &r.TenantID, &r.PeriodStart, &r.PeriodEnd, &r.ReportType, &r.ExecutiveSummary,
			&insights, &actions, &raw, &r.GeneratedBy, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := unmarshalIfSet(insights, &r.KeyInsights); err != nil {
			return nil, err
		}
		if err := unmarshalIfSet(actions, &r.ActionItems); err != nil {
			return nil, err
		}
		if err := unmarshalIfSet(raw, &r.RawAnalysis); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LogAudit appends an audit entry.
func (s *PostgresStore) LogAudit(ctx context.Context, entry *models.AuditEntry) error {
	prepareAudit(entry, s.now())

	var details []byte
	if entry.Details != nil {
		var err error
		if details, err = json.Marshal(entry.Details); err != nil {
			return fmt.Errorf("failed to encode audit details: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (id, tenant_id, action, actor, resource_type, resource_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.TenantID, entry.Action, entry.Actor, entry.ResourceType,
		nullString(entry.ResourceID), details, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// ListAudit returns a tenant's audit entries, newest first.
func (s *PostgresStore) ListAudit(ctx context.Context, tenantID string, limit int) ([]models.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, action, actor, resource_type, resource_id, details, created_at
		FROM audit_log
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limitOr(limit, 100))
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var resourceID *string
		var details []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Action, &e.Actor, &e.ResourceType, &resourceID, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ResourceID = derefString(resourceID)
		if err := unmarshalIfSet(details, &e.Details); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func unmarshalIfSet(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
