package storage

import (
	"context"
	"errors"
	"time"

	"github.com/radiusdt/vector-insights/internal/models"
)

// ErrInvalidPlatform is returned when a row or query names an unknown platform.
var ErrInvalidPlatform = errors.New("invalid platform")

// =============================================
// METRIC STORE
// =============================================

// MetricStore persists UnifiedMetric rows keyed by
// (platform, tenant, campaign, ad, date) and answers aggregate queries.
// UpsertBatch is last-write-wins on that key.
type MetricStore interface {
	UpsertBatch(ctx context.Context, rows []models.UnifiedMetric) (int, error)

	// Aggregates. Filter tenant and platform accept models.All.
	Aggregate(ctx context.Context, f models.MetricFilter) (*models.MetricSummary, error)
	AggregateByCampaign(ctx context.Context, f models.MetricFilter) ([]models.CampaignSummary, error)
	DailyTrend(ctx context.Context, f models.MetricFilter) ([]models.DailyPoint, error)

	// DeleteCampaignLevel removes the ad_id='' rollups of the given
	// campaigns on day. An empty campaignIDs deletes nothing.
	DeleteCampaignLevel(ctx context.Context, tenantID string, platform models.Platform, day time.Time, campaignIDs []string) (int64, error)
}

// =============================================
// CAMPAIGN METADATA
// =============================================

// CampaignStore persists campaign, ad set and creative metadata.
type CampaignStore interface {
	UpsertCampaigns(ctx context.Context, campaigns []models.Campaign) error
	UpsertAdSets(ctx context.Context, adSets []models.AdSet) error
	UpsertCreatives(ctx context.Context, creatives []models.Creative) error
	ListCampaigns(ctx context.Context, tenantID string, platform models.Platform) ([]models.Campaign, error)
}

// =============================================
// TENANTS & CREDENTIALS
// =============================================

// TenantStore holds tenant configuration and per-service credential rows.
// Lookups return nil, nil when the row does not exist.
type TenantStore interface {
	GetTenantConfig(ctx context.Context, tenantID string) (*models.TenantConfig, error)
	UpsertTenantConfig(ctx context.Context, cfg *models.TenantConfig) error
	ListTenantConfigs(ctx context.Context) ([]models.TenantConfig, error)

	GetCredential(ctx context.Context, tenantID string, service models.CredentialService) (*models.CredentialRecord, error)
	UpsertCredential(ctx context.Context, rec *models.CredentialRecord) error
	ListCredentialTenants(ctx context.Context) ([]string, error)
}

// =============================================
// ANALYSIS SINKS
// =============================================

// AnomalyStore persists detected anomalies.
type AnomalyStore interface {
	SaveAnomalies(ctx context.Context, anomalies []models.DetectedAnomaly) error
	// ListAnomalies returns newest first. Empty status matches all.
	ListAnomalies(ctx context.Context, tenantID string, status models.AnomalyStatus, limit int) ([]models.DetectedAnomaly, error)
}

// RecommendationStore persists analysis recommendations.
type RecommendationStore interface {
	SaveRecommendation(ctx context.Context, rec *models.Recommendation) error
	ListRecommendations(ctx context.Context, tenantID string, limit int) ([]models.Recommendation, error)
}

// AuditStore is the append-only audit log.
type AuditStore interface {
	LogAudit(ctx context.Context, entry *models.AuditEntry) error
	ListAudit(ctx context.Context, tenantID string, limit int) ([]models.AuditEntry, error)
}

// =============================================
// RETENTION
// =============================================

// Retention tables.
const (
	TablePerformance     = "performance"
	TableAudit           = "audit"
	TableAnomalies       = "anomalies"
	TableRecommendations = "recommendations"
)

// RetentionPolicy keeps rows of Table younger than Keep.
type RetentionPolicy struct {
	Table string        `yaml:"table" json:"table"`
	Keep  time.Duration `yaml:"keep" json:"keep"`
}

// DefaultRetention returns the standard retention windows.
func DefaultRetention() []RetentionPolicy {
	const day = 24 * time.Hour
	return []RetentionPolicy{
		{Table: TablePerformance, Keep: 365 * day},
		{Table: TableAudit, Keep: 730 * day},
		{Table: TableAnomalies, Keep: 180 * day},
		{Table: TableRecommendations, Keep: 365 * day},
	}
}

// Retainer deletes rows outside the retention windows and reports the
// number of rows removed per table.
type Retainer interface {
	ApplyRetention(ctx context.Context, policies []RetentionPolicy, now time.Time) (map[string]int64, error)
}

// Store is the full persistence surface used by the services.
type Store interface {
	MetricStore
	CampaignStore
	TenantStore
	AnomalyStore
	RecommendationStore
	AuditStore
	Retainer
}

func validateRows(rows []models.UnifiedMetric) error {
	for i := range rows {
		if !rows[i].Platform.Valid() {
			return ErrInvalidPlatform
		}
	}
	return nil
}

func limitOr(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
