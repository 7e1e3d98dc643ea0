package storage

import (
	"context"
	"time"

	"github.com/radiusdt/vector-insights/internal/models"
)

// splitStore serves performance rows from a separate MetricStore and
// everything else from the relational store.
type splitStore struct {
	Store
	metrics MetricStore
}

// WithMetricStore returns base with its MetricStore methods replaced by m.
// Retention runs against both when m is also a Retainer.
func WithMetricStore(base Store, m MetricStore) Store {
	return &splitStore{Store: base, metrics: m}
}

func (s *splitStore) UpsertBatch(ctx context.Context, rows []models.UnifiedMetric) (int, error) {
	return s.metrics.UpsertBatch(ctx, rows)
}

func (s *splitStore) Aggregate(ctx context.Context, f models.MetricFilter) (*models.MetricSummary, error) {
	return s.metrics.Aggregate(ctx, f)
}

func (s *splitStore) AggregateByCampaign(ctx context.Context, f models.MetricFilter) ([]models.CampaignSummary, error) {
	return s.metrics.AggregateByCampaign(ctx, f)
}

func (s *splitStore) DailyTrend(ctx context.Context, f models.MetricFilter) ([]models.DailyPoint, error) {
	return s.metrics.DailyTrend(ctx, f)
}

func (s *splitStore) DeleteCampaignLevel(ctx context.Context, tenantID string, platform models.Platform, day time.Time, campaignIDs []string) (int64, error) {
	return s.metrics.DeleteCampaignLevel(ctx, tenantID, platform, day, campaignIDs)
}

func (s *splitStore) ApplyRetention(ctx context.Context, policies []RetentionPolicy, now time.Time) (map[string]int64, error) {
	removed, err := s.Store.ApplyRetention(ctx, policies, now)
	if err != nil {
		return removed, err
	}
	r, ok := retainerOf(s.metrics)
	if !ok || r == Retainer(s.Store) {
		return removed, nil
	}
	extra, err := r.ApplyRetention(ctx, policies, now)
	for table, n := range extra {
		removed[table] += n
	}
	return removed, err
}

func retainerOf(m MetricStore) (Retainer, bool) {
	if c, ok := m.(*CachedMetricStore); ok {
		m = c.MetricStore
	}
	r, ok := m.(Retainer)
	return r, ok
}
