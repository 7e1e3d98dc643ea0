package storage

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/radiusdt/vector-insights/internal/cache"
	"github.com/radiusdt/vector-insights/internal/models"
	"go.uber.org/zap"
)

// DefaultAggregateTTL is how long aggregate results are memoized.
const DefaultAggregateTTL = 10 * time.Minute

// CachedMetricStore memoizes aggregate queries of another MetricStore.
// Writes for a tenant drop that tenant's entries and the cross-tenant ones.
// Entry keys embed a per-tenant version that every write replaces, so a
// result loaded before a write is never served after it.
type CachedMetricStore struct {
	MetricStore
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedMetricStore wraps next. A non-positive ttl uses DefaultAggregateTTL.
func NewCachedMetricStore(next MetricStore, c cache.Cache, ttl time.Duration, logger *zap.Logger) *CachedMetricStore {
	if ttl <= 0 {
		ttl = DefaultAggregateTTL
	}
	return &CachedMetricStore{MetricStore: next, cache: c, ttl: ttl, logger: logger.Named("agg_cache")}
}

func aggKey(kind, version string, f models.MetricFilter) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s", version, f.Platform, f.Start.Format(models.DayLayout), f.End.Format(models.DayLayout))))
	return fmt.Sprintf("agg:%s:%s:%x", f.TenantID, kind, h[:8])
}

func versionKey(tenantID string) string {
	return "aggver:" + tenantID
}

func (s *CachedMetricStore) version(ctx context.Context, tenantID string) string {
	var v string
	if _, err := s.cache.Get(ctx, versionKey(tenantID), &v); err != nil {
		s.logger.Warn("aggregate version read failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
	return v
}

func cached[T any](ctx context.Context, s *CachedMetricStore, kind string, f models.MetricFilter, load func() (T, error)) (T, error) {
	key := aggKey(kind, s.version(ctx, f.TenantID), f)

	var v T
	hit, err := s.cache.Get(ctx, key, &v)
	if err != nil {
		s.logger.Warn("aggregate cache read failed", zap.String("key", key), zap.Error(err))
	}
	if hit {
		return v, nil
	}

	v, err = load()
	if err != nil {
		return v, err
	}
	if err := s.cache.Set(ctx, key, v, s.ttl); err != nil {
		s.logger.Warn("aggregate cache write failed", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}

// Aggregate implements MetricStore.
func (s *CachedMetricStore) Aggregate(ctx context.Context, f models.MetricFilter) (*models.MetricSummary, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return cached(ctx, s, "summary", f, func() (*models.MetricSummary, error) {
		return s.MetricStore.Aggregate(ctx, f)
	})
}

// AggregateByCampaign implements MetricStore.
func (s *CachedMetricStore) AggregateByCampaign(ctx context.Context, f models.MetricFilter) ([]models.CampaignSummary, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return cached(ctx, s, "campaigns", f, func() ([]models.CampaignSummary, error) {
		return s.MetricStore.AggregateByCampaign(ctx, f)
	})
}

// DailyTrend implements MetricStore.
func (s *CachedMetricStore) DailyTrend(ctx context.Context, f models.MetricFilter) ([]models.DailyPoint, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return cached(ctx, s, "trend", f, func() ([]models.DailyPoint, error) {
		return s.MetricStore.DailyTrend(ctx, f)
	})
}

// UpsertBatch implements MetricStore and invalidates affected tenants.
func (s *CachedMetricStore) UpsertBatch(ctx context.Context, rows []models.UnifiedMetric) (int, error) {
	n, err := s.MetricStore.UpsertBatch(ctx, rows)
	if n > 0 {
		tenants := make(map[string]struct{})
		for i := range rows[:n] {
			tenants[rows[i].TenantID] = struct{}{}
		}
		for t := range tenants {
			s.Invalidate(ctx, t)
		}
	}
	return n, err
}

// DeleteCampaignLevel implements MetricStore and invalidates the tenant.
func (s *CachedMetricStore) DeleteCampaignLevel(ctx context.Context, tenantID string, platform models.Platform, day time.Time, campaignIDs []string) (int64, error) {
	n, err := s.MetricStore.DeleteCampaignLevel(ctx, tenantID, platform, day, campaignIDs)
	if n > 0 {
		s.Invalidate(ctx, tenantID)
	}
	return n, err
}

// Invalidate drops memoized aggregates for tenantID and for models.All.
func (s *CachedMetricStore) Invalidate(ctx context.Context, tenantID string) {
	for _, t := range []string{tenantID, models.All} {
		if err := s.cache.Set(ctx, versionKey(t), uuid.NewString(), 0); err != nil {
			s.logger.Warn("aggregate version bump failed", zap.String("tenant_id", t), zap.Error(err))
		}
		if _, err := s.cache.DelPattern(ctx, "agg:"+t+":*"); err != nil {
			s.logger.Warn("aggregate cache invalidation failed", zap.String("tenant_id", t), zap.Error(err))
		}
	}
}
