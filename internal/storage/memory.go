package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/radiusdt/vector-insights/internal/models"
)

// MemoryStore is an in-process Store. It backs tests and runs without
// PostgreSQL.
type MemoryStore struct {
	mu sync.RWMutex

	metrics   map[string]models.UnifiedMetric
	campaigns map[string]models.Campaign
	adSets    map[string]models.AdSet
	creatives map[string]models.Creative

	tenants     map[string]models.TenantConfig
	credentials map[string]models.CredentialRecord

	anomalies       []models.DetectedAnomaly
	recommendations []models.Recommendation
	audit           []models.AuditEntry

	now func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		metrics:     make(map[string]models.UnifiedMetric),
		campaigns:   make(map[string]models.Campaign),
		adSets:      make(map[string]models.AdSet),
		creatives:   make(map[string]models.Creative),
		tenants:     make(map[string]models.TenantConfig),
		credentials: make(map[string]models.CredentialRecord),
		now:         time.Now,
	}
}

// UpsertBatch implements MetricStore.
func (s *MemoryStore) UpsertBatch(_ context.Context, rows []models.UnifiedMetric) (int, error) {
	if err := validateRows(rows); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		r.Date = models.Day(r.Date)
		r.Recompute()
		s.metrics[r.Key()] = r
	}
	return len(rows), nil
}

// Len returns the number of stored metric rows.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.metrics)
}

func (s *MemoryStore) matching(f models.MetricFilter) []models.UnifiedMetric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.UnifiedMetric, 0)
	for _, m := range s.metrics {
		if f.Matches(&m) {
			out = append(out, m)
		}
	}
	return out
}

// Aggregate implements MetricStore.
func (s *MemoryStore) Aggregate(_ context.Context, f models.MetricFilter) (*models.MetricSummary, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var sum models.MetricSummary
	for _, m := range s.matching(f) {
		sum.Add(&m)
	}
	sum.Finalize()
	return &sum, nil
}

// AggregateByCampaign implements MetricStore.
func (s *MemoryStore) AggregateByCampaign(_ context.Context, f models.MetricFilter) ([]models.CampaignSummary, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	groups := make(map[string]*models.CampaignSummary)
	for _, m := range s.matching(f) {
		key := string(m.Platform) + ":" + m.CampaignID
		g, ok := groups[key]
		if !ok {
			g = &models.CampaignSummary{Platform: m.Platform, CampaignID: m.CampaignID}
			groups[key] = g
		}
		if m.CampaignName != "" {
			g.CampaignName = m.CampaignName
		}
		g.Add(&m)
	}

	out := make([]models.CampaignSummary, 0, len(groups))
	for _, g := range groups {
		g.Finalize()
		out = append(out, *g)
	}
	sortBySpend(out)
	return out, nil
}

// sortBySpend orders by descending spend, then platform and campaign id.
func sortBySpend(out []models.CampaignSummary) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Spend != out[j].Spend {
			return out[i].Spend > out[j].Spend
		}
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		return out[i].CampaignID < out[j].CampaignID
	})
}

// DailyTrend implements MetricStore.
func (s *MemoryStore) DailyTrend(_ context.Context, f models.MetricFilter) ([]models.DailyPoint, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	days := make(map[time.Time]*models.DailyPoint)
	for _, m := range s.matching(f) {
		d := models.Day(m.Date)
		p, ok := days[d]
		if !ok {
			p = &models.DailyPoint{Date: d}
			days[d] = p
		}
		p.Impressions += m.Impressions
		p.Clicks += m.Clicks
		p.Spend += m.Spend
		if m.Conversions != nil {
			p.Conversions += *m.Conversions
		}
		if m.Revenue != nil {
			p.Revenue += *m.Revenue
		}
	}

	out := make([]models.DailyPoint, 0, len(days))
	for _, p := range days {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// DeleteCampaignLevel implements MetricStore.
func (s *MemoryStore) DeleteCampaignLevel(_ context.Context, tenantID string, platform models.Platform, day time.Time, campaignIDs []string) (int64, error) {
	if !platform.Valid() {
		return 0, ErrInvalidPlatform
	}
	if len(campaignIDs) == 0 {
		return 0, nil
	}
	campaigns := make(map[string]struct{}, len(campaignIDs))
	for _, id := range campaignIDs {
		campaigns[id] = struct{}{}
	}
	f := models.MetricFilter{TenantID: tenantID, Platform: string(platform), Start: day, End: day}

	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, m := range s.metrics {
		if _, ok := campaigns[m.CampaignID]; ok && m.AdID == "" && f.Matches(&m) {
			delete(s.metrics, k)
			n++
		}
	}
	return n, nil
}

// UpsertCampaigns implements CampaignStore.
func (s *MemoryStore) UpsertCampaigns(_ context.Context, campaigns []models.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range campaigns {
		if !c.Platform.Valid() {
			return ErrInvalidPlatform
		}
		s.campaigns[metaKey(c.Platform, c.TenantID, c.CampaignID)] = c
	}
	return nil
}

// UpsertAdSets implements CampaignStore.
func (s *MemoryStore) UpsertAdSets(_ context.Context, adSets []models.AdSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range adSets {
		if !a.Platform.Valid() {
			return ErrInvalidPlatform
		}
		s.adSets[metaKey(a.Platform, a.TenantID, a.AdSetID)] = a
	}
	return nil
}

// UpsertCreatives implements CampaignStore.
func (s *MemoryStore) UpsertCreatives(_ context.Context, creatives []models.Creative) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range creatives {
		if !c.Platform.Valid() {
			return ErrInvalidPlatform
		}
		s.creatives[metaKey(c.Platform, c.TenantID, c.AdID)] = c
	}
	return nil
}

// ListCampaigns implements CampaignStore. An empty platform matches both.
func (s *MemoryStore) ListCampaigns(_ context.Context, tenantID string, platform models.Platform) ([]models.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Campaign, 0)
	for _, c := range s.campaigns {
		if c.TenantID != tenantID || (platform != "" && c.Platform != platform) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func metaKey(p models.Platform, tenantID, id string) string {
	return string(p) + "|" + tenantID + "|" + id
}

// GetTenantConfig implements TenantStore.
func (s *MemoryStore) GetTenantConfig(_ context.Context, tenantID string) (*models.TenantConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.tenants[tenantID]; ok {
		return &c, nil
	}
	return nil, nil
}

// UpsertTenantConfig implements TenantStore.
func (s *MemoryStore) UpsertTenantConfig(_ context.Context, cfg *models.TenantConfig) error {
	if cfg == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[cfg.TenantID] = *cfg
	return nil
}

// ListTenantConfigs implements TenantStore.
func (s *MemoryStore) ListTenantConfigs(_ context.Context) ([]models.TenantConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TenantConfig, 0, len(s.tenants))
	for _, c := range s.tenants {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}

// GetCredential implements TenantStore.
func (s *MemoryStore) GetCredential(_ context.Context, tenantID string, service models.CredentialService) (*models.CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.credentials[tenantID+"|"+string(service)]; ok {
		return &r, nil
	}
	return nil, nil
}

// UpsertCredential implements TenantStore.
func (s *MemoryStore) UpsertCredential(_ context.Context, rec *models.CredentialRecord) error {
	if rec == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[rec.TenantID+"|"+string(rec.Service)] = *rec
	return nil
}

// ListCredentialTenants implements TenantStore.
func (s *MemoryStore) ListCredentialTenants(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, r := range s.credentials {
		seen[r.TenantID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// SaveAnomalies implements AnomalyStore.
func (s *MemoryStore) SaveAnomalies(_ context.Context, anomalies []models.DetectedAnomaly) error {
	prepared := prepareAnomalies(anomalies, s.now())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomalies = append(s.anomalies, prepared...)
	return nil
}

// ListAnomalies implements AnomalyStore.
func (s *MemoryStore) ListAnomalies(_ context.Context, tenantID string, status models.AnomalyStatus, limit int) ([]models.DetectedAnomaly, error) {
	limit = limitOr(limit, 100)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.DetectedAnomaly, 0)
	for i := len(s.anomalies) - 1; i >= 0 && len(out) < limit; i-- {
		a := s.anomalies[i]
		if a.TenantID != tenantID || (status != "" && a.Status != status) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// SaveRecommendation implements RecommendationStore.
func (s *MemoryStore) SaveRecommendation(_ context.Context, rec *models.Recommendation) error {
	if rec == nil {
		return nil
	}
	prepareRecommendation(rec, s.now())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recommendations = append(s.recommendations, *rec)
	return nil
}

// ListRecommendations implements RecommendationStore.
func (s *MemoryStore) ListRecommendations(_ context.Context, tenantID string, limit int) ([]models.Recommendation, error) {
	limit = limitOr(limit, 20)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Recommendation, 0)
	for i := len(s.recommendations) - 1; i >= 0 && len(out) < limit; i-- {
		if s.recommendations[i].TenantID == tenantID {
			out = append(out, s.recommendations[i])
		}
	}
	return out, nil
}

// LogAudit implements AuditStore.
func (s *MemoryStore) LogAudit(_ context.Context, entry *models.AuditEntry) error {
	if entry == nil {
		return nil
	}
	prepareAudit(entry, s.now())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, *entry)
	return nil
}

// ListAudit implements AuditStore.
func (s *MemoryStore) ListAudit(_ context.Context, tenantID string, limit int) ([]models.AuditEntry, error) {
	limit = limitOr(limit, 100)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AuditEntry, 0)
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		if s.audit[i].TenantID == tenantID {
			out = append(out, s.audit[i])
		}
	}
	return out, nil
}

// ApplyRetention implements Retainer.
func (s *MemoryStore) ApplyRetention(_ context.Context, policies []RetentionPolicy, now time.Time) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make(map[string]int64, len(policies))
	for _, p := range policies {
		cutoff := now.Add(-p.Keep)
		switch p.Table {
		case TablePerformance:
			for k, m := range s.metrics {
				if m.Date.Before(models.Day(cutoff)) {
					delete(s.metrics, k)
					removed[p.Table]++
				}
			}
		case TableAudit:
			kept := s.audit[:0]
			for _, e := range s.audit {
				if e.CreatedAt.Before(cutoff) {
					removed[p.Table]++
					continue
				}
				kept = append(kept, e)
			}
			s.audit = kept
		case TableAnomalies:
			kept := s.anomalies[:0]
			for _, a := range s.anomalies {
				if a.DetectedAt.Before(cutoff) {
					removed[p.Table]++
					continue
				}
				kept = append(kept, a)
			}
			s.anomalies = kept
		case TableRecommendations:
			kept := s.recommendations[:0]
			for _, r := range s.recommendations {
				if r.CreatedAt.Before(cutoff) {
					removed[p.Table]++
					continue
				}
				kept = append(kept, r)
			}
			s.recommendations = kept
		default:
			return removed, fmt.Errorf("unknown retention table %q", p.Table)
		}
	}
	return removed, nil
}

// prepareAnomalies fills ids, status and detection time.
func prepareAnomalies(in []models.DetectedAnomaly, now time.Time) []models.DetectedAnomaly {
	out := make([]models.DetectedAnomaly, len(in))
	for i, a := range in {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.Status == "" {
			a.Status = models.AnomalyOpen
		}
		if a.DetectedAt.IsZero() {
			a.DetectedAt = now
		}
		out[i] = a
	}
	return out
}

func prepareRecommendation(rec *models.Recommendation, now time.Time) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
}

func prepareAudit(entry *models.AuditEntry, now time.Time) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
}
