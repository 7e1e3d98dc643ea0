package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/radiusdt/vector-insights/internal/cache"
	"github.com/radiusdt/vector-insights/internal/executor"
	"github.com/radiusdt/vector-insights/internal/metrics"
	"github.com/radiusdt/vector-insights/internal/models"
	"github.com/radiusdt/vector-insights/internal/normalize"
	"github.com/radiusdt/vector-insights/internal/storage"
	"go.uber.org/zap"
)

// Tool names of the platform fetchers.
const (
	ToolFetchMeta   = "fetch_meta_insights"
	ToolFetchGoogle = "fetch_google_metrics"
)

const syncLockTTL = 5 * time.Minute

// ErrSyncInProgress is returned when another run holds the tenant's lock
// for the same day.
var ErrSyncInProgress = errors.New("sync already in progress")

var errNoFetcher = errors.New("no fetcher configured")

// MetaFetcher pulls raw Meta insight rows for an inclusive day range.
type MetaFetcher interface {
	FetchMetaInsights(ctx context.Context, creds *models.MetaCredentials, since, until time.Time) ([]normalize.MetaInsightRow, error)
}

// GoogleFetcher pulls raw Google Ads rows for an inclusive day range.
type GoogleFetcher interface {
	FetchGoogleMetrics(ctx context.Context, creds *models.GoogleCredentials, since, until time.Time) ([]normalize.GoogleAdsRow, error)
}

// CredentialResolver resolves platform credentials. Nil means the platform
// is unavailable for the tenant.
type CredentialResolver interface {
	ResolveMetaCredentials(ctx context.Context, tenantID string) (*models.MetaCredentials, error)
	ResolveGoogleCredentials(ctx context.Context, tenantID string) (*models.GoogleCredentials, error)
}

// SyncRequest selects the tenant, day and platforms to sync. An empty
// Platforms list means every platform.
type SyncRequest struct {
	TenantID  string            `json:"tenant_id"`
	Date      time.Time         `json:"date"`
	Platforms []models.Platform `json:"platforms,omitempty"`
	Actor     string            `json:"actor,omitempty"`
}

// SyncData is the payload of a sync Result.
type SyncData struct {
	Date      string                  `json:"date"`
	Upserted  int                     `json:"upserted"`
	PerSource map[models.Platform]int `json:"per_platform"`
	Platforms []models.Platform       `json:"platforms"`
}

// Syncer pulls platform rows through the executor and stores them.
type Syncer struct {
	resolver CredentialResolver
	exec     *executor.Executor
	store    storage.MetricStore
	audit    storage.AuditStore
	cache    cache.Cache
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	meta   MetaFetcher
	google GoogleFetcher
}

// NewSyncer creates a syncer and registers the fetch tools on exec. audit
// and c may be nil.
func NewSyncer(resolver CredentialResolver, exec *executor.Executor, store storage.MetricStore, audit storage.AuditStore, c cache.Cache, logger *zap.Logger, m *metrics.Metrics) *Syncer {
	s := &Syncer{
		resolver: resolver,
		exec:     exec,
		store:    store,
		audit:    audit,
		cache:    c,
		logger:   logger.Named("sync"),
		metrics:  m,
		now:      time.Now,
	}
	exec.Register(ToolFetchMeta, s.fetchMeta)
	exec.Register(ToolFetchGoogle, s.fetchGoogle)
	return s
}

// SetFetchers installs the platform fetchers. Either may be nil.
func (s *Syncer) SetFetchers(meta MetaFetcher, google GoogleFetcher) {
	s.meta = meta
	s.google = google
}

// SetClock overrides the time source.
func (s *Syncer) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Syncer) fetchMeta(ctx context.Context, p executor.Params) (any, error) {
	if s.meta == nil {
		return nil, errNoFetcher
	}
	creds, _ := p["credentials"].(*models.MetaCredentials)
	since, until, err := dayRange(p)
	if err != nil {
		return nil, err
	}
	return s.meta.FetchMetaInsights(ctx, creds, since, until)
}

func (s *Syncer) fetchGoogle(ctx context.Context, p executor.Params) (any, error) {
	if s.google == nil {
		return nil, errNoFetcher
	}
	creds, _ := p["credentials"].(*models.GoogleCredentials)
	since, until, err := dayRange(p)
	if err != nil {
		return nil, err
	}
	return s.google.FetchGoogleMetrics(ctx, creds, since, until)
}

func dayRange(p executor.Params) (time.Time, time.Time, error) {
	sinceStr, _ := p["since"].(string)
	untilStr, _ := p["until"].(string)
	since, err := models.ParseDay(sinceStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid since: %w", err)
	}
	until, err := models.ParseDay(untilStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid until: %w", err)
	}
	return since, until, nil
}

// DailySync fetches, normalizes and stores one day of metrics for a tenant.
// A failing platform is recorded and skipped. Only a held lock or a missing
// tenant aborts the run.
func (s *Syncer) DailySync(ctx context.Context, req SyncRequest) (*Result, error) {
	if req.TenantID == "" {
		return nil, errors.New("tenant id is required")
	}
	if req.Date.IsZero() {
		req.Date = models.Day(s.now()).AddDate(0, 0, -1)
	}
	req.Date = models.Day(req.Date)
	if len(req.Platforms) == 0 {
		req.Platforms = []models.Platform{models.PlatformMeta, models.PlatformGoogle}
	}
	date := req.Date.Format(models.DayLayout)

	if s.cache != nil {
		lock, ok := s.cache.AcquireLock(ctx, "sync:"+req.TenantID+":"+date, syncLockTTL)
		if !ok {
			return nil, fmt.Errorf("%w for %s on %s", ErrSyncInProgress, req.TenantID, date)
		}
		defer func() {
			if err := s.cache.ReleaseLock(context.WithoutCancel(ctx), lock); err != nil {
				s.logger.Warn("failed to release sync lock", zap.String("key", lock.Key), zap.Error(err))
			}
		}()
	}

	runID := uuid.NewString()
	log := s.logger.With(zap.String("run_id", runID), zap.String("tenant_id", req.TenantID), zap.String("date", date))
	tr := newTracker(log, s.now)
	data := SyncData{Date: date, PerSource: make(map[models.Platform]int), Platforms: req.Platforms}

	for _, p := range req.Platforms {
		var rows []models.UnifiedMetric
		var err error
		switch p {
		case models.PlatformMeta:
			rows, err = s.syncMeta(ctx, tr, req)
		case models.PlatformGoogle:
			rows, err = s.syncGoogle(ctx, tr, req)
		default:
			tr.skip("fetch-"+string(p), "unknown platform")
			continue
		}
		if err != nil || len(rows) == 0 {
			continue
		}

		var n int
		_ = tr.run(ctx, "upsert-"+string(p), func(ctx context.Context) error {
			n, err = s.Upsert(ctx, req.TenantID, p, rows)
			return err
		})
		data.PerSource[p] = n
		data.Upserted += n
	}

	s.recordAudit(ctx, tr, req, "daily_sync", "performance_metrics", date, map[string]any{
		"run_id":   runID,
		"upserted": data.Upserted,
		"errors":   len(tr.errors),
	})

	res := tr.result("daily_sync", runID, req.TenantID)
	res.Data = data
	if s.metrics != nil {
		s.metrics.RecordSyncRun(res.Success)
	}
	log.Info("daily sync finished",
		zap.Bool("success", res.Success),
		zap.Int("upserted", data.Upserted),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func (s *Syncer) syncMeta(ctx context.Context, tr *tracker, req SyncRequest) ([]models.UnifiedMetric, error) {
	creds, err := s.resolver.ResolveMetaCredentials(ctx, req.TenantID)
	if err != nil {
		return nil, tr.run(ctx, "fetch-meta", func(context.Context) error { return err })
	}
	if creds == nil {
		tr.skip("fetch-meta", "no credentials")
		return nil, nil
	}

	var raw []normalize.MetaInsightRow
	err = tr.run(ctx, "fetch-meta", func(ctx context.Context) error {
		return s.runFetch(ctx, ToolFetchMeta, req, creds, &raw)
	})
	if err != nil {
		return nil, err
	}
	for i := range raw {
		if raw[i].AccountID == "" {
			raw[i].AccountID = creds.AccountID
		}
	}
	return normalize.Normalize(req.TenantID, raw, nil), nil
}

func (s *Syncer) syncGoogle(ctx context.Context, tr *tracker, req SyncRequest) ([]models.UnifiedMetric, error) {
	creds, err := s.resolver.ResolveGoogleCredentials(ctx, req.TenantID)
	if err != nil {
		return nil, tr.run(ctx, "fetch-google", func(context.Context) error { return err })
	}
	if creds == nil {
		tr.skip("fetch-google", "no credentials")
		return nil, nil
	}

	var raw []normalize.GoogleAdsRow
	err = tr.run(ctx, "fetch-google", func(ctx context.Context) error {
		return s.runFetch(ctx, ToolFetchGoogle, req, creds, &raw)
	})
	if err != nil {
		return nil, err
	}
	for i := range raw {
		if raw[i].CustomerID == "" {
			raw[i].CustomerID = creds.CustomerID
		}
	}
	return normalize.Normalize(req.TenantID, nil, raw), nil
}

func (s *Syncer) runFetch(ctx context.Context, tool string, req SyncRequest, creds any, dst any) error {
	day := req.Date.Format(models.DayLayout)
	res := s.exec.Run(ctx, tool, executor.Params{
		"tenant_id":   req.TenantID,
		"since":       day,
		"until":       day,
		"credentials": creds,
	}, executor.Options{TenantID: req.TenantID})
	if !res.Success {
		return fmt.Errorf("%s failed after %d attempts: %w", tool, res.Attempts, res.Err)
	}
	return res.Decode(dst)
}

// Upsert stores normalized rows for one platform. Campaign-level rollups
// are removed only for the (campaign, day) pairs that now have ad-level
// rows; rollups contained in rows are written after the cleanup and kept.
func (s *Syncer) Upsert(ctx context.Context, tenantID string, platform models.Platform, rows []models.UnifiedMetric) (int, error) {
	for _, g := range supersededRollups(rows) {
		removed, err := s.store.DeleteCampaignLevel(ctx, tenantID, platform, g.day, g.campaigns)
		if err != nil {
			return 0, fmt.Errorf("failed to clean campaign-level rows: %w", err)
		}
		if removed > 0 {
			s.logger.Debug("campaign-level rows removed",
				zap.String("tenant_id", tenantID),
				zap.String("platform", string(platform)),
				zap.String("date", g.day.Format(models.DayLayout)),
				zap.Int64("rows", removed),
			)
		}
	}

	n, err := s.store.UpsertBatch(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert %s rows: %w", platform, err)
	}
	if s.metrics != nil {
		s.metrics.RecordRowsUpserted(string(platform), n)
	}
	return n, nil
}

type rollupGroup struct {
	day       time.Time
	campaigns []string
}

// supersededRollups lists, per day, the campaigns that have ad-level rows.
func supersededRollups(rows []models.UnifiedMetric) []rollupGroup {
	byDay := make(map[time.Time]map[string]struct{})
	for i := range rows {
		if rows[i].AdID == "" {
			continue
		}
		d := models.Day(rows[i].Date)
		if byDay[d] == nil {
			byDay[d] = make(map[string]struct{})
		}
		byDay[d][rows[i].CampaignID] = struct{}{}
	}

	out := make([]rollupGroup, 0, len(byDay))
	for d, set := range byDay {
		g := rollupGroup{day: d, campaigns: make([]string, 0, len(set))}
		for id := range set {
			g.campaigns = append(g.campaigns, id)
		}
		sort.Strings(g.campaigns)
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].day.Before(out[j].day) })
	return out
}

// IngestRequest carries raw rows pushed by an external fetcher.
type IngestRequest struct {
	TenantID string                     `json:"tenant_id"`
	Meta     []normalize.MetaInsightRow `json:"meta"`
	Google   []normalize.GoogleAdsRow   `json:"google"`
	Actor    string                     `json:"actor,omitempty"`
}

// IngestRows normalizes and stores rows pushed directly by a fetcher.
func (s *Syncer) IngestRows(ctx context.Context, req IngestRequest) (*Result, error) {
	if req.TenantID == "" {
		return nil, errors.New("tenant id is required")
	}

	runID := uuid.NewString()
	log := s.logger.With(zap.String("run_id", runID), zap.String("tenant_id", req.TenantID))
	tr := newTracker(log, s.now)
	data := SyncData{PerSource: make(map[models.Platform]int)}

	for _, p := range []models.Platform{models.PlatformMeta, models.PlatformGoogle} {
		var rows []models.UnifiedMetric
		if p == models.PlatformMeta {
			rows = normalize.Normalize(req.TenantID, req.Meta, nil)
		} else {
			rows = normalize.Normalize(req.TenantID, nil, req.Google)
		}
		if len(rows) == 0 {
			continue
		}
		data.Platforms = append(data.Platforms, p)

		var n int
		_ = tr.run(ctx, "upsert-"+string(p), func(ctx context.Context) (err error) {
			n, err = s.Upsert(ctx, req.TenantID, p, rows)
			return err
		})
		data.PerSource[p] = n
		data.Upserted += n
	}

	s.recordAudit(ctx, tr, SyncRequest{TenantID: req.TenantID, Actor: req.Actor}, "ingest_rows", "performance_metrics", runID, map[string]any{
		"upserted": data.Upserted,
	})

	res := tr.result("ingest_rows", runID, req.TenantID)
	res.Data = data
	return res, nil
}

func (s *Syncer) recordAudit(ctx context.Context, tr *tracker, req SyncRequest, action, resourceType, resourceID string, details map[string]any) {
	if s.audit == nil {
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = "system"
	}
	entry := &models.AuditEntry{
		TenantID:     req.TenantID,
		Action:       action,
		Actor:        actor,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
	}
	if err := s.audit.LogAudit(ctx, entry); err != nil {
		s.logger.Warn("failed to write audit entry", zap.String("tenant_id", req.TenantID), zap.Error(err))
		tr.skip("audit", err.Error())
		return
	}
	tr.steps = append(tr.steps, Step{Name: "audit", Status: StepCompleted})
}
