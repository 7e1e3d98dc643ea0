// Package tenant resolves per-tenant configuration and platform credentials.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/radiusdt/vector-insights/internal/config"
	"github.com/radiusdt/vector-insights/internal/metrics"
	"github.com/radiusdt/vector-insights/internal/models"
	"github.com/radiusdt/vector-insights/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ErrIncompleteCredentials is returned when a credential update would not
// yield a usable credential set.
var ErrIncompleteCredentials = errors.New("incomplete credentials")

// Keys of CredentialRecord.Extra used for Google Ads rows.
const (
	ExtraClientID        = "clientId"
	ExtraClientSecret    = "clientSecret"
	ExtraDeveloperToken  = "developerToken"
	ExtraLoginCustomerID = "loginCustomerId"
)

// loadTimeout bounds a shared load once it no longer follows any caller's
// context.
const loadTimeout = 30 * time.Second

type entry struct {
	ctx       *models.TenantContext
	expiresAt time.Time
}

// Resolver resolves tenant contexts with a read-through TTL cache.
type Resolver struct {
	store        storage.TenantStore
	defaults     config.PlatformDefaults
	ttl          time.Duration
	internalName string
	logger       *zap.Logger
	metrics      *metrics.Metrics

	mu      sync.RWMutex
	entries map[string]entry
	// gens is bumped per tenant on invalidation, epoch on a full flush. A
	// load only caches its result when neither moved while it ran.
	gens  map[string]uint64
	epoch uint64
	group singleflight.Group
	now   func() time.Time
}

type generation struct {
	tenant, epoch uint64
}

// NewResolver creates a resolver.
func NewResolver(store storage.TenantStore, cfg config.TenantConfig, defaults config.PlatformDefaults, logger *zap.Logger, m *metrics.Metrics) *Resolver {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	name := cfg.InternalDisplayName
	if name == "" {
		name = "Agency Internal"
	}
	return &Resolver{
		store:        store,
		defaults:     defaults,
		ttl:          ttl,
		internalName: name,
		logger:       logger.Named("tenant"),
		metrics:      m,
		entries:      make(map[string]entry),
		gens:         make(map[string]uint64),
		now:          time.Now,
	}
}

// SetClock overrides the time source used for cache expiry.
func (r *Resolver) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func isInternal(tenantID string) bool {
	return tenantID == "" || tenantID == models.InternalTenantID
}

// ResolveMetaCredentials returns the tenant's Meta credentials, or nil when
// none are usable.
func (r *Resolver) ResolveMetaCredentials(ctx context.Context, tenantID string) (*models.MetaCredentials, error) {
	if isInternal(tenantID) {
		if c := r.defaultMeta(); c != nil {
			return c, nil
		}
	}

	rec, err := r.store.GetCredential(ctx, tenantID, models.ServiceMetaAds)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("credential store unavailable, using defaults",
			zap.String("tenant_id", tenantID), zap.String("service", string(models.ServiceMetaAds)), zap.Error(err))
	}
	if rec != nil {
		c := &models.MetaCredentials{AccountID: rec.AccountID, AccessToken: rec.AccessToken}
		if c.Complete() {
			return c, nil
		}
		r.logger.Warn("stored meta credentials incomplete", zap.String("tenant_id", tenantID))
	}

	return r.defaultMeta(), nil
}

// ResolveGoogleCredentials returns the tenant's Google Ads credentials, or
// nil when none are usable. Fields missing from a stored row are filled
// from the process defaults.
func (r *Resolver) ResolveGoogleCredentials(ctx context.Context, tenantID string) (*models.GoogleCredentials, error) {
	if isInternal(tenantID) {
		if c := r.defaultGoogle(); c != nil {
			return c, nil
		}
	}

	rec, err := r.store.GetCredential(ctx, tenantID, models.ServiceGoogleAds)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("credential store unavailable, using defaults",
			zap.String("tenant_id", tenantID), zap.String("service", string(models.ServiceGoogleAds)), zap.Error(err))
	}
	if rec != nil {
		c := r.googleFromRecord(rec)
		if c.Complete() {
			return c, nil
		}
		r.logger.Warn("stored google credentials incomplete", zap.String("tenant_id", tenantID))
	}

	return r.defaultGoogle(), nil
}

func (r *Resolver) googleFromRecord(rec *models.CredentialRecord) *models.GoogleCredentials {
	d := r.defaults
	return &models.GoogleCredentials{
		CustomerID:      rec.AccountID,
		ClientID:        firstNonEmpty(rec.Extra[ExtraClientID], d.GoogleClientID),
		ClientSecret:    firstNonEmpty(rec.Extra[ExtraClientSecret], d.GoogleClientSecret),
		RefreshToken:    firstNonEmpty(rec.RefreshToken, d.GoogleRefreshToken),
		DeveloperToken:  firstNonEmpty(rec.Extra[ExtraDeveloperToken], d.GoogleDeveloperToken),
		LoginCustomerID: firstNonEmpty(rec.Extra[ExtraLoginCustomerID], d.GoogleLoginCustomerID),
	}
}

func (r *Resolver) defaultMeta() *models.MetaCredentials {
	c := &models.MetaCredentials{AccountID: r.defaults.MetaAdAccountID, AccessToken: r.defaults.MetaAccessToken}
	if !c.Complete() {
		return nil
	}
	return c
}

func (r *Resolver) defaultGoogle() *models.GoogleCredentials {
	d := r.defaults
	c := &models.GoogleCredentials{
		CustomerID:      d.GoogleCustomerID,
		ClientID:        d.GoogleClientID,
		ClientSecret:    d.GoogleClientSecret,
		RefreshToken:    d.GoogleRefreshToken,
		DeveloperToken:  d.GoogleDeveloperToken,
		LoginCustomerID: d.GoogleLoginCustomerID,
	}
	if !c.Complete() {
		return nil
	}
	return c
}

// ResolveConfig returns the tenant's configuration, or defaults when the
// tenant has no row.
func (r *Resolver) ResolveConfig(ctx context.Context, tenantID string) (models.TenantConfig, error) {
	cfg, err := r.store.GetTenantConfig(ctx, tenantID)
	if err != nil {
		if ctx.Err() != nil {
			return models.TenantConfig{}, ctx.Err()
		}
		r.logger.Warn("tenant store unavailable, using default config", zap.String("tenant_id", tenantID), zap.Error(err))
	}
	if cfg == nil {
		return r.defaultConfig(tenantID), nil
	}

	out := *cfg
	if out.DisplayName == "" {
		out.DisplayName = tenantID
	}
	out.BrandVoice = models.ParseBrandVoice(string(out.BrandVoice))
	return out, nil
}

func (r *Resolver) defaultConfig(tenantID string) models.TenantConfig {
	roas, cpa, ctr := models.DefaultTargetROAS, models.DefaultTargetCPA, models.DefaultTargetCTR
	cfg := models.TenantConfig{
		TenantID:    tenantID,
		DisplayName: tenantID,
		PrimaryKPIs: models.KPITargets{TargetROAS: &roas, TargetCPA: &cpa, TargetCTR: &ctr},
		BrandVoice:  models.BrandVoiceProfessional,
	}
	if isInternal(tenantID) {
		cfg.TenantID = models.InternalTenantID
		cfg.DisplayName = r.internalName
		cfg.Industry = "agency"
		cfg.BusinessModel = "service"
	}
	return cfg
}

// ResolveAll resolves configuration and both credential sets concurrently.
// The result is cached per tenant and must not be mutated.
//
// Concurrent misses share one load. The shared load is detached from the
// callers' contexts; each caller stops waiting when its own ctx is done.
func (r *Resolver) ResolveAll(ctx context.Context, tenantID string) (*models.TenantContext, error) {
	if c := r.cached(tenantID); c != nil {
		r.recordLookup(true)
		return c, nil
	}
	r.recordLookup(false)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(tenantID, func() (any, error) {
		lctx, cancel := context.WithTimeout(loadCtx, loadTimeout)
		defer cancel()
		return r.load(lctx, tenantID)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to resolve tenant %s: %w", tenantID, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.TenantContext), nil
	}
}

func (r *Resolver) generation(tenantID string) generation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return generation{tenant: r.gens[tenantID], epoch: r.epoch}
}

func (r *Resolver) load(ctx context.Context, tenantID string) (*models.TenantContext, error) {
	gen := r.generation(tenantID)

	var (
		tc     models.TenantContext
		meta   *models.MetaCredentials
		google *models.GoogleCredentials
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cfg, err := r.ResolveConfig(gctx, tenantID)
		tc.Config = cfg
		return err
	})
	g.Go(func() error {
		c, err := r.ResolveMetaCredentials(gctx, tenantID)
		meta = c
		return err
	})
	g.Go(func() error {
		c, err := r.ResolveGoogleCredentials(gctx, tenantID)
		google = c
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to resolve tenant %s: %w", tenantID, err)
	}
	tc.Meta, tc.Google = meta, google

	r.mu.Lock()
	fresh := gen == generation{tenant: r.gens[tenantID], epoch: r.epoch}
	if fresh {
		r.entries[tenantID] = entry{ctx: &tc, expiresAt: r.now().Add(r.ttl)}
	}
	r.mu.Unlock()
	if !fresh {
		r.logger.Debug("tenant invalidated during load, result not cached", zap.String("tenant_id", tenantID))
	}

	r.logger.Debug("tenant context resolved",
		zap.String("tenant_id", tenantID),
		zap.Bool("meta", tc.Meta != nil),
		zap.Bool("google", tc.Google != nil),
	)
	return &tc, nil
}

func (r *Resolver) cached(tenantID string) *models.TenantContext {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[tenantID]
	if !ok || !r.now().Before(e.expiresAt) {
		return nil
	}
	return e.ctx
}

func (r *Resolver) recordLookup(hit bool) {
	if r.metrics != nil {
		r.metrics.RecordTenantLookup(hit)
	}
}

// Invalidate drops the cached context for tenantID, or every context when
// tenantID is empty.
func (r *Resolver) Invalidate(tenantID string) {
	r.mu.Lock()
	if tenantID == "" {
		r.entries = make(map[string]entry)
		r.epoch++
	} else {
		delete(r.entries, tenantID)
		r.gens[tenantID]++
	}
	r.mu.Unlock()

	if tenantID != "" {
		r.group.Forget(tenantID)
	}
}

// ListTenants returns configured tenants, tenants that only have
// credentials, and the internal tenant. The internal tenant comes first.
func (r *Resolver) ListTenants(ctx context.Context) ([]models.TenantConfig, error) {
	var (
		configs []models.TenantConfig
		credIDs []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		configs, err = r.store.ListTenantConfigs(gctx)
		return err
	})
	g.Go(func() (err error) {
		credIDs, err = r.store.ListCredentialTenants(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}

	byID := make(map[string]models.TenantConfig, len(configs)+len(credIDs))
	for _, c := range configs {
		if c.DisplayName == "" {
			c.DisplayName = c.TenantID
		}
		c.BrandVoice = models.ParseBrandVoice(string(c.BrandVoice))
		byID[c.TenantID] = c
	}
	for _, id := range credIDs {
		if _, ok := byID[id]; !ok {
			byID[id] = models.TenantConfig{TenantID: id, DisplayName: id, BrandVoice: models.BrandVoiceProfessional}
		}
	}

	internal, ok := byID[models.InternalTenantID]
	if !ok {
		internal = r.defaultConfig(models.InternalTenantID)
	}
	delete(byID, models.InternalTenantID)

	out := make([]models.TenantConfig, 0, len(byID)+1)
	for _, c := range byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return append([]models.TenantConfig{internal}, out...), nil
}

// UpdateCredentials validates and stores a credential row, then drops the
// tenant's cached context.
func (r *Resolver) UpdateCredentials(ctx context.Context, rec *models.CredentialRecord) error {
	if rec == nil || rec.TenantID == "" {
		return fmt.Errorf("%w: tenant id is required", ErrIncompleteCredentials)
	}

	switch rec.Service {
	case models.ServiceMetaAds:
		c := models.MetaCredentials{AccountID: rec.AccountID, AccessToken: rec.AccessToken}
		if !c.Complete() {
			return fmt.Errorf("%w: meta requires account id and access token", ErrIncompleteCredentials)
		}
	case models.ServiceGoogleAds:
		if !r.googleFromRecord(rec).Complete() {
			return fmt.Errorf("%w: google requires customer id, oauth client, refresh token and developer token", ErrIncompleteCredentials)
		}
	default:
		return fmt.Errorf("%w: unknown service %q", ErrIncompleteCredentials, rec.Service)
	}

	if err := r.store.UpsertCredential(ctx, rec); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	r.Invalidate(rec.TenantID)
	r.logger.Info("credentials updated",
		zap.String("tenant_id", rec.TenantID),
		zap.String("service", string(rec.Service)),
	)
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
