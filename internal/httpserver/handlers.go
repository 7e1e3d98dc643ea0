package httpserver

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/radiusdt/vector-insights/internal/anomaly"
	"github.com/radiusdt/vector-insights/internal/models"
	"github.com/radiusdt/vector-insights/internal/normalize"
	"github.com/radiusdt/vector-insights/internal/pacing"
	"github.com/radiusdt/vector-insights/internal/storage"
	"github.com/radiusdt/vector-insights/internal/tasks"
	"github.com/radiusdt/vector-insights/internal/tenant"
	"go.uber.org/zap"
)

// ---- Tools & Admin ----

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]any{"tools": s.exec.Tools()})
}

func (s *Server) handleRetention(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Policies []storage.RetentionPolicy `json:"policies"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if len(body.Policies) == 0 {
		body.Policies = storage.DefaultRetention()
	}

	removed, err := s.store.ApplyRetention(r.Context(), body.Policies, s.now())
	if err != nil {
		s.errorResponse(w, "retention failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Info("retention applied", zap.Any("removed", removed))
	s.jsonResponse(w, map[string]any{"removed": removed})
}

// ---- Tenants ----

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	list, err := s.resolver.ListTenants(r.Context())
	if err != nil {
		s.internalError(w, r, "failed to list tenants", err)
		return
	}
	s.jsonResponse(w, map[string]any{"tenants": list})
}

func (s *Server) handleTenantContext(w http.ResponseWriter, r *http.Request) {
	tc, err := s.resolver.ResolveAll(r.Context(), tenantID(r))
	if err != nil {
		s.internalError(w, r, "failed to resolve tenant", err)
		return
	}
	redacted := tc.Redacted()
	s.jsonResponse(w, map[string]any{
		"context":   redacted,
		"platforms": map[string]bool{"meta": tc.HasPlatform(models.PlatformMeta), "google": tc.HasPlatform(models.PlatformGoogle)},
	})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	s.resolver.Invalidate(tenantID(r))
	s.jsonResponse(w, map[string]string{"status": "invalidated"})
}

func (s *Server) handleUpdateCredentials(w http.ResponseWriter, r *http.Request) {
	var rec models.CredentialRecord
	if !s.decode(w, r, &rec) {
		return
	}
	rec.TenantID = tenantID(r)
	rec.Service = models.CredentialService(chi.URLParam(r, "service"))

	if err := s.resolver.UpdateCredentials(r.Context(), &rec); err != nil {
		if errors.Is(err, tenant.ErrIncompleteCredentials) {
			s.errorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.internalError(w, r, "failed to update credentials", err)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "updated"})
}

// ---- Metrics ----

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Meta   []normalize.MetaInsightRow `json:"meta"`
		Google []normalize.GoogleAdsRow   `json:"google"`
		Actor  string                     `json:"actor"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if len(body.Meta) == 0 && len(body.Google) == 0 {
		s.errorResponse(w, "no rows", http.StatusBadRequest)
		return
	}

	res, err := s.syncer.IngestRows(r.Context(), tasks.IngestRequest{
		TenantID: tenantID(r),
		Meta:     body.Meta,
		Google:   body.Google,
		Actor:    actor(r, body.Actor),
	})
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.taskResponse(w, res)
}

// metricFilter builds a validated filter from platform, start and end.
func (s *Server) metricFilter(w http.ResponseWriter, r *http.Request) (models.MetricFilter, bool) {
	q := r.URL.Query()
	f := models.MetricFilter{TenantID: tenantID(r), Platform: q.Get("platform")}
	if f.Platform == "" {
		f.Platform = models.All
	}

	var err error
	if f.Start, err = parseDate("start", q.Get("start")); err == nil {
		f.End, err = parseDate("end", q.Get("end"))
	}
	if err == nil && (f.Start.IsZero() || f.End.IsZero()) {
		err = errors.New("start and end are required")
	}
	if err == nil {
		err = f.Validate()
	}
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return f, false
	}
	return f, true
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	f, ok := s.metricFilter(w, r)
	if !ok {
		return
	}
	sum, err := s.store.Aggregate(r.Context(), f)
	if err != nil {
		s.internalError(w, r, "failed to aggregate metrics", err)
		return
	}
	s.jsonResponse(w, sum)
}

func (s *Server) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	f, ok := s.metricFilter(w, r)
	if !ok {
		return
	}
	list, err := s.store.AggregateByCampaign(r.Context(), f)
	if err != nil {
		s.internalError(w, r, "failed to aggregate campaigns", err)
		return
	}
	s.jsonResponse(w, map[string]any{"campaigns": list})
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	f, ok := s.metricFilter(w, r)
	if !ok {
		return
	}
	points, err := s.store.DailyTrend(r.Context(), f)
	if err != nil {
		s.internalError(w, r, "failed to load trend", err)
		return
	}
	s.jsonResponse(w, map[string]any{"points": points})
}

// ---- Catalog ----

func (s *Server) handleUpsertCatalog(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Campaigns []models.Campaign `json:"campaigns"`
		AdSets    []models.AdSet    `json:"ad_sets"`
		Creatives []models.Creative `json:"creatives"`
	}
	if !s.decode(w, r, &body) {
		return
	}

	id := tenantID(r)
	now := s.now().UTC()
	for i := range body.Campaigns {
		body.Campaigns[i].TenantID, body.Campaigns[i].SyncedAt = id, now
	}
	for i := range body.AdSets {
		body.AdSets[i].TenantID, body.AdSets[i].SyncedAt = id, now
	}
	for i := range body.Creatives {
		body.Creatives[i].TenantID, body.Creatives[i].SyncedAt = id, now
	}

	ctx := r.Context()
	err := s.store.UpsertCampaigns(ctx, body.Campaigns)
	if err == nil {
		err = s.store.UpsertAdSets(ctx, body.AdSets)
	}
	if err == nil {
		err = s.store.UpsertCreatives(ctx, body.Creatives)
	}
	if errors.Is(err, storage.ErrInvalidPlatform) {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.internalError(w, r, "failed to store catalog", err)
		return
	}
	s.jsonResponse(w, map[string]int{
		"campaigns": len(body.Campaigns),
		"ad_sets":   len(body.AdSets),
		"creatives": len(body.Creatives),
	})
}

func (s *Server) handleListCatalog(w http.ResponseWriter, r *http.Request) {
	platform := models.Platform(r.URL.Query().Get("platform"))
	if platform != "" && !platform.Valid() {
		s.errorResponse(w, "unknown platform", http.StatusBadRequest)
		return
	}
	list, err := s.store.ListCampaigns(r.Context(), tenantID(r), platform)
	if err != nil {
		s.internalError(w, r, "failed to list campaigns", err)
		return
	}
	s.jsonResponse(w, map[string]any{"campaigns": list})
}

// ---- Analysis ----

type periodBody struct {
	Platform      string `json:"platform"`
	Start         string `json:"start_date"`
	End           string `json:"end_date"`
	PreviousStart string `json:"previous_start_date"`
	PreviousEnd   string `json:"previous_end_date"`
}

func (p periodBody) periods() (current, previous anomaly.Period, err error) {
	if current.Start, err = parseDate("start_date", p.Start); err != nil {
		return
	}
	if current.End, err = parseDate("end_date", p.End); err != nil {
		return
	}
	if current.Start.IsZero() || current.End.IsZero() {
		err = errors.New("start_date and end_date are required")
		return
	}
	if current.End.Before(current.Start) {
		err = errors.New("end_date is before start_date")
		return
	}
	if previous.Start, err = parseDate("previous_start_date", p.PreviousStart); err != nil {
		return
	}
	previous.End, err = parseDate("previous_end_date", p.PreviousEnd)
	return
}

func (p periodBody) platform() (string, error) {
	if p.Platform == "" || p.Platform == models.All {
		return models.All, nil
	}
	if !models.Platform(p.Platform).Valid() {
		return "", errors.New("unknown platform " + p.Platform)
	}
	return p.Platform, nil
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		periodBody
		Persist bool `json:"persist"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	current, previous, err := body.periods()
	var platform string
	if err == nil {
		platform, err = body.platform()
	}
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if previous.Start.IsZero() || previous.End.IsZero() {
		previous = anomaly.PreviousPeriod(current)
	}

	report, err := s.anomalies.Run(r.Context(), anomaly.Request{
		TenantID: tenantID(r),
		Platform: platform,
		Current:  current,
		Previous: previous,
		Persist:  body.Persist,
	})
	if err != nil {
		s.internalError(w, r, "anomaly detection failed", err)
		return
	}
	s.jsonResponse(w, report)
}

func (s *Server) handleListAnomalies(w http.ResponseWriter, r *http.Request) {
	status := models.AnomalyStatus(r.URL.Query().Get("status"))
	list, err := s.store.ListAnomalies(r.Context(), tenantID(r), status, limitParam(r))
	if err != nil {
		s.internalError(w, r, "failed to list anomalies", err)
		return
	}
	s.jsonResponse(w, map[string]any{"anomalies": list})
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MonthlyBudget float64 `json:"monthly_budget"`
		Start         string  `json:"start_date"`
		End           string  `json:"end_date"`
		Current       string  `json:"current_date"`
	}
	if !s.decode(w, r, &body) {
		return
	}

	req := pacing.Request{TenantID: tenantID(r), MonthlyBudget: body.MonthlyBudget}
	var err error
	if req.Start, err = parseDate("start_date", body.Start); err == nil {
		if req.End, err = parseDate("end_date", body.End); err == nil {
			req.Current, err = parseDate("current_date", body.Current)
		}
	}
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	plan, err := s.planner.Plan(r.Context(), req)
	if err != nil {
		s.internalError(w, r, "budget planning failed", err)
		return
	}
	s.jsonResponse(w, plan)
}

// ---- Tasks ----

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Date      string            `json:"date"`
		Platforms []models.Platform `json:"platforms"`
		Actor     string            `json:"actor"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	date, err := parseDate("date", body.Date)
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, p := range body.Platforms {
		if !p.Valid() {
			s.errorResponse(w, "unknown platform "+string(p), http.StatusBadRequest)
			return
		}
	}

	res, err := s.syncer.DailySync(r.Context(), tasks.SyncRequest{
		TenantID:  tenantID(r),
		Date:      date,
		Platforms: body.Platforms,
		Actor:     actor(r, body.Actor),
	})
	if errors.Is(err, tasks.ErrSyncInProgress) {
		s.errorResponse(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.taskResponse(w, res)
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	var body struct {
		periodBody
		MonthlyBudget float64 `json:"monthly_budget"`
		Actor         string  `json:"actor"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	current, previous, err := body.periods()
	var platform string
	if err == nil {
		platform, err = body.platform()
	}
	if err == nil && body.MonthlyBudget < 0 {
		err = errors.New("monthly_budget must not be negative")
	}
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.analyzer.WeeklyAnalysis(r.Context(), tasks.AnalysisRequest{
		TenantID:      tenantID(r),
		Platform:      platform,
		Start:         current.Start,
		End:           current.End,
		PreviousStart: previous.Start,
		PreviousEnd:   previous.End,
		MonthlyBudget: body.MonthlyBudget,
		Actor:         actor(r, body.Actor),
	})
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.taskResponse(w, res)
}

// taskResponse answers 200 for a clean run and 207 when some steps failed.
func (s *Server) taskResponse(w http.ResponseWriter, res *tasks.Result) {
	code := http.StatusOK
	if !res.Success {
		code = http.StatusMultiStatus
	}
	s.jsonStatus(w, code, res)
}

func (s *Server) handleListRecommendations(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListRecommendations(r.Context(), tenantID(r), limitParam(r))
	if err != nil {
		s.internalError(w, r, "failed to list recommendations", err)
		return
	}
	s.jsonResponse(w, map[string]any{"recommendations": list})
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListAudit(r.Context(), tenantID(r), limitParam(r))
	if err != nil {
		s.internalError(w, r, "failed to list audit entries", err)
		return
	}
	s.jsonResponse(w, map[string]any{"entries": list})
}
