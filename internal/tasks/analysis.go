package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/radiusdt/vector-insights/internal/anomaly"
	"github.com/radiusdt/vector-insights/internal/models"
	"github.com/radiusdt/vector-insights/internal/pacing"
	"github.com/radiusdt/vector-insights/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AnalysisRequest selects the period to analyze. A zero PreviousStart
// compares against the period of equal length just before Start. A zero
// MonthlyBudget skips budget planning.
type AnalysisRequest struct {
	TenantID      string    `json:"tenant_id"`
	Platform      string    `json:"platform,omitempty"`
	Start         time.Time `json:"start_date"`
	End           time.Time `json:"end_date"`
	PreviousStart time.Time `json:"previous_start_date,omitempty"`
	PreviousEnd   time.Time `json:"previous_end_date,omitempty"`
	MonthlyBudget float64   `json:"monthly_budget,omitempty"`
	Actor         string    `json:"actor,omitempty"`
}

// AnalysisData is the payload of an analysis Result.
type AnalysisData struct {
	Anomalies      *anomaly.Report        `json:"anomalies,omitempty"`
	Budget         *models.BudgetPlan     `json:"budget,omitempty"`
	Current        *models.MetricSummary  `json:"current,omitempty"`
	Previous       *models.MetricSummary  `json:"previous,omitempty"`
	Recommendation *models.Recommendation `json:"recommendation,omitempty"`
}

// Analyzer runs the weekly analysis workflow.
type Analyzer struct {
	detector *anomaly.Service
	planner  *pacing.Planner
	store    storage.MetricStore
	recs     storage.RecommendationStore
	audit    storage.AuditStore
	logger   *zap.Logger
	now      func() time.Time
}

// NewAnalyzer creates an analyzer. recs and audit may be nil.
func NewAnalyzer(detector *anomaly.Service, planner *pacing.Planner, store storage.MetricStore, recs storage.RecommendationStore, audit storage.AuditStore, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		detector: detector,
		planner:  planner,
		store:    store,
		recs:     recs,
		audit:    audit,
		logger:   logger.Named("analysis"),
		now:      time.Now,
	}
}

// WeeklyAnalysis detects anomalies, plans the budget, summarizes both
// periods and stores a recommendation record. Failed steps are recorded
// and the remaining steps still run.
func (a *Analyzer) WeeklyAnalysis(ctx context.Context, req AnalysisRequest) (*Result, error) {
	if req.TenantID == "" {
		return nil, errors.New("tenant id is required")
	}
	if req.Start.IsZero() || req.End.IsZero() {
		return nil, errors.New("start and end dates are required")
	}
	if req.Platform == "" {
		req.Platform = models.All
	}
	current := anomaly.Period{Start: models.Day(req.Start), End: models.Day(req.End)}
	previous := anomaly.Period{Start: models.Day(req.PreviousStart), End: models.Day(req.PreviousEnd)}
	if req.PreviousStart.IsZero() || req.PreviousEnd.IsZero() {
		previous = anomaly.PreviousPeriod(current)
	}

	runID := uuid.NewString()
	log := a.logger.With(zap.String("run_id", runID), zap.String("tenant_id", req.TenantID))
	tr := newTracker(log, a.now)
	var data AnalysisData

	_ = tr.run(ctx, "detect-anomalies", func(ctx context.Context) (err error) {
		data.Anomalies, err = a.detector.Run(ctx, anomaly.Request{
			TenantID: req.TenantID,
			Platform: req.Platform,
			Current:  current,
			Previous: previous,
			Persist:  true,
		})
		return err
	})

	if req.MonthlyBudget > 0 {
		monthStart := time.Date(current.End.Year(), current.End.Month(), 1, 0, 0, 0, 0, time.UTC)
		_ = tr.run(ctx, "plan-budget", func(ctx context.Context) (err error) {
			data.Budget, err = a.planner.Plan(ctx, pacing.Request{
				TenantID:      req.TenantID,
				MonthlyBudget: req.MonthlyBudget,
				Start:         monthStart,
				End:           monthStart.AddDate(0, 1, -1),
				Current:       current.End,
			})
			return err
		})
	} else {
		tr.skip("plan-budget", "no monthly budget")
	}

	_ = tr.run(ctx, "summarize", func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			data.Current, err = a.store.Aggregate(gctx, periodFilter(req, current))
			return err
		})
		g.Go(func() (err error) {
			data.Previous, err = a.store.Aggregate(gctx, periodFilter(req, previous))
			return err
		})
		return g.Wait()
	})

	rec := buildRecommendation(req.TenantID, current, &data)
	if a.recs != nil {
		_ = tr.run(ctx, "store-recommendation", func(ctx context.Context) error {
			return a.recs.SaveRecommendation(ctx, rec)
		})
	}
	data.Recommendation = rec

	if a.audit != nil {
		actor := req.Actor
		if actor == "" {
			actor = "system"
		}
		if err := a.audit.LogAudit(ctx, &models.AuditEntry{
			TenantID:     req.TenantID,
			Action:       "weekly_analysis",
			Actor:        actor,
			ResourceType: "recommendation",
			ResourceID:   rec.ID,
			Details:      map[string]any{"run_id": runID},
		}); err != nil {
			log.Warn("failed to write audit entry", zap.Error(err))
		}
	}

	res := tr.result("weekly_analysis", runID, req.TenantID)
	res.Data = data
	log.Info("weekly analysis finished",
		zap.Bool("success", res.Success),
		zap.Int("steps_completed", res.StepsCompleted),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func periodFilter(req AnalysisRequest, p anomaly.Period) models.MetricFilter {
	return models.MetricFilter{TenantID: req.TenantID, Platform: req.Platform, Start: p.Start, End: p.End}
}

func buildRecommendation(tenantID string, period anomaly.Period, data *AnalysisData) *models.Recommendation {
	rec := &models.Recommendation{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		ReportType:  "weekly",
		GeneratedBy: "weekly-analysis",
		KeyInsights: []string{},
		ActionItems: []string{},
		RawAnalysis: map[string]any{},
	}

	var summary []string
	if data.Current != nil {
		line := fmt.Sprintf("Spend %.2f, ROAS %.2f, CTR %.2f%%", data.Current.Spend, data.Current.ROAS, data.Current.CTR)
		if data.Previous != nil && data.Previous.Spend > 0 {
			line += fmt.Sprintf(" (spend %+.1f%% vs previous period)", (data.Current.Spend-data.Previous.Spend)/data.Previous.Spend*100)
		}
		summary = append(summary, line+".")
		rec.RawAnalysis["current"] = data.Current
		rec.RawAnalysis["previous"] = data.Previous
	}

	if r := data.Anomalies; r != nil {
		summary = append(summary, fmt.Sprintf("%d anomalies detected, %d high or critical.", r.Summary.Total, r.Summary.Critical+r.Summary.High))
		for i, an := range r.Anomalies {
			if i == 5 {
				break
			}
			rec.KeyInsights = append(rec.KeyInsights, fmt.Sprintf("%s (%s): %s", an.CampaignName, an.Platform, an.Explanation))
		}
		rec.RawAnalysis["anomalies"] = r.Summary
	}

	if b := data.Budget; b != nil {
		summary = append(summary, fmt.Sprintf("Budget pacing is %s at %.1f%%.", b.PacingStatus, b.PacingPct))
		rec.ActionItems = append(rec.ActionItems, b.Recommendations...)
		rec.RawAnalysis["budget"] = b
	}
	if len(rec.ActionItems) == 0 {
		rec.ActionItems = append(rec.ActionItems, pacing.DefaultRecommendation)
	}

	rec.ExecutiveSummary = strings.Join(summary, " ")
	return rec
}
