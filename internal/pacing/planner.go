package pacing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/radiusdt/vector-insights/internal/metrics"
	"github.com/radiusdt/vector-insights/internal/models"
	"github.com/radiusdt/vector-insights/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultRecommendation is used when no advisor text is available.
const DefaultRecommendation = "Maintain current pacing and monitor performance"

// Advisor writes recommendations for a computed plan.
type Advisor interface {
	Advise(ctx context.Context, plan *models.BudgetPlan) ([]string, error)
}

// Request describes a budget window. A zero Current means today.
type Request struct {
	TenantID      string    `json:"tenant_id"`
	MonthlyBudget float64   `json:"monthly_budget"`
	Start         time.Time `json:"start_date"`
	End           time.Time `json:"end_date"`
	Current       time.Time `json:"current_date"`
}

// Validate checks the request shape.
func (r Request) Validate() error {
	if r.TenantID == "" {
		return errors.New("tenant id is required")
	}
	if r.MonthlyBudget < 0 {
		return fmt.Errorf("monthly budget must not be negative, got %v", r.MonthlyBudget)
	}
	if r.Start.IsZero() || r.End.IsZero() {
		return errors.New("start and end dates are required")
	}
	if models.Day(r.End).Before(models.Day(r.Start)) {
		return fmt.Errorf("end date %s is before start date %s", r.End.Format(models.DayLayout), r.Start.Format(models.DayLayout))
	}
	return nil
}

// Planner computes budget plans from live aggregates.
type Planner struct {
	store   storage.MetricStore
	advisor Advisor
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewPlanner creates a planner.
func NewPlanner(store storage.MetricStore, logger *zap.Logger, m *metrics.Metrics) *Planner {
	return &Planner{
		store:   store,
		logger:  logger.Named("pacing"),
		metrics: m,
		now:     time.Now,
	}
}

// SetAdvisor installs the recommendation collaborator.
func (p *Planner) SetAdvisor(a Advisor) {
	p.advisor = a
}

// SetClock overrides the source of "today".
func (p *Planner) SetClock(now func() time.Time) {
	p.now = now
}

// Plan aggregates Meta and Google spend over the elapsed window
// concurrently and computes the plan.
func (p *Planner) Plan(ctx context.Context, req Request) (*models.BudgetPlan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Current.IsZero() {
		req.Current = p.now()
	}

	in := Input{
		TenantID:      req.TenantID,
		MonthlyBudget: req.MonthlyBudget,
		Start:         req.Start,
		End:           req.End,
		Current:       req.Current,
	}

	through := models.Day(req.Current)
	if end := models.Day(req.End); through.After(end) {
		through = end
	}
	if !through.Before(models.Day(req.Start)) {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			sum, err := p.store.Aggregate(gctx, p.filter(req, models.PlatformMeta, through))
			if err == nil {
				in.Meta = *sum
			}
			return err
		})
		g.Go(func() error {
			sum, err := p.store.Aggregate(gctx, p.filter(req, models.PlatformGoogle, through))
			if err == nil {
				in.Google = *sum
			}
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("failed to aggregate spend: %w", err)
		}
	}

	plan := Compute(in)
	plan.Recommendations = p.advise(ctx, &plan)

	if p.metrics != nil {
		p.metrics.SetPacing(req.TenantID, plan.PacingPct)
	}
	p.logger.Info("budget plan computed",
		zap.String("tenant_id", req.TenantID),
		zap.String("status", string(plan.PacingStatus)),
		zap.Float64("pacing_pct", plan.PacingPct),
		zap.Float64("spent", plan.SpentToDate),
		zap.Int("days_remaining", plan.DaysRemaining),
	)
	return &plan, nil
}

func (p *Planner) filter(req Request, platform models.Platform, through time.Time) models.MetricFilter {
	return models.MetricFilter{
		TenantID: req.TenantID,
		Platform: string(platform),
		Start:    models.Day(req.Start),
		End:      through,
	}
}

func (p *Planner) advise(ctx context.Context, plan *models.BudgetPlan) []string {
	if p.advisor == nil {
		return []string{DefaultRecommendation}
	}
	recs, err := p.advisor.Advise(ctx, plan)
	if err != nil {
		p.logger.Warn("advisor unavailable, using default recommendation",
			zap.String("tenant_id", plan.TenantID), zap.Error(err))
		return []string{DefaultRecommendation}
	}
	if len(recs) == 0 {
		return []string{DefaultRecommendation}
	}
	return recs
}
