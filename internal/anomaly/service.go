package anomaly

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/radiusdt/vector-insights/internal/config"
	"github.com/radiusdt/vector-insights/internal/metrics"
	"github.com/radiusdt/vector-insights/internal/models"
	"github.com/radiusdt/vector-insights/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Explainer writes free-text explanations for anomalies. It returns one
// string per input anomaly; empty strings keep the placeholder.
type Explainer interface {
	Explain(ctx context.Context, tenantID string, anomalies []models.DetectedAnomaly) ([]string, error)
}

// Period is an inclusive range of calendar days.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Days returns the inclusive number of days in the period.
func (p Period) Days() int {
	return int(models.Day(p.End).Sub(models.Day(p.Start)).Hours()/24) + 1
}

// PreviousPeriod returns the period of equal length ending the day before p.
func PreviousPeriod(p Period) Period {
	end := models.Day(p.Start).AddDate(0, 0, -1)
	return Period{Start: end.AddDate(0, 0, -(p.Days() - 1)), End: end}
}

// Request selects the tenant, platform and periods to compare. Previous
// defaults to PreviousPeriod(Current).
type Request struct {
	TenantID string
	Platform string
	Current  Period
	Previous Period
	// Persist stores the findings in the anomaly sink.
	Persist bool
}

// Report is the outcome of one detection run.
type Report struct {
	TenantID  string                   `json:"tenant_id"`
	Platform  string                   `json:"platform"`
	Current   Period                   `json:"current_period"`
	Previous  Period                   `json:"previous_period"`
	Anomalies []models.DetectedAnomaly `json:"anomalies"`
	Summary   Summary                  `json:"summary"`
	Explained int                      `json:"explained"`
}

// Service runs detection against a metric store.
type Service struct {
	store      storage.MetricStore
	sink       storage.AnomalyStore
	explainer  Explainer
	rules      []Rule
	explainTop int
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewService creates a detection service. sink may be nil when findings are
// never persisted.
func NewService(store storage.MetricStore, sink storage.AnomalyStore, cfg config.AnomalyConfig, rules []Rule, logger *zap.Logger, m *metrics.Metrics) *Service {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	top := cfg.ExplainTop
	if top <= 0 {
		top = 5
	}
	return &Service{
		store:      store,
		sink:       sink,
		rules:      rules,
		explainTop: top,
		logger:     logger.Named("anomaly"),
		metrics:    m,
		now:        time.Now,
	}
}

// SetExplainer installs the explanation collaborator.
func (s *Service) SetExplainer(e Explainer) {
	s.explainer = e
}

// Rules returns the active rule set.
func (s *Service) Rules() []Rule {
	return s.rules
}

// Run fetches per-campaign aggregates for both periods, detects anomalies,
// explains the top findings and optionally persists them.
func (s *Service) Run(ctx context.Context, req Request) (*Report, error) {
	if req.Platform == "" {
		req.Platform = models.All
	}
	if req.Previous.Start.IsZero() {
		req.Previous = PreviousPeriod(req.Current)
	}

	var current, previous []models.CampaignSummary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		current, err = s.store.AggregateByCampaign(gctx, filter(req, req.Current))
		return err
	})
	g.Go(func() (err error) {
		previous, err = s.store.AggregateByCampaign(gctx, filter(req, req.Previous))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load campaign metrics: %w", err)
	}

	found := Detect(current, previous, s.rules)
	now := s.now().UTC()
	for i := range found {
		found[i].ID = uuid.NewString()
		found[i].TenantID = req.TenantID
		found[i].Status = models.AnomalyOpen
		found[i].DetectedAt = now
		if s.metrics != nil {
			s.metrics.RecordAnomaly(string(found[i].Severity), found[i].Metric)
		}
	}

	report := &Report{
		TenantID:  req.TenantID,
		Platform:  req.Platform,
		Current:   req.Current,
		Previous:  req.Previous,
		Anomalies: found,
		Summary:   Summarize(found),
	}
	if report.Anomalies == nil {
		report.Anomalies = []models.DetectedAnomaly{}
	}

	report.Explained = s.explain(ctx, req.TenantID, found)

	if req.Persist && s.sink != nil && len(found) > 0 {
		if err := s.sink.SaveAnomalies(ctx, found); err != nil {
			return nil, fmt.Errorf("failed to save anomalies: %w", err)
		}
	}

	s.logger.Info("anomaly detection finished",
		zap.String("tenant_id", req.TenantID),
		zap.String("platform", req.Platform),
		zap.Int("campaigns", len(current)),
		zap.Int("anomalies", len(found)),
		zap.Int("explained", report.Explained),
	)
	return report, nil
}

// explain replaces placeholders of the top anomalies in place. Failures keep
// the placeholders.
func (s *Service) explain(ctx context.Context, tenantID string, found []models.DetectedAnomaly) int {
	if s.explainer == nil || len(found) == 0 {
		return 0
	}
	top := found
	if len(top) > s.explainTop {
		top = top[:s.explainTop]
	}

	texts, err := s.explainer.Explain(ctx, tenantID, top)
	if err != nil {
		s.logger.Warn("explainer unavailable, keeping placeholders",
			zap.String("tenant_id", tenantID), zap.Error(err))
		return 0
	}

	n := 0
	for i := range top {
		if i < len(texts) && texts[i] != "" {
			top[i].Explanation = texts[i]
			n++
		}
	}
	return n
}

func filter(req Request, p Period) models.MetricFilter {
	return models.MetricFilter{TenantID: req.TenantID, Platform: req.Platform, Start: p.Start, End: p.End}
}
