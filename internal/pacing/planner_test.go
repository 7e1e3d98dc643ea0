package pacing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/radiusdt/vector-insights/internal/models"
	"github.com/radiusdt/vector-insights/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubAdvisor struct {
	recs []string
	err  error
}

func (s stubAdvisor) Advise(context.Context, *models.BudgetPlan) ([]string, error) {
	return s.recs, s.err
}

func fp(v float64) *float64 { return &v }

func spendRow(p models.Platform, date string, spend, revenue float64) models.UnifiedMetric {
	return models.UnifiedMetric{
		Platform:    p,
		TenantID:    "acme",
		CampaignID:  "c-" + string(p),
		AdID:        "a",
		Date:        day(date),
		Impressions: 1000,
		Clicks:      10,
		Spend:       spend,
		Revenue:     fp(revenue),
	}
}

func newPlanner(t *testing.T, rows ...models.UnifiedMetric) *Planner {
	t.Helper()
	store := storage.NewMemoryStore()
	_, err := store.UpsertBatch(context.Background(), rows)
	require.NoError(t, err)
	return NewPlanner(store, zap.NewNop(), nil)
}

func aprilRequest(current string) Request {
	r := Request{TenantID: "acme", MonthlyBudget: 3000, Start: day("2024-04-01"), End: day("2024-04-30")}
	if current != "" {
		r.Current = day(current)
	}
	return r
}

func TestPlanner_Plan(t *testing.T) {
	p := newPlanner(t,
		spendRow(models.PlatformMeta, "2024-04-02", 300, 1200),
		spendRow(models.PlatformGoogle, "2024-04-05", 200, 200),
		spendRow(models.PlatformMeta, "2024-04-20", 999, 0),
		spendRow(models.PlatformMeta, "2024-03-31", 999, 0),
	)

	plan, err := p.Plan(context.Background(), aprilRequest("2024-04-10"))
	require.NoError(t, err)

	assert.InDelta(t, 500, plan.SpentToDate, 1e-9)
	assert.InDelta(t, 50, plan.PacingPct, 1e-9)
	assert.Equal(t, models.PacingUnder, plan.PacingStatus)
	assert.Equal(t, []string{DefaultRecommendation}, plan.Recommendations)

	require.Len(t, plan.Allocations, 2)
	assert.InDelta(t, 4, plan.Allocations[0].PerformanceScore, 1e-9)
	assert.InDelta(t, 1, plan.Allocations[1].PerformanceScore, 1e-9)
	assert.InDelta(t, 80, plan.Allocations[0].AllocationPct, 1e-9)
	assert.InDelta(t, 20, plan.Allocations[1].AllocationPct, 1e-9)
}

func TestPlanner_DefaultsCurrentToClock(t *testing.T) {
	p := newPlanner(t, spendRow(models.PlatformMeta, "2024-04-01", 100, 0))
	p.SetClock(func() time.Time { return time.Date(2024, 4, 1, 18, 30, 0, 0, time.UTC) })

	plan, err := p.Plan(context.Background(), aprilRequest(""))
	require.NoError(t, err)

	assert.Equal(t, day("2024-04-01"), plan.CurrentDate)
	assert.Equal(t, 1, plan.DaysElapsed)
	assert.InDelta(t, 100, plan.PacingPct, 1e-9)
}

func TestPlanner_BeforeWindowSkipsQueries(t *testing.T) {
	p := newPlanner(t, spendRow(models.PlatformMeta, "2024-03-30", 100, 0))

	plan, err := p.Plan(context.Background(), aprilRequest("2024-03-30"))
	require.NoError(t, err)

	assert.Zero(t, plan.SpentToDate)
	assert.Equal(t, 0, plan.DaysElapsed)
	assert.InDelta(t, 50, plan.Allocations[0].AllocationPct, 1e-9)
	assert.InDelta(t, 50, plan.Allocations[0].RecommendedDaily, 1e-9)
}

func TestPlanner_Advisor(t *testing.T) {
	p := newPlanner(t)

	p.SetAdvisor(stubAdvisor{recs: []string{"Shift 10% to Google"}})
	plan, err := p.Plan(context.Background(), aprilRequest("2024-04-10"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Shift 10% to Google"}, plan.Recommendations)

	p.SetAdvisor(stubAdvisor{err: errors.New("timeout")})
	plan, err = p.Plan(context.Background(), aprilRequest("2024-04-10"))
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultRecommendation}, plan.Recommendations)
}

func TestPlanner_InvalidRequest(t *testing.T) {
	p := newPlanner(t)
	tests := []struct {
		name string
		req  Request
	}{
		{"no tenant", Request{MonthlyBudget: 1, Start: day("2024-04-01"), End: day("2024-04-30")}},
		{"negative budget", Request{TenantID: "acme", MonthlyBudget: -1, Start: day("2024-04-01"), End: day("2024-04-30")}},
		{"missing dates", Request{TenantID: "acme", MonthlyBudget: 1}},
		{"end before start", Request{TenantID: "acme", MonthlyBudget: 1, Start: day("2024-04-30"), End: day("2024-04-01")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Plan(context.Background(), tt.req)
			assert.Error(t, err)
		})
	}
}
