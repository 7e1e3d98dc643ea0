package pacing

import (
	"testing"
	"time"

	"github.com/radiusdt/vector-insights/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	d, err := models.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		pct  float64
		want models.PacingStatus
	}{
		{0, models.PacingUnder},
		{84.9, models.PacingUnder},
		{85.0, models.PacingOnTrack},
		{100, models.PacingOnTrack},
		{115.0, models.PacingOnTrack},
		{115.1, models.PacingOver},
		{300, models.PacingOver},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.pct), "pct=%v", tt.pct)
	}
}

func TestAllocate_SumsTo100(t *testing.T) {
	tests := []struct {
		name             string
		meta, google     models.MetricSummary
		wantMeta, wantGo float64
	}{
		{"both roas", models.MetricSummary{ROAS: 3, Spend: 100}, models.MetricSummary{ROAS: 1, Spend: 300}, 75, 25},
		{"one roas", models.MetricSummary{ROAS: 2, Spend: 100}, models.MetricSummary{Spend: 300}, 100, 0},
		{"spend only", models.MetricSummary{Spend: 100}, models.MetricSummary{Spend: 300}, 25, 75},
		{"meta spend only", models.MetricSummary{Spend: 50}, models.MetricSummary{}, 100, 0},
		{"cold start", models.MetricSummary{}, models.MetricSummary{}, 50, 50},
		{"thirds", models.MetricSummary{ROAS: 1}, models.MetricSummary{ROAS: 2}, 33.33, 66.67},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Allocate(tt.meta, tt.google, 1000, 10)

			require.Len(t, got, 2)
			assert.Equal(t, models.PlatformMeta, got[0].Platform)
			assert.Equal(t, models.PlatformGoogle, got[1].Platform)
			assert.InDelta(t, tt.wantMeta, got[0].AllocationPct, 1e-9)
			assert.InDelta(t, tt.wantGo, got[1].AllocationPct, 1e-9)
			assert.InDelta(t, 100, got[0].AllocationPct+got[1].AllocationPct, 1e-9)
			assert.InDelta(t, 100, got[0].RecommendedDaily+got[1].RecommendedDaily, 1e-9)
		})
	}
}

func TestAllocate_NoRemainingDays(t *testing.T) {
	got := Allocate(models.MetricSummary{ROAS: 1}, models.MetricSummary{ROAS: 1}, 500, 0)
	assert.Zero(t, got[0].RecommendedDaily)
	assert.Zero(t, got[1].RecommendedDaily)
	assert.InDelta(t, 50, got[0].AllocationPct, 1e-9)
}

func TestAllocate_Overspent(t *testing.T) {
	got := Allocate(models.MetricSummary{Spend: 600}, models.MetricSummary{Spend: 600}, -200, 5)
	assert.Zero(t, got[0].RecommendedDaily)
	assert.Zero(t, got[1].RecommendedDaily)
}

func TestCompute(t *testing.T) {
	plan := Compute(Input{
		TenantID:      "acme",
		MonthlyBudget: 3000,
		Start:         day("2024-04-01"),
		End:           day("2024-04-30"),
		Current:       day("2024-04-10"),
		Meta:          models.MetricSummary{Spend: 600, ROAS: 2},
		Google:        models.MetricSummary{Spend: 400, ROAS: 2},
	})

	assert.Equal(t, 30, plan.TotalDays)
	assert.Equal(t, 10, plan.DaysElapsed)
	assert.Equal(t, 20, plan.DaysRemaining)
	assert.InDelta(t, 100, plan.PlannedDailySpend, 1e-9)
	assert.InDelta(t, 1000, plan.PlannedSpendToDate, 1e-9)
	assert.InDelta(t, 1000, plan.SpentToDate, 1e-9)
	assert.InDelta(t, 2000, plan.RemainingBudget, 1e-9)
	assert.InDelta(t, 100, plan.ActualDailySpend, 1e-9)
	assert.InDelta(t, 100, plan.PacingPct, 1e-9)
	assert.Equal(t, models.PacingOnTrack, plan.PacingStatus)
	require.Len(t, plan.Allocations, 2)
	assert.InDelta(t, 50, plan.Allocations[0].RecommendedDaily, 1e-9)
}

func TestCompute_DayClamping(t *testing.T) {
	before := Compute(Input{MonthlyBudget: 3000, Start: day("2024-04-01"), End: day("2024-04-30"), Current: day("2024-03-20")})
	assert.Equal(t, 0, before.DaysElapsed)
	assert.Equal(t, 30, before.DaysRemaining)
	assert.Zero(t, before.PacingPct)
	assert.Zero(t, before.ActualDailySpend)
	assert.Equal(t, models.PacingUnder, before.PacingStatus)

	after := Compute(Input{MonthlyBudget: 3000, Start: day("2024-04-01"), End: day("2024-04-30"), Current: day("2024-05-15"),
		Meta: models.MetricSummary{Spend: 3000}})
	assert.Equal(t, 30, after.DaysElapsed)
	assert.Equal(t, 0, after.DaysRemaining)
	assert.InDelta(t, 100, after.PacingPct, 1e-9)
}

func TestCompute_UnderAndOver(t *testing.T) {
	base := Input{MonthlyBudget: 3000, Start: day("2024-04-01"), End: day("2024-04-30"), Current: day("2024-04-10")}

	under := base
	under.Meta.Spend = 500
	assert.Equal(t, models.PacingUnder, Compute(under).PacingStatus)

	over := base
	over.Meta.Spend = 1200
	assert.Equal(t, models.PacingOver, Compute(over).PacingStatus)
}

func TestDays(t *testing.T) {
	assert.Equal(t, 1, Days(day("2024-02-29"), day("2024-02-29")))
	assert.Equal(t, 31, Days(day("2024-03-01"), day("2024-03-31")))
	assert.Equal(t, 30, Days(day("2024-03-01"), day("2024-03-31").Add(-time.Hour)))
}
