// Package pacing compares actual spend with a budget plan and splits the
// remaining budget across platforms.
package pacing

import (
	"math"
	"time"

	"github.com/radiusdt/vector-insights/internal/models"
)

// Pacing status thresholds in percent of planned spend to date.
const (
	UnderThreshold = 85.0
	OverThreshold  = 115.0
)

// StatusFor classifies a pacing percentage.
func StatusFor(pct float64) models.PacingStatus {
	switch {
	case pct < UnderThreshold:
		return models.PacingUnder
	case pct > OverThreshold:
		return models.PacingOver
	default:
		return models.PacingOnTrack
	}
}

// Input is everything Compute needs. Meta and Google are aggregates over
// the elapsed part of the window.
type Input struct {
	TenantID      string
	MonthlyBudget float64
	Start         time.Time
	End           time.Time
	Current       time.Time
	Meta          models.MetricSummary
	Google        models.MetricSummary
}

// Days returns the inclusive day count between two dates.
func Days(start, end time.Time) int {
	return int(models.Day(end).Sub(models.Day(start)).Hours()/24) + 1
}

// Compute builds a budget plan without recommendations.
func Compute(in Input) models.BudgetPlan {
	totalDays := Days(in.Start, in.End)
	if totalDays < 1 {
		totalDays = 1
	}
	elapsed := clamp(Days(in.Start, in.Current), 0, totalDays)
	remainingDays := totalDays - elapsed

	spent := in.Meta.Spend + in.Google.Spend
	remaining := in.MonthlyBudget - spent

	plannedDaily := in.MonthlyBudget / float64(totalDays)
	plannedToDate := plannedDaily * float64(elapsed)

	var actualDaily, pct float64
	if elapsed > 0 {
		actualDaily = spent / float64(elapsed)
	}
	if plannedToDate > 0 {
		pct = spent / plannedToDate * 100
	}

	return models.BudgetPlan{
		TenantID:           in.TenantID,
		StartDate:          models.Day(in.Start),
		EndDate:            models.Day(in.End),
		CurrentDate:        models.Day(in.Current),
		TotalBudget:        in.MonthlyBudget,
		SpentToDate:        spent,
		RemainingBudget:    remaining,
		TotalDays:          totalDays,
		DaysElapsed:        elapsed,
		DaysRemaining:      remainingDays,
		PlannedDailySpend:  plannedDaily,
		PlannedSpendToDate: plannedToDate,
		ActualDailySpend:   actualDaily,
		PacingStatus:       StatusFor(pct),
		PacingPct:          pct,
		Allocations:        Allocate(in.Meta, in.Google, remaining, remainingDays),
	}
}

// Allocate splits the remaining daily budget between Meta and Google by
// ROAS share, falling back to current spend share and then to an even
// split. Percentages are rounded to two decimals and always sum to 100.
func Allocate(meta, google models.MetricSummary, remaining float64, daysRemaining int) []models.PlatformAllocation {
	metaShare := 0.5
	switch totalROAS, totalSpend := meta.ROAS+google.ROAS, meta.Spend+google.Spend; {
	case totalROAS > 0:
		metaShare = meta.ROAS / totalROAS
	case totalSpend > 0:
		metaShare = meta.Spend / totalSpend
	}

	var dailyTotal float64
	if daysRemaining > 0 && remaining > 0 {
		dailyTotal = remaining / float64(daysRemaining)
	}

	metaPct := round2(metaShare * 100)
	return []models.PlatformAllocation{
		{
			Platform:         models.PlatformMeta,
			CurrentSpend:     meta.Spend,
			RecommendedDaily: dailyTotal * metaShare,
			PerformanceScore: meta.ROAS,
			AllocationPct:    metaPct,
		},
		{
			Platform:         models.PlatformGoogle,
			CurrentSpend:     google.Spend,
			RecommendedDaily: dailyTotal * (1 - metaShare),
			PerformanceScore: google.ROAS,
			AllocationPct:    round2(100 - metaPct),
		},
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
