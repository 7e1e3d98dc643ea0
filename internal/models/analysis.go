package models

import "time"

// Severity ranks anomaly urgency.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank orders severities with the most severe first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// IssueType classifies an anomaly's movement.
type IssueType string

const (
	IssueDrop     IssueType = "drop"
	IssueIncrease IssueType = "increase"
	IssueSpike    IssueType = "spike"
	IssuePlateau  IssueType = "plateau"
)

// AnomalyStatus tracks a stored anomaly.
type AnomalyStatus string

const (
	AnomalyOpen     AnomalyStatus = "open"
	AnomalyResolved AnomalyStatus = "resolved"
)

// DetectedAnomaly is a period-over-period finding for one campaign metric.
type DetectedAnomaly struct {
	ID            string        `json:"id"`
	TenantID      string        `json:"tenant_id,omitempty"`
	Platform      Platform      `json:"platform"`
	CampaignID    string        `json:"campaign_id"`
	CampaignName  string        `json:"campaign_name"`
	Metric        string        `json:"metric"`
	IssueType     IssueType     `json:"issue_type"`
	Severity      Severity      `json:"severity"`
	CurrentValue  float64       `json:"current_value"`
	PreviousValue float64       `json:"previous_value"`
	DeltaPct      float64       `json:"delta_pct"`
	Explanation   string        `json:"explanation"`
	Status        AnomalyStatus `json:"status,omitempty"`
	DetectedAt    time.Time     `json:"detected_at"`
}

// PacingStatus describes spend against plan.
type PacingStatus string

const (
	PacingUnder   PacingStatus = "under"
	PacingOnTrack PacingStatus = "on-track"
	PacingOver    PacingStatus = "over"
)

// PlatformAllocation is the recommended split for one platform.
type PlatformAllocation struct {
	Platform         Platform `json:"platform"`
	CurrentSpend     float64  `json:"current_spend"`
	RecommendedDaily float64  `json:"recommended_daily"`
	PerformanceScore float64  `json:"performance_score"`
	AllocationPct    float64  `json:"allocation_pct"`
}

// BudgetPlan compares actual spend with plan over a budget window.
type BudgetPlan struct {
	TenantID           string               `json:"tenant_id"`
	StartDate          time.Time            `json:"start_date"`
	EndDate            time.Time            `json:"end_date"`
	CurrentDate        time.Time            `json:"current_date"`
	TotalBudget        float64              `json:"total_budget"`
	SpentToDate        float64              `json:"spent_to_date"`
	RemainingBudget    float64              `json:"remaining_budget"`
	TotalDays          int                  `json:"total_days"`
	DaysElapsed        int                  `json:"days_elapsed"`
	DaysRemaining      int                  `json:"days_remaining"`
	PlannedDailySpend  float64              `json:"planned_daily_spend"`
	PlannedSpendToDate float64              `json:"planned_spend_to_date"`
	ActualDailySpend   float64              `json:"actual_daily_spend"`
	PacingStatus       PacingStatus         `json:"pacing_status"`
	PacingPct          float64              `json:"pacing_pct"`
	Allocations        []PlatformAllocation `json:"allocations"`
	Recommendations    []string             `json:"recommendations"`
}

// Recommendation is a stored analysis outcome handed to report writers.
type Recommendation struct {
	ID               string         `json:"id"`
	TenantID         string         `json:"tenant_id"`
	PeriodStart      time.Time      `json:"period_start"`
	PeriodEnd        time.Time      `json:"period_end"`
	ReportType       string         `json:"report_type"`
	ExecutiveSummary string         `json:"executive_summary"`
	KeyInsights      []string       `json:"key_insights"`
	ActionItems      []string       `json:"action_items"`
	RawAnalysis      map[string]any `json:"raw_analysis,omitempty"`
	GeneratedBy      string         `json:"generated_by"`
	CreatedAt        time.Time      `json:"created_at"`
}

// AuditEntry records a governance-relevant action.
type AuditEntry struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	Action       string         `json:"action"`
	Actor        string         `json:"actor"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
