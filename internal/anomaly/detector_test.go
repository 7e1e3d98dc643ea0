package anomaly

import (
	"testing"

	"github.com/radiusdt/vector-insights/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func campaign(p models.Platform, id string, s models.MetricSummary) models.CampaignSummary {
	return models.CampaignSummary{Platform: p, CampaignID: id, CampaignName: "Campaign " + id, MetricSummary: s}
}

func TestDetect_ROASDropAtThreshold(t *testing.T) {
	rules := []Rule{{Metric: MetricROAS, ThresholdPct: -20, Severity: models.SeverityHigh, Direction: DirectionDrop}}

	got := Detect(
		[]models.CampaignSummary{campaign(models.PlatformMeta, "c1", models.MetricSummary{ROAS: 80})},
		[]models.CampaignSummary{campaign(models.PlatformMeta, "c1", models.MetricSummary{ROAS: 100})},
		rules,
	)

	require.Len(t, got, 1)
	a := got[0]
	assert.Equal(t, models.SeverityHigh, a.Severity)
	assert.Equal(t, models.IssueDrop, a.IssueType)
	assert.Equal(t, -20.0, a.DeltaPct)
	assert.Equal(t, 80.0, a.CurrentValue)
	assert.Equal(t, 100.0, a.PreviousValue)
	assert.Equal(t, "ROAS drop of 20.0%", a.Explanation)
	assert.Equal(t, "Campaign c1", a.CampaignName)
}

func TestDetect_PreviousZeroNeverFires(t *testing.T) {
	for _, current := range []float64{0, 1, 1000} {
		got := Detect(
			[]models.CampaignSummary{campaign(models.PlatformMeta, "c1", models.MetricSummary{ROAS: current, Spend: current})},
			[]models.CampaignSummary{campaign(models.PlatformMeta, "c1", models.MetricSummary{})},
			DefaultRules(),
		)
		assert.Empty(t, got, "current=%v", current)
	}
}

func TestDetect_NewCampaignSkipped(t *testing.T) {
	got := Detect(
		[]models.CampaignSummary{campaign(models.PlatformGoogle, "c1", models.MetricSummary{ROAS: 1})},
		[]models.CampaignSummary{campaign(models.PlatformMeta, "c1", models.MetricSummary{ROAS: 10})},
		DefaultRules(),
	)
	assert.Empty(t, got)
}

func TestDetect_Directions(t *testing.T) {
	tests := []struct {
		name      string
		rule      Rule
		cur, prev float64
		fires     bool
		issue     models.IssueType
	}{
		{"drop below threshold", Rule{MetricCTR, -15, models.SeverityMedium, DirectionDrop}, 80, 100, true, models.IssueDrop},
		{"drop short of threshold", Rule{MetricCTR, -15, models.SeverityMedium, DirectionDrop}, 90, 100, false, ""},
		{"drop ignores increase", Rule{MetricCTR, -15, models.SeverityMedium, DirectionDrop}, 200, 100, false, ""},
		{"increase at threshold", Rule{MetricCPA, 25, models.SeverityHigh, DirectionIncrease}, 125, 100, true, models.IssueIncrease},
		{"increase short of threshold", Rule{MetricCPA, 25, models.SeverityHigh, DirectionIncrease}, 120, 100, false, ""},
		{"both positive is spike", Rule{MetricSpend, 50, models.SeverityLow, DirectionBoth}, 150, 100, true, models.IssueSpike},
		{"both negative is drop", Rule{MetricSpend, 50, models.SeverityLow, DirectionBoth}, 50, 100, true, models.IssueDrop},
		{"both inside band", Rule{MetricSpend, 50, models.SeverityLow, DirectionBoth}, 140, 100, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect(
				[]models.CampaignSummary{campaign(models.PlatformMeta, "c1", summaryWith(tt.rule.Metric, tt.cur))},
				[]models.CampaignSummary{campaign(models.PlatformMeta, "c1", summaryWith(tt.rule.Metric, tt.prev))},
				[]Rule{tt.rule},
			)
			if !tt.fires {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, tt.issue, got[0].IssueType)
		})
	}
}

func summaryWith(metric string, v float64) models.MetricSummary {
	var s models.MetricSummary
	switch metric {
	case MetricCTR:
		s.CTR = v
	case MetricCPA:
		s.CPA = v
	case MetricSpend:
		s.Spend = v
	}
	return s
}

func TestDetect_MultipleRulesPerCampaign(t *testing.T) {
	got := Detect(
		[]models.CampaignSummary{campaign(models.PlatformMeta, "c1", models.MetricSummary{ROAS: 1, Conversions: 10, Spend: 100})},
		[]models.CampaignSummary{campaign(models.PlatformMeta, "c1", models.MetricSummary{ROAS: 4, Conversions: 40, Spend: 100})},
		DefaultRules(),
	)

	metrics := make([]string, len(got))
	for i, a := range got {
		metrics[i] = a.Metric
	}
	assert.ElementsMatch(t, []string{MetricROAS, MetricConversions}, metrics)
}

func TestSort_SeverityThenDelta(t *testing.T) {
	in := []models.DetectedAnomaly{
		{Metric: "a", Severity: models.SeverityMedium, DeltaPct: -90},
		{Metric: "b", Severity: models.SeverityCritical, DeltaPct: 10},
		{Metric: "c", Severity: models.SeverityHigh, DeltaPct: 30},
		{Metric: "d", Severity: models.SeverityHigh, DeltaPct: -60},
		{Metric: "e", Severity: models.SeverityLow, DeltaPct: 500},
		{Metric: "f", Severity: models.SeverityHigh, DeltaPct: 30},
	}

	Sort(in)

	order := make([]string, len(in))
	for i, a := range in {
		order[i] = a.Metric
	}
	assert.Equal(t, []string{"b", "d", "c", "f", "a", "e"}, order)
}

func TestSummarize(t *testing.T) {
	s := Summarize([]models.DetectedAnomaly{
		{Severity: models.SeverityHigh},
		{Severity: models.SeverityHigh},
		{Severity: models.SeverityLow},
		{Severity: models.SeverityCritical},
	})
	assert.Equal(t, Summary{Total: 4, Critical: 1, High: 2, Low: 1}, s)
}

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, "SPEND spike of 55.6%", Placeholder("spend", models.IssueSpike, 55.56))
	assert.Equal(t, "CPA increase of 25.0%", Placeholder("cpa", models.IssueIncrease, 25))
}
