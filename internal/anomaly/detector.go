// Package anomaly detects period-over-period changes in campaign metrics.
package anomaly

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/radiusdt/vector-insights/internal/models"
)

// Metric names understood by rules.
const (
	MetricROAS        = "roas"
	MetricCPA         = "cpa"
	MetricCTR         = "ctr"
	MetricCPC         = "cpc"
	MetricCPM         = "cpm"
	MetricSpend       = "spend"
	MetricImpressions = "impressions"
	MetricClicks      = "clicks"
	MetricConversions = "conversions"
	MetricRevenue     = "revenue"
)

func metricValue(metric string, s *models.MetricSummary) (float64, bool) {
	switch metric {
	case MetricROAS:
		return s.ROAS, true
	case MetricCPA:
		return s.CPA, true
	case MetricCTR:
		return s.CTR, true
	case MetricCPC:
		return s.CPC, true
	case MetricCPM:
		return s.CPM, true
	case MetricSpend:
		return s.Spend, true
	case MetricImpressions:
		return float64(s.Impressions), true
	case MetricClicks:
		return float64(s.Clicks), true
	case MetricConversions:
		return s.Conversions, true
	case MetricRevenue:
		return s.Revenue, true
	default:
		return 0, false
	}
}

func campaignKey(c *models.CampaignSummary) string {
	return string(c.Platform) + ":" + c.CampaignID
}

// Detect compares each current-period campaign with its previous-period
// counterpart and returns the triggered rules, most severe first.
// Campaigns without a previous-period row are skipped.
func Detect(current, previous []models.CampaignSummary, rules []Rule) []models.DetectedAnomaly {
	prev := make(map[string]*models.CampaignSummary, len(previous))
	for i := range previous {
		prev[campaignKey(&previous[i])] = &previous[i]
	}

	var out []models.DetectedAnomaly
	for i := range current {
		cur := &current[i]
		p, ok := prev[campaignKey(cur)]
		if !ok {
			continue
		}
		for _, rule := range rules {
			if a, ok := check(cur, p, rule); ok {
				out = append(out, a)
			}
		}
	}

	Sort(out)
	return out
}

func check(cur, prev *models.CampaignSummary, rule Rule) (models.DetectedAnomaly, bool) {
	curVal, ok := metricValue(rule.Metric, &cur.MetricSummary)
	if !ok {
		return models.DetectedAnomaly{}, false
	}
	prevVal, _ := metricValue(rule.Metric, &prev.MetricSummary)
	if prevVal == 0 || math.IsNaN(prevVal) || math.IsNaN(curVal) {
		return models.DetectedAnomaly{}, false
	}

	delta := (curVal - prevVal) / prevVal * 100

	var issue models.IssueType
	switch rule.Direction {
	case DirectionDrop:
		if delta > rule.ThresholdPct {
			return models.DetectedAnomaly{}, false
		}
		issue = models.IssueDrop
	case DirectionIncrease:
		if delta < rule.ThresholdPct {
			return models.DetectedAnomaly{}, false
		}
		issue = models.IssueIncrease
	case DirectionBoth:
		if math.Abs(delta) < math.Abs(rule.ThresholdPct) {
			return models.DetectedAnomaly{}, false
		}
		issue = models.IssueDrop
		if delta > 0 {
			issue = models.IssueSpike
		}
	default:
		return models.DetectedAnomaly{}, false
	}

	return models.DetectedAnomaly{
		Platform:      cur.Platform,
		CampaignID:    cur.CampaignID,
		CampaignName:  cur.CampaignName,
		Metric:        rule.Metric,
		IssueType:     issue,
		Severity:      rule.Severity,
		CurrentValue:  curVal,
		PreviousValue: prevVal,
		DeltaPct:      math.Round(delta*100) / 100,
		Explanation:   Placeholder(rule.Metric, issue, delta),
	}, true
}

// Placeholder is the deterministic explanation used until a generated one
// replaces it, e.g. "ROAS drop of 20.0%".
func Placeholder(metric string, issue models.IssueType, deltaPct float64) string {
	return fmt.Sprintf("%s %s of %.1f%%", strings.ToUpper(metric), issue, math.Abs(deltaPct))
}

// Sort orders anomalies by severity, then by descending absolute delta.
// Ties keep their input order.
func Sort(anomalies []models.DetectedAnomaly) {
	sort.SliceStable(anomalies, func(i, j int) bool {
		ri, rj := anomalies[i].Severity.Rank(), anomalies[j].Severity.Rank()
		if ri != rj {
			return ri < rj
		}
		return math.Abs(anomalies[i].DeltaPct) > math.Abs(anomalies[j].DeltaPct)
	})
}

// Summary counts anomalies per severity.
type Summary struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// Summarize counts anomalies per severity.
func Summarize(anomalies []models.DetectedAnomaly) Summary {
	s := Summary{Total: len(anomalies)}
	for _, a := range anomalies {
		switch a.Severity {
		case models.SeverityCritical:
			s.Critical++
		case models.SeverityHigh:
			s.High++
		case models.SeverityMedium:
			s.Medium++
		case models.SeverityLow:
			s.Low++
		}
	}
	return s
}
