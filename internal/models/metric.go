package models

import (
	"fmt"
	"math"
	"time"
)

// Platform identifies an ad platform.
type Platform string

const (
	PlatformMeta   Platform = "meta"
	PlatformGoogle Platform = "google"
)

// All is the wildcard accepted by aggregate queries for tenant and platform.
const All = "all"

// DayLayout is the ISO calendar-day layout used across the API and stores.
const DayLayout = "2006-01-02"

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	return p == PlatformMeta || p == PlatformGoogle
}

// ParsePlatform parses a platform name.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown platform %q", s)
	}
	return p, nil
}

// ParseDay parses an ISO calendar day into midnight UTC.
func ParseDay(s string) (time.Time, error) {
	return time.Parse(DayLayout, s)
}

// Day truncates t to its calendar day in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// UnifiedMetric is one performance row per platform, campaign, ad and day.
// An empty AdID marks a campaign-level rollup.
type UnifiedMetric struct {
	Platform     Platform  `json:"platform"`
	TenantID     string    `json:"tenant_id"`
	AccountID    string    `json:"account_id"`
	CampaignID   string    `json:"campaign_id"`
	CampaignName string    `json:"campaign_name"`
	AdID         string    `json:"ad_id"`
	AdName       string    `json:"ad_name"`
	Date         time.Time `json:"date"`

	Impressions int64    `json:"impressions"`
	Reach       *int64   `json:"reach,omitempty"`
	Clicks      int64    `json:"clicks"`
	Spend       float64  `json:"spend"`
	Conversions *float64 `json:"conversions,omitempty"`
	Revenue     *float64 `json:"revenue,omitempty"`

	// Derived ratios. Nil when undefined.
	CPC  *float64 `json:"cpc"`
	CPM  *float64 `json:"cpm"`
	CTR  *float64 `json:"ctr"`
	CPA  *float64 `json:"cpa"`
	CVR  *float64 `json:"cvr"`
	ROAS *float64 `json:"roas"`
}

// Key returns the natural key (platform, tenant, campaign, ad, date).
func (m *UnifiedMetric) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", m.Platform, m.TenantID, m.CampaignID, m.AdID, m.Date.Format(DayLayout))
}

// Recompute derives all ratios from the raw counters.
func (m *UnifiedMetric) Recompute() {
	spend := m.Spend
	imps := float64(m.Impressions)
	clicks := float64(m.Clicks)

	m.CPC = ratio(spend, clicks, 1)
	m.CPM = ratio(spend, imps, 1000)
	m.CTR = ratio(clicks, imps, 100)

	m.CPA, m.CVR, m.ROAS = nil, nil, nil
	if m.Conversions != nil {
		m.CPA = ratio(spend, *m.Conversions, 1)
		m.CVR = ratio(*m.Conversions, clicks, 100)
	}
	if m.Revenue != nil {
		m.ROAS = ratio(*m.Revenue, spend, 1)
	}
}

func ratio(num, den, scale float64) *float64 {
	if den == 0 {
		return nil
	}
	v := num / den * scale
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// MetricFilter selects rows for aggregate queries. TenantID and Platform
// accept All.
type MetricFilter struct {
	TenantID string
	Platform string
	Start    time.Time
	End      time.Time
}

// Validate checks the filter shape.
func (f MetricFilter) Validate() error {
	if f.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if f.Platform != All && !Platform(f.Platform).Valid() {
		return fmt.Errorf("unknown platform %q", f.Platform)
	}
	if f.End.Before(f.Start) {
		return fmt.Errorf("end date %s is before start date %s", f.End.Format(DayLayout), f.Start.Format(DayLayout))
	}
	return nil
}

// Matches reports whether a row falls inside the filter.
func (f MetricFilter) Matches(m *UnifiedMetric) bool {
	if f.TenantID != All && m.TenantID != f.TenantID {
		return false
	}
	if f.Platform != All && string(m.Platform) != f.Platform {
		return false
	}
	d := Day(m.Date)
	return !d.Before(Day(f.Start)) && !d.After(Day(f.End))
}

// MetricSummary holds summed counters and the ratios derived from them.
// Ratios are zero when undefined.
type MetricSummary struct {
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Spend       float64 `json:"spend"`
	Conversions float64 `json:"conversions"`
	Revenue     float64 `json:"revenue"`
	CPC         float64 `json:"cpc"`
	CPM         float64 `json:"cpm"`
	CTR         float64 `json:"ctr"`
	CPA         float64 `json:"cpa"`
	ROAS        float64 `json:"roas"`
}

// Add accumulates a row's counters.
func (s *MetricSummary) Add(m *UnifiedMetric) {
	s.Impressions += m.Impressions
	s.Clicks += m.Clicks
	s.Spend += m.Spend
	if m.Conversions != nil {
		s.Conversions += *m.Conversions
	}
	if m.Revenue != nil {
		s.Revenue += *m.Revenue
	}
}

// Finalize computes the ratios from the summed counters.
func (s *MetricSummary) Finalize() {
	s.CPC = orZero(ratio(s.Spend, float64(s.Clicks), 1))
	s.CPM = orZero(ratio(s.Spend, float64(s.Impressions), 1000))
	s.CTR = orZero(ratio(float64(s.Clicks), float64(s.Impressions), 100))
	s.CPA = orZero(ratio(s.Spend, s.Conversions, 1))
	s.ROAS = orZero(ratio(s.Revenue, s.Spend, 1))
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// CampaignSummary is a MetricSummary grouped by platform and campaign.
type CampaignSummary struct {
	Platform     Platform `json:"platform"`
	CampaignID   string   `json:"campaign_id"`
	CampaignName string   `json:"campaign_name"`
	MetricSummary
}

// DailyPoint is one day of summed counters.
type DailyPoint struct {
	Date        time.Time `json:"date"`
	Impressions int64     `json:"impressions"`
	Clicks      int64     `json:"clicks"`
	Spend       float64   `json:"spend"`
	Conversions float64   `json:"conversions"`
	Revenue     float64   `json:"revenue"`
}
