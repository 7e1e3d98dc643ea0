// Package normalize maps platform-native metric rows onto models.UnifiedMetric.
//
// Everything here is pure. Malformed counters degrade to zero (or nil for
// nullable fields); rows without a usable date or campaign id are dropped.
// Derived ratios are always recomputed from the counters.
package normalize

import (
	"strconv"
	"strings"

	"github.com/radiusdt/vector-insights/internal/models"
	"github.com/shopspring/decimal"
)

// purchaseActions are the Meta action types counted as conversions.
var purchaseActions = []string{"purchase", "offsite_conversion.fb_pixel_purchase"}

// Normalize converts Meta rows followed by Google rows, preserving input order.
func Normalize(tenantID string, meta []MetaInsightRow, google []GoogleAdsRow) []models.UnifiedMetric {
	out := make([]models.UnifiedMetric, 0, len(meta)+len(google))
	for i := range meta {
		if m, ok := Meta(tenantID, &meta[i]); ok {
			out = append(out, m)
		}
	}
	for i := range google {
		if m, ok := Google(tenantID, &google[i]); ok {
			out = append(out, m)
		}
	}
	return out
}

// Meta converts one Meta insights row.
func Meta(tenantID string, row *MetaInsightRow) (models.UnifiedMetric, bool) {
	date, err := models.ParseDay(strings.TrimSpace(row.DateStart))
	if err != nil || row.CampaignID == "" {
		return models.UnifiedMetric{}, false
	}

	m := models.UnifiedMetric{
		Platform:     models.PlatformMeta,
		TenantID:     tenantID,
		AccountID:    row.AccountID,
		CampaignID:   row.CampaignID,
		CampaignName: row.CampaignName,
		AdID:         row.AdID,
		AdName:       row.AdName,
		Date:         date,
		Impressions:  count(row.Impressions),
		Reach:        optionalCount(row.Reach),
		Clicks:       count(row.Clicks),
		Spend:        money(row.Spend),
		Conversions:  purchaseValue(row.Actions),
		Revenue:      purchaseValue(row.ActionValues),
	}
	m.Recompute()
	return m, true
}

// Google converts one Google Ads row. Cost arrives in micros.
func Google(tenantID string, row *GoogleAdsRow) (models.UnifiedMetric, bool) {
	date, err := models.ParseDay(strings.TrimSpace(row.Segments.Date))
	campaignID := strings.TrimSpace(string(row.Campaign.ID))
	if err != nil || campaignID == "" {
		return models.UnifiedMetric{}, false
	}

	m := models.UnifiedMetric{
		Platform:     models.PlatformGoogle,
		TenantID:     tenantID,
		AccountID:    row.CustomerID,
		CampaignID:   campaignID,
		CampaignName: row.Campaign.Name,
		AdID:         strings.TrimSpace(string(row.AdGroupAd.Ad.ID)),
		AdName:       row.AdGroupAd.Ad.Name,
		Date:         date,
		Impressions:  count(row.Metrics.Impressions),
		Clicks:       count(row.Metrics.Clicks),
		Spend:        micros(row.Metrics.CostMicros),
		Conversions:  optionalAmount(row.Metrics.Conversions),
		Revenue:      optionalAmount(row.Metrics.ConversionsValue),
	}
	m.Recompute()
	return m, true
}

// count parses a non-negative integer counter; anything else is zero.
func count(n Number) int64 {
	s := strings.TrimSpace(string(n))
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		d, derr := decimal.NewFromString(s)
		if derr != nil {
			return 0
		}
		v = d.IntPart()
	}
	if v < 0 {
		return 0
	}
	return v
}

func optionalCount(n Number) *int64 {
	if strings.TrimSpace(string(n)) == "" {
		return nil
	}
	v := count(n)
	return &v
}

func parseAmount(n Number) (decimal.Decimal, bool) {
	s := strings.TrimSpace(string(n))
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if d.IsNegative() {
		return decimal.Zero, true
	}
	return d, true
}

// money parses a currency amount; malformed values are zero.
func money(n Number) float64 {
	d, _ := parseAmount(n)
	return d.InexactFloat64()
}

func optionalAmount(n Number) *float64 {
	d, ok := parseAmount(n)
	if !ok {
		return nil
	}
	v := d.InexactFloat64()
	return &v
}

// micros converts a cost in millionths of the account currency.
func micros(n Number) float64 {
	return decimal.NewFromInt(count(n)).Shift(-6).InexactFloat64()
}

// purchaseValue returns the first purchase-type action value, or nil.
func purchaseValue(actions []MetaAction) *float64 {
	for _, a := range actions {
		for _, t := range purchaseActions {
			if a.ActionType == t {
				return optionalAmount(a.Value)
			}
		}
	}
	return nil
}
