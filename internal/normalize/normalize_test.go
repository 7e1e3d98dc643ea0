package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/radiusdt/vector-insights/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const metaFixture = `[
  {
    "account_id": "act_1",
    "campaign_id": "23850",
    "campaign_name": "Spring Sale",
    "ad_id": "9001",
    "ad_name": "Carousel A",
    "date_start": "2024-03-04",
    "impressions": "10000",
    "reach": "7200",
    "clicks": "250",
    "spend": "125.50",
    "ctr": "9.99",
    "actions": [
      {"action_type": "link_click", "value": "250"},
      {"action_type": "offsite_conversion.fb_pixel_purchase", "value": "5"},
      {"action_type": "purchase", "value": "7"}
    ],
    "action_values": [
      {"action_type": "purchase", "value": "502.00"}
    ]
  }
]`

const googleFixture = `[
  {
    "campaign": {"id": 1700, "name": "Search Brand"},
    "adGroupAd": {"ad": {"id": "555", "name": "RSA 1"}},
    "segments": {"date": "2024-03-04"},
    "metrics": {
      "impressions": "4000",
      "clicks": "80",
      "costMicros": "64000000",
      "conversions": 4.5,
      "conversionsValue": 320
    }
  }
]`

func decode[T any](t *testing.T, raw string) []T {
	t.Helper()
	var rows []T
	require.NoError(t, json.Unmarshal([]byte(raw), &rows))
	return rows
}

func TestNormalize_MetaRow(t *testing.T) {
	rows := decode[MetaInsightRow](t, metaFixture)

	out := Normalize("acme", rows, nil)
	require.Len(t, out, 1)
	m := out[0]

	assert.Equal(t, models.PlatformMeta, m.Platform)
	assert.Equal(t, "acme", m.TenantID)
	assert.Equal(t, "act_1", m.AccountID)
	assert.Equal(t, "23850", m.CampaignID)
	assert.Equal(t, "9001", m.AdID)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), m.Date)
	assert.Equal(t, int64(10000), m.Impressions)
	require.NotNil(t, m.Reach)
	assert.Equal(t, int64(7200), *m.Reach)
	assert.Equal(t, int64(250), m.Clicks)
	assert.InDelta(t, 125.50, m.Spend, 1e-9)

	// First purchase-type action wins.
	require.NotNil(t, m.Conversions)
	assert.InDelta(t, 5.0, *m.Conversions, 1e-9)
	require.NotNil(t, m.Revenue)
	assert.InDelta(t, 502.0, *m.Revenue, 1e-9)

	// Upstream ctr is ignored.
	require.NotNil(t, m.CTR)
	assert.InDelta(t, 2.5, *m.CTR, 1e-9)
	require.NotNil(t, m.ROAS)
	assert.InDelta(t, 4.0, *m.ROAS, 1e-9)
}

func TestNormalize_GoogleRow(t *testing.T) {
	rows := decode[GoogleAdsRow](t, googleFixture)
	rows[0].CustomerID = "123-456-7890"

	out := Normalize("acme", nil, rows)
	require.Len(t, out, 1)
	m := out[0]

	assert.Equal(t, models.PlatformGoogle, m.Platform)
	assert.Equal(t, "123-456-7890", m.AccountID)
	assert.Equal(t, "1700", m.CampaignID)
	assert.Equal(t, "555", m.AdID)
	assert.InDelta(t, 64.0, m.Spend, 1e-9)
	assert.Nil(t, m.Reach)
	require.NotNil(t, m.Conversions)
	assert.InDelta(t, 4.5, *m.Conversions, 1e-9)
	require.NotNil(t, m.CPC)
	assert.InDelta(t, 0.8, *m.CPC, 1e-9)
	require.NotNil(t, m.CPM)
	assert.InDelta(t, 16.0, *m.CPM, 1e-9)
	require.NotNil(t, m.ROAS)
	assert.InDelta(t, 5.0, *m.ROAS, 1e-9)
}

func TestNormalize_OrderMetaThenGoogle(t *testing.T) {
	meta := decode[MetaInsightRow](t, metaFixture)
	google := decode[GoogleAdsRow](t, googleFixture)

	out := Normalize("acme", meta, google)

	require.Len(t, out, 2)
	assert.Equal(t, models.PlatformMeta, out[0].Platform)
	assert.Equal(t, models.PlatformGoogle, out[1].Platform)
}

func TestNormalize_DropsRowsWithoutIdentity(t *testing.T) {
	meta := []MetaInsightRow{
		{CampaignID: "c1", DateStart: "not-a-date"},
		{CampaignID: "", DateStart: "2024-03-04"},
		{CampaignID: "c2", DateStart: "2024-03-04"},
	}

	out := Normalize("acme", meta, nil)

	require.Len(t, out, 1)
	assert.Equal(t, "c2", out[0].CampaignID)
}

func TestNormalize_MalformedCountersDegrade(t *testing.T) {
	meta := []MetaInsightRow{{
		CampaignID:  "c1",
		DateStart:   "2024-03-04",
		Impressions: "lots",
		Clicks:      "-4",
		Spend:       "-10.00",
		Actions:     []MetaAction{{ActionType: "purchase", Value: "n/a"}},
	}}

	out := Normalize("acme", meta, nil)

	require.Len(t, out, 1)
	m := out[0]
	assert.Zero(t, m.Impressions)
	assert.Zero(t, m.Clicks)
	assert.Zero(t, m.Spend)
	assert.Nil(t, m.Conversions)
	assert.Nil(t, m.Revenue)
	assert.Nil(t, m.CPC)
	assert.Nil(t, m.CPM)
	assert.Nil(t, m.CTR)
	assert.Nil(t, m.CPA)
	assert.Nil(t, m.CVR)
	assert.Nil(t, m.ROAS)
}

func TestNormalize_DerivedRatioBoundaries(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		name        string
		impressions Number
		clicks      Number
		spend       Number
		conversions *float64
		revenue     *float64

		cpc, cpm, ctr, cpa, cvr, roas *float64
	}{
		{
			name:        "all counters present",
			impressions: "2000", clicks: "100", spend: "50",
			conversions: f(10), revenue: f(200),
			cpc: f(0.5), cpm: f(25), ctr: f(5), cpa: f(5), cvr: f(10), roas: f(4),
		},
		{
			name:        "zero clicks",
			impressions: "2000", clicks: "0", spend: "50",
			conversions: f(10), revenue: f(200),
			cpc: nil, cpm: f(25), ctr: f(0), cpa: f(5), cvr: nil, roas: f(4),
		},
		{
			name:        "zero impressions",
			impressions: "0", clicks: "0", spend: "50",
			cpm: nil, ctr: nil, cpc: nil,
		},
		{
			name:        "null conversions",
			impressions: "1000", clicks: "10", spend: "20",
			revenue: f(40),
			cpc:     f(2), cpm: f(20), ctr: f(1), cpa: nil, cvr: nil, roas: f(2),
		},
		{
			name:        "zero conversions",
			impressions: "1000", clicks: "10", spend: "20",
			conversions: f(0),
			cpc:         f(2), cpm: f(20), ctr: f(1), cpa: nil, cvr: f(0),
		},
		{
			name:        "zero spend",
			impressions: "1000", clicks: "10", spend: "0",
			conversions: f(2), revenue: f(40),
			cpc: f(0), cpm: f(0), ctr: f(1), cpa: f(0), cvr: f(20), roas: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := GoogleAdsRow{}
			row.Campaign.ID = "c1"
			row.Segments.Date = "2024-03-04"
			row.Metrics.Impressions = tt.impressions
			row.Metrics.Clicks = tt.clicks
			row.Metrics.CostMicros = Number(tt.spend + "000000")
			if tt.conversions != nil {
				row.Metrics.Conversions = Number(formatFloat(*tt.conversions))
			}
			if tt.revenue != nil {
				row.Metrics.ConversionsValue = Number(formatFloat(*tt.revenue))
			}

			m, ok := Google("acme", &row)
			require.True(t, ok)

			assertRatio(t, "cpc", tt.cpc, m.CPC)
			assertRatio(t, "cpm", tt.cpm, m.CPM)
			assertRatio(t, "ctr", tt.ctr, m.CTR)
			assertRatio(t, "cpa", tt.cpa, m.CPA)
			assertRatio(t, "cvr", tt.cvr, m.CVR)
			assertRatio(t, "roas", tt.roas, m.ROAS)
		})
	}
}

func TestNumber_UnmarshalJSON(t *testing.T) {
	var v struct {
		A Number `json:"a"`
		B Number `json:"b"`
		C Number `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"12.5","b":7,"c":null}`), &v))

	assert.Equal(t, Number("12.5"), v.A)
	assert.Equal(t, Number("7"), v.B)
	assert.Equal(t, Number(""), v.C)
}

func formatFloat(v float64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func assertRatio(t *testing.T, name string, want, got *float64) {
	t.Helper()
	if want == nil {
		assert.Nil(t, got, name)
		return
	}
	if assert.NotNil(t, got, name) {
		assert.InDelta(t, *want, *got, 1e-9, name)
	}
}
