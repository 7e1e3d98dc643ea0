package normalize

import (
	"bytes"
	"encoding/json"
)

// Number is a numeric field that platforms send either quoted or bare.
type Number string

// UnmarshalJSON accepts "12.5", 12.5 and null.
func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = Number(s)
		return nil
	}
	*n = Number(b)
	return nil
}

// MetaAction is one entry of the Meta actions / action_values arrays.
type MetaAction struct {
	ActionType string `json:"action_type"`
	Value      Number `json:"value"`
}

// MetaInsightRow is one ad-level, one-day row of the Meta insights API.
type MetaInsightRow struct {
	AccountID    string       `json:"account_id"`
	CampaignID   string       `json:"campaign_id"`
	CampaignName string       `json:"campaign_name"`
	AdID         string       `json:"ad_id"`
	AdName       string       `json:"ad_name"`
	DateStart    string       `json:"date_start"`
	Impressions  Number       `json:"impressions"`
	Reach        Number       `json:"reach"`
	Clicks       Number       `json:"clicks"`
	Spend        Number       `json:"spend"`
	Actions      []MetaAction `json:"actions"`
	ActionValues []MetaAction `json:"action_values"`

	// Platform-estimated ratios. Never trusted.
	CPC Number `json:"cpc,omitempty"`
	CPM Number `json:"cpm,omitempty"`
	CTR Number `json:"ctr,omitempty"`
}

// GoogleAdsRow is one row of a Google Ads GAQL search stream over ad_group_ad.
type GoogleAdsRow struct {
	CustomerID string `json:"customerId,omitempty"`
	Campaign   struct {
		ID   Number `json:"id"`
		Name string `json:"name"`
	} `json:"campaign"`
	AdGroupAd struct {
		Ad struct {
			ID   Number `json:"id"`
			Name string `json:"name"`
		} `json:"ad"`
	} `json:"adGroupAd"`
	Segments struct {
		Date string `json:"date"`
	} `json:"segments"`
	Metrics struct {
		Impressions      Number `json:"impressions"`
		Clicks           Number `json:"clicks"`
		CostMicros       Number `json:"costMicros"`
		Conversions      Number `json:"conversions"`
		ConversionsValue Number `json:"conversionsValue"`
		CTR              Number `json:"ctr,omitempty"`
	} `json:"metrics"`
}
