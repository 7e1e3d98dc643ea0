package models

import (
	"encoding/json"
	"time"
)

// Campaign is synced campaign metadata from an ad platform.
type Campaign struct {
	Platform        Platform        `json:"platform"`
	TenantID        string          `json:"tenant_id"`
	AccountID       string          `json:"account_id"`
	CampaignID      string          `json:"campaign_id"`
	Name            string          `json:"name"`
	Objective       string          `json:"objective,omitempty"`
	Status          string          `json:"status,omitempty"`
	EffectiveStatus string          `json:"effective_status,omitempty"`
	BidStrategy     string          `json:"bid_strategy,omitempty"`
	DailyBudget     *float64        `json:"daily_budget,omitempty"`
	LifetimeBudget  *float64        `json:"lifetime_budget,omitempty"`
	StartTime       *time.Time      `json:"start_time,omitempty"`
	StopTime        *time.Time      `json:"stop_time,omitempty"`
	RawData         json.RawMessage `json:"raw_data,omitempty"`
	SyncedAt        time.Time       `json:"synced_at"`
}

// AdSet is synced ad set (Google: ad group) metadata.
type AdSet struct {
	Platform         Platform        `json:"platform"`
	TenantID         string          `json:"tenant_id"`
	AccountID        string          `json:"account_id"`
	CampaignID       string          `json:"campaign_id"`
	AdSetID          string          `json:"adset_id"`
	Name             string          `json:"name"`
	Status           string          `json:"status,omitempty"`
	OptimizationGoal string          `json:"optimization_goal,omitempty"`
	BillingEvent     string          `json:"billing_event,omitempty"`
	BidAmount        *float64        `json:"bid_amount,omitempty"`
	DailyBudget      *float64        `json:"daily_budget,omitempty"`
	Targeting        json.RawMessage `json:"targeting,omitempty"`
	SyncedAt         time.Time       `json:"synced_at"`
}

// Creative is synced ad and creative metadata.
type Creative struct {
	Platform         Platform  `json:"platform"`
	TenantID         string    `json:"tenant_id"`
	AccountID        string    `json:"account_id"`
	AdID             string    `json:"ad_id"`
	AdName           string    `json:"ad_name,omitempty"`
	AdSetID          string    `json:"adset_id,omitempty"`
	CampaignID       string    `json:"campaign_id,omitempty"`
	CreativeID       string    `json:"creative_id,omitempty"`
	Title            string    `json:"title,omitempty"`
	Body             string    `json:"body,omitempty"`
	ImageURL         string    `json:"image_url,omitempty"`
	LinkURL          string    `json:"link_url,omitempty"`
	CallToActionType string    `json:"call_to_action_type,omitempty"`
	Status           string    `json:"status,omitempty"`
	SyncedAt         time.Time `json:"synced_at"`
}
