// Package report talks to the external text-generation service that writes
// anomaly explanations and budget recommendations.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/radiusdt/vector-insights/internal/config"
	"github.com/radiusdt/vector-insights/internal/executor"
	"github.com/radiusdt/vector-insights/internal/models"
	"go.uber.org/zap"
)

// Tool names registered on the executor.
const (
	ToolExplainAnomalies = "explain_anomalies"
	ToolAdviseBudget     = "advise_budget"
)

const maxResponseSize = 1 << 20

// Client implements anomaly.Explainer and pacing.Advisor over HTTP. Calls
// go through the executor for retry, rate limiting and caching.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
	exec       *executor.Executor
	cacheTTL   time.Duration
	logger     *zap.Logger
}

// NewClient creates a client and registers its tools on exec.
func NewClient(cfg config.ExplainerConfig, exec *executor.Executor, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	c := &Client{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		exec:       exec,
		cacheTTL:   ttl,
		logger:     logger.Named("report"),
	}
	exec.Register(ToolExplainAnomalies, c.post)
	exec.Register(ToolAdviseBudget, c.post)
	return c
}

type anomalyItem struct {
	CampaignName  string  `json:"campaign_name"`
	Platform      string  `json:"platform"`
	Metric        string  `json:"metric"`
	Severity      string  `json:"severity"`
	DeltaPct      float64 `json:"delta_pct"`
	PreviousValue float64 `json:"previous_value"`
	CurrentValue  float64 `json:"current_value"`
}

type planItem struct {
	TotalBudget       float64                     `json:"total_budget"`
	SpentToDate       float64                     `json:"spent_to_date"`
	RemainingBudget   float64                     `json:"remaining_budget"`
	DaysElapsed       int                         `json:"days_elapsed"`
	DaysRemaining     int                         `json:"days_remaining"`
	PlannedDailySpend float64                     `json:"planned_daily_spend"`
	ActualDailySpend  float64                     `json:"actual_daily_spend"`
	PacingStatus      string                      `json:"pacing_status"`
	PacingPct         float64                     `json:"pacing_pct"`
	Allocations       []models.PlatformAllocation `json:"allocations"`
}

type response struct {
	Texts []string `json:"texts"`
}

// Explain returns one explanation per anomaly, in order.
func (c *Client) Explain(ctx context.Context, tenantID string, anomalies []models.DetectedAnomaly) ([]string, error) {
	items := make([]anomalyItem, len(anomalies))
	for i, a := range anomalies {
		items[i] = anomalyItem{
			CampaignName:  a.CampaignName,
			Platform:      string(a.Platform),
			Metric:        a.Metric,
			Severity:      string(a.Severity),
			DeltaPct:      a.DeltaPct,
			PreviousValue: a.PreviousValue,
			CurrentValue:  a.CurrentValue,
		}
	}
	texts, err := c.run(ctx, ToolExplainAnomalies, tenantID, items)
	if err != nil {
		return nil, err
	}
	if len(texts) != len(anomalies) {
		c.logger.Warn("explanation count mismatch",
			zap.String("tenant_id", tenantID),
			zap.Int("want", len(anomalies)),
			zap.Int("got", len(texts)),
		)
	}
	return texts, nil
}

// Advise returns recommendations for a budget plan.
func (c *Client) Advise(ctx context.Context, plan *models.BudgetPlan) ([]string, error) {
	item := planItem{
		TotalBudget:       plan.TotalBudget,
		SpentToDate:       plan.SpentToDate,
		RemainingBudget:   plan.RemainingBudget,
		DaysElapsed:       plan.DaysElapsed,
		DaysRemaining:     plan.DaysRemaining,
		PlannedDailySpend: plan.PlannedDailySpend,
		ActualDailySpend:  plan.ActualDailySpend,
		PacingStatus:      string(plan.PacingStatus),
		PacingPct:         plan.PacingPct,
		Allocations:       plan.Allocations,
	}
	return c.run(ctx, ToolAdviseBudget, plan.TenantID, item)
}

func (c *Client) run(ctx context.Context, tool, tenantID string, input any) ([]string, error) {
	res := c.exec.Run(ctx, tool, executor.Params{
		"task":      tool,
		"tenant_id": tenantID,
		"input":     input,
	}, executor.Options{TenantID: tenantID, Cache: true, CacheTTL: c.cacheTTL})
	if !res.Success {
		return nil, res.Err
	}

	var out response
	if err := res.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", tool, err)
	}
	return out.Texts, nil
}

// post is the executor handler shared by both tools.
func (c *Client) post(ctx context.Context, params executor.Params) (any, error) {
	if c.url == "" {
		return nil, errors.New("text generation endpoint not configured")
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("text generation request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, executor.NewStatusError(resp.StatusCode, truncate(string(data), 200))
	}
	if !json.Valid(data) {
		return nil, errors.New("text generation service returned invalid JSON")
	}
	return json.RawMessage(data), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
