package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/radiusdt/vector-insights/internal/models"
)

// GetTenantConfig returns a tenant's configuration or nil if not found.
func (s *PostgresStore) GetTenantConfig(ctx context.Context, tenantID string) (*models.TenantConfig, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT tenant_id, display_name, industry, business_model, primary_kpis, brand_voice
		FROM tenant_configs WHERE tenant_id = $1
	`, tenantID)

	c, err := scanTenantConfig(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant config: %w", err)
	}
	return c, nil
}

// ListTenantConfigs returns every configured tenant.
func (s *PostgresStore) ListTenantConfigs(ctx context.Context) ([]models.TenantConfig, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_id, display_name, industry, business_model, primary_kpis, brand_voice
		FROM tenant_configs ORDER BY tenant_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant configs: %w", err)
	}
	defer rows.Close()

	var out []models.TenantConfig
	for rows.Next() {
		c, err := scanTenantConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanTenantConfig(row pgx.Row) (*models.TenantConfig, error) {
	var c models.TenantConfig
	var industry, businessModel *string
	var kpisJSON []byte
	var voice string

	if err := row.Scan(&c.TenantID, &c.DisplayName, &industry, &businessModel, &kpisJSON, &voice); err != nil {
		return nil, err
	}

	c.Industry = derefString(industry)
	c.BusinessModel = derefString(businessModel)
	c.BrandVoice = models.ParseBrandVoice(voice)
	if len(kpisJSON) > 0 {
		if err := json.Unmarshal(kpisJSON, &c.PrimaryKPIs); err != nil {
			return nil, fmt.Errorf("failed to parse primary kpis: %w", err)
		}
	}
	return &c, nil
}

// UpsertTenantConfig inserts or updates a tenant's configuration.
func (s *PostgresStore) UpsertTenantConfig(ctx context.Context, cfg *models.TenantConfig) error {
	kpis, err := json.Marshal(cfg.PrimaryKPIs)
	if err != nil {
		return fmt.Errorf("failed to encode primary kpis: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tenant_configs (tenant_id, display_name, industry, business_model, primary_kpis, brand_voice, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			industry = EXCLUDED.industry,
			business_model = EXCLUDED.business_model,
			primary_kpis = EXCLUDED.primary_kpis,
			brand_voice = EXCLUDED.brand_voice,
			updated_at = NOW()
	`, cfg.TenantID, cfg.DisplayName, nullString(cfg.Industry), nullString(cfg.BusinessModel), kpis,
		string(models.ParseBrandVoice(string(cfg.BrandVoice))))
	if err != nil {
		return fmt.Errorf("failed to upsert tenant config: %w", err)
	}
	return nil
}

// GetCredential returns one credential row or nil if not found.
func (s *PostgresStore) GetCredential(ctx context.Context, tenantID string, service models.CredentialService) (*models.CredentialRecord, error) {
	var r models.CredentialRecord
	var accessToken, refreshToken *string
	var extraJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT tenant_id, service, account_id, access_token, refresh_token, extra
		FROM tenant_credentials WHERE tenant_id = $1 AND service = $2
	`, tenantID, string(service)).Scan(&r.TenantID, &r.Service, &r.AccountID, &accessToken, &refreshToken, &extraJSON)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	r.AccessToken = derefString(accessToken)
	r.RefreshToken = derefString(refreshToken)
	if len(extraJSON) > 0 {
		if err := json.Unmarshal(extraJSON, &r.Extra); err != nil {
			return nil, fmt.Errorf("failed to parse credential extra: %w", err)
		}
	}
	return &r, nil
}

// UpsertCredential inserts or rotates a credential row.
func (s *PostgresStore) UpsertCredential(ctx context.Context, rec *models.CredentialRecord) error {
	extra := rec.Extra
	if extra == nil {
		extra = map[string]string{}
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return fmt.Errorf("failed to encode credential extra: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tenant_credentials (tenant_id, service, account_id, access_token, refresh_token, extra, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (tenant_id, service) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			extra = EXCLUDED.extra,
			updated_at = NOW()
	`, rec.TenantID, string(rec.Service), rec.AccountID, nullString(rec.AccessToken), nullString(rec.RefreshToken), extraJSON)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

// ListCredentialTenants returns tenant ids that have any credential row.
func (s *PostgresStore) ListCredentialTenants(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT tenant_id FROM tenant_credentials ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list credential tenants: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpsertCampaigns inserts or updates campaign metadata.
func (s *PostgresStore) UpsertCampaigns(ctx context.Context, campaigns []models.Campaign) error {
	b := &pgx.Batch{}
	for _, c := range campaigns {
		if !c.Platform.Valid() {
			return ErrInvalidPlatform
		}
		b.Queue(`
			INSERT INTO campaigns (
				platform, tenant_id, campaign_id, account_id, name, objective, status, effective_status,
				bid_strategy, daily_budget, lifetime_budget, start_time, stop_time, raw_data, synced_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (platform, tenant_id, campaign_id) DO UPDATE SET
				account_id = EXCLUDED.account_id,
				name = EXCLUDED.name,
				objective = EXCLUDED.objective,
				status = EXCLUDED.status,
				effective_status = EXCLUDED.effective_status,
				bid_strategy = EXCLUDED.bid_strategy,
				daily_budget = EXCLUDED.daily_budget,
				lifetime_budget = EXCLUDED.lifetime_budget,
				start_time = EXCLUDED.start_time,
				stop_time = EXCLUDED.stop_time,
				raw_data = EXCLUDED.raw_data,
				synced_at = EXCLUDED.synced_at
		`, string(c.Platform), c.TenantID, c.CampaignID, c.AccountID, c.Name,
			nullString(c.Objective), nullString(c.Status), nullString(c.EffectiveStatus), nullString(c.BidStrategy),
			c.DailyBudget, c.LifetimeBudget, c.StartTime, c.StopTime, rawJSON(c.RawData), s.syncedAt(c.SyncedAt))
	}
	return s.sendBatch(ctx, b, "campaign")
}

// UpsertAdSets inserts or updates ad set metadata.
func (s *PostgresStore) UpsertAdSets(ctx context.Context, adSets []models.AdSet) error {
	b := &pgx.Batch{}
	for _, a := range adSets {
		if !a.Platform.Valid() {
			return ErrInvalidPlatform
		}
		b.Queue(`
			INSERT INTO ad_sets (
				platform, tenant_id, adset_id, account_id, campaign_id, name, status,
				optimization_goal, billing_event, bid_amount, daily_budget, targeting, synced_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (platform, tenant_id, adset_id) DO UPDATE SET
				account_id = EXCLUDED.account_id,
				campaign_id = EXCLUDED.campaign_id,
				name = EXCLUDED.name,
				status = EXCLUDED.status,
				optimization_goal = EXCLUDED.optimization_goal,
				billing_event = EXCLUDED.billing_event,
				bid_amount = EXCLUDED.bid_amount,
				daily_budget = EXCLUDED.daily_budget,
				targeting = EXCLUDED.targeting,
				synced_at = EXCLUDED.synced_at
		`, string(a.Platform), a.TenantID, a.AdSetID, a.AccountID, a.CampaignID, a.Name, nullString(a.Status),
			nullString(a.OptimizationGoal), nullString(a.BillingEvent), a.BidAmount, a.DailyBudget,
			rawJSON(a.Targeting), s.syncedAt(a.SyncedAt))
	}
	return s.sendBatch(ctx, b, "ad set")
}

// UpsertCreatives inserts or updates ad creative metadata.
func (s *PostgresStore) UpsertCreatives(ctx context.Context, creatives []models.Creative) error {
	b := &pgx.Batch{}
	for _, c := range creatives {
		if !c.Platform.Valid() {
			return ErrInvalidPlatform
		}
		b.Queue(`
			INSERT INTO creatives (
				platform, tenant_id, ad_id, account_id, ad_name, adset_id, campaign_id, creative_id,
				title, body, image_url, link_url, call_to_action_type, status, synced_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (platform, tenant_id, ad_id) DO UPDATE SET
				account_id = EXCLUDED.account_id,
				ad_name = EXCLUDED.ad_name,
				adset_id = EXCLUDED.adset_id,
				campaign_id = EXCLUDED.campaign_id,
				creative_id = EXCLUDED.creative_id,
				title = EXCLUDED.title,
				body = EXCLUDED.body,
				image_url = EXCLUDED.image_url,
				link_url = EXCLUDED.link_url,
				call_to_action_type = EXCLUDED.call_to_action_type,
				status = EXCLUDED.status,
				synced_at = EXCLUDED.synced_at
		`, string(c.Platform), c.TenantID, c.AdID, c.AccountID, nullString(c.AdName), nullString(c.AdSetID),
			nullString(c.CampaignID), nullString(c.CreativeID), nullString(c.Title), nullString(c.Body),
			nullString(c.ImageURL), nullString(c.LinkURL), nullString(c.CallToActionType), nullString(c.Status),
			s.syncedAt(c.SyncedAt))
	}
	return s.sendBatch(ctx, b, "creative")
}

// ListCampaigns returns a tenant's campaigns. An empty platform matches both.
func (s *PostgresStore) ListCampaigns(ctx context.Context, tenantID string, platform models.Platform) ([]models.Campaign, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT platform, tenant_id, campaign_id, account_id, name, objective, status, effective_status,
			   bid_strategy, daily_budget, lifetime_budget, start_time, stop_time, raw_data, synced_at
		FROM campaigns
		WHERE tenant_id = $1 AND ($2 = '' OR platform = $2)
		ORDER BY name
	`, tenantID, string(platform))
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var out []models.Campaign
	for rows.Next() {
		var c models.Campaign
		var objective, status, effectiveStatus, bidStrategy *string
		var raw []byte
		if err := rows.Scan(
			&c.Platform, &c.TenantID, &c.CampaignID, &c.AccountID, &c.Name,
			&objective, &status, &effectiveStatus, &bidStrategy,
			&c.DailyBudget, &c.LifetimeBudget, &c.StartTime, &c.StopTime, &raw, &c.SyncedAt,
		); err != nil {
			return nil, err
		}
		c.Objective = derefString(objective)
		c.Status = derefString(status)
		c.EffectiveStatus = derefString(effectiveStatus)
		c.BidStrategy = derefString(bidStrategy)
		if len(raw) > 0 {
			c.RawData = raw
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) sendBatch(ctx context.Context, b *pgx.Batch, what string) error {
	if b.Len() == 0 {
		return nil
	}
	br := s.pool.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to upsert %s: %w", what, err)
		}
	}
	return br.Close()
}

func rawJSON(b json.RawMessage) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
