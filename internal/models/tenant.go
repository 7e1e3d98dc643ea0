package models

// InternalTenantID is the reserved tenant for the agency's own ad accounts.
const InternalTenantID = "agency-internal"

// Default KPI targets applied when a tenant leaves one unset.
const (
	DefaultTargetROAS = 3.0
	DefaultTargetCPA  = 50.0
	DefaultTargetCTR  = 1.5
)

// BrandVoice is the tone report generators write in for a tenant.
type BrandVoice string

const (
	BrandVoiceProfessional   BrandVoice = "professional"
	BrandVoiceConversational BrandVoice = "conversational"
	BrandVoiceTechnical      BrandVoice = "technical"
	BrandVoiceFriendly       BrandVoice = "friendly"
)

// ParseBrandVoice maps unknown or empty values to professional.
func ParseBrandVoice(s string) BrandVoice {
	switch v := BrandVoice(s); v {
	case BrandVoiceProfessional, BrandVoiceConversational, BrandVoiceTechnical, BrandVoiceFriendly:
		return v
	default:
		return BrandVoiceProfessional
	}
}

// KPITargets are a tenant's primary performance targets. Each is optional.
type KPITargets struct {
	TargetROAS *float64 `json:"targetRoas,omitempty"`
	TargetCPA  *float64 `json:"targetCpa,omitempty"`
	TargetCTR  *float64 `json:"targetCtr,omitempty"`
	TargetCPC  *float64 `json:"targetCpc,omitempty"`
}

// ROAS returns the target ROAS or the system default.
func (k KPITargets) ROAS() float64 { return valueOr(k.TargetROAS, DefaultTargetROAS) }

// CPA returns the target CPA or the system default.
func (k KPITargets) CPA() float64 { return valueOr(k.TargetCPA, DefaultTargetCPA) }

// CTR returns the target CTR or the system default.
func (k KPITargets) CTR() float64 { return valueOr(k.TargetCTR, DefaultTargetCTR) }

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// TenantConfig is a tenant's business configuration.
type TenantConfig struct {
	TenantID      string     `json:"tenantId"`
	DisplayName   string     `json:"displayName"`
	Industry      string     `json:"industry,omitempty"`
	BusinessModel string     `json:"businessModel,omitempty"`
	PrimaryKPIs   KPITargets `json:"primaryKpis"`
	BrandVoice    BrandVoice `json:"brandVoice"`
}

// MetaCredentials authenticate against the Meta Marketing API.
type MetaCredentials struct {
	AccountID   string `json:"accountId"`
	AccessToken string `json:"accessToken"`
}

// Complete reports whether both fields are present.
func (c *MetaCredentials) Complete() bool {
	return c.AccountID != "" && c.AccessToken != ""
}

// GoogleCredentials authenticate against the Google Ads API.
type GoogleCredentials struct {
	CustomerID      string `json:"customerId"`
	ClientID        string `json:"clientId"`
	ClientSecret    string `json:"clientSecret"`
	RefreshToken    string `json:"refreshToken"`
	DeveloperToken  string `json:"developerToken"`
	LoginCustomerID string `json:"loginCustomerId,omitempty"`
}

// Complete reports whether every required field is present.
func (c *GoogleCredentials) Complete() bool {
	return c.CustomerID != "" && c.ClientID != "" && c.ClientSecret != "" &&
		c.RefreshToken != "" && c.DeveloperToken != ""
}

// TenantContext bundles a tenant's configuration and credentials. Nil
// credentials mean the platform is unavailable for the tenant.
type TenantContext struct {
	Config TenantConfig       `json:"config"`
	Meta   *MetaCredentials   `json:"meta,omitempty"`
	Google *GoogleCredentials `json:"google,omitempty"`
}

// HasPlatform reports whether credentials for p are present.
func (c *TenantContext) HasPlatform(p Platform) bool {
	switch p {
	case PlatformMeta:
		return c.Meta != nil
	case PlatformGoogle:
		return c.Google != nil
	default:
		return false
	}
}

// Redacted returns a copy safe to expose over the API.
func (c *TenantContext) Redacted() TenantContext {
	out := TenantContext{Config: c.Config}
	if c.Meta != nil {
		out.Meta = &MetaCredentials{AccountID: c.Meta.AccountID, AccessToken: mask(c.Meta.AccessToken)}
	}
	if c.Google != nil {
		g := *c.Google
		g.ClientSecret = mask(g.ClientSecret)
		g.RefreshToken = mask(g.RefreshToken)
		g.DeveloperToken = mask(g.DeveloperToken)
		out.Google = &g
	}
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

// CredentialService names a row in the credential store.
type CredentialService string

const (
	ServiceMetaAds   CredentialService = "meta_ads"
	ServiceGoogleAds CredentialService = "google_ads"
)

// CredentialRecord is a stored credential row. Extra holds service-specific
// fields such as Google OAuth client settings.
type CredentialRecord struct {
	TenantID     string            `json:"tenant_id"`
	Service      CredentialService `json:"service"`
	AccountID    string            `json:"account_id"`
	AccessToken  string            `json:"access_token,omitempty"`
	RefreshToken string            `json:"refresh_token,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}
