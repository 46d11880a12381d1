package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// App types a provider can serve. Each maps to one AI CLI family.
const (
	AppClaude   = "claude"
	AppCodex    = "codex"
	AppGemini   = "gemini"
	AppOpenCode = "opencode"
)

// AllAppTypes lists every supported app type in display order.
var AllAppTypes = []string{AppClaude, AppCodex, AppGemini, AppOpenCode}

// Provider stores one upstream configuration (URL + credentials + model
// overrides) for an app type. Rows are created and edited by the host UI;
// the proxy core only reads them.
type Provider struct {
	ID              string `gorm:"primaryKey"` // UUID
	Name            string `gorm:"index"`
	AppType         string `gorm:"index;not null"`
	SettingsConfig  string `gorm:"type:text"` // opaque JSON: env vars, base_url, api_key, model overrides
	Category        string
	InFailoverQueue bool `gorm:"default:false"`
	SortIndex       *int
	Meta            string `gorm:"type:text"` // JSON: cost multiplier, pricing source, limits, per-provider proxy
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ProviderSettings is the decoded shape of Provider.SettingsConfig.
// Only the fields the proxy core consumes are declared; everything else
// stays in the raw JSON for the UI.
type ProviderSettings struct {
	Env     map[string]string `json:"env,omitempty"`
	BaseURL string            `json:"base_url,omitempty"`
	APIKey  string            `json:"api_key,omitempty"`
	Config  json.RawMessage   `json:"config,omitempty"` // codex: nested config, possibly TOML text
	OAuth   *OAuthCredentials `json:"oauth,omitempty"`
}

// OAuthCredentials carries a stored OAuth token set (Gemini OAuth providers).
type OAuthCredentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAtMS  int64  `json:"expires_at,omitempty"` // unix millis
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// ProviderMeta is the decoded shape of Provider.Meta.
type ProviderMeta struct {
	CostMultiplier     string `json:"cost_multiplier,omitempty"`      // decimal string, default "1"
	PricingModelSource string `json:"pricing_model_source,omitempty"` // "response" or "request"
	DailyLimit         string `json:"daily_limit,omitempty"`
	MonthlyLimit       string `json:"monthly_limit,omitempty"`
	AuthMode           string `json:"auth_mode,omitempty"` // "bearer" forces Authorization header for claude
	ProxyURL           string `json:"proxy,omitempty"`     // per-provider outbound proxy
	TestModel          string `json:"test_model,omitempty"`
}

// Settings decodes SettingsConfig. A missing or malformed blob yields an
// empty settings struct rather than an error: provider rows are UI-owned
// and the core must stay tolerant of partial edits.
func (p *Provider) Settings() ProviderSettings {
	var s ProviderSettings
	if p.SettingsConfig != "" {
		_ = json.Unmarshal([]byte(p.SettingsConfig), &s)
	}
	if s.Env == nil {
		s.Env = map[string]string{}
	}
	return s
}

// DecodedMeta decodes Meta with the same tolerance as Settings.
func (p *Provider) DecodedMeta() ProviderMeta {
	var m ProviderMeta
	if p.Meta != "" {
		_ = json.Unmarshal([]byte(p.Meta), &m)
	}
	return m
}

// CostMultiplier returns the provider's cost multiplier as a decimal,
// defaulting to 1 when unset or unparseable.
func (p *Provider) CostMultiplier() decimal.Decimal {
	m := p.DecodedMeta()
	if strings.TrimSpace(m.CostMultiplier) == "" {
		return decimal.NewFromInt(1)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(m.CostMultiplier))
	if err != nil {
		return decimal.NewFromInt(1)
	}
	return d
}

// FailoverQueueItem is one entry of an app's ordered failover queue.
type FailoverQueueItem struct {
	ProviderID   string `json:"provider_id"`
	ProviderName string `json:"provider_name"`
	SortIndex    *int   `json:"sort_index,omitempty"`
}
