package adapters

import (
	"fmt"
	"net/http"

	"github.com/keisium/ccrelay/internal/db/models"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

// AnthropicAdapter serves Claude providers that authenticate with an API key
// in the x-api-key header, the way api.anthropic.com and most compatible
// relays expect.
type AnthropicAdapter struct {
	transparent
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

func (a *AnthropicAdapter) BaseURL(p *models.Provider) (string, error) {
	return claudeBaseURL(p), nil
}

func (a *AnthropicAdapter) Credential(p *models.Provider) (string, error) {
	key := claudeAPIKey(p)
	if key == "" {
		return "", fmt.Errorf("provider %s has no API key configured", p.Name)
	}
	return key, nil
}

func (a *AnthropicAdapter) BuildURL(base, endpoint string) string {
	return JoinURL(base, endpoint)
}

func (a *AnthropicAdapter) AddAuthHeaders(req *http.Request, cred string) {
	req.Header.Set("x-api-key", cred)
	req.Header.Set("anthropic-version", anthropicVersion)
}

// ClaudeBearerAdapter serves Claude relays that only accept
// Authorization: Bearer, matching what the CLI sends for ANTHROPIC_AUTH_TOKEN.
type ClaudeBearerAdapter struct {
	transparent
}

func (a *ClaudeBearerAdapter) Name() string { return "claude-bearer" }

func (a *ClaudeBearerAdapter) BaseURL(p *models.Provider) (string, error) {
	return claudeBaseURL(p), nil
}

func (a *ClaudeBearerAdapter) Credential(p *models.Provider) (string, error) {
	key := claudeAPIKey(p)
	if key == "" {
		return "", fmt.Errorf("provider %s has no auth token configured", p.Name)
	}
	return key, nil
}

func (a *ClaudeBearerAdapter) BuildURL(base, endpoint string) string {
	return JoinURL(base, endpoint)
}

func (a *ClaudeBearerAdapter) AddAuthHeaders(req *http.Request, cred string) {
	req.Header.Set("Authorization", "Bearer "+cred)
}

func claudeBaseURL(p *models.Provider) string {
	settings := p.Settings()
	if u := settings.Env["ANTHROPIC_BASE_URL"]; u != "" {
		return u
	}
	if settings.BaseURL != "" {
		return settings.BaseURL
	}
	return defaultAnthropicBaseURL
}

func claudeAPIKey(p *models.Provider) string {
	settings := p.Settings()
	if settings.APIKey != "" {
		return settings.APIKey
	}
	if k := settings.Env["ANTHROPIC_AUTH_TOKEN"]; k != "" {
		return k
	}
	return settings.Env["ANTHROPIC_API_KEY"]
}
