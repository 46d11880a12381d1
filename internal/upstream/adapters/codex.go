package adapters

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/keisium/ccrelay/internal/db/models"
)

// tomlBaseURL matches a `base_url = "..."` assignment inside TOML text that
// some Codex provider configs embed as a string.
var tomlBaseURL = regexp.MustCompile(`(?m)^\s*base_url\s*=\s*"([^"]+)"`)

// CodexAdapter serves OpenAI-compatible providers for the codex and opencode
// apps: bearer auth, base URL from settings or a nested config blob.
type CodexAdapter struct {
	transparent
}

func (a *CodexAdapter) Name() string { return "codex" }

func (a *CodexAdapter) BaseURL(p *models.Provider) (string, error) {
	settings := p.Settings()
	if settings.BaseURL != "" {
		return settings.BaseURL, nil
	}
	if u := baseURLFromConfig(settings.Config); u != "" {
		return u, nil
	}
	return "", fmt.Errorf("provider %s has no base URL configured", p.Name)
}

func (a *CodexAdapter) Credential(p *models.Provider) (string, error) {
	settings := p.Settings()
	key := settings.APIKey
	if key == "" {
		key = settings.Env["OPENAI_API_KEY"]
	}
	if key == "" {
		return "", fmt.Errorf("provider %s has no API key configured", p.Name)
	}
	return key, nil
}

// BuildURL joins and then collapses an accidental /v1/v1 when both the base
// URL and the client path carry the version segment.
func (a *CodexAdapter) BuildURL(base, endpoint string) string {
	joined := JoinURL(base, endpoint)
	if strings.HasSuffix(joined, "/v1/v1") {
		return strings.TrimSuffix(joined, "/v1")
	}
	return strings.Replace(joined, "/v1/v1/", "/v1/", 1)
}

func (a *CodexAdapter) AddAuthHeaders(req *http.Request, cred string) {
	req.Header.Set("Authorization", "Bearer "+cred)
}

// baseURLFromConfig digs a base URL out of the nested config blob. The blob
// may be a JSON object with a base_url key, or a string holding TOML text
// with a `base_url = "..."` line.
func baseURLFromConfig(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var obj struct {
		BaseURL string `json:"base_url"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.BaseURL != "" {
		return obj.BaseURL
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if m := tomlBaseURL.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}
