// Package adapters maps providers to the URL-building and auth-injection
// rules of their upstream API family. One adapter instance serves all
// providers of its variant; per-provider state lives in the provider row.
package adapters

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/keisium/ccrelay/internal/db/models"
)

// Adapter is the capability set a provider variant implements.
type Adapter interface {
	// Name identifies the variant in logs and request logs.
	Name() string
	// BaseURL extracts the upstream base URL from provider settings.
	BaseURL(p *models.Provider) (string, error)
	// Credential extracts or refreshes the auth material. Failure means the
	// provider cannot be called at all (mapped to an auth error, not a
	// breaker fault).
	Credential(p *models.Provider) (string, error)
	// BuildURL joins base URL and client endpoint.
	BuildURL(base, endpoint string) string
	// AddAuthHeaders injects the credential into an outbound request.
	AddAuthHeaders(req *http.Request, cred string)
	// NeedsTransform reports whether bodies must be rewritten. All current
	// variants are transparent.
	NeedsTransform() bool
	// TransformRequest rewrites the outbound body when NeedsTransform.
	TransformRequest(body []byte, p *models.Provider) ([]byte, error)
	// TransformResponse rewrites the response body when NeedsTransform.
	TransformResponse(body []byte) ([]byte, error)
}

// transparent supplies the identity transform shared by every variant.
type transparent struct{}

func (transparent) NeedsTransform() bool { return false }

func (transparent) TransformRequest(body []byte, _ *models.Provider) ([]byte, error) {
	return body, nil
}

func (transparent) TransformResponse(body []byte) ([]byte, error) {
	return body, nil
}

// JoinURL joins a base URL and an endpoint path: one trailing slash stripped
// from the base, one leading slash from the endpoint.
func JoinURL(base, endpoint string) string {
	base = strings.TrimSuffix(base, "/")
	endpoint = strings.TrimPrefix(endpoint, "/")
	if endpoint == "" {
		return base
	}
	return base + "/" + endpoint
}

// Registry hands out adapter instances. The gemini OAuth adapter keeps a
// token cache, so instances are shared process-wide.
type Registry struct {
	anthropic    *AnthropicAdapter
	claudeBearer *ClaudeBearerAdapter
	codex        *CodexAdapter
	geminiKey    *GeminiKeyAdapter
	geminiOAuth  *GeminiOAuthAdapter
}

// NewRegistry builds the adapter set.
func NewRegistry() *Registry {
	return &Registry{
		anthropic:    &AnthropicAdapter{},
		claudeBearer: &ClaudeBearerAdapter{},
		codex:        &CodexAdapter{},
		geminiKey:    &GeminiKeyAdapter{},
		geminiOAuth:  NewGeminiOAuthAdapter(),
	}
}

// Resolve picks the adapter variant for a provider.
//
// Claude splits on auth mode: an explicit meta.auth_mode wins, otherwise a
// provider whose env carries ANTHROPIC_AUTH_TOKEN gets bearer auth the same
// way the CLI itself would send it, and everyone else gets x-api-key.
// Codex and OpenCode share the OpenAI-compatible variant. Gemini splits on
// whether OAuth credentials are configured.
func (r *Registry) Resolve(p *models.Provider) (Adapter, error) {
	settings := p.Settings()
	meta := p.DecodedMeta()

	switch p.AppType {
	case models.AppClaude:
		switch strings.ToLower(meta.AuthMode) {
		case "bearer", "auth_token":
			return r.claudeBearer, nil
		case "api_key", "x-api-key":
			return r.anthropic, nil
		}
		if settings.Env["ANTHROPIC_AUTH_TOKEN"] != "" {
			return r.claudeBearer, nil
		}
		return r.anthropic, nil

	case models.AppCodex, models.AppOpenCode:
		return r.codex, nil

	case models.AppGemini:
		if strings.EqualFold(meta.AuthMode, "oauth") {
			return r.geminiOAuth, nil
		}
		if o := settings.OAuth; o != nil && (o.RefreshToken != "" || o.AccessToken != "") {
			return r.geminiOAuth, nil
		}
		return r.geminiKey, nil
	}

	return nil, fmt.Errorf("no adapter for app type %q", p.AppType)
}
