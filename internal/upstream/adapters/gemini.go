package adapters

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/keisium/ccrelay/internal/db/models"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	// tokenRefreshMargin refreshes shortly before expiry so requests never
	// carry a token that dies mid-stream.
	tokenRefreshMargin = 5 * time.Minute
)

// GeminiKeyAdapter serves Gemini providers with a plain API key in the
// x-goog-api-key header.
type GeminiKeyAdapter struct {
	transparent
}

func (a *GeminiKeyAdapter) Name() string { return "gemini-key" }

func (a *GeminiKeyAdapter) BaseURL(p *models.Provider) (string, error) {
	return geminiBaseURL(p), nil
}

func (a *GeminiKeyAdapter) Credential(p *models.Provider) (string, error) {
	settings := p.Settings()
	key := settings.APIKey
	if key == "" {
		key = settings.Env["GEMINI_API_KEY"]
	}
	if key == "" {
		key = settings.Env["GOOGLE_API_KEY"]
	}
	if key == "" {
		return "", fmt.Errorf("provider %s has no API key configured", p.Name)
	}
	return key, nil
}

// BuildURL passes the client path-and-query through untouched so action
// suffixes like :streamGenerateContent?alt=sse survive.
func (a *GeminiKeyAdapter) BuildURL(base, endpoint string) string {
	return JoinURL(base, endpoint)
}

func (a *GeminiKeyAdapter) AddAuthHeaders(req *http.Request, cred string) {
	req.Header.Set("x-goog-api-key", cred)
}

// GeminiOAuthAdapter serves Gemini providers that authenticate with Google
// OAuth. Access tokens are cached per provider and refreshed through the
// stored refresh token when they near expiry.
type GeminiOAuthAdapter struct {
	transparent

	mu    sync.RWMutex
	cache map[string]*cachedToken
}

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

// NewGeminiOAuthAdapter builds the adapter with an empty token cache.
func NewGeminiOAuthAdapter() *GeminiOAuthAdapter {
	return &GeminiOAuthAdapter{cache: make(map[string]*cachedToken)}
}

func (a *GeminiOAuthAdapter) Name() string { return "gemini-oauth" }

func (a *GeminiOAuthAdapter) BaseURL(p *models.Provider) (string, error) {
	return geminiBaseURL(p), nil
}

// Credential returns a live access token, refreshing it when the cached or
// stored one is within the expiry margin.
func (a *GeminiOAuthAdapter) Credential(p *models.Provider) (string, error) {
	a.mu.RLock()
	cached, ok := a.cache[p.ID]
	a.mu.RUnlock()
	if ok && time.Now().Before(cached.expiresAt.Add(-tokenRefreshMargin)) {
		return cached.accessToken, nil
	}

	settings := p.Settings()
	creds := settings.OAuth
	if creds == nil {
		return "", fmt.Errorf("provider %s has no OAuth credentials", p.Name)
	}

	// The stored access token may still be fresh if the UI refreshed it.
	storedExpiry := time.UnixMilli(creds.ExpiresAtMS)
	if creds.AccessToken != "" && creds.ExpiresAtMS > 0 &&
		time.Now().Before(storedExpiry.Add(-tokenRefreshMargin)) {
		a.storeToken(p.ID, creds.AccessToken, storedExpiry)
		return creds.AccessToken, nil
	}

	if creds.RefreshToken == "" {
		return "", fmt.Errorf("provider %s has an expired token and no refresh token", p.Name)
	}

	token, err := a.refresh(p, creds)
	if err != nil {
		return "", err
	}
	return token.accessToken, nil
}

func (a *GeminiOAuthAdapter) refresh(p *models.Provider, creds *models.OAuthCredentials) (*cachedToken, error) {
	log.Printf("🔄 Refreshing Gemini OAuth token for provider %s", p.Name)

	config := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     googleoauth.Endpoint,
	}
	source := config.TokenSource(context.Background(), &oauth2.Token{
		RefreshToken: creds.RefreshToken,
	})

	token, err := source.Token()
	if err != nil {
		if isPermanentRefreshError(err) {
			a.dropToken(p.ID)
			return nil, fmt.Errorf("refresh token for %s revoked, re-login required: %w", p.Name, err)
		}
		return nil, fmt.Errorf("token refresh for %s failed: %w", p.Name, err)
	}

	cached := a.storeToken(p.ID, token.AccessToken, token.Expiry)
	log.Printf("✅ Refreshed Gemini token for %s (expires %s)", p.Name, token.Expiry.Format(time.RFC3339))
	return cached, nil
}

func (a *GeminiOAuthAdapter) storeToken(providerID, accessToken string, expiresAt time.Time) *cachedToken {
	cached := &cachedToken{accessToken: accessToken, expiresAt: expiresAt}
	a.mu.Lock()
	a.cache[providerID] = cached
	a.mu.Unlock()
	return cached
}

func (a *GeminiOAuthAdapter) dropToken(providerID string) {
	a.mu.Lock()
	delete(a.cache, providerID)
	a.mu.Unlock()
}

// BuildURL passes the client path-and-query through untouched, same as the
// key variant.
func (a *GeminiOAuthAdapter) BuildURL(base, endpoint string) string {
	return JoinURL(base, endpoint)
}

func (a *GeminiOAuthAdapter) AddAuthHeaders(req *http.Request, cred string) {
	req.Header.Set("Authorization", "Bearer "+cred)
}

func geminiBaseURL(p *models.Provider) string {
	settings := p.Settings()
	if u := settings.Env["GOOGLE_GEMINI_BASE_URL"]; u != "" {
		return u
	}
	if settings.BaseURL != "" {
		return settings.BaseURL
	}
	return defaultGeminiBaseURL
}

// isPermanentRefreshError reports whether a refresh failure means the grant
// is gone for good, as opposed to a transient network or server problem.
func isPermanentRefreshError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	markers := []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
	}
	for _, marker := range markers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
