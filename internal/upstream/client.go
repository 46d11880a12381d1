// Package upstream owns the process-wide HTTP client used for all provider
// traffic, including the hot-swappable outbound proxy.
package upstream

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// DialTimeout bounds connection establishment and the TLS handshake.
// There is no whole-exchange timeout on the client itself: non-streaming
// calls get a context deadline from the forwarder, and streams are bounded
// by the first-byte and idle guards so a slow generation is never cut off
// mid-answer.
const DialTimeout = 30 * time.Second

// Client wraps the shared http.Client and lets the proxy URL be swapped at
// runtime. Requests already in flight keep the transport they started with.
type Client struct {
	mu         sync.RWMutex
	httpClient *http.Client
	proxyURL   string
}

// NewClient builds the shared client with direct egress.
func NewClient() *Client {
	return &Client{httpClient: newHTTPClient("")}
}

// NewClientWithProxy builds the shared client with an initial proxy, used at
// startup to restore a persisted setting. Invalid URLs fall back to direct.
func NewClientWithProxy(proxyURL string) *Client {
	if proxyURL != "" {
		if err := ValidateProxyURL(proxyURL); err != nil {
			log.Printf("⚠️ Ignoring persisted proxy %q: %v", proxyURL, err)
			proxyURL = ""
		}
	}
	return &Client{httpClient: newHTTPClient(proxyURL), proxyURL: proxyURL}
}

// newHTTPClient builds an http.Client with the standard transport knobs.
// proxyURL must be empty or already validated.
func newHTTPClient(proxyURL string) *http.Client {
	dialer := &net.Dialer{
		Timeout:   DialTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: DialTimeout,
	}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &http.Client{Transport: transport}
}

// ValidateProxyURL checks a proxy URL for scheme and host.
func ValidateProxyURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid proxy URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return fmt.Errorf("unsupported proxy scheme %q (want http, https or socks5)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("proxy URL %q has no host", rawURL)
	}
	return nil
}

// ApplyProxy swaps the outbound proxy. Empty string restores direct egress.
func (c *Client) ApplyProxy(rawURL string) error {
	if rawURL != "" {
		if err := ValidateProxyURL(rawURL); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.httpClient = newHTTPClient(rawURL)
	c.proxyURL = rawURL
	c.mu.Unlock()

	if rawURL == "" {
		log.Printf("🔄 Outbound proxy cleared, using direct egress")
	} else {
		log.Printf("🔄 Outbound proxy set to %s", rawURL)
	}
	return nil
}

// HTTPClient returns the current shared client.
func (c *Client) HTTPClient() *http.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.httpClient
}

// CurrentProxyURL returns the active proxy URL, empty when direct.
func (c *Client) CurrentProxyURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.proxyURL
}

// ClientFor returns the http.Client to use for one provider. A per-provider
// proxy override gets a transient client with the same timeouts; empty
// override means the shared client.
func (c *Client) ClientFor(providerProxyURL string) (*http.Client, error) {
	if providerProxyURL == "" {
		return c.HTTPClient(), nil
	}
	if err := ValidateProxyURL(providerProxyURL); err != nil {
		return nil, err
	}
	return newHTTPClient(providerProxyURL), nil
}
