package upstream

import (
	"testing"
)

func TestValidateProxyURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"http://127.0.0.1:7890", false},
		{"https://proxy.example.com:443", false},
		{"socks5://127.0.0.1:1080", false},
		{"ftp://127.0.0.1:21", true},
		{"127.0.0.1:7890", true},
		{"http://", true},
		{"://bad", true},
	}
	for _, tt := range tests {
		err := ValidateProxyURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateProxyURL(%q) err=%v, wantErr=%v", tt.url, err, tt.wantErr)
		}
	}
}

func TestApplyProxySwapsClient(t *testing.T) {
	c := NewClient()
	before := c.HTTPClient()

	if err := c.ApplyProxy("http://127.0.0.1:7890"); err != nil {
		t.Fatalf("ApplyProxy: %v", err)
	}
	if c.CurrentProxyURL() != "http://127.0.0.1:7890" {
		t.Fatalf("proxy URL not recorded: %q", c.CurrentProxyURL())
	}
	after := c.HTTPClient()
	if before == after {
		t.Fatal("expected a fresh client after proxy change")
	}

	if err := c.ApplyProxy(""); err != nil {
		t.Fatalf("ApplyProxy clear: %v", err)
	}
	if c.CurrentProxyURL() != "" {
		t.Fatalf("proxy URL not cleared: %q", c.CurrentProxyURL())
	}
}

func TestApplyProxyRejectsBadURL(t *testing.T) {
	c := NewClient()
	keep := c.HTTPClient()

	if err := c.ApplyProxy("ftp://127.0.0.1"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
	if c.HTTPClient() != keep {
		t.Fatal("failed apply must leave the client untouched")
	}
}

func TestClientForOverride(t *testing.T) {
	c := NewClient()

	shared, err := c.ClientFor("")
	if err != nil {
		t.Fatalf("ClientFor empty: %v", err)
	}
	if shared != c.HTTPClient() {
		t.Fatal("empty override should return the shared client")
	}

	override, err := c.ClientFor("socks5://127.0.0.1:1080")
	if err != nil {
		t.Fatalf("ClientFor override: %v", err)
	}
	if override == shared {
		t.Fatal("override should build a transient client")
	}
	if override.Timeout != 0 {
		t.Fatalf("override timeout = %s, want none (deadlines come from request contexts)", override.Timeout)
	}

	if _, err := c.ClientFor("bogus://x"); err == nil {
		t.Fatal("expected error for invalid override")
	}
}

func TestNewClientWithProxyFallsBackOnBadURL(t *testing.T) {
	c := NewClientWithProxy("not-a-proxy")
	if c.CurrentProxyURL() != "" {
		t.Fatalf("bad persisted proxy should fall back to direct, got %q", c.CurrentProxyURL())
	}
}
