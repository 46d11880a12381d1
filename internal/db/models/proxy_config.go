package models

import "time"

// ProxyConfig holds the per-app proxy behavior knobs. One row per app type.
type ProxyConfig struct {
	AppType             string `gorm:"primaryKey" json:"app_type"`
	Enabled             bool   `gorm:"default:true" json:"enabled"`
	AutoFailoverEnabled bool   `gorm:"default:true" json:"auto_failover_enabled"`
	MaxRetries          int    `gorm:"default:3" json:"max_retries"`

	// Timeouts in seconds. StreamingIdleTimeout = 0 disables the idle guard.
	StreamingFirstByteTimeout int `gorm:"default:60" json:"streaming_first_byte_timeout"`
	StreamingIdleTimeout      int `gorm:"default:120" json:"streaming_idle_timeout"`
	NonStreamingTimeout       int `gorm:"default:600" json:"non_streaming_timeout"`

	CircuitFailureThreshold   int     `gorm:"default:5" json:"circuit_failure_threshold"`
	CircuitSuccessThreshold   int     `gorm:"default:2" json:"circuit_success_threshold"`
	CircuitTimeoutSeconds     int     `gorm:"default:60" json:"circuit_timeout_seconds"`
	CircuitErrorRateThreshold float64 `gorm:"default:0.5" json:"circuit_error_rate_threshold"`
	CircuitMinRequests        int     `gorm:"default:10" json:"circuit_min_requests"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultProxyConfig returns the defaults used when an app has no stored row.
func DefaultProxyConfig(appType string) ProxyConfig {
	return ProxyConfig{
		AppType:                   appType,
		Enabled:                   true,
		AutoFailoverEnabled:       true,
		MaxRetries:                3,
		StreamingFirstByteTimeout: 60,
		StreamingIdleTimeout:      120,
		NonStreamingTimeout:       600,
		CircuitFailureThreshold:   5,
		CircuitSuccessThreshold:   2,
		CircuitTimeoutSeconds:     60,
		CircuitErrorRateThreshold: 0.5,
		CircuitMinRequests:        10,
	}
}

// Normalize clamps stored values into their documented ranges:
// first-byte timeout >= 1s, min requests >= 1, 0 < error rate <= 1.
func (c *ProxyConfig) Normalize() {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.StreamingFirstByteTimeout < 1 {
		c.StreamingFirstByteTimeout = 1
	}
	if c.StreamingIdleTimeout < 0 {
		c.StreamingIdleTimeout = 0
	}
	if c.NonStreamingTimeout < 1 {
		c.NonStreamingTimeout = 600
	}
	if c.CircuitFailureThreshold < 1 {
		c.CircuitFailureThreshold = 5
	}
	if c.CircuitSuccessThreshold < 1 {
		c.CircuitSuccessThreshold = 1
	}
	if c.CircuitTimeoutSeconds < 1 {
		c.CircuitTimeoutSeconds = 60
	}
	if c.CircuitErrorRateThreshold <= 0 || c.CircuitErrorRateThreshold > 1 {
		c.CircuitErrorRateThreshold = 0.5
	}
	if c.CircuitMinRequests < 1 {
		c.CircuitMinRequests = 1
	}
}
