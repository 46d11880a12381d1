package models

import "time"

// Config stores key/value application state: the current provider per app,
// the live config backup per app, the outbound proxy URL and the rectifier
// settings blob.
type Config struct {
	Key       string `gorm:"primaryKey"` // Config key name
	Value     string `gorm:"type:text"`  // Config value
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RectifierConfig controls the request-body rectifier. Stored as a JSON blob
// under the "rectifier_config" config key.
type RectifierConfig struct {
	Enabled                  bool `json:"enabled"`
	RequestThinkingSignature bool `json:"request_thinking_signature"`
	RequestThinkingBudget    bool `json:"request_thinking_budget"`
}

// DefaultRectifierConfig enables only the thinking-budget rewrite.
func DefaultRectifierConfig() RectifierConfig {
	return RectifierConfig{
		Enabled:               true,
		RequestThinkingBudget: true,
	}
}
