package models

import "time"

// ProviderHealth is the persisted health row for one (provider, app) pair.
// Updated best-effort after every forwarding attempt.
type ProviderHealth struct {
	ProviderID          string     `gorm:"primaryKey" json:"provider_id"`
	AppType             string     `gorm:"primaryKey" json:"app_type"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Healthy             bool       `json:"healthy"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	LastError           string     `gorm:"type:text" json:"last_error,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}
