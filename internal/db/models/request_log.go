package models

// RequestLog stores one row per completed client request for monitoring
// and cost accounting. Written exactly once, asynchronously.
type RequestLog struct {
	ID           string `gorm:"primaryKey" json:"id"`
	Timestamp    int64  `gorm:"index" json:"timestamp"` // unix millis
	AppType      string `gorm:"index" json:"app_type"`
	ProviderID   string `gorm:"index" json:"provider_id"`
	ProviderName string `json:"provider_name,omitempty"`
	RequestModel string `gorm:"index" json:"request_model,omitempty"`
	MappedModel  string `json:"mapped_model,omitempty"`
	ClientFormat string `json:"client_format"`
	IsStream     bool   `json:"is_stream"`
	DurationMS   int64  `json:"duration_ms"`
	Status       int    `json:"status"`

	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheReadTokens     int64 `json:"cache_read_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_tokens"`

	// CostTotal is a decimal string; empty when the model has no pricing.
	CostTotal     string `json:"cost_total,omitempty"`
	CostBreakdown string `gorm:"type:text" json:"cost_breakdown,omitempty"` // JSON

	Error string `gorm:"type:text" json:"error,omitempty"`
}

// RequestStats holds aggregated statistics over the request log.
type RequestStats struct {
	TotalRequests int64 `json:"total_requests"`
	SuccessCount  int64 `json:"success_count"`
	ErrorCount    int64 `json:"error_count"`
}
