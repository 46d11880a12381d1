package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ModelPricing stores USD prices per million tokens for one model.
// Decimal columns are persisted as text so SQLite round-trips them exactly.
type ModelPricing struct {
	ModelID            string          `gorm:"primaryKey" json:"model_id"`
	ModelName          string          `json:"model_name"`
	InputPrice         decimal.Decimal `gorm:"type:text" json:"input_price"`
	OutputPrice        decimal.Decimal `gorm:"type:text" json:"output_price"`
	CacheReadPrice     decimal.Decimal `gorm:"type:text" json:"cache_read_price"`
	CacheCreationPrice decimal.Decimal `gorm:"type:text" json:"cache_creation_price"`
	IsActive           bool            `json:"is_active"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}
