package db

import (
	"fmt"
	"log"
	"strings"

	"github.com/keisium/ccrelay/internal/db/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Default per-million-token list prices in USD. Seeded once into
// model_pricings so cost computation works out of the box; users can
// overwrite rows from the host application.
var defaultPricing = []models.ModelPricing{
	{ModelID: "claude-opus-4-5", InputPrice: dec("5"), OutputPrice: dec("25"), CacheCreationPrice: dec("6.25"), CacheReadPrice: dec("0.5"), IsActive: true},
	{ModelID: "claude-opus-4-1", InputPrice: dec("15"), OutputPrice: dec("75"), CacheCreationPrice: dec("18.75"), CacheReadPrice: dec("1.5"), IsActive: true},
	{ModelID: "claude-sonnet-4-5", InputPrice: dec("3"), OutputPrice: dec("15"), CacheCreationPrice: dec("3.75"), CacheReadPrice: dec("0.3"), IsActive: true},
	{ModelID: "claude-sonnet-4", InputPrice: dec("3"), OutputPrice: dec("15"), CacheCreationPrice: dec("3.75"), CacheReadPrice: dec("0.3"), IsActive: true},
	{ModelID: "claude-haiku-4-5", InputPrice: dec("1"), OutputPrice: dec("5"), CacheCreationPrice: dec("1.25"), CacheReadPrice: dec("0.1"), IsActive: true},
	{ModelID: "claude-3-5-haiku", InputPrice: dec("0.8"), OutputPrice: dec("4"), CacheCreationPrice: dec("1"), CacheReadPrice: dec("0.08"), IsActive: true},
	{ModelID: "gpt-5", InputPrice: dec("1.25"), OutputPrice: dec("10"), CacheCreationPrice: dec("0"), CacheReadPrice: dec("0.125"), IsActive: true},
	{ModelID: "gpt-5-mini", InputPrice: dec("0.25"), OutputPrice: dec("2"), CacheCreationPrice: dec("0"), CacheReadPrice: dec("0.025"), IsActive: true},
	{ModelID: "gpt-5-codex", InputPrice: dec("1.25"), OutputPrice: dec("10"), CacheCreationPrice: dec("0"), CacheReadPrice: dec("0.125"), IsActive: true},
	{ModelID: "gemini-2.5-pro", InputPrice: dec("1.25"), OutputPrice: dec("10"), CacheCreationPrice: dec("0"), CacheReadPrice: dec("0.31"), IsActive: true},
	{ModelID: "gemini-2.5-flash", InputPrice: dec("0.3"), OutputPrice: dec("2.5"), CacheCreationPrice: dec("0"), CacheReadPrice: dec("0.075"), IsActive: true},
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("bad pricing constant %q: %v", s, err))
	}
	return d
}

// seedDefaultPricing inserts the default price table on first run.
// Existing rows are never touched so user edits survive restarts.
func seedDefaultPricing(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.ModelPricing{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count model pricing: %w", err)
	}
	if count > 0 {
		return nil
	}

	for _, p := range defaultPricing {
		row := p
		if err := db.Create(&row).Error; err != nil {
			return fmt.Errorf("seed pricing for %s: %w", p.ModelID, err)
		}
	}
	log.Printf("💾 Seeded %d default model pricing rows", len(defaultPricing))
	return nil
}

// GetModelPricing resolves pricing for a concrete model id. Exact match
// first, then the longest prefix match so dated ids like
// claude-sonnet-4-5-20250929 hit their family row. Missing or inactive
// models return (nil, false) and the caller records zero cost.
func (s *Store) GetModelPricing(modelID string) (*models.ModelPricing, bool) {
	if modelID == "" {
		return nil, false
	}

	var exact models.ModelPricing
	if err := s.db.Where("model_id = ? AND is_active = ?", modelID, true).First(&exact).Error; err == nil {
		return &exact, true
	}

	var all []models.ModelPricing
	if err := s.db.Where("is_active = ?", true).Find(&all).Error; err != nil {
		return nil, false
	}

	var best *models.ModelPricing
	for i := range all {
		row := &all[i]
		if !strings.HasPrefix(modelID, row.ModelID) {
			continue
		}
		if best == nil || len(row.ModelID) > len(best.ModelID) {
			best = row
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// UpsertModelPricing creates or replaces one pricing row.
func (s *Store) UpsertModelPricing(row models.ModelPricing) error {
	return s.db.Save(&row).Error
}
