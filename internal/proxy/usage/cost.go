package usage

import (
	"github.com/keisium/ccrelay/internal/db/models"
	"github.com/shopspring/decimal"
)

// costScale is the decimal resolution of computed costs.
const costScale = 9

var tokensPerPriceUnit = decimal.NewFromInt(1_000_000)

// CostBreakdown is the priced view of one request's usage, in USD.
type CostBreakdown struct {
	InputCost         decimal.Decimal `json:"input_cost"`
	OutputCost        decimal.Decimal `json:"output_cost"`
	CacheReadCost     decimal.Decimal `json:"cache_read_cost"`
	CacheCreationCost decimal.Decimal `json:"cache_creation_cost"`
	TotalCost         decimal.Decimal `json:"total_cost"`
}

// ComputeCost prices a usage tally. Prices are per million tokens; the
// multiplier scales the final numbers for discounted relays. Cache-read
// tokens are carved out of input so they are not billed twice, clamped at
// zero when a provider reports more cached than input tokens.
func ComputeCost(u TokenUsage, pricing *models.ModelPricing, multiplier decimal.Decimal) *CostBreakdown {
	if pricing == nil {
		return nil
	}

	billableInput := u.InputTokens - u.CacheReadTokens
	if billableInput < 0 {
		billableInput = 0
	}

	breakdown := &CostBreakdown{
		InputCost:         tokenCost(billableInput, pricing.InputPrice, multiplier),
		OutputCost:        tokenCost(u.OutputTokens, pricing.OutputPrice, multiplier),
		CacheReadCost:     tokenCost(u.CacheReadTokens, pricing.CacheReadPrice, multiplier),
		CacheCreationCost: tokenCost(u.CacheCreationTokens, pricing.CacheCreationPrice, multiplier),
	}
	breakdown.TotalCost = breakdown.InputCost.
		Add(breakdown.OutputCost).
		Add(breakdown.CacheReadCost).
		Add(breakdown.CacheCreationCost)
	return breakdown
}

func tokenCost(tokens int64, pricePerMillion, multiplier decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(tokens).
		Mul(pricePerMillion).
		Div(tokensPerPriceUnit).
		Mul(multiplier).
		Round(costScale)
}
