// Package rectifier rewrites request bodies to satisfy upstream validation
// quirks so a rejected call can be retried on the same provider. Today one
// pattern is known: relays that demand a thinking budget of at least 1024
// tokens on requests that did not ask for extended thinking.
package rectifier

import (
	"encoding/json"
	"log"
	"strings"

	"github.com/keisium/ccrelay/internal/db/models"
)

const (
	rectifiedBudgetTokens = 32000
	rectifiedMaxTokens    = 64000
)

// Result captures one rectification for the audit trail.
type Result struct {
	Applied bool
	Rule    string
	Before  json.RawMessage
	After   json.RawMessage
}

// Rectifier holds the config snapshot for one request.
type Rectifier struct {
	cfg models.RectifierConfig
}

// New builds a rectifier from the stored config.
func New(cfg models.RectifierConfig) *Rectifier {
	return &Rectifier{cfg: cfg}
}

// MatchesThinkingBudget reports whether an upstream error text is the
// thinking-budget validation failure.
func MatchesThinkingBudget(errorText string) bool {
	text := strings.ToLower(errorText)
	if !strings.Contains(text, "thinking") {
		return false
	}
	if !strings.Contains(text, "budget_tokens") && !strings.Contains(text, "budget tokens") {
		return false
	}
	if strings.Contains(text, "greater than or equal to 1024") {
		return true
	}
	if strings.Contains(text, ">= 1024") {
		return true
	}
	return strings.Contains(text, "1024") && strings.Contains(text, "input should be")
}

// Rectify inspects an upstream rejection and, when the pattern matches and
// the config allows it, returns the rewritten body. A request body whose
// thinking.type is "adaptive" is left alone: the client asked for that mode
// on purpose.
func (r *Rectifier) Rectify(body []byte, upstreamError string) (Result, []byte) {
	if !r.cfg.Enabled || !r.cfg.RequestThinkingBudget {
		return Result{}, body
	}
	if !MatchesThinkingBudget(upstreamError) {
		return Result{}, body
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Result{}, body
	}

	if t := thinkingType(payload); t == "adaptive" {
		return Result{}, body
	}

	before := append(json.RawMessage(nil), body...)

	thinking, ok := payload["thinking"].(map[string]interface{})
	if !ok {
		thinking = map[string]interface{}{}
	}
	thinking["type"] = "enabled"
	thinking["budget_tokens"] = rectifiedBudgetTokens
	payload["thinking"] = thinking

	if maxTokens, ok := payload["max_tokens"].(float64); !ok || maxTokens < rectifiedBudgetTokens+1 {
		payload["max_tokens"] = rectifiedMaxTokens
	}

	after, err := json.Marshal(payload)
	if err != nil {
		return Result{}, body
	}

	log.Printf("🔧 Rectified thinking budget (budget_tokens=%d)", rectifiedBudgetTokens)
	return Result{
		Applied: true,
		Rule:    "thinking_budget",
		Before:  before,
		After:   after,
	}, after
}

func thinkingType(payload map[string]interface{}) string {
	thinking, ok := payload["thinking"].(map[string]interface{})
	if !ok {
		return ""
	}
	t, _ := thinking["type"].(string)
	return t
}
