package rectifier

import (
	"encoding/json"
	"testing"

	"github.com/keisium/ccrelay/internal/db/models"
)

const budgetError = `{"error":{"message":"thinking.budget_tokens: Input should be greater than or equal to 1024"}}`

func enabledConfig() models.RectifierConfig {
	return models.RectifierConfig{Enabled: true, RequestThinkingBudget: true}
}

func TestMatchesThinkingBudget(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"canonical", "thinking.budget_tokens: Input should be greater than or equal to 1024", true},
		{"ge form", "thinking budget_tokens must be >= 1024", true},
		{"input should be", "thinking: budget tokens input should be at least 1024", true},
		{"spaces variant", "Invalid thinking budget tokens, expected value greater than or equal to 1024", true},
		{"no thinking", "budget_tokens must be >= 1024", false},
		{"no budget", "thinking must be >= 1024", false},
		{"unrelated 400", "max_tokens: Input should be less than or equal to 8192", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchesThinkingBudget(tt.text); got != tt.want {
				t.Errorf("MatchesThinkingBudget(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestRectifyAddsThinkingAndMaxTokens(t *testing.T) {
	r := New(enabledConfig())
	body := []byte(`{"model":"claude-sonnet-4-5","max_tokens":1024,"messages":[]}`)

	result, rewritten := r.Rectify(body, budgetError)
	if !result.Applied {
		t.Fatal("expected rectification")
	}
	if result.Rule != "thinking_budget" {
		t.Fatalf("rule = %q", result.Rule)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(rewritten, &payload); err != nil {
		t.Fatalf("rewritten body not JSON: %v", err)
	}
	thinking := payload["thinking"].(map[string]interface{})
	if thinking["type"] != "enabled" {
		t.Errorf("thinking.type = %v", thinking["type"])
	}
	if thinking["budget_tokens"].(float64) != 32000 {
		t.Errorf("budget_tokens = %v", thinking["budget_tokens"])
	}
	if payload["max_tokens"].(float64) != 64000 {
		t.Errorf("max_tokens = %v, want raised to 64000", payload["max_tokens"])
	}

	if string(result.Before) != string(body) {
		t.Error("before snapshot must be the original body")
	}
	if string(result.After) != string(rewritten) {
		t.Error("after snapshot must match the rewritten body")
	}
}

func TestRectifyKeepsLargeMaxTokens(t *testing.T) {
	r := New(enabledConfig())
	body := []byte(`{"model":"m","max_tokens":100000}`)

	result, rewritten := r.Rectify(body, budgetError)
	if !result.Applied {
		t.Fatal("expected rectification")
	}
	var payload map[string]interface{}
	json.Unmarshal(rewritten, &payload)
	if payload["max_tokens"].(float64) != 100000 {
		t.Errorf("max_tokens = %v, want untouched 100000", payload["max_tokens"])
	}
}

func TestRectifyIdempotent(t *testing.T) {
	r := New(enabledConfig())
	body := []byte(`{"model":"m","max_tokens":1024}`)

	_, once := r.Rectify(body, budgetError)
	result, twice := r.Rectify(once, budgetError)
	if !result.Applied {
		t.Fatal("second pass still matches the pattern")
	}

	var a, b map[string]interface{}
	json.Unmarshal(once, &a)
	json.Unmarshal(twice, &b)
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	if string(aj) != string(bj) {
		t.Fatalf("rectification not idempotent:\nonce:  %s\ntwice: %s", aj, bj)
	}
}

func TestRectifySkipsAdaptiveThinking(t *testing.T) {
	r := New(enabledConfig())
	body := []byte(`{"model":"m","thinking":{"type":"adaptive"}}`)

	result, rewritten := r.Rectify(body, budgetError)
	if result.Applied {
		t.Fatal("adaptive thinking must not be rewritten")
	}
	if string(rewritten) != string(body) {
		t.Fatal("body must be unchanged")
	}
}

func TestRectifyRespectsConfig(t *testing.T) {
	body := []byte(`{"model":"m"}`)

	disabled := New(models.RectifierConfig{Enabled: false, RequestThinkingBudget: true})
	if result, _ := disabled.Rectify(body, budgetError); result.Applied {
		t.Error("disabled rectifier must not apply")
	}

	noBudget := New(models.RectifierConfig{Enabled: true, RequestThinkingBudget: false})
	if result, _ := noBudget.Rectify(body, budgetError); result.Applied {
		t.Error("budget rule off must not apply")
	}
}

func TestRectifyIgnoresNonMatchingError(t *testing.T) {
	r := New(enabledConfig())
	body := []byte(`{"model":"m"}`)
	result, rewritten := r.Rectify(body, `{"error":"rate limited"}`)
	if result.Applied {
		t.Fatal("non-matching error must not rectify")
	}
	if string(rewritten) != string(body) {
		t.Fatal("body must pass through")
	}
}

func TestRectifyBrokenBodyPassesThrough(t *testing.T) {
	r := New(enabledConfig())
	body := []byte(`not json`)
	result, rewritten := r.Rectify(body, budgetError)
	if result.Applied {
		t.Fatal("unparseable body must not claim rectification")
	}
	if string(rewritten) != string(body) {
		t.Fatal("body must pass through")
	}
}
