// Package usage extracts token counts from upstream replies and prices them.
package usage

import (
	"encoding/json"

	"github.com/keisium/ccrelay/internal/proxy/protocol"
)

// TokenUsage is the normalized token tally of one request.
type TokenUsage struct {
	InputTokens         int64  `json:"input_tokens"`
	OutputTokens        int64  `json:"output_tokens"`
	CacheReadTokens     int64  `json:"cache_read_tokens"`
	CacheCreationTokens int64  `json:"cache_creation_tokens"`
	Model               string `json:"model,omitempty"` // model named by the response
}

// IsZero reports whether nothing was extracted.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 &&
		u.CacheReadTokens == 0 && u.CacheCreationTokens == 0
}

// FromEvents extracts usage from the accumulated SSE events of a stream.
func FromEvents(format protocol.Format, events []map[string]interface{}) TokenUsage {
	var u TokenUsage
	switch format {
	case protocol.FormatClaude:
		for _, ev := range events {
			mergeClaudeEvent(&u, ev)
		}
	case protocol.FormatOpenAI, protocol.FormatCodex:
		for _, ev := range events {
			mergeOpenAIEvent(&u, ev)
		}
	case protocol.FormatGemini:
		for _, ev := range events {
			mergeGeminiEvent(&u, ev)
		}
	}
	return u
}

// FromResponseBody extracts usage from a non-streaming JSON reply.
func FromResponseBody(format protocol.Format, body []byte) TokenUsage {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return TokenUsage{}
	}

	var u TokenUsage
	switch format {
	case protocol.FormatClaude:
		if model, ok := payload["model"].(string); ok {
			u.Model = model
		}
		if usage, ok := payload["usage"].(map[string]interface{}); ok {
			applyClaudeUsage(&u, usage)
		}
	case protocol.FormatOpenAI, protocol.FormatCodex:
		mergeOpenAIEvent(&u, payload)
	case protocol.FormatGemini:
		mergeGeminiEvent(&u, payload)
	}
	return u
}

// mergeClaudeEvent folds one Claude stream event into the tally.
// message_start carries input and cache counts plus the model;
// message_delta carries the cumulative output count, so later values
// overwrite earlier ones.
func mergeClaudeEvent(u *TokenUsage, ev map[string]interface{}) {
	evType, _ := ev["type"].(string)
	switch evType {
	case "message_start":
		message, ok := ev["message"].(map[string]interface{})
		if !ok {
			return
		}
		if model, ok := message["model"].(string); ok && model != "" {
			u.Model = model
		}
		if usage, ok := message["usage"].(map[string]interface{}); ok {
			applyClaudeUsage(u, usage)
		}
	case "message_delta":
		usage, ok := ev["usage"].(map[string]interface{})
		if !ok {
			return
		}
		applyClaudeUsage(u, usage)
	}
}

// applyClaudeUsage overwrites fields present in a Claude usage object.
func applyClaudeUsage(u *TokenUsage, usage map[string]interface{}) {
	if v, ok := intField(usage, "input_tokens"); ok {
		u.InputTokens = v
	}
	if v, ok := intField(usage, "output_tokens"); ok {
		u.OutputTokens = v
	}
	if v, ok := intField(usage, "cache_read_input_tokens"); ok {
		u.CacheReadTokens = v
	}
	if v, ok := intField(usage, "cache_creation_input_tokens"); ok {
		u.CacheCreationTokens = v
	}
}

// mergeOpenAIEvent folds one OpenAI or Codex event into the tally. Chat
// completions name the fields prompt/completion, the responses API
// input/output; a terminal event carries the totals and wins.
func mergeOpenAIEvent(u *TokenUsage, ev map[string]interface{}) {
	if model, ok := ev["model"].(string); ok && model != "" {
		u.Model = model
	}

	container := ev
	if response, ok := ev["response"].(map[string]interface{}); ok {
		container = response
		if model, ok := response["model"].(string); ok && model != "" {
			u.Model = model
		}
	}

	usage, ok := container["usage"].(map[string]interface{})
	if !ok || usage == nil {
		return
	}

	if v, ok := intField(usage, "input_tokens"); ok {
		u.InputTokens = v
	} else if v, ok := intField(usage, "prompt_tokens"); ok {
		u.InputTokens = v
	}
	if v, ok := intField(usage, "output_tokens"); ok {
		u.OutputTokens = v
	} else if v, ok := intField(usage, "completion_tokens"); ok {
		u.OutputTokens = v
	}

	if details, ok := usage["input_tokens_details"].(map[string]interface{}); ok {
		if v, ok := intField(details, "cached_tokens"); ok {
			u.CacheReadTokens = v
		}
	} else if details, ok := usage["prompt_tokens_details"].(map[string]interface{}); ok {
		if v, ok := intField(details, "cached_tokens"); ok {
			u.CacheReadTokens = v
		}
	}
}

// mergeGeminiEvent folds one Gemini chunk into the tally; the last chunk
// carrying usageMetadata wins. Thought tokens bill as output.
func mergeGeminiEvent(u *TokenUsage, ev map[string]interface{}) {
	container := ev
	if response, ok := ev["response"].(map[string]interface{}); ok {
		container = response
	}

	if model, ok := container["modelVersion"].(string); ok && model != "" {
		u.Model = model
	}

	meta, ok := container["usageMetadata"].(map[string]interface{})
	if !ok || meta == nil {
		return
	}

	if v, ok := intField(meta, "promptTokenCount"); ok {
		u.InputTokens = v
	}
	output, hasOutput := intField(meta, "candidatesTokenCount")
	if thoughts, ok := intField(meta, "thoughtsTokenCount"); ok {
		output += thoughts
		hasOutput = true
	}
	if hasOutput {
		u.OutputTokens = output
	}
	if v, ok := intField(meta, "cachedContentTokenCount"); ok {
		u.CacheReadTokens = v
	}
}

func intField(m map[string]interface{}, key string) (int64, bool) {
	v, ok := m[key].(float64)
	if !ok {
		return 0, false
	}
	return int64(v), true
}
