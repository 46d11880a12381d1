package mappers

import (
	"encoding/json"
	"strings"
)

// Env names a Claude provider can set to steer model selection.
const (
	envModel          = "ANTHROPIC_MODEL"
	envReasoningModel = "ANTHROPIC_REASONING_MODEL"
	envHaikuModel     = "ANTHROPIC_DEFAULT_HAIKU_MODEL"
	envSonnetModel    = "ANTHROPIC_DEFAULT_SONNET_MODEL"
	envOpusModel      = "ANTHROPIC_DEFAULT_OPUS_MODEL"
)

// MapModel rewrites body.model according to the provider's env overrides and
// returns the new body plus the original and mapped names. mapped is empty
// when the body is unchanged.
//
// Precedence:
//  1. thinking.type == "enabled" and a reasoning model is set
//  2. family override matching haiku/sonnet/opus in the requested name
//  3. blanket ANTHROPIC_MODEL
//  4. unchanged
func MapModel(body []byte, env map[string]string) (out []byte, original, mapped string) {
	if len(body) == 0 || len(env) == 0 {
		return body, "", ""
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return body, "", ""
	}

	original, _ = payload["model"].(string)
	if original == "" {
		return body, "", ""
	}

	target := pickModel(original, thinkingEnabled(payload), env)
	if target == "" || target == original {
		return body, original, ""
	}

	payload["model"] = target
	rewritten, err := json.Marshal(payload)
	if err != nil {
		return body, original, ""
	}
	return rewritten, original, target
}

func pickModel(original string, thinking bool, env map[string]string) string {
	if thinking && env[envReasoningModel] != "" {
		return env[envReasoningModel]
	}

	lower := strings.ToLower(original)
	switch {
	case strings.Contains(lower, "haiku") && env[envHaikuModel] != "":
		return env[envHaikuModel]
	case strings.Contains(lower, "sonnet") && env[envSonnetModel] != "":
		return env[envSonnetModel]
	case strings.Contains(lower, "opus") && env[envOpusModel] != "":
		return env[envOpusModel]
	}

	return env[envModel]
}

func thinkingEnabled(payload map[string]interface{}) bool {
	thinking, ok := payload["thinking"].(map[string]interface{})
	if !ok {
		return false
	}
	t, _ := thinking["type"].(string)
	return t == "enabled"
}
