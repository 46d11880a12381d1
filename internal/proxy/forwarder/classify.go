package forwarder

import (
	"encoding/json"
	"strings"
)

// upstreamErrorText digs the human-readable message out of an upstream error
// body so the rectifier can pattern-match it. Handles the common shapes:
// {"error":{"message":...}}, {"error":"..."}, {"message":...}, and gemini's
// [{"error":{...}}] array wrapper. Falls back to the raw body.
func upstreamErrorText(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}

	var payload interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return trimmed
	}
	if msg := messageFrom(payload); msg != "" {
		return msg
	}
	return trimmed
}

func messageFrom(v interface{}) string {
	switch t := v.(type) {
	case map[string]interface{}:
		if errField, ok := t["error"]; ok {
			if msg := messageFrom(errField); msg != "" {
				return msg
			}
		}
		if msg, ok := t["message"].(string); ok && msg != "" {
			return msg
		}
		if detail, ok := t["detail"]; ok {
			if msg := messageFrom(detail); msg != "" {
				return msg
			}
		}
	case []interface{}:
		for _, item := range t {
			if msg := messageFrom(item); msg != "" {
				return msg
			}
		}
	case string:
		return t
	}
	return ""
}
