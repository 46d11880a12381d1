// Package protocol classifies inbound client requests: which API dialect the
// client speaks, which app family it belongs to, and whether it expects a
// streaming reply.
package protocol

import (
	"encoding/json"
	"strings"

	"github.com/keisium/ccrelay/internal/db/models"
)

// Format is the client API dialect of one request.
type Format string

const (
	FormatClaude  Format = "claude"
	FormatOpenAI  Format = "openai"
	FormatCodex   Format = "codex"
	FormatGemini  Format = "gemini"
	FormatUnknown Format = ""
)

// DetectFormat classifies a request by path first, then by body shape when
// the path is not one of the fixed routes.
func DetectFormat(path string, body []byte) Format {
	switch {
	case strings.HasPrefix(path, "/v1/messages"):
		return FormatClaude
	case strings.HasPrefix(path, "/v1/chat/completions"):
		return FormatOpenAI
	case strings.HasPrefix(path, "/v1/responses"):
		return FormatCodex
	case strings.HasPrefix(path, "/v1beta/"), strings.HasPrefix(path, "/v1internal/"):
		return FormatGemini
	}
	return sniffFormat(body)
}

// sniffFormat inspects the body when the path gives no answer. Claude bodies
// carry messages plus max_tokens, OpenAI just messages, Codex an input
// field, Gemini a contents array.
func sniffFormat(body []byte) Format {
	if len(body) == 0 {
		return FormatUnknown
	}
	var probe map[string]interface{}
	if err := json.Unmarshal(body, &probe); err != nil {
		return FormatUnknown
	}

	_, hasMessages := probe["messages"]
	_, hasMaxTokens := probe["max_tokens"]
	switch {
	case hasMessages && hasMaxTokens:
		return FormatClaude
	case hasMessages:
		return FormatOpenAI
	}
	if _, ok := probe["input"]; ok {
		return FormatCodex
	}
	if _, ok := probe["contents"]; ok {
		return FormatGemini
	}
	return FormatUnknown
}

// AppForFormat maps a client dialect to the app family whose providers serve
// it. OpenAI chat completions is OpenCode's dialect; Codex speaks the
// responses API.
func AppForFormat(f Format) string {
	switch f {
	case FormatClaude:
		return models.AppClaude
	case FormatOpenAI:
		return models.AppOpenCode
	case FormatCodex:
		return models.AppCodex
	case FormatGemini:
		return models.AppGemini
	}
	return ""
}

// IsStreaming reports whether the client expects a streamed reply. Gemini
// encodes it in the path action, everyone else in body.stream.
func IsStreaming(f Format, path string, body []byte) bool {
	if f == FormatGemini {
		return strings.Contains(path, ":streamGenerateContent")
	}
	var probe struct {
		Stream bool `json:"stream"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return probe.Stream
}

// RequestModel pulls the model name out of a request body. Gemini carries it
// in the URL path instead.
func RequestModel(f Format, path string, body []byte) string {
	if f == FormatGemini {
		return geminiModelFromPath(path)
	}
	var probe struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return probe.Model
}

// geminiModelFromPath extracts the model id from paths like
// /v1beta/models/gemini-2.5-pro:streamGenerateContent.
func geminiModelFromPath(path string) string {
	idx := strings.Index(path, "/models/")
	if idx < 0 {
		return ""
	}
	rest := path[idx+len("/models/"):]
	if colon := strings.IndexByte(rest, ':'); colon >= 0 {
		rest = rest[:colon]
	}
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		rest = rest[:slash]
	}
	if q := strings.IndexByte(rest, '?'); q >= 0 {
		rest = rest[:q]
	}
	return rest
}
