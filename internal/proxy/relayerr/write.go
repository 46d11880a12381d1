package relayerr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/keisium/ccrelay/internal/proxy/protocol"
)

// WriteError renders err for the client. Upstream replies pass through
// verbatim; everything else is encoded in the client's dialect so Claude
// Code, Codex and Gemini CLI all keep parsing what they receive.
func WriteError(w http.ResponseWriter, format protocol.Format, err error) {
	var upstream *UpstreamError
	if errors.As(err, &upstream) && len(upstream.Body) > 0 {
		contentType := upstream.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(upstream.StatusCode)
		_, _ = w.Write(upstream.Body)
		return
	}

	status := HTTPStatus(err)
	switch format {
	case protocol.FormatClaude:
		writeClaudeError(w, err.Error(), status)
	case protocol.FormatGemini:
		writeGeminiError(w, err.Error(), status)
	default:
		writeOpenAIError(w, err.Error(), status)
	}
}

func writeClaudeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"type": "error",
		"error": map[string]interface{}{
			"type":    "api_error",
			"message": message,
		},
	})
}

func writeOpenAIError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "api_error",
			"code":    status,
		},
	})
}

func writeGeminiError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"code":    status,
		},
	})
}
