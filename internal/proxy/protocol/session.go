package protocol

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Session carries the per-request state that outlives the handler frame:
// identity for logs, the detected dialect, and the provider that ended up
// serving the call. Each session is owned by exactly one request goroutine.
type Session struct {
	ID           string
	StartTime    time.Time
	Method       string
	RequestURL   string // path and query as received
	UserAgent    string
	Format       Format
	AppType      string
	IsStreaming  bool
	Model        string // model named by the client
	MappedModel  string // model after env overrides, empty when unchanged
	ProviderID   string // set once a provider accepts the request
	ProviderName string
}

// NewSession builds a session from an inbound request and its classification.
func NewSession(r *http.Request, format Format, body []byte) *Session {
	requestURL := r.URL.Path
	if r.URL.RawQuery != "" {
		requestURL += "?" + r.URL.RawQuery
	}
	return &Session{
		ID:          uuid.NewString(),
		StartTime:   time.Now(),
		Method:      r.Method,
		RequestURL:  requestURL,
		UserAgent:   r.UserAgent(),
		Format:      format,
		AppType:     AppForFormat(format),
		IsStreaming: IsStreaming(format, r.URL.Path, body),
		Model:       RequestModel(format, r.URL.Path, body),
	}
}

// LatencyMS returns elapsed time since the session started in milliseconds.
func (s *Session) LatencyMS() int64 {
	return time.Since(s.StartTime).Milliseconds()
}
