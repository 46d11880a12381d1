// Package logging provides request ID context propagation so every log line
// emitted while serving one proxied call can be correlated.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type contextKey struct{}

var requestIDKey contextKey

// GenerateRequestID returns a short random hex ID. Eight characters is
// enough to tell concurrent requests apart in a local log.
func GenerateRequestID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// WithRequestID attaches an ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID returns the context's ID, or "" when none was attached.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// EnsureRequestID returns the context's request ID, generating and attaching
// one when missing. The returned context always carries the returned ID.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if id := GetRequestID(ctx); id != "" {
		return ctx, id
	}
	id := GenerateRequestID()
	return WithRequestID(ctx, id), id
}
