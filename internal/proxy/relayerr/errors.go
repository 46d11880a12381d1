// Package relayerr defines the error kinds the relay reports and how each
// maps onto an HTTP status. Handlers render them in the client's own API
// dialect so CLI tools keep parsing error replies they understand.
package relayerr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrAlreadyRunning          = errors.New("proxy already running")
	ErrNotRunning              = errors.New("proxy not running")
	ErrBindFailed              = errors.New("failed to bind listener")
	ErrNoAvailableProvider     = errors.New("no available provider")
	ErrAllProvidersCircuitOpen = errors.New("all provider circuits are open")
	ErrNoProvidersConfigured   = errors.New("no providers configured")
	ErrMaxRetriesExceeded      = errors.New("all providers exhausted")
	ErrForwardFailed           = errors.New("failed to reach upstream")
	ErrTimeout                 = errors.New("request timed out")
	ErrStreamIdleTimeout       = errors.New("stream stalled")
	ErrInvalidConfig           = errors.New("invalid provider configuration")
	ErrDatabase                = errors.New("config store failure")
	ErrAuth                    = errors.New("could not build provider credentials")
)

// UpstreamError carries a non-2xx upstream reply so it can be surfaced to
// the client verbatim, status and body intact.
type UpstreamError struct {
	StatusCode  int
	Body        []byte
	ContentType string
	Provider    string
}

func (e *UpstreamError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("upstream %s returned status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// HTTPStatus maps a relay error onto the status the client should receive.
// Upstream errors keep their original status; anything unrecognized is a 500.
func HTTPStatus(err error) int {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.StatusCode
	}

	switch {
	case errors.Is(err, ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, ErrNotRunning),
		errors.Is(err, ErrNoAvailableProvider),
		errors.Is(err, ErrAllProvidersCircuitOpen),
		errors.Is(err, ErrNoProvidersConfigured),
		errors.Is(err, ErrMaxRetriesExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrForwardFailed):
		return http.StatusBadGateway
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrStreamIdleTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, ErrBindFailed), errors.Is(err, ErrDatabase):
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}
