// Package handlers exposes the relay's HTTP surface: the dialect routes the
// CLIs call and the small admin API the host UI polls.
package handlers

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/keisium/ccrelay/internal/breaker"
	"github.com/keisium/ccrelay/internal/db"
	"github.com/keisium/ccrelay/internal/proxy/forwarder"
	"github.com/keisium/ccrelay/internal/proxy/monitor"
	"github.com/keisium/ccrelay/internal/proxy/protocol"
	"github.com/keisium/ccrelay/internal/proxy/relayerr"
	"github.com/keisium/ccrelay/internal/proxy/selector"
	"github.com/keisium/ccrelay/internal/util"
)

// maxRequestBody caps inbound bodies. Agentic CLI payloads carry whole
// repositories worth of context, so the cap is generous.
const maxRequestBody = 64 * 1024 * 1024

// Core bundles the services the handlers work against.
type Core struct {
	Store     *db.Store
	Forwarder *forwarder.Forwarder
	Monitor   *monitor.Monitor
	Breakers  *breaker.Registry
	Chains    *selector.Selector
	StartedAt time.Time
	Address   func() string
}

// Relay is the shared handler behind every dialect route: classify, build a
// session, hand off to the forwarder.
func Relay(core *Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			relayerr.WriteError(w, protocol.FormatUnknown, fmt.Errorf("%w: reading request body: %v", relayerr.ErrForwardFailed, err))
			return
		}

		format := protocol.DetectFormat(r.URL.Path, body)
		if format == protocol.FormatUnknown {
			relayerr.WriteError(w, protocol.FormatOpenAI, fmt.Errorf("%w: unrecognized request format", relayerr.ErrInvalidConfig))
			return
		}

		sess := protocol.NewSession(r, format, body)
		cfg := core.Store.GetProxyConfigForApp(sess.AppType)
		if !cfg.Enabled {
			relayerr.WriteError(w, format, fmt.Errorf("%w: relaying is turned off for %s", relayerr.ErrNotRunning, sess.AppType))
			return
		}

		if util.IsVerbose() {
			log.Printf("[VERBOSE] [%s] %s %s body: %s", sess.ID, r.Method, sess.RequestURL, util.TruncateBytes(body))
		}

		core.Forwarder.Handle(w, r, sess, body)
	}
}
