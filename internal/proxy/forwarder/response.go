package forwarder

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/keisium/ccrelay/internal/db/models"
	"github.com/keisium/ccrelay/internal/proxy/protocol"
	"github.com/keisium/ccrelay/internal/proxy/relayerr"
	"github.com/keisium/ccrelay/internal/proxy/usage"
	"github.com/keisium/ccrelay/internal/upstream/adapters"
)

// maxBufferedResponse caps non-streaming bodies held in memory.
const maxBufferedResponse = 32 * 1024 * 1024

// readChunkSize is the relay's per-read buffer for streaming bodies.
const readChunkSize = 32 * 1024

// hopHeaders are never copied in either direction.
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// isSSE reports whether an upstream reply is a server-sent event stream.
func isSSE(resp *http.Response) bool {
	return strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream")
}

// relayBuffered passes a non-streaming 2xx reply through and parses usage
// from the buffered body.
func (f *Forwarder) relayBuffered(w http.ResponseWriter, sess *protocol.Session, adapter adapters.Adapter, resp *http.Response) (usage.TokenUsage, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBufferedResponse))
	if err != nil {
		return usage.TokenUsage{}, fmt.Errorf("%w: reading upstream body: %v", relayerr.ErrForwardFailed, err)
	}
	if adapter.NeedsTransform() {
		if transformed, terr := adapter.TransformResponse(body); terr == nil {
			body = transformed
		}
	}

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, werr := w.Write(body); werr != nil {
		log.Printf("⚠️ [%s] Client write failed: %v", sess.ID, werr)
	}

	return usage.FromResponseBody(sess.Format, body), nil
}

// streamResult reports how a streaming relay ended.
type streamResult struct {
	wroteClient bool
	events      []map[string]interface{}
	err         error // nil on clean end; context error on client abort
}

// relayStream pipes an SSE reply to the client chunk by chunk while an
// accumulator collects events for usage extraction. A reader goroutine
// pumps chunks into a channel so the select loop can enforce the
// first-byte and idle timeouts; the client never sees headers until the
// first upstream byte arrives, keeping failover possible on a silent
// upstream.
func (f *Forwarder) relayStream(w http.ResponseWriter, r *http.Request, sess *protocol.Session, cfg models.ProxyConfig, resp *http.Response) streamResult {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return streamResult{err: fmt.Errorf("%w: response writer cannot stream", relayerr.ErrForwardFailed)}
	}

	type chunk struct {
		data []byte
		err  error
	}
	chunks := make(chan chunk, 4)
	done := make(chan struct{})
	defer close(done)

	go func() {
		defer close(chunks)
		for {
			buf := make([]byte, readChunkSize)
			n, err := resp.Body.Read(buf)
			if n > 0 {
				select {
				case chunks <- chunk{data: buf[:n]}:
				case <-done:
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					select {
					case chunks <- chunk{err: err}:
					case <-done:
					}
				}
				return
			}
		}
	}()

	firstByte := time.NewTimer(time.Duration(cfg.StreamingFirstByteTimeout) * time.Second)
	defer firstByte.Stop()
	var idle *time.Timer
	var idleC <-chan time.Time
	if cfg.StreamingIdleTimeout > 0 {
		idle = time.NewTimer(time.Duration(cfg.StreamingIdleTimeout) * time.Second)
		idle.Stop()
		idleC = idle.C
		defer idle.Stop()
	}

	var acc sseAccumulator
	wrote := false

	for {
		select {
		case c, open := <-chunks:
			if !open {
				// Upstream stream ended cleanly.
				return streamResult{wroteClient: wrote, events: acc.Finish()}
			}
			if c.err != nil {
				return streamResult{
					wroteClient: wrote,
					events:      acc.Finish(),
					err:         fmt.Errorf("%w: %v", relayerr.ErrForwardFailed, c.err),
				}
			}

			if !wrote {
				firstByte.Stop()
				copyResponseHeaders(w.Header(), resp.Header)
				w.Header().Set("Content-Type", "text/event-stream")
				w.Header().Set("Cache-Control", "no-cache")
				w.Header().Set("Connection", "keep-alive")
				w.WriteHeader(resp.StatusCode)
				wrote = true
			}
			if _, werr := w.Write(c.data); werr != nil {
				return streamResult{wroteClient: wrote, events: acc.Finish(), err: fmt.Errorf("%w: client write: %v", relayerr.ErrForwardFailed, werr)}
			}
			flusher.Flush()
			acc.Feed(c.data)

			if idle != nil {
				if !idle.Stop() {
					select {
					case <-idle.C:
					default:
					}
				}
				idle.Reset(time.Duration(cfg.StreamingIdleTimeout) * time.Second)
			}

		case <-firstByte.C:
			if wrote {
				continue
			}
			return streamResult{
				events: acc.Finish(),
				err:    fmt.Errorf("%w: no data within %ds", relayerr.ErrStreamIdleTimeout, cfg.StreamingFirstByteTimeout),
			}

		case <-idleC:
			return streamResult{
				wroteClient: wrote,
				events:      acc.Finish(),
				err:         fmt.Errorf("%w: stream idle for %ds", relayerr.ErrStreamIdleTimeout, cfg.StreamingIdleTimeout),
			}

		case <-r.Context().Done():
			return streamResult{wroteClient: wrote, events: acc.Finish(), err: r.Context().Err()}
		}
	}
}

// copyResponseHeaders forwards upstream headers minus hop-by-hop fields and
// lengths that no longer apply to the re-framed body.
func copyResponseHeaders(dst, src http.Header) {
	for k, vals := range src {
		if isHopHeader(k) || k == "Content-Length" || k == "Content-Encoding" {
			continue
		}
		for _, v := range vals {
			dst.Add(k, v)
		}
	}
}

func isHopHeader(name string) bool {
	for _, h := range hopHeaders {
		if http.CanonicalHeaderKey(name) == h {
			return true
		}
	}
	return false
}
