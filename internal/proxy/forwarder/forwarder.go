// Package forwarder drives one request through the failover chain: breaker
// gate, body transforms, upstream call, response relay, outcome accounting.
package forwarder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/keisium/ccrelay/internal/breaker"
	"github.com/keisium/ccrelay/internal/db"
	"github.com/keisium/ccrelay/internal/db/models"
	"github.com/keisium/ccrelay/internal/proxy/failover"
	"github.com/keisium/ccrelay/internal/proxy/mappers"
	"github.com/keisium/ccrelay/internal/proxy/monitor"
	"github.com/keisium/ccrelay/internal/proxy/protocol"
	"github.com/keisium/ccrelay/internal/proxy/rectifier"
	"github.com/keisium/ccrelay/internal/proxy/relayerr"
	"github.com/keisium/ccrelay/internal/proxy/selector"
	"github.com/keisium/ccrelay/internal/proxy/usage"
	"github.com/keisium/ccrelay/internal/upstream"
	"github.com/keisium/ccrelay/internal/upstream/adapters"
	"github.com/keisium/ccrelay/internal/util"
)

// Forwarder owns the per-request relay loop. All fields are shared services;
// the struct itself is stateless and safe for concurrent use.
type Forwarder struct {
	store    *db.Store
	breakers *breaker.Registry
	chain    *selector.Selector
	adapters *adapters.Registry
	client   *upstream.Client
	monitor  *monitor.Monitor
	failover *failover.Manager
}

func New(store *db.Store, breakers *breaker.Registry, chain *selector.Selector, registry *adapters.Registry, client *upstream.Client, mon *monitor.Monitor, fo *failover.Manager) *Forwarder {
	return &Forwarder{
		store:    store,
		breakers: breakers,
		chain:    chain,
		adapters: registry,
		client:   client,
		monitor:  mon,
		failover: fo,
	}
}

// attemptOutcome says how one provider attempt ended and what the loop
// should do next.
type attemptOutcome int

const (
	// attemptServed: a reply (success or verbatim 4xx) reached the client.
	attemptServed attemptOutcome = iota
	// attemptNext: retryable failure, advance the chain and spend a retry.
	attemptNext
	// attemptRectified: body rewritten after a thinking-budget 400, retry
	// the same provider without spending a retry.
	attemptRectified
	// attemptSkip: provider unusable before any request left the process
	// (bad config, missing credential). Free, does not spend a retry.
	attemptSkip
	// attemptAborted: the client went away; stop silently.
	attemptAborted
)

type attemptResult struct {
	outcome attemptOutcome
	status  int              // HTTP status delivered to the client
	usage   usage.TokenUsage // parsed from the reply when one was served
	body    []byte           // rewritten request body, attemptRectified only
	err     error
}

// Handle relays one classified request through the app's provider chain.
// The body has already been read and the session classified by the handler.
// Exactly one reply reaches the client, and exactly one request-log row is
// queued, no matter how many providers are tried.
func (f *Forwarder) Handle(w http.ResponseWriter, r *http.Request, sess *protocol.Session, body []byte) {
	cfg := f.store.GetProxyConfigForApp(sess.AppType)
	// Read before the loop so a promotion triggered by this very request
	// compares against the provider the user had selected when it started.
	recordedCurrent := f.store.GetCurrentProvider(sess.AppType)

	chain, err := f.chain.SelectProviders(sess.AppType)
	if err != nil {
		log.Printf("❌ [%s] No provider to try for %s: %v", sess.ID, sess.AppType, err)
		relayerr.WriteError(w, sess.Format, err)
		f.monitor.Record(monitor.Entry{Session: sess, Status: relayerr.HTTPStatus(err), Err: err})
		return
	}

	working := mappers.FilterPrivateParams(body, nil)
	rect := rectifier.New(f.store.GetRectifierConfig())

	attempt := 0
	rectified := false
	var lastErr error
	var lastProvider *models.Provider

loop:
	for idx := 0; idx < len(chain); idx++ {
		provider := &chain[idx]
		br := f.breakers.Get(sess.AppType, provider.ID)
		if !br.AllowRequest() {
			log.Printf("⚠️ [%s] Circuit breaker holds %s back, skipping", sess.ID, provider.Name)
			continue
		}

		res := f.attemptOnce(w, r, sess, cfg, provider, br, working, rect, rectified)
		switch res.outcome {
		case attemptServed:
			f.monitor.Record(monitor.Entry{
				Session:  sess,
				Status:   res.status,
				Usage:    res.usage,
				Provider: provider,
				Err:      res.err,
			})
			if res.err == nil && res.status < 400 {
				f.failover.MaybeSwitch(sess.AppType, *provider, recordedCurrent, cfg.AutoFailoverEnabled)
			}
			return

		case attemptRectified:
			working = res.body
			rectified = true
			idx-- // same provider again, with the rewritten body

		case attemptSkip:
			lastErr = res.err
			lastProvider = provider

		case attemptAborted:
			log.Printf("⚠️ [%s] Client disconnected, dropping request", sess.ID)
			return

		case attemptNext:
			lastErr = res.err
			lastProvider = provider
			attempt++
			if attempt > cfg.MaxRetries {
				log.Printf("❌ [%s] Retry budget spent after %d failed attempts", sess.ID, attempt)
				break loop
			}
		}
	}

	surface := lastErr
	var ue *relayerr.UpstreamError
	switch {
	case surface == nil:
		// Chain was non-empty but every breaker refused at the gate.
		surface = relayerr.ErrAllProvidersCircuitOpen
	case errors.As(surface, &ue):
		// Final provider answered with an error body: relay it unchanged.
	case attempt > cfg.MaxRetries:
		surface = fmt.Errorf("%w: last error: %v", relayerr.ErrMaxRetriesExceeded, surface)
	}
	relayerr.WriteError(w, sess.Format, surface)
	f.monitor.Record(monitor.Entry{
		Session:  sess,
		Status:   relayerr.HTTPStatus(surface),
		Provider: lastProvider,
		Err:      surface,
	})
}

// attemptOnce tries a single provider. The breaker permit taken by the
// caller is settled exactly once: RecordResult on a decided outcome, or
// Release in the deferred handler for attempts that end without one
// (skips, client aborts, panics).
func (f *Forwarder) attemptOnce(w http.ResponseWriter, r *http.Request, sess *protocol.Session, cfg models.ProxyConfig, provider *models.Provider, br *breaker.Breaker, working []byte, rect *rectifier.Rectifier, alreadyRectified bool) attemptResult {
	recorded := false
	record := func(success bool, cause error) {
		if recorded {
			return
		}
		recorded = true
		f.chain.RecordResult(sess.AppType, provider.ID, success, cause)
	}
	defer func() {
		if !recorded {
			br.Release()
		}
	}()

	adapter, err := f.adapters.Resolve(provider)
	if err != nil {
		log.Printf("⚠️ [%s] %s: %v", sess.ID, provider.Name, err)
		return attemptResult{outcome: attemptSkip, err: fmt.Errorf("%w: %s: %v", relayerr.ErrForwardFailed, provider.Name, err)}
	}
	baseURL, err := adapter.BaseURL(provider)
	if err != nil {
		log.Printf("⚠️ [%s] %s has no usable base URL: %v", sess.ID, provider.Name, err)
		return attemptResult{outcome: attemptSkip, err: fmt.Errorf("%w: %s: %v", relayerr.ErrForwardFailed, provider.Name, err)}
	}
	cred, err := adapter.Credential(provider)
	if err != nil {
		log.Printf("⚠️ [%s] %s credential unavailable: %v", sess.ID, provider.Name, err)
		return attemptResult{outcome: attemptSkip, err: fmt.Errorf("%w: %s: %v", relayerr.ErrAuth, provider.Name, err)}
	}

	settings := provider.Settings()
	outBody, _, mapped := mappers.MapModel(working, settings.Env)
	if mapped != "" {
		sess.MappedModel = mapped
	}
	if adapter.NeedsTransform() {
		outBody, err = adapter.TransformRequest(outBody, provider)
		if err != nil {
			log.Printf("⚠️ [%s] %s request transform failed: %v", sess.ID, provider.Name, err)
			return attemptResult{outcome: attemptSkip, err: fmt.Errorf("%w: %s: %v", relayerr.ErrForwardFailed, provider.Name, err)}
		}
	}

	ctx := r.Context()
	if !sess.IsStreaming {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.NonStreamingTimeout)*time.Second)
		defer cancel()
	}

	var reqBody io.Reader
	if len(outBody) > 0 {
		reqBody = bytes.NewReader(outBody)
	}
	req, err := http.NewRequestWithContext(ctx, sess.Method, adapter.BuildURL(baseURL, sess.RequestURL), reqBody)
	if err != nil {
		return attemptResult{outcome: attemptSkip, err: fmt.Errorf("%w: building request for %s: %v", relayerr.ErrForwardFailed, provider.Name, err)}
	}
	copyRequestHeaders(req.Header, r.Header)
	adapter.AddAuthHeaders(req, cred)

	httpClient, err := f.client.ClientFor(provider.DecodedMeta().ProxyURL)
	if err != nil {
		log.Printf("⚠️ [%s] %s proxy override rejected, using shared egress: %v", sess.ID, provider.Name, err)
		httpClient = f.client.HTTPClient()
	}

	sess.ProviderID = provider.ID
	sess.ProviderName = provider.Name
	log.Printf("📨 [%s] %s %s → %s", sess.ID, sess.Method, sess.RequestURL, provider.Name)

	resp, err := httpClient.Do(req)
	if err != nil {
		if r.Context().Err() != nil {
			return attemptResult{outcome: attemptAborted, err: r.Context().Err()}
		}
		var cause error
		if errors.Is(err, context.DeadlineExceeded) {
			cause = fmt.Errorf("%w: %s gave no reply within %ds", relayerr.ErrTimeout, provider.Name, cfg.NonStreamingTimeout)
		} else {
			cause = fmt.Errorf("%w: %s: %v", relayerr.ErrForwardFailed, provider.Name, err)
		}
		record(false, cause)
		return attemptResult{outcome: attemptNext, err: cause}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return f.classifyFailure(w, sess, provider, resp, rect, working, alreadyRectified, record)
	}

	if isSSE(resp) {
		sr := f.relayStream(w, r, sess, cfg, resp)
		u := usage.FromEvents(sess.Format, sr.events)
		switch {
		case sr.err == nil:
			record(true, nil)
			log.Printf("✅ [%s] Stream finished via %s (%dms)", sess.ID, provider.Name, sess.LatencyMS())
			return attemptResult{outcome: attemptServed, status: resp.StatusCode, usage: u}
		case r.Context().Err() != nil:
			// Client abort is not the provider's fault; the permit is
			// released by the deferred handler, not recorded.
			if sr.wroteClient {
				return attemptResult{outcome: attemptServed, status: resp.StatusCode, usage: u, err: r.Context().Err()}
			}
			return attemptResult{outcome: attemptAborted, err: r.Context().Err()}
		default:
			record(false, sr.err)
			if sr.wroteClient {
				// Headers and events already reached the client, so a
				// failover is no longer possible. Terminate the stream.
				log.Printf("❌ [%s] Stream via %s died after data was relayed: %v", sess.ID, provider.Name, sr.err)
				return attemptResult{outcome: attemptServed, status: resp.StatusCode, usage: u, err: sr.err}
			}
			return attemptResult{outcome: attemptNext, err: sr.err}
		}
	}

	u, err := f.relayBuffered(w, sess, adapter, resp)
	if err != nil {
		record(false, err)
		return attemptResult{outcome: attemptNext, err: err}
	}
	record(true, nil)
	log.Printf("✅ [%s] %d via %s (%dms)", sess.ID, resp.StatusCode, provider.Name, sess.LatencyMS())
	return attemptResult{outcome: attemptServed, status: resp.StatusCode, usage: u}
}

// classifyFailure settles a non-2xx upstream reply: one rectify retry for a
// matching thinking-budget 400, verbatim surfacing for other 4xx, failover
// for 5xx.
func (f *Forwarder) classifyFailure(w http.ResponseWriter, sess *protocol.Session, provider *models.Provider, resp *http.Response, rect *rectifier.Rectifier, working []byte, alreadyRectified bool, record func(bool, error)) attemptResult {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBufferedResponse))
	ue := &relayerr.UpstreamError{
		StatusCode:  resp.StatusCode,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Provider:    provider.Name,
	}

	if resp.StatusCode >= 500 {
		log.Printf("⚠️ [%s] %s answered %d, trying next provider", sess.ID, provider.Name, resp.StatusCode)
		record(false, ue)
		return attemptResult{outcome: attemptNext, err: ue}
	}

	errText := upstreamErrorText(body)
	if !alreadyRectified && resp.StatusCode == http.StatusBadRequest && rectifier.MatchesThinkingBudget(errText) {
		if result, fixed := rect.Rectify(working, errText); result.Applied {
			// The 400 came from the request body, not provider health.
			log.Printf("🔧 [%s] Request rectified (%s), retrying %s", sess.ID, result.Rule, provider.Name)
			record(true, nil)
			return attemptResult{outcome: attemptRectified, body: fixed}
		}
	}

	log.Printf("⚠️ [%s] %s answered %d: %s", sess.ID, provider.Name, resp.StatusCode, util.TruncateLog(errText, 200))
	record(false, ue)
	relayerr.WriteError(w, sess.Format, ue)
	return attemptResult{outcome: attemptServed, status: resp.StatusCode, err: ue}
}

// clientAuthHeaders never travel upstream. The adapter injects the
// provider's own credential instead of whatever the local CLI sent.
var clientAuthHeaders = map[string]bool{
	"Authorization":  true,
	"X-Api-Key":      true,
	"X-Goog-Api-Key": true,
}

// copyRequestHeaders forwards client headers minus hop-by-hop fields,
// lengths that the rewritten body invalidates, and client credentials.
// Accept-Encoding stays off so the transport negotiates compression itself
// and hands back plain bodies for usage parsing.
func copyRequestHeaders(dst, src http.Header) {
	for k, vals := range src {
		ck := http.CanonicalHeaderKey(k)
		if isHopHeader(ck) || ck == "Host" || ck == "Content-Length" || ck == "Accept-Encoding" {
			continue
		}
		if clientAuthHeaders[ck] {
			continue
		}
		for _, v := range vals {
			dst.Add(k, v)
		}
	}
}
