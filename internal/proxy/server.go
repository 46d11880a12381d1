// Package proxy assembles the relay: service graph, routing tree, listener
// lifecycle.
package proxy

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/keisium/ccrelay/internal/breaker"
	"github.com/keisium/ccrelay/internal/db"
	"github.com/keisium/ccrelay/internal/db/models"
	"github.com/keisium/ccrelay/internal/notify"
	"github.com/keisium/ccrelay/internal/proxy/failover"
	"github.com/keisium/ccrelay/internal/proxy/forwarder"
	"github.com/keisium/ccrelay/internal/proxy/handlers"
	"github.com/keisium/ccrelay/internal/proxy/middleware"
	"github.com/keisium/ccrelay/internal/proxy/monitor"
	"github.com/keisium/ccrelay/internal/proxy/relayerr"
	"github.com/keisium/ccrelay/internal/proxy/selector"
	"github.com/keisium/ccrelay/internal/upstream"
	"github.com/keisium/ccrelay/internal/upstream/adapters"
)

// Options configure the listener and ambient behavior. A zero ListenPort
// binds an ephemeral port; defaults for production use come from the
// bootstrap config.
type Options struct {
	ListenAddress        string
	ListenPort           int
	ShutdownGraceSeconds int
	DesktopNotifications bool
}

// Server owns the relay services and the HTTP listener lifecycle. The host
// application constructs one Server and drives Start/Stop from its UI.
type Server struct {
	opts     Options
	store    *db.Store
	client   *upstream.Client
	breakers *breaker.Registry
	notifier *notify.Notifier
	monitor  *monitor.Monitor
	failover *failover.Manager
	chains   *selector.Selector
	forward  *forwarder.Forwarder

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	startedAt  time.Time
}

// NewServer wires the full service graph. Nothing listens until Start.
func NewServer(store *db.Store, client *upstream.Client, opts Options) *Server {
	if opts.ListenAddress == "" {
		opts.ListenAddress = "127.0.0.1"
	}
	if opts.ShutdownGraceSeconds <= 0 {
		opts.ShutdownGraceSeconds = 10
	}

	breakers := breaker.NewRegistry(func(appType string) breaker.Config {
		return storeBreakerConfig(store, appType)
	})
	notifier := notify.New(opts.DesktopNotifications)
	mon := monitor.New(store)
	fo := failover.NewManager(store, notifier)
	chains := selector.New(store, breakers)

	return &Server{
		opts:     opts,
		store:    store,
		client:   client,
		breakers: breakers,
		notifier: notifier,
		monitor:  mon,
		failover: fo,
		chains:   chains,
		forward:  forwarder.New(store, breakers, chains, adapters.NewRegistry(), client, mon, fo),
	}
}

// storeBreakerConfig maps the per-app proxy config row onto breaker knobs.
func storeBreakerConfig(store *db.Store, appType string) breaker.Config {
	ft, st, timeout, minReq, rate := store.GetCircuitBreakerConfig(appType)
	return breaker.Config{
		FailureThreshold:   ft,
		SuccessThreshold:   st,
		OpenTimeout:        time.Duration(timeout) * time.Second,
		ErrorRateThreshold: rate,
		MinRequests:        minReq,
	}
}

// Router builds the routing tree. Exposed so tests can mount it without
// binding a socket.
func (s *Server) Router() http.Handler {
	started := s.startedAt
	if started.IsZero() {
		started = time.Now()
	}
	core := &handlers.Core{
		Store:     s.store,
		Forwarder: s.forward,
		Monitor:   s.monitor,
		Breakers:  s.breakers,
		Chains:    s.chains,
		StartedAt: started,
		Address:   s.Addr,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS)
	r.Use(middleware.RequestLog)

	r.Get("/health", handlers.Health(core))
	r.Get("/status", handlers.Status(core))
	r.Get("/logs", handlers.Logs(core))
	r.Get("/stats", handlers.Stats(core))

	relay := handlers.Relay(core)
	r.Post("/v1/messages", relay)
	r.Post("/v1/messages/*", relay)
	r.Post("/v1/chat/completions", relay)
	r.Post("/v1/responses", relay)
	r.Post("/v1beta/*", relay)
	r.Post("/v1internal/*", relay)

	return r
}

// Start binds the listener and begins serving. It returns once the socket
// is accepting; serving happens on a background goroutine.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return relayerr.ErrAlreadyRunning
	}

	addr := fmt.Sprintf("%s:%d", s.opts.ListenAddress, s.opts.ListenPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", relayerr.ErrBindFailed, addr, err)
	}
	s.listener = ln
	s.startedAt = time.Now()
	s.httpServer = &http.Server{Handler: s.Router()}

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("❌ Relay stopped unexpectedly: %v", err)
		}
	}(s.httpServer)

	log.Printf("🚀 ccrelay listening on http://%s", ln.Addr())
	log.Printf("🔌 Claude:   http://%s/v1/messages", ln.Addr())
	log.Printf("🔌 Codex:    http://%s/v1/responses", ln.Addr())
	log.Printf("🔌 OpenCode: http://%s/v1/chat/completions", ln.Addr())
	log.Printf("🔌 Gemini:   http://%s/v1beta", ln.Addr())
	return nil
}

// Stop drains in-flight requests within the grace period, aborts stragglers,
// and flushes queued log writes and switches.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return relayerr.ErrNotRunning
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.opts.ShutdownGraceSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("⚠️ Graceful drain expired, closing open connections: %v", err)
		_ = srv.Close()
	}

	s.failover.Flush()
	s.monitor.Flush()
	log.Printf("✅ ccrelay stopped, request log flushed")
	return nil
}

// Addr returns the bound address, empty until Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Running reports whether the listener is up.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener != nil
}

// Events hands out a subscription to provider switch notifications.
func (s *Server) Events() <-chan notify.SwitchEvent {
	return s.notifier.Subscribe()
}

// ReloadBreakerConfigs pushes the stored breaker knobs into every live
// breaker, keeping counters and states intact.
func (s *Server) ReloadBreakerConfigs() {
	for _, app := range models.AllAppTypes {
		s.breakers.UpdateAll(app, storeBreakerConfig(s.store, app))
	}
	log.Printf("🔄 Circuit breaker configs reloaded")
}

// SyncOutboundProxy re-applies the persisted outbound proxy setting when it
// differs from the live one.
func (s *Server) SyncOutboundProxy() {
	stored := s.store.GetOutboundProxyURL()
	if stored == s.client.CurrentProxyURL() {
		return
	}
	if err := s.client.ApplyProxy(stored); err != nil {
		log.Printf("⚠️ Stored outbound proxy rejected: %v", err)
	}
}
