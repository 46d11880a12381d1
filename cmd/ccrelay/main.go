// ccrelay is the local relay daemon behind the provider switcher: one
// loopback listener that fans AI CLI traffic out over the provider chain
// the user configured, with circuit breaking and automatic failover.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/keisium/ccrelay/internal/config"
	"github.com/keisium/ccrelay/internal/db"
	"github.com/keisium/ccrelay/internal/proxy"
	"github.com/keisium/ccrelay/internal/upstream"
	"github.com/keisium/ccrelay/internal/version"
)

func main() {
	cfgPath := config.Path()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	applyVerbose(cfg.Verbose)

	log.Printf("🚀 ccrelay %s starting", version.Version)

	if err := config.EnsureDBDir(cfg.DBPath); err != nil {
		log.Fatalf("❌ Failed to create database directory: %v", err)
	}
	store, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("❌ Failed to open database: %v", err)
	}

	client := upstream.NewClientWithProxy(store.GetOutboundProxyURL())
	server := proxy.NewServer(store, client, proxy.Options{
		ListenAddress:        cfg.ListenAddress,
		ListenPort:           cfg.ListenPort,
		ShutdownGraceSeconds: cfg.ShutdownGraceSeconds,
		DesktopNotifications: cfg.DesktopNotifications,
	})

	if err := server.Start(); err != nil {
		log.Fatalf("❌ %v", err)
	}

	watcher, err := config.Watch(cfgPath, func() {
		reloaded, err := config.Load(cfgPath)
		if err != nil {
			log.Printf("⚠️ Config reload skipped: %v", err)
			return
		}
		applyVerbose(reloaded.Verbose)
		server.ReloadBreakerConfigs()
		server.SyncOutboundProxy()
		if reloaded.ListenAddress != cfg.ListenAddress || reloaded.ListenPort != cfg.ListenPort {
			log.Printf("⚠️ Listener changes take effect after restart")
		}
		log.Printf("✅ Config reloaded from %s", cfgPath)
	})
	if err != nil {
		log.Printf("⚠️ Config watcher unavailable: %v", err)
	} else {
		defer watcher.Close()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("🔄 Shutting down")
	if err := server.Stop(); err != nil {
		log.Printf("⚠️ Shutdown: %v", err)
	}
}

func applyVerbose(on bool) {
	if on {
		os.Setenv("CCRELAY_VERBOSE", "1")
	} else {
		os.Unsetenv("CCRELAY_VERBOSE")
	}
}
