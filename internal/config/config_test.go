package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load with missing file: %v", err)
	}
	if cfg.ListenAddress != "127.0.0.1" {
		t.Errorf("listen address = %q, want 127.0.0.1", cfg.ListenAddress)
	}
	if cfg.ListenPort != 10789 {
		t.Errorf("listen port = %d, want 10789", cfg.ListenPort)
	}
	if !strings.HasSuffix(cfg.DBPath, "ccrelay.db") {
		t.Errorf("db path = %q, want a ccrelay.db default", cfg.DBPath)
	}
	if cfg.ShutdownGraceSeconds != 10 {
		t.Errorf("shutdown grace = %d, want 10", cfg.ShutdownGraceSeconds)
	}
	if !cfg.DesktopNotifications {
		t.Error("desktop notifications default = false, want true")
	}
}

func TestLoadReadsFileAndEnvWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ccrelay.yaml")
	content := "listen_address: 0.0.0.0\nlisten_port: 9000\nverbose: true\ndesktop_notifications: false\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("CCRELAY_LISTEN_PORT", "9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != "0.0.0.0" {
		t.Errorf("listen address = %q, want 0.0.0.0", cfg.ListenAddress)
	}
	if cfg.ListenPort != 9100 {
		t.Errorf("listen port = %d, want env override 9100", cfg.ListenPort)
	}
	if !cfg.Verbose {
		t.Error("verbose = false, want true from file")
	}
	if cfg.DesktopNotifications {
		t.Error("desktop notifications = true, want false from file")
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ccrelay.yaml")
	if err := os.WriteFile(path, []byte("listen_port: [broken"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("load accepted malformed yaml")
	}
}

func TestNormalizeClampsOutOfRangeValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ccrelay.yaml")
	content := "listen_port: -5\nshutdown_grace_seconds: 0\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenPort != 10789 {
		t.Errorf("listen port = %d, want clamped 10789", cfg.ListenPort)
	}
	if cfg.ShutdownGraceSeconds != 10 {
		t.Errorf("shutdown grace = %d, want clamped 10", cfg.ShutdownGraceSeconds)
	}
}

func TestPathPrefersExplicitEnv(t *testing.T) {
	t.Setenv("CCRELAY_CONFIG", "/etc/ccrelay/custom.yaml")
	if got := Path(); got != "/etc/ccrelay/custom.yaml" {
		t.Errorf("path = %q, want env value", got)
	}
	t.Setenv("CCRELAY_CONFIG", "")
	if got := Path(); got != "ccrelay.yaml" {
		t.Errorf("path = %q, want ccrelay.yaml", got)
	}
}

func TestWatchFiresAfterRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ccrelay.yaml")
	if err := os.WriteFile(path, []byte("listen_port: 10789\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	fired := make(chan struct{}, 1)
	w, err := Watch(path, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("listen_port: 9999\n"), 0o644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never fired after rewrite")
	}
}

func TestWatchIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ccrelay.yaml")
	if err := os.WriteFile(path, []byte("listen_port: 10789\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	fired := make(chan struct{}, 1)
	w, err := Watch(path, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to write sibling: %v", err)
	}

	select {
	case <-fired:
		t.Fatal("watcher fired for an unrelated file")
	case <-time.After(300 * time.Millisecond):
	}
}
