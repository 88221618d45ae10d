package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.LogLevel != "info" || cfg.DataMode != "local" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.LocalStoreDSN != "file://palsync-store.json" {
		t.Fatalf("local store DSN = %q", cfg.LocalStoreDSN)
	}
	if cfg.CallTimeout != 30*time.Second || cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("timeouts = %v / %v", cfg.CallTimeout, cfg.ShutdownTimeout)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PALSYNC_ADDR", ":9090")
	t.Setenv("PALSYNC_DATA_MODE", "remote")
	t.Setenv("PALSYNC_REMOTE_DSN", "https://api.example.com")
	t.Setenv("PALSYNC_CALL_TIMEOUT", "5s")
	t.Setenv("PALSYNC_WATCH_LOCAL_STORE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.DataMode != "remote" || cfg.RemoteDSN != "https://api.example.com" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.CallTimeout != 5*time.Second || !cfg.WatchLocalStore {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadRemoteModeRequiresDSN(t *testing.T) {
	t.Setenv("PALSYNC_DATA_MODE", "remote")
	t.Setenv("PALSYNC_REMOTE_DSN", "")
	if _, err := Load(); err == nil {
		t.Fatalf("remote mode without DSN accepted")
	}
}
