package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fprintd.conf")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadParsesStorageAndDaemonSections(t *testing.T) {
	path := writeConfig(t, `
[storage]
type=sqlite
path=/tmp/fprint.db

[daemon]
idle-timeout=120
log-level=debug
metrics-addr=127.0.0.1:9100
audit-path=/var/lib/fprint/audit.bolt
admin-socket=/run/fprintd.sock
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageType != "sqlite" || cfg.StoragePath != "/tmp/fprint.db" {
		t.Fatalf("unexpected storage config: %+v", cfg)
	}
	if cfg.IdleTimeout != 120*time.Second {
		t.Fatalf("expected idle timeout of 120s, got %v", cfg.IdleTimeout)
	}
	if cfg.LogLevel != "debug" || cfg.MetricsAddr != "127.0.0.1:9100" {
		t.Fatalf("unexpected daemon config: %+v", cfg)
	}
	if cfg.AuditPath != "/var/lib/fprint/audit.bolt" || cfg.AdminSocket != "/run/fprintd.sock" {
		t.Fatalf("unexpected daemon paths: %+v", cfg)
	}
}

func TestLoadIgnoresUnknownSectionsAndComments(t *testing.T) {
	path := writeConfig(t, `
; a comment
# another comment
[unknown-section]
whatever=true

[storage]
type=file
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageType != "file" {
		t.Fatalf("expected storage type to parse despite unknown sections, got %+v", cfg)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.conf")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestDefaultConfigLeavesIdleTimeoutUnset(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.IdleTimeout != 0 {
		t.Fatalf("expected idle-timeout unset (Manager default applies), got %v", cfg.IdleTimeout)
	}
	if cfg.StorageType != "file" {
		t.Fatalf("expected file store as default, got %q", cfg.StorageType)
	}
}
