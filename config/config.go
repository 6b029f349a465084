// Package config parses the daemon's key-value configuration file
// (SPEC_FULL.md §6): a "[storage]" section selecting the print-store
// backend, plus a "[daemon]" section of ambient knobs. Config/DefaultConfig
// follows the teacher's database.Config/DefaultConfig convention - a flat
// struct with a function returning sane defaults, rather than a parsed
// struct tag scheme.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every daemon-level and storage-level setting parsed from
// the config file plus command-line overrides.
type Config struct {
	// StorageType is "[storage] type=" - "file" (default) or a pluggable
	// module name such as "sqlite".
	StorageType string
	// StoragePath is "[storage] path=", the store's root directory or DSN.
	StoragePath string

	// IdleTimeout is "[daemon] idle-timeout=<seconds>"; zero leaves the
	// Manager's default grace in place. Idle exit is disabled only by the
	// NoTimeout flag.
	IdleTimeout time.Duration
	// LogLevel is "[daemon] log-level=", parsed with logrus.ParseLevel by
	// the caller (kept a string here so this package stays logging-library
	// agnostic).
	LogLevel string
	// MetricsAddr is "[daemon] metrics-addr="; empty disables the
	// Prometheus endpoint.
	MetricsAddr string
	// AuditPath is "[daemon] audit-path="; empty disables the audit
	// journal.
	AuditPath string
	// AdminSocket is "[daemon] admin-socket=", the Unix socket path the
	// monitor CLI's admin protocol listens on.
	AdminSocket string
}

// DefaultConfig mirrors the stable defaults named in §6.
func DefaultConfig() Config {
	return Config{
		StorageType: "file",
		StoragePath: "/var/lib/fprint",
		IdleTimeout: 0,
		LogLevel:    "info",
		MetricsAddr: "",
		AuditPath:   "",
		AdminSocket: "/var/lib/fprint/fprintd.sock",
	}
}

// Load reads a key-value config file with "[section]" headers, of the
// shape §6 describes. Unknown sections and keys are ignored rather than
// rejected, so a newer config file stays loadable by an older binary.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	if err := parseInto(&cfg, f); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

func parseInto(cfg *Config, r io.Reader) error {
	section := ""
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		applyKey(cfg, section, key, value)
	}
	return scanner.Err()
}

func applyKey(cfg *Config, section, key, value string) {
	switch section {
	case "storage":
		switch key {
		case "type":
			cfg.StorageType = value
		case "path":
			cfg.StoragePath = value
		}
	case "daemon":
		switch key {
		case "idle-timeout":
			if secs, err := strconv.Atoi(value); err == nil {
				cfg.IdleTimeout = time.Duration(secs) * time.Second
			}
		case "log-level":
			cfg.LogLevel = value
		case "metrics-addr":
			cfg.MetricsAddr = value
		case "audit-path":
			cfg.AuditPath = value
		case "admin-socket":
			cfg.AdminSocket = value
		}
	}
}
