package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenFileAbsent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Defaults()
	if cfg.Port != want.Port || cfg.MaxSessions != want.MaxSessions {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	if err := os.WriteFile(path, []byte("port: 9000\nmax_sessions: 3\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}
	if cfg.MaxSessions != 3 {
		t.Errorf("expected max_sessions 3, got %d", cfg.MaxSessions)
	}
	// Fields absent from the file keep their defaults.
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level, got %q", cfg.LogLevel)
	}
}

func TestEnvOverridesWinOverFileAndDefaults(t *testing.T) {
	t.Setenv("PYBUGGER_RELAY_PORT", "7000")
	t.Setenv("PYBUGGER_RELAY_LOG_LEVEL", "debug")

	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte("port: 9000\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 7000 {
		t.Errorf("expected env override port 7000, got %d", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected env override log level debug, got %q", cfg.LogLevel)
	}
}

func TestDurationHelpersConvertSeconds(t *testing.T) {
	cfg := RelayConfig{SessionTimeoutSeconds: 30, DAPTimeoutSeconds: 5}
	if cfg.SessionTimeout().Seconds() != 30 {
		t.Errorf("expected 30s session timeout, got %v", cfg.SessionTimeout())
	}
	if cfg.DAPTimeout().Seconds() != 5 {
		t.Errorf("expected 5s dap timeout, got %v", cfg.DAPTimeout())
	}
}
