// Package config loads the relay's single-layer configuration from a
// YAML file on disk, then applies environment-variable overrides in the
// style of the teacher's envOr helper.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RelayConfig is the relay's full runtime configuration.
type RelayConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	MaxSessions               int `yaml:"max_sessions"`
	SessionTimeoutSeconds     int `yaml:"session_timeout_seconds"`
	SessionMaxLifetimeSeconds int `yaml:"session_max_lifetime_seconds"`

	OutputBufferMaxBytes int `yaml:"output_buffer_max_bytes"`
	EventQueueMax         int `yaml:"event_queue_max"`

	DAPTimeoutSeconds       int `yaml:"dap_timeout_seconds"`
	DAPLaunchTimeoutSeconds int `yaml:"dap_launch_timeout_seconds"`

	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`

	// AdapterCommand is the debug-adapter subprocess to spawn per
	// session, e.g. ["python3", "-m", "debugpy.adapter"]. Fixed to one
	// adapter family for v1, but the binary path and invocation style
	// are still operator-configurable.
	AdapterCommand []string `yaml:"adapter_command"`
}

// SessionTimeout returns SessionTimeoutSeconds as a duration.
func (c RelayConfig) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSeconds) * time.Second
}

// SessionMaxLifetime returns SessionMaxLifetimeSeconds as a duration.
func (c RelayConfig) SessionMaxLifetime() time.Duration {
	return time.Duration(c.SessionMaxLifetimeSeconds) * time.Second
}

// DAPTimeout returns DAPTimeoutSeconds as a duration.
func (c RelayConfig) DAPTimeout() time.Duration {
	return time.Duration(c.DAPTimeoutSeconds) * time.Second
}

// DAPLaunchTimeout returns DAPLaunchTimeoutSeconds as a duration.
func (c RelayConfig) DAPLaunchTimeout() time.Duration {
	return time.Duration(c.DAPLaunchTimeoutSeconds) * time.Second
}

// Defaults returns the relay's built-in configuration.
func Defaults() RelayConfig {
	return RelayConfig{
		Host:                      "127.0.0.1",
		Port:                      4711,
		MaxSessions:               16,
		SessionTimeoutSeconds:     900,
		SessionMaxLifetimeSeconds: 14400,
		OutputBufferMaxBytes:      1 << 20,
		EventQueueMax:             1024,
		DAPTimeoutSeconds:         30,
		DAPLaunchTimeoutSeconds:   60,
		DataDir:                   defaultDataDir(),
		LogLevel:                  "info",
		AdapterCommand:            []string{"python3", "-m", "debugpy.adapter"},
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.pybugger-relay"
	}
	return ".pybugger-relay"
}

// Load reads path (if it exists) over the defaults, then applies
// PYBUGGER_RELAY_* environment overrides.
func Load(path string) (RelayConfig, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *RelayConfig) {
	cfg.Host = envOr("PYBUGGER_RELAY_HOST", cfg.Host)
	cfg.Port = envOrInt("PYBUGGER_RELAY_PORT", cfg.Port)
	cfg.MaxSessions = envOrInt("PYBUGGER_RELAY_MAX_SESSIONS", cfg.MaxSessions)
	cfg.SessionTimeoutSeconds = envOrInt("PYBUGGER_RELAY_SESSION_TIMEOUT_SECONDS", cfg.SessionTimeoutSeconds)
	cfg.SessionMaxLifetimeSeconds = envOrInt("PYBUGGER_RELAY_SESSION_MAX_LIFETIME_SECONDS", cfg.SessionMaxLifetimeSeconds)
	cfg.OutputBufferMaxBytes = envOrInt("PYBUGGER_RELAY_OUTPUT_BUFFER_MAX_BYTES", cfg.OutputBufferMaxBytes)
	cfg.EventQueueMax = envOrInt("PYBUGGER_RELAY_EVENT_QUEUE_MAX", cfg.EventQueueMax)
	cfg.DAPTimeoutSeconds = envOrInt("PYBUGGER_RELAY_DAP_TIMEOUT_SECONDS", cfg.DAPTimeoutSeconds)
	cfg.DAPLaunchTimeoutSeconds = envOrInt("PYBUGGER_RELAY_DAP_LAUNCH_TIMEOUT_SECONDS", cfg.DAPLaunchTimeoutSeconds)
	cfg.DataDir = envOr("PYBUGGER_RELAY_DATA_DIR", cfg.DataDir)
	cfg.LogLevel = envOr("PYBUGGER_RELAY_LOG_LEVEL", cfg.LogLevel)
	if v := os.Getenv("PYBUGGER_RELAY_ADAPTER_COMMAND"); v != "" {
		cfg.AdapterCommand = strings.Fields(v)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
