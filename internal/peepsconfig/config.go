// Package peepsconfig resolves Peeps's own tuning knobs: environment
// variables first, an optional YAML file second, built-in defaults last.
// A single Get() singleton layers LoadConfig/applyEnvOverrides/applyDefaults
// over the handful of fields the push client and debug server actually read.
package peepsconfig

import (
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config holds every environment-tunable Peeps setting. Zero values mean
// "disabled" for the optional subsystems (dashboard push, debug HTTP,
// SPIFFE transport).
type Config struct {
	// DashboardAddr is PEEPS_DASHBOARD: host:port of the collector the push
	// client connects to. Empty disables the push client entirely.
	DashboardAddr string `yaml:"dashboard_addr"`

	// ListenAddr and HTTPAddr are PEEPS_LISTEN / PEEPS_HTTP: the external
	// collector's own ingest and UI addresses. Peeps's core never binds
	// them itself -- they are carried here only so callers assembling a
	// full local dev stack have one place to read the whole contract from.
	ListenAddr string `yaml:"listen_addr"`
	HTTPAddr   string `yaml:"http_addr"`

	// DebugHTTPAddr is PEEPS_DEBUG_HTTP: enables internal/debugsrv's local
	// healthz/graph/websocket introspection server.
	DebugHTTPAddr string `yaml:"debug_http_addr"`

	// SpiffeSocket is PEEPS_SPIFFE_SOCKET: when set, the push client
	// authenticates the dashboard collector via mTLS instead of plain TCP.
	SpiffeSocket string `yaml:"spiffe_socket"`

	// PushInterval is PEEPS_PUSH_INTERVAL: streaming cadence, default 1s.
	PushInterval time.Duration `yaml:"push_interval"`

	// Disable mirrors PEEPS_DISABLE. The no-op registry facade is selected
	// by registry.Init, which reads the PEEPS_DISABLE environment variable
	// itself; a disable value set only in the YAML file does not select it.
	Disable bool `yaml:"disable"`
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide singleton Config, loading it on first call.
func Get() *Config {
	once.Do(func() {
		if err := godotenv.Load(); err != nil {
			slog.Debug("peepsconfig: no .env file found", "err", err)
		}

		cfg, err := LoadConfig(getEnv("PEEPS_CONFIG", ""))
		if err != nil {
			slog.Warn("peepsconfig: failed to load config file, using defaults", "err", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		cfg.applyDefaults()
		instance = cfg
	})
	return instance
}

// LoadConfig loads a Config from a YAML file. An empty path (PEEPS_CONFIG
// unset) is not an error: it simply yields a zero Config for env overrides
// and defaults to fill in.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides layers environment variables over a loaded file: every
// field can be set from a YAML file, but the matching PEEPS_* env var always wins.
func (c *Config) applyEnvOverrides() {
	c.DashboardAddr = getEnv("PEEPS_DASHBOARD", c.DashboardAddr)
	c.ListenAddr = getEnv("PEEPS_LISTEN", c.ListenAddr)
	c.HTTPAddr = getEnv("PEEPS_HTTP", c.HTTPAddr)
	c.DebugHTTPAddr = getEnv("PEEPS_DEBUG_HTTP", c.DebugHTTPAddr)
	c.SpiffeSocket = getEnv("PEEPS_SPIFFE_SOCKET", c.SpiffeSocket)
	c.Disable = getEnvBool("PEEPS_DISABLE", c.Disable)

	if raw := os.Getenv("PEEPS_PUSH_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			c.PushInterval = d
		} else {
			slog.Warn("peepsconfig: invalid PEEPS_PUSH_INTERVAL, ignoring", "value", raw, "err", err)
		}
	}
}

// applyDefaults fills in zero-valued fields that must never be the empty
// value for the subsystem that reads them.
func (c *Config) applyDefaults() {
	if c.PushInterval <= 0 {
		c.PushInterval = time.Second
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
