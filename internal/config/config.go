package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	Targets   TargetsConfig
	Probe     ProbeConfig
	Proxy     ProxyConfig
	Session   SessionConfig
	Download  DownloadConfig
	Events    EventsConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// TargetsConfig locates the static demo-target registry.
type TargetsConfig struct {
	File string `envconfig:"TARGETS_FILE" default:"configs/targets.yaml"`
}

// ProbeConfig bounds the frame-policy prober.
type ProbeConfig struct {
	Timeout   time.Duration `envconfig:"PROBE_TIMEOUT" default:"4s"`
	UserAgent string        `envconfig:"PROBE_USER_AGENT" default:""`
}

// ProxyConfig bounds the proxy rewriter's upstream fetches.
type ProxyConfig struct {
	FetchTimeout time.Duration `envconfig:"PROXY_FETCH_TIMEOUT" default:"5s"`
	MaxBodyBytes int64         `envconfig:"PROXY_MAX_BODY_BYTES" default:"5242880"`
	UserAgent    string        `envconfig:"PROXY_USER_AGENT" default:""`
}

// SessionConfig bounds the client fallback state machine.
type SessionConfig struct {
	LoadTimeout time.Duration `envconfig:"SESSION_LOAD_TIMEOUT" default:"8s"`
}

// DownloadConfig holds the signed download link issuer settings.
type DownloadConfig struct {
	Secret  string        `envconfig:"DOWNLOAD_SECRET" default:""`
	BaseDir string        `envconfig:"DOWNLOAD_DIR" default:"files"`
	Allow   []string      `envconfig:"DOWNLOAD_ALLOW" default:"*.pdf,*.zip"`
	Limit   int           `envconfig:"DOWNLOAD_RATE_LIMIT" default:"30"`
	Window  time.Duration `envconfig:"DOWNLOAD_RATE_WINDOW" default:"1m"`
}

// EventsConfig configures fallback-event delivery. An empty analytics
// URL disables the remote forwarder; the log and metrics sinks always
// run.
type EventsConfig struct {
	AnalyticsURL string `envconfig:"ANALYTICS_URL" default:""`
	MemoryBuffer int    `envconfig:"EVENTS_MEMORY_BUFFER" default:"512"`
}

// RateLimitConfig holds the global per-IP rate limit.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns the
// defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Port: "8000", Host: "0.0.0.0"},
		Logging: LogConfig{Level: "info"},
		Targets: TargetsConfig{File: "configs/targets.yaml"},
		Probe:   ProbeConfig{Timeout: 4 * time.Second},
		Proxy: ProxyConfig{
			FetchTimeout: 5 * time.Second,
			MaxBodyBytes: 5 << 20,
		},
		Session: SessionConfig{LoadTimeout: 8 * time.Second},
		Download: DownloadConfig{
			BaseDir: "files",
			Allow:   []string{"*.pdf", "*.zip"},
			Limit:   30,
			Window:  time.Minute,
		},
		Events: EventsConfig{MemoryBuffer: 512},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}
