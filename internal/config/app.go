package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig sizes the control HTTP listener.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
}

// DatabaseConfig points at the durable Postgres store. An empty DSN selects
// the in-memory store, which is sufficient for paper deployments without
// restart durability.
type DatabaseConfig struct {
	DSN           string `yaml:"dsn"`
	MigrationsDir string `yaml:"migrationsDir"`
}

// FeedConfig configures the websocket tick feed.
type FeedConfig struct {
	URL            string        `yaml:"url"`
	ReconnectMax   time.Duration `yaml:"reconnectMax"`
	HandshakeLimit time.Duration `yaml:"handshakeLimit"`
}

// TelemetryConfig configures the OTLP metrics exporter; an empty endpoint
// disables export.
type TelemetryConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Interval time.Duration `yaml:"interval"`
	Insecure bool          `yaml:"insecure"`
}

// AppConfig is the full riskgated configuration tree.
type AppConfig struct {
	Environment string          `yaml:"environment"`
	Account     string          `yaml:"account"`
	Broker      string          `yaml:"broker"`
	Server      ServerConfig    `yaml:"server"`
	Database    DatabaseConfig  `yaml:"database"`
	Feed        FeedConfig      `yaml:"feed"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Limits      Limits          `yaml:"limits"`
}

// DefaultAppConfig returns the configuration used when no file is present.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Environment: "dev",
		Account:     "paper-account-001",
		Broker:      "paper",
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:           "",
			MigrationsDir: "",
		},
		Feed: FeedConfig{
			URL:            "",
			ReconnectMax:   30 * time.Second,
			HandshakeLimit: 10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Endpoint: "",
			Interval: 15 * time.Second,
			Insecure: true,
		},
		Limits: DefaultLimits(),
	}
}

// LoadOrDefault reads the YAML config at path, overlaying defaults. The
// second return reports whether a file was actually loaded.
func LoadOrDefault(path string) (AppConfig, bool, error) {
	cfg := DefaultAppConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			applyEnvOverrides(&cfg)
			return cfg, false, nil
		}
		return AppConfig{}, false, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, false, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Limits.Validate(); err != nil {
		return AppConfig{}, false, fmt.Errorf("validate limits: %w", err)
	}
	return cfg, true, nil
}

func applyEnvOverrides(cfg *AppConfig) {
	if env := strings.TrimSpace(os.Getenv("RISKGATE_ENV")); env != "" {
		cfg.Environment = strings.ToLower(env)
	}
	if dsn := strings.TrimSpace(os.Getenv("RISKGATE_DATABASE_DSN")); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if addr := strings.TrimSpace(os.Getenv("RISKGATE_ADDR")); addr != "" {
		cfg.Server.Addr = addr
	}
	if feed := strings.TrimSpace(os.Getenv("RISKGATE_FEED_URL")); feed != "" {
		cfg.Feed.URL = feed
	}
	if tz := strings.TrimSpace(os.Getenv("RISKGATE_TZ")); tz != "" {
		cfg.Limits.Timezone = tz
	}
}
