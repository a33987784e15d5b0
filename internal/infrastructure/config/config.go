// Package config loads application configuration from the environment.
// Everything has a usable default; nothing here is persisted.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Docker   DockerConfig
	Terminal TerminalConfig
	Monitor  MonitorConfig
	Shutdown ShutdownConfig
	Logging  LogConfig
	Metrics  MetricsConfig
}

// DockerConfig holds container-engine CLI configuration.
type DockerConfig struct {
	Binary        string `envconfig:"DOCKER_BIN" default:"docker"`
	ComposeBinary string `envconfig:"COMPOSE_BIN" default:"docker-compose"`
	Project       string `envconfig:"PROJECT" default:"default"`
	ProjectDir    string `envconfig:"PROJECT_DIR" default:"."`
}

// TerminalConfig holds terminal session defaults.
type TerminalConfig struct {
	Shell string `envconfig:"SHELL_BIN" default:""`
	Rows  int    `envconfig:"TERM_ROWS" default:"24"`
	Cols  int    `envconfig:"TERM_COLS" default:"80"`
}

// MonitorConfig holds stats collection intervals.
type MonitorConfig struct {
	HostInterval  time.Duration `envconfig:"HOST_INTERVAL" default:"1s"`
	StatsInterval time.Duration `envconfig:"STATS_INTERVAL" default:"2s"`
	HistorySize   int           `envconfig:"HISTORY_SIZE" default:"60"`
}

// ShutdownConfig holds the supervisor's grace period, the only hard timeout
// in the subsystem.
type ShutdownConfig struct {
	Grace time.Duration `envconfig:"SHUTDOWN_GRACE" default:"5s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// MetricsConfig holds the Prometheus listen address. Empty disables the
// endpoint.
type MetricsConfig struct {
	Addr string `envconfig:"METRICS_ADDR" default:""`
}

// Load loads configuration from DOCKHAND_-prefixed environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("DOCKHAND", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
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
		Docker: DockerConfig{
			Binary:        "docker",
			ComposeBinary: "docker-compose",
			Project:       "default",
			ProjectDir:    ".",
		},
		Terminal: TerminalConfig{Rows: 24, Cols: 80},
		Monitor: MonitorConfig{
			HostInterval:  time.Second,
			StatsInterval: 2 * time.Second,
			HistorySize:   60,
		},
		Shutdown: ShutdownConfig{Grace: 5 * time.Second},
		Logging:  LogConfig{Level: "info"},
	}
}
