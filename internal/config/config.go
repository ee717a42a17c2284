// Package config loads the relay server configuration.
//
// Precedence, lowest to highest: built-in defaults, an optional YAML file,
// environment variables. A .env file in the working directory is loaded
// into the environment first when present.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the relay server settings.
type Config struct {
	// ListenAddr is the TCP listen endpoint for plain relay clients.
	ListenAddr string `env:"RELAY_LISTEN_ADDR" yaml:"listen_addr"`

	// WebSocketAddr is the listen endpoint for WebSocket clients.
	// Empty disables the WebSocket listener.
	WebSocketAddr string `env:"RELAY_WS_ADDR" yaml:"websocket_addr"`

	// MetricsAddr is the listen endpoint for the Prometheus endpoint.
	// Empty disables it.
	MetricsAddr string `env:"RELAY_METRICS_ADDR" yaml:"metrics_addr"`

	// MaxLineLength is the maximum accepted line length in bytes,
	// excluding the delimiter.
	MaxLineLength int `env:"RELAY_MAX_LINE_LENGTH" yaml:"max_line_length"`

	// WriteTimeout bounds each per-recipient send so a slow reader cannot
	// stall a broadcast indefinitely.
	WriteTimeout time.Duration `env:"RELAY_WRITE_TIMEOUT" yaml:"write_timeout"`

	// EventBuffer is the capacity of the event loop's inbound channel.
	EventBuffer int `env:"RELAY_EVENT_BUFFER" yaml:"event_buffer"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"RELAY_LOG_LEVEL" yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:    "localhost:8888",
		MaxLineLength: 8192,
		WriteTimeout:  10 * time.Second,
		EventBuffer:   16,
		LogLevel:      "info",
	}
}

// Load builds the configuration from defaults, the YAML file at path when
// non-empty, and environment variables.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr must not be empty")
	}
	if c.MaxLineLength <= 0 {
		return fmt.Errorf("config: max_line_length must be positive, got %d", c.MaxLineLength)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("config: write_timeout must be positive, got %v", c.WriteTimeout)
	}
	if c.EventBuffer < 0 {
		return fmt.Errorf("config: event_buffer must not be negative, got %d", c.EventBuffer)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog.Level.
func (c Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
}
