// Package config holds the tool's configuration: which peripheral to
// cycle, write acknowledgment mode, and the loop's fixed delays.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that YAML-parses from strings like "1s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config holds all application configuration.
type Config struct {
	Device            string   `yaml:"device"`             // address or advertised name
	Reliable          bool     `yaml:"reliable"`           // acknowledged command writes
	ReconnectInterval Duration `yaml:"reconnect_interval"` // constant reconnect poll delay
	SettleDelay       Duration `yaml:"settle_delay"`       // post-reconnect pause
	LogLevel          string   `yaml:"log_level"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "blk-reconnect")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device:            "D0:CF:5E:D9:12:3D",
		Reliable:          false,
		ReconnectInterval: Duration(1 * time.Second),
		SettleDelay:       Duration(5 * time.Second),
		LogLevel:          "debug",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Device == "" {
		return fmt.Errorf("device must not be empty")
	}

	if c.ReconnectInterval <= 0 {
		return fmt.Errorf("reconnect_interval must be > 0")
	}

	if c.SettleDelay <= 0 {
		return fmt.Errorf("settle_delay must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a config log level string to a slog.Level.
// Unknown values default to info.
func ParseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
