// Package config handles configuration loading from YAML files and environment variables.
// Configuration precedence: CLI flags > environment variables > config file > embedded > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Guliveer/vitalis/monitor/internal/models"
)

// Duration is a wrapper around time.Duration that supports YAML unmarshaling
// from human-readable strings like "2s", "500ms", "1m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
}

// MarshalYAML implements the yaml.Marshaler interface for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds all monitor configuration.
type Config struct {
	Server          ServerConfig                      `yaml:"server"`
	Monitor         MonitorConfig                     `yaml:"monitor"`
	Baselines       map[string]models.BaselineProfile `yaml:"baselines"`
	DefaultBaseline models.BaselineProfile            `yaml:"default_baseline"`
	Publisher       PublisherConfig                   `yaml:"publisher"`
	Logging         LoggingConfig                     `yaml:"logging"`
}

// ServerConfig holds the listen addresses of the API and the metrics exporter.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	MetricsAddr    string   `yaml:"metrics_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// MonitorConfig holds generation, retention and analysis settings.
type MonitorConfig struct {
	Machines       int      `yaml:"machines"`
	Interval       Duration `yaml:"interval"`
	StreamInterval Duration `yaml:"stream_interval"`
	HistorySize    int      `yaml:"history_size"`
	Contamination  float64  `yaml:"contamination"`
	Trees          int      `yaml:"trees"`
	Seed           int64    `yaml:"seed"`
}

// PublisherConfig holds settings of the optional outbound reading publisher.
// An empty URL disables publishing.
type PublisherConfig struct {
	URL        string   `yaml:"url"`
	Topic      string   `yaml:"topic"`
	Timeout    Duration `yaml:"timeout"`
	MaxRetries int      `yaml:"max_retries"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8000",
			MetricsAddr:    ":9090",
			AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		},
		Monitor: MonitorConfig{
			Machines:       5,
			Interval:       Duration{2 * time.Second},
			StreamInterval: Duration{2 * time.Second},
			HistorySize:    1000,
			Contamination:  0.01,
			Trees:          100,
			Seed:           42,
		},
		Baselines: map[string]models.BaselineProfile{
			// Server
			"machine-0": {
				Temperature: models.MetricBaseline{Center: 50, Spread: 15},
				CPUUsage:    models.MetricBaseline{Center: 40, Spread: 30},
				MemoryUsage: models.MetricBaseline{Center: 60, Spread: 20},
			},
			// High-performance workstation
			"machine-1": {
				Temperature: models.MetricBaseline{Center: 65, Spread: 10},
				CPUUsage:    models.MetricBaseline{Center: 70, Spread: 25},
				MemoryUsage: models.MetricBaseline{Center: 75, Spread: 15},
			},
			// Edge device
			"machine-2": {
				Temperature: models.MetricBaseline{Center: 40, Spread: 5},
				CPUUsage:    models.MetricBaseline{Center: 20, Spread: 15},
				MemoryUsage: models.MetricBaseline{Center: 40, Spread: 10},
			},
		},
		DefaultBaseline: models.BaselineProfile{
			Temperature: models.MetricBaseline{Center: 50, Spread: 15},
			CPUUsage:    models.MetricBaseline{Center: 50, Spread: 25},
			MemoryUsage: models.MetricBaseline{Center: 50, Spread: 20},
		},
		Publisher: PublisherConfig{
			URL:        "",
			Topic:      "machine-metrics",
			Timeout:    Duration{10 * time.Second},
			MaxRetries: 3,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// CLIOverrides holds values from command-line flags.
// Zero values are treated as "not set" and skipped.
type CLIOverrides struct {
	Addr     string
	Machines int
	Interval time.Duration
	LogLevel string
}

// LoadLayered loads configuration with the full precedence chain:
// CLI flags > env vars > external YAML file > embedded bytes > defaults.
// A missing external file is not an error.
func LoadLayered(cli CLIOverrides, embedded []byte, path string) (*Config, error) {
	cfg := DefaultConfig()

	if len(embedded) > 0 {
		if err := yaml.Unmarshal(embedded, cfg); err != nil {
			return nil, fmt.Errorf("parsing embedded config: %w", err)
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if cli.Addr != "" {
		cfg.Server.Addr = cli.Addr
	}
	if cli.Machines > 0 {
		cfg.Monitor.Machines = cli.Machines
	}
	if cli.Interval > 0 {
		cfg.Monitor.Interval.Duration = cli.Interval
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}

	return cfg, nil
}

// WriteConfig serializes the config to a YAML file at the given path.
// Creates parent directories if needed.
func WriteConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Unparseable numeric values are ignored.
func applyEnvOverrides(cfg *Config) {
	if addr := os.Getenv("MM_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if addr := os.Getenv("MM_METRICS_ADDR"); addr != "" {
		cfg.Server.MetricsAddr = addr
	}
	if v := os.Getenv("MM_MACHINES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Monitor.Machines = n
		}
	}
	if v := os.Getenv("MM_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.Interval.Duration = d
		}
	}
	if level := os.Getenv("MM_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if url := os.Getenv("MM_PUBLISHER_URL"); url != "" {
		cfg.Publisher.URL = url
	}
}

// Validate checks that the configuration describes a runnable monitor.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server address is required")
	}
	if c.Monitor.Machines < 1 {
		return fmt.Errorf("machine count must be at least 1 (got: %d)", c.Monitor.Machines)
	}
	if c.Monitor.Interval.Duration <= 0 {
		return fmt.Errorf("interval must be positive (got: %s)", c.Monitor.Interval.Duration)
	}
	if c.Monitor.StreamInterval.Duration <= 0 {
		return fmt.Errorf("stream interval must be positive (got: %s)", c.Monitor.StreamInterval.Duration)
	}
	if c.Monitor.HistorySize < 1 {
		return fmt.Errorf("history size must be at least 1 (got: %d)", c.Monitor.HistorySize)
	}
	if c.Monitor.Contamination <= 0 || c.Monitor.Contamination > 0.5 {
		return fmt.Errorf("contamination must be in (0, 0.5] (got: %g)", c.Monitor.Contamination)
	}
	if c.Monitor.Trees < 1 {
		return fmt.Errorf("tree count must be at least 1 (got: %d)", c.Monitor.Trees)
	}
	return nil
}

// MachineIDs returns the configured machine identities: machine-0 .. machine-(n-1).
func (c *Config) MachineIDs() []string {
	ids := make([]string, c.Monitor.Machines)
	for i := range ids {
		ids[i] = fmt.Sprintf("machine-%d", i)
	}
	return ids
}

// Locate searches standard config file paths and returns the first one found.
// Returns empty string if no config file exists.
func Locate() string {
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
