// Package config loads the azmove configuration file. Flags override
// file values; the file overrides built-in defaults.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration.
type Config struct {
	// Subscription is the default subscription ID to simulate.
	Subscription string `yaml:"subscription" validate:"omitempty,uuid"`

	// SourceGroup is the management group the subscription currently
	// lives under.
	SourceGroup string `yaml:"sourceGroup"`

	// TargetGroup is the default candidate destination.
	TargetGroup string `yaml:"targetGroup"`

	// ResourceTypes narrows the evaluated inventory.
	ResourceTypes []string `yaml:"resourceTypes"`

	// PortalMode applies the portal's resource narrowing.
	PortalMode bool `yaml:"portalMode"`

	Output    OutputConfig    `yaml:"output"`
	Parallel  ParallelConfig  `yaml:"parallel"`
	ARM       ARMConfig       `yaml:"arm"`
	Store     StoreConfig     `yaml:"store"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// OutputConfig controls report rendering.
type OutputConfig struct {
	// Mode filters results: violations-only, compliant-only, or all.
	Mode string `yaml:"mode" validate:"omitempty,oneof=violations-only compliant-only all"`

	// Format selects the export format: table, csv, xlsx, or json.
	Format string `yaml:"format" validate:"omitempty,oneof=table csv xlsx json"`

	// Path is the export file path; empty writes to stdout.
	Path string `yaml:"path"`
}

// ParallelConfig controls evaluation fan-out.
type ParallelConfig struct {
	Enabled bool `yaml:"enabled"`
	Workers int  `yaml:"workers" validate:"gte=0"`
}

// ARMConfig tunes the Azure Resource Manager client.
type ARMConfig struct {
	// BaseURL overrides the ARM endpoint, mainly for sovereign clouds
	// and tests.
	BaseURL string `yaml:"baseUrl" validate:"omitempty,url"`

	// MaxAttempts bounds retries per request.
	MaxAttempts int `yaml:"maxAttempts" validate:"gte=0,lte=10"`

	// Timeout is the per-request timeout.
	Timeout time.Duration `yaml:"timeout"`
}

// StoreConfig locates the run-history database.
type StoreConfig struct {
	// Path is the SQLite database file; empty disables run history.
	Path string `yaml:"path"`
}

// TelemetryConfig carries the observability settings.
type TelemetryConfig struct {
	LogLevel  string `yaml:"logLevel" validate:"omitempty,oneof=trace debug info warn error fatal"`
	LogFormat string `yaml:"logFormat" validate:"omitempty,oneof=console json"`

	MetricsEnabled bool   `yaml:"metricsEnabled"`
	MetricsAddress string `yaml:"metricsAddress"`

	TracingEnabled  bool   `yaml:"tracingEnabled"`
	TracingExporter string `yaml:"tracingExporter" validate:"omitempty,oneof=otlp stdout none"`
	TracingEndpoint string `yaml:"tracingEndpoint"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Output: OutputConfig{
			Mode:   "violations-only",
			Format: "table",
		},
		Parallel: ParallelConfig{
			Enabled: false,
			Workers: 0,
		},
		ARM: ARMConfig{
			MaxAttempts: 3,
			Timeout:     60 * time.Second,
		},
		Telemetry: TelemetryConfig{
			LogLevel:        "info",
			LogFormat:       "console",
			MetricsAddress:  ":9090",
			TracingExporter: "stdout",
		},
	}
}

// Load reads and validates a configuration file, layered over the
// defaults. An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration against its constraints.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
