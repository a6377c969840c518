package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the runtime configuration of an eventsync client
type Config struct {
	URL         string `yaml:"url" env:"URL"`
	CatalogPath string `yaml:"catalog" env:"CATALOG"`
	DataDir     string `yaml:"dataDir" env:"DATA_DIR"`
	SnapshotURL string `yaml:"snapshotUrl" env:"SNAPSHOT_URL"`
	Token       string `yaml:"token" env:"TOKEN"`
	Scope       string `yaml:"scope" env:"SCOPE"`
	StatusAddr  string `yaml:"statusAddr" env:"STATUS_ADDR"`
	// SwitchedContext reports that the session arrives with data already loaded
	SwitchedContext bool `yaml:"switchedContext" env:"SWITCHED_CONTEXT"`

	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
	Reconnect ReconnectConfig `yaml:"reconnect" envPrefix:"RECONNECT_"`
	Preload   PreloadConfig   `yaml:"preload" envPrefix:"PRELOAD_"`
	Mirror    MirrorConfig    `yaml:"mirror" envPrefix:"MIRROR_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"OTEL_"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
	JSON  bool   `yaml:"json" env:"JSON"`
}

// ReconnectConfig configures the reconnect backoff
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initialDelay" env:"INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"maxDelay" env:"MAX_DELAY"`
	Multiplier   float64       `yaml:"multiplier" env:"MULTIPLIER"`
	Jitter       float64       `yaml:"jitter" env:"JITTER"`
	MaxAttempts  int           `yaml:"maxAttempts" env:"MAX_ATTEMPTS"`
}

// PreloadConfig configures the bounded preload queue
type PreloadConfig struct {
	MaxConcurrent int `yaml:"maxConcurrent" env:"MAX_CONCURRENT"`
}

// MirrorConfig configures envelope merging
type MirrorConfig struct {
	DeltaBufferSize int `yaml:"deltaBufferSize" env:"DELTA_BUFFER_SIZE"`
}

// TelemetryConfig configures OpenTelemetry tracing. Tracing is off while
// Endpoint is empty.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
}

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "EVENTSYNC_"

// Default returns the default configuration
func Default() *Config {
	return &Config{
		StatusAddr: "127.0.0.1:9464",
		Log: LogConfig{
			Level: "info",
		},
		Reconnect: ReconnectConfig{
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
			Jitter:       0.2,
			MaxAttempts:  10,
		},
		Preload: PreloadConfig{
			MaxConcurrent: 2,
		},
		Mirror: MirrorConfig{
			DeltaBufferSize: 16,
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
		},
	}
}

// Load builds a configuration from defaults, an optional YAML file and the environment
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration bounds
func (c *Config) Validate() error {
	var errs []error
	if c.Reconnect.InitialDelay <= 0 {
		errs = append(errs, errors.New("reconnect.initialDelay must be positive"))
	}
	if c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		errs = append(errs, errors.New("reconnect.maxDelay must not be below initialDelay"))
	}
	if c.Reconnect.Multiplier < 1 {
		errs = append(errs, errors.New("reconnect.multiplier must be at least 1"))
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter >= 1 {
		errs = append(errs, errors.New("reconnect.jitter must be in [0, 1)"))
	}
	if c.Reconnect.MaxAttempts < 1 {
		errs = append(errs, errors.New("reconnect.maxAttempts must be at least 1"))
	}
	if c.Preload.MaxConcurrent < 1 {
		errs = append(errs, errors.New("preload.maxConcurrent must be at least 1"))
	}
	if c.Mirror.DeltaBufferSize < 0 {
		errs = append(errs, errors.New("mirror.deltaBufferSize must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
