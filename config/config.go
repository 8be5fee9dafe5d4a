package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/orchestra/logging"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "ORCHESTRA_"

// Config is the complete runtime configuration.
type Config struct {
	Runtime RuntimeConfig `yaml:"runtime" envPrefix:"RUNTIME_"`
	Model   ModelConfig   `yaml:"model" envPrefix:"MODEL_"`
	Logging LoggingConfig `yaml:"logging" envPrefix:"LOG_"`
	Tracing TracingConfig `yaml:"tracing" envPrefix:"TRACING_"`
	Metrics MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`
	Session SessionConfig `yaml:"session" envPrefix:"SESSION_"`
}

// RuntimeConfig bounds run execution.
type RuntimeConfig struct {
	MaxTurns            int           `yaml:"max_turns" env:"MAX_TURNS"`
	MaxParallelTools    int           `yaml:"max_parallel_tools" env:"MAX_PARALLEL_TOOLS"`
	GenerationTimeout   time.Duration `yaml:"generation_timeout" env:"GENERATION_TIMEOUT"`
	ToolTimeout         time.Duration `yaml:"tool_timeout" env:"TOOL_TIMEOUT"`
	MaxConcurrentRuns   int           `yaml:"max_concurrent_runs" env:"MAX_CONCURRENT_RUNS"`
	RedactEventPayloads bool          `yaml:"redact_event_payloads" env:"REDACT_EVENT_PAYLOADS"`
}

// ModelConfig selects the default model backend. An empty provider leaves
// model resolution to the caller.
type ModelConfig struct {
	Provider    string  `yaml:"provider" env:"PROVIDER"` // openai, anthropic
	Name        string  `yaml:"name" env:"NAME"`
	APIKey      string  `yaml:"api_key" env:"API_KEY"`
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens   int64   `yaml:"max_tokens" env:"MAX_TOKENS"`
}

// LoggingConfig selects the logger.
type LoggingConfig struct {
	Level   string `yaml:"level" env:"LEVEL"`
	Format  string `yaml:"format" env:"FORMAT"`   // json, text
	Backend string `yaml:"backend" env:"BACKEND"` // slog, zap, none
}

// TracingConfig controls span recording.
type TracingConfig struct {
	Enabled              bool `yaml:"enabled" env:"ENABLED"`
	IncludeSensitiveData bool `yaml:"include_sensitive_data" env:"INCLUDE_SENSITIVE_DATA"`
	// OTel exports spans through the global OpenTelemetry tracer provider.
	OTel bool `yaml:"otel" env:"OTEL"`
	// Log writes span lifecycle records to the configured logger.
	Log bool `yaml:"log" env:"LOG"`
}

// MetricsConfig controls the Prometheus collector.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// SessionConfig selects the session store.
type SessionConfig struct {
	Backend       string        `yaml:"backend" env:"BACKEND"` // memory, redis, sqlite
	RedisAddr     string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" env:"REDIS_DB"`
	RedisPrefix   string        `yaml:"redis_prefix" env:"REDIS_PREFIX"`
	TTL           time.Duration `yaml:"ttl" env:"TTL"`
	SQLitePath    string        `yaml:"sqlite_path" env:"SQLITE_PATH"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			MaxTurns:         10,
			MaxParallelTools: 8,
		},
		Model: ModelConfig{
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "json",
			Backend: "slog",
		},
		Metrics: MetricsConfig{
			Namespace: "orchestra",
		},
		Session: SessionConfig{
			Backend:     "memory",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "orchestra:session:",
			SQLitePath:  "orchestra.db",
		},
	}
}

// Load reads the configuration. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := cfg.decodeYAML(data); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(nil); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes YAML data over the defaults and validates the result.
// Environment variables are not consulted.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decodeYAML(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeYAML(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// applyEnv overlays ORCHESTRA_* variables. A nil environment reads the
// process environment.
func (c *Config) applyEnv(environment map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix, Environment: environment}
	if err := env.ParseWithOptions(c, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate rejects out-of-range values.
func (c *Config) Validate() error {
	var errs []error

	if c.Runtime.MaxTurns < 1 {
		errs = append(errs, fmt.Errorf("runtime.max_turns must be at least 1, got %d", c.Runtime.MaxTurns))
	}
	if c.Runtime.MaxParallelTools < 0 {
		errs = append(errs, fmt.Errorf("runtime.max_parallel_tools must not be negative"))
	}
	if c.Runtime.MaxConcurrentRuns < 0 {
		errs = append(errs, fmt.Errorf("runtime.max_concurrent_runs must not be negative"))
	}
	if c.Runtime.GenerationTimeout < 0 || c.Runtime.ToolTimeout < 0 {
		errs = append(errs, fmt.Errorf("runtime timeouts must not be negative"))
	}

	switch strings.ToLower(c.Model.Provider) {
	case "", "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("model.provider %q is not supported", c.Model.Provider))
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		errs = append(errs, fmt.Errorf("model.temperature must be within [0, 2]"))
	}

	switch strings.ToLower(c.Logging.Backend) {
	case "slog", "zap", "none":
	default:
		errs = append(errs, fmt.Errorf("logging.backend %q is not supported", c.Logging.Backend))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not supported", c.Logging.Format))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(c.Session.Backend) {
	case "memory":
	case "redis":
		if c.Session.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("session.redis_addr is required for the redis backend"))
		}
	case "sqlite":
		if c.Session.SQLitePath == "" {
			errs = append(errs, fmt.Errorf("session.sqlite_path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("session.backend %q is not supported", c.Session.Backend))
	}
	if c.Session.TTL < 0 {
		errs = append(errs, fmt.Errorf("session.ttl must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}

	return nil
}
