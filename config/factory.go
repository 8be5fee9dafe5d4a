package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"go.opentelemetry.io/otel"

	"github.com/hupe1980/orchestra/core"
	"github.com/hupe1980/orchestra/logging"
	"github.com/hupe1980/orchestra/metrics"
	"github.com/hupe1980/orchestra/model"
	"github.com/hupe1980/orchestra/model/anthropic"
	"github.com/hupe1980/orchestra/model/openai"
	"github.com/hupe1980/orchestra/runner"
	"github.com/hupe1980/orchestra/session"
	"github.com/hupe1980/orchestra/tracing"
)

// NewLogger builds the configured logger.
func (c *Config) NewLogger() (logging.Logger, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(c.Logging.Backend) {
	case "none":
		return logging.NoOpLogger{}, nil
	case "zap":
		return logging.NewZapProduction(level, "orchestra")
	default:
		return logging.NewSlogLogger(logging.SlogConfig{
			Level:     level,
			Format:    strings.ToLower(c.Logging.Format),
			Output:    os.Stderr,
			Component: "orchestra",
		}), nil
	}
}

// NewTracer builds the configured tracer, or nil when tracing is disabled.
func (c *Config) NewTracer(logger logging.Logger) *tracing.Tracer {
	if !c.Tracing.Enabled {
		return nil
	}

	return tracing.NewTracer(func(o *tracing.Options) {
		o.IncludeSensitiveData = c.Tracing.IncludeSensitiveData
		if c.Tracing.OTel {
			o.Processors = append(o.Processors, tracing.NewOTelProcessor(otel.GetTracerProvider()))
		}
		if c.Tracing.Log {
			o.Processors = append(o.Processors, tracing.NewLogProcessor(logger))
		}
	})
}

// NewMetrics builds the Prometheus collector, or nil when metrics are disabled.
func (c *Config) NewMetrics() *metrics.Collector {
	if !c.Metrics.Enabled {
		return nil
	}

	return metrics.NewCollector(func(o *metrics.Options) {
		o.Namespace = c.Metrics.Namespace
	})
}

// NewSessionStore opens the configured session store. The returned close
// function releases its connections.
func (c *Config) NewSessionStore(ctx context.Context) (core.SessionStore, func() error, error) {
	switch strings.ToLower(c.Session.Backend) {
	case "redis":
		store, err := session.DialRedis(ctx, c.Session.RedisAddr, c.Session.RedisPassword, c.Session.RedisDB, func(o *session.RedisOptions) {
			if c.Session.RedisPrefix != "" {
				o.KeyPrefix = c.Session.RedisPrefix
			}
			o.TTL = c.Session.TTL
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "sqlite":
		store, err := session.OpenSQLite(c.Session.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return session.NewInMemoryStore(), func() error { return nil }, nil
	}
}

// NewModelProvider builds a provider whose default model is the configured
// backend. It returns nil when no provider is configured.
func (c *Config) NewModelProvider() (model.Provider, error) {
	var m model.Model

	switch strings.ToLower(c.Model.Provider) {
	case "":
		return nil, nil
	case "openai":
		m = openai.NewModel(func(o *openai.Options) {
			if c.Model.Name != "" {
				o.Model = c.Model.Name
			}
			o.APIKey = c.Model.APIKey
			o.Temperature = c.Model.Temperature
			if c.Model.MaxTokens > 0 {
				o.MaxCompletionTokens = c.Model.MaxTokens
			}
		})
	case "anthropic":
		m = anthropic.NewModel(func(o *anthropic.Options) {
			if c.Model.Name != "" {
				o.Model = anthropicsdk.Model(c.Model.Name)
			}
			o.APIKey = c.Model.APIKey
			o.Temperature = c.Model.Temperature
			if c.Model.MaxTokens > 0 {
				o.MaxTokens = c.Model.MaxTokens
			}
		})
	default:
		return nil, fmt.Errorf("model provider %q is not supported", c.Model.Provider)
	}

	reg := model.NewRegistry(m)
	if c.Model.Name != "" {
		reg.Register(c.Model.Name, m)
	}

	return reg, nil
}

// RunnerOptions returns a runner option function applying the runtime
// section together with the given dependencies.
func (c *Config) RunnerOptions(logger logging.Logger, tracer *tracing.Tracer, sinks ...core.EventSink) func(o *runner.Options) {
	return func(o *runner.Options) {
		o.MaxTurns = c.Runtime.MaxTurns
		o.MaxParallelTools = c.Runtime.MaxParallelTools
		o.GenerationTimeout = c.Runtime.GenerationTimeout
		o.ToolTimeout = c.Runtime.ToolTimeout
		o.MaxConcurrentRuns = c.Runtime.MaxConcurrentRuns
		o.RedactEventPayloads = c.Runtime.RedactEventPayloads
		o.Logger = logger
		o.Tracer = tracer
		for _, s := range sinks {
			if s != nil {
				o.Sinks = append(o.Sinks, s)
			}
		}
	}
}

// Components bundles everything NewRunner assembled.
type Components struct {
	Runner   *runner.Runner
	Logger   logging.Logger
	Tracer   *tracing.Tracer
	Metrics  *metrics.Collector
	Sessions core.SessionStore
}

// NewRunner assembles a Runner from the configuration. Call cleanup when
// the runner is no longer used.
func (c *Config) NewRunner(ctx context.Context, optFns ...func(o *runner.Options)) (*Components, func() error, error) {
	logger, err := c.NewLogger()
	if err != nil {
		return nil, nil, err
	}

	provider, err := c.NewModelProvider()
	if err != nil {
		return nil, nil, err
	}

	store, closeStore, err := c.NewSessionStore(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}

	tracer := c.NewTracer(logger)
	collector := c.NewMetrics()

	var sinks []core.EventSink
	if collector != nil {
		sinks = append(sinks, collector)
	}

	fns := []func(o *runner.Options){
		c.RunnerOptions(logger, tracer, sinks...),
		func(o *runner.Options) {
			if provider != nil {
				o.ModelProvider = provider
			}
		},
	}
	fns = append(fns, optFns...)

	comp := &Components{
		Runner:   runner.New(fns...),
		Logger:   logger,
		Tracer:   tracer,
		Metrics:  collector,
		Sessions: store,
	}

	return comp, closeStore, nil
}
