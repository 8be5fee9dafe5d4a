// Package logging provides the minimal logging interface used throughout
// orchestra together with adapters for log/slog and go.uber.org/zap.
//
// Components depend only on Logger so callers can plug any structured
// logger. RunLogger layers run-scoped helpers (generation, capability,
// delegation and guardrail records) on top of any Logger.
//
// Usage:
//
//	logger := logging.NewZapLogger(zap.Must(zap.NewProduction()))
//	r := runner.New(backend, func(o *runner.Options) { o.Logger = logger })
package logging
