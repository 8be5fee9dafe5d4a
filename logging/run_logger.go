package logging

import "time"

// RunLogger decorates a Logger with run-scoped attributes and domain
// helpers for the orchestration loop. Copies are cheap; With returns a new
// RunLogger sharing the underlying Logger.
type RunLogger struct {
	logger Logger
	attrs  []any
}

// NewRunLogger binds a Logger to a run identifier.
func NewRunLogger(l Logger, runID string) *RunLogger {
	return &RunLogger{logger: OrNoOp(l), attrs: []any{"run_id", runID}}
}

// With returns a RunLogger carrying additional key/value attributes.
func (l *RunLogger) With(args ...any) *RunLogger {
	attrs := make([]any, 0, len(l.attrs)+len(args))
	attrs = append(attrs, l.attrs...)
	attrs = append(attrs, args...)
	return &RunLogger{logger: l.logger, attrs: attrs}
}

// Logger returns a Logger that always includes the bound attributes.
func (l *RunLogger) Logger() Logger { return boundLogger{l} }

func (l *RunLogger) merge(args []any) []any {
	out := make([]any, 0, len(l.attrs)+len(args))
	out = append(out, l.attrs...)
	return append(out, args...)
}

// Debug logs at debug level with the bound attributes.
func (l *RunLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, l.merge(args)...) }

// Info logs at info level with the bound attributes.
func (l *RunLogger) Info(msg string, args ...any) { l.logger.Info(msg, l.merge(args)...) }

// Warn logs at warn level with the bound attributes.
func (l *RunLogger) Warn(msg string, args ...any) { l.logger.Warn(msg, l.merge(args)...) }

// Error logs at error level with the bound attributes.
func (l *RunLogger) Error(msg string, args ...any) { l.logger.Error(msg, l.merge(args)...) }

// LogGeneration records one model generation call.
func (l *RunLogger) LogGeneration(agent, model string, turn int, tokens int, dur time.Duration, err error) {
	if err != nil {
		l.Error("run.generation.failed", "agent", agent, "model", model, "turn", turn, "duration", dur, "error", err.Error())
		return
	}
	l.Debug("run.generation.completed", "agent", agent, "model", model, "turn", turn, "tokens", tokens, "duration", dur)
}

// LogCapabilityCall records the execution of one capability invocation.
func (l *RunLogger) LogCapabilityCall(agent, capability, invocationID string, dur time.Duration, err error) {
	if err != nil {
		l.Warn("run.capability.failed", "agent", agent, "capability", capability, "invocation_id", invocationID, "duration", dur, "error", err.Error())
		return
	}
	l.Debug("run.capability.executed", "agent", agent, "capability", capability, "invocation_id", invocationID, "duration", dur)
}

// LogDelegation records a control transfer between agents.
func (l *RunLogger) LogDelegation(from, to string) {
	l.Info("run.delegation", "from_agent", from, "to_agent", to)
}

// LogGuardrail records the evaluation of a validation gate.
func (l *RunLogger) LogGuardrail(stage, name string, tripped bool, err error) {
	switch {
	case err != nil:
		l.Error("run.guardrail.failed", "stage", stage, "guardrail", name, "error", err.Error())
	case tripped:
		l.Warn("run.guardrail.tripwire", "stage", stage, "guardrail", name)
	default:
		l.Debug("run.guardrail.passed", "stage", stage, "guardrail", name)
	}
}

// LogRunFinished records the terminal state of a run.
func (l *RunLogger) LogRunFinished(agent string, turns int, dur time.Duration, err error) {
	if err != nil {
		l.Error("run.finished", "last_agent", agent, "turns", turns, "duration", dur, "error", err.Error())
		return
	}
	l.Info("run.finished", "last_agent", agent, "turns", turns, "duration", dur)
}

type boundLogger struct{ l *RunLogger }

func (b boundLogger) Debug(msg string, args ...any) { b.l.Debug(msg, args...) }
func (b boundLogger) Info(msg string, args ...any)  { b.l.Info(msg, args...) }
func (b boundLogger) Warn(msg string, args ...any)  { b.l.Warn(msg, args...) }
func (b boundLogger) Error(msg string, args ...any) { b.l.Error(msg, args...) }
