package core

import (
	"github.com/google/uuid"

	"github.com/hupe1980/orchestra/logging"
)

// NewID generates a new unique identifier for runs, events and spans.
func NewID() string { return uuid.NewString() }

// loggerAdapter is embedded by RunContext and ToolContext and gives both the
// LogDebug/LogInfo/LogWarn/LogError helpers. The logger is never nil.
type loggerAdapter struct {
	logger logging.Logger
}

func newLoggerAdapter(l logging.Logger) *loggerAdapter {
	return &loggerAdapter{logger: logging.OrNoOp(l)}
}

// Logger returns the underlying logger.
func (l *loggerAdapter) Logger() logging.Logger { return l.logger }

func (l *loggerAdapter) LogDebug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *loggerAdapter) LogInfo(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *loggerAdapter) LogWarn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *loggerAdapter) LogError(msg string, args ...any) { l.logger.Error(msg, args...) }

// with returns an adapter that prepends args to every record.
func (l *loggerAdapter) with(args ...any) *loggerAdapter {
	return &loggerAdapter{logger: withArgs{base: l.logger, args: args}}
}

type withArgs struct {
	base logging.Logger
	args []any
}

func (w withArgs) merge(args []any) []any {
	out := make([]any, 0, len(w.args)+len(args))
	out = append(out, w.args...)
	return append(out, args...)
}

func (w withArgs) Debug(msg string, args ...any) { w.base.Debug(msg, w.merge(args)...) }
func (w withArgs) Info(msg string, args ...any)  { w.base.Info(msg, w.merge(args)...) }
func (w withArgs) Warn(msg string, args ...any)  { w.base.Warn(msg, w.merge(args)...) }
func (w withArgs) Error(msg string, args ...any) { w.base.Error(msg, w.merge(args)...) }
