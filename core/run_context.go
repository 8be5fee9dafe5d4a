package core

import (
	"sync"

	"github.com/hupe1980/orchestra/logging"
)

// RunContext carries caller state through an entire run. Value is opaque to
// the runtime: it is never inspected, mutated or sent to the model backend,
// only threaded through to instructions, guardrails, hooks and capabilities.
// Callers sharing Value across concurrent runs own its synchronization.
type RunContext struct {
	RunID string
	Value any

	mu    sync.Mutex
	usage Usage

	*loggerAdapter
}

// NewRunContext constructs a RunContext for the given run.
func NewRunContext(runID string, value any, logger logging.Logger) *RunContext {
	return &RunContext{
		RunID:         runID,
		Value:         value,
		loggerAdapter: newLoggerAdapter(logger),
	}
}

// AddUsage accumulates token usage reported by a model backend.
func (rc *RunContext) AddUsage(u Usage) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.usage.Add(u)
}

// Usage returns a snapshot of the accumulated usage.
func (rc *RunContext) Usage() Usage {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.usage
}

// ValueAs returns the caller value as T when it has that type.
func ValueAs[T any](rc *RunContext) (T, bool) {
	var zero T
	if rc == nil {
		return zero, false
	}
	v, ok := rc.Value.(T)
	return v, ok
}
