package core

import (
	"context"

	"github.com/hupe1980/orchestra/logging"
)

// ToolContext is handed to capability implementations. It exposes the
// invocation identity and the run's caller value without making either
// visible to the model.
type ToolContext struct {
	ctx            context.Context
	runCtx         *RunContext
	agentName      string
	invocationID   string
	capabilityName string

	*loggerAdapter
}

// NewToolContext binds a tool context to a RunContext and one invocation.
func NewToolContext(ctx context.Context, runCtx *RunContext, agentName, invocationID, capabilityName string) *ToolContext {
	if runCtx == nil {
		runCtx = NewRunContext("", nil, nil)
	}

	return &ToolContext{
		ctx:            ctx,
		runCtx:         runCtx,
		agentName:      agentName,
		invocationID:   invocationID,
		capabilityName: capabilityName,
		loggerAdapter: newLoggerAdapter(runCtx.Logger()).with(
			"agent", agentName, "capability", capabilityName, "invocation_id", invocationID,
		),
	}
}

// Context returns the context of the invocation. It is cancelled when the
// run is cancelled or the per-capability timeout expires.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// RunContext returns the run scoped context.
func (tc *ToolContext) RunContext() *RunContext { return tc.runCtx }

// Value returns the caller supplied run value.
func (tc *ToolContext) Value() any { return tc.runCtx.Value }

// RunID returns the run ID associated with the invocation.
func (tc *ToolContext) RunID() string { return tc.runCtx.RunID }

// AgentName returns the name of the agent that requested the invocation.
func (tc *ToolContext) AgentName() string { return tc.agentName }

// InvocationID returns the model assigned invocation identifier.
func (tc *ToolContext) InvocationID() string { return tc.invocationID }

// CapabilityName returns the invoked capability name.
func (tc *ToolContext) CapabilityName() string { return tc.capabilityName }

// Logger returns the logger associated with the invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.loggerAdapter.Logger() }
