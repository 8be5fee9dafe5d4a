package runner

import (
	"context"
	"fmt"

	"github.com/hupe1980/orchestra/core"
	"github.com/hupe1980/orchestra/model"
)

// CallbackType defines the lifecycle points where callbacks run.
//
// Callbacks execute synchronously on the run's goroutine, except the
// capability callbacks which run on the goroutine executing the capability
// and therefore may be invoked concurrently. A callback returning an error
// aborts the run with that error.
type CallbackType string

const (
	// CallbackAgentStart fires when an agent becomes active.
	CallbackAgentStart CallbackType = "agent_start"
	// CallbackAgentEnd fires when an agent hands off or produces the final output.
	CallbackAgentEnd CallbackType = "agent_end"
	// CallbackBeforeModel fires before each generation call.
	CallbackBeforeModel CallbackType = "before_model"
	// CallbackAfterModel fires after a generation call succeeded.
	CallbackAfterModel CallbackType = "after_model"
	// CallbackBeforeTool fires before a capability executes.
	CallbackBeforeTool CallbackType = "before_tool"
	// CallbackAfterTool fires after a capability produced its result.
	CallbackAfterTool CallbackType = "after_tool"
	// CallbackOnHandoff fires after a delegation resolved.
	CallbackOnHandoff CallbackType = "on_handoff"
)

// CallbackContext carries the information available at a lifecycle point.
// Only the fields relevant for the Type are populated.
type CallbackContext struct {
	Type       CallbackType
	RunContext *core.RunContext
	Agent      string
	Turn       int

	// Request is set for before_model. Callbacks may inspect but must not
	// retain it.
	Request *model.Request
	// Completion is set for after_model.
	Completion *model.Completion

	// Invocation is set for before_tool and after_tool.
	Invocation *core.CapabilityInvocation
	// Result is set for after_tool.
	Result *core.CapabilityResult

	// From and To are set for on_handoff.
	From string
	To   string

	// Output is set for agent_end when the agent produced the final output.
	Output any
}

// Callback is a lifecycle hook.
type Callback interface {
	Type() CallbackType
	Execute(ctx context.Context, cc *CallbackContext) error
}

// FunctionCallback wraps a function as a Callback.
//
//	cb := runner.NewFunctionCallback(runner.CallbackBeforeTool,
//	    func(ctx context.Context, cc *runner.CallbackContext) error {
//	        log.Printf("calling %s", cc.Invocation.Name)
//	        return nil
//	    })
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, cc *CallbackContext) error
}

// NewFunctionCallback creates a function-based callback.
func NewFunctionCallback(callbackType CallbackType, fn func(ctx context.Context, cc *CallbackContext) error) *FunctionCallback {
	return &FunctionCallback{callbackType: callbackType, fn: fn}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType { return c.callbackType }

// Execute calls the wrapped function.
func (c *FunctionCallback) Execute(ctx context.Context, cc *CallbackContext) error {
	return c.fn(ctx, cc)
}

// CallbackManager routes lifecycle points to registered callbacks.
//
// Callbacks run in registration order and the first error stops the chain.
// Registration is not synchronized; register everything before the manager
// is used by a run.
type CallbackManager struct {
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty manager.
func NewCallbackManager(callbacks ...Callback) *CallbackManager {
	cm := &CallbackManager{callbacks: make(map[CallbackType][]Callback)}
	for _, cb := range callbacks {
		cm.RegisterCallback(cb)
	}
	return cm
}

// RegisterCallback adds a callback for its type.
func (cm *CallbackManager) RegisterCallback(cb Callback) {
	cm.callbacks[cb.Type()] = append(cm.callbacks[cb.Type()], cb)
}

// On registers fn for callbackType.
func (cm *CallbackManager) On(callbackType CallbackType, fn func(ctx context.Context, cc *CallbackContext) error) *CallbackManager {
	cm.RegisterCallback(NewFunctionCallback(callbackType, fn))
	return cm
}

// Len reports the number of callbacks registered for callbackType.
func (cm *CallbackManager) Len(callbackType CallbackType) int {
	if cm == nil {
		return 0
	}
	return len(cm.callbacks[callbackType])
}

// ExecuteCallbacks runs all callbacks registered for callbackType. A nil
// manager has no callbacks.
func (cm *CallbackManager) ExecuteCallbacks(ctx context.Context, callbackType CallbackType, cc *CallbackContext) error {
	if cm == nil {
		return nil
	}

	cc.Type = callbackType

	for _, cb := range cm.callbacks[callbackType] {
		if err := cb.Execute(ctx, cc); err != nil {
			return &CallbackError{Type: callbackType, Agent: cc.Agent, Err: err}
		}
	}

	return nil
}

// BeforeCapability adapts before_tool callbacks to the capability executor.
func (cm *CallbackManager) BeforeCapability(ctx context.Context, rc *core.RunContext, agentName string, call core.CapabilityInvocation) error {
	return cm.ExecuteCallbacks(ctx, CallbackBeforeTool, &CallbackContext{
		RunContext: rc,
		Agent:      agentName,
		Invocation: &call,
	})
}

// AfterCapability adapts after_tool callbacks to the capability executor.
func (cm *CallbackManager) AfterCapability(ctx context.Context, rc *core.RunContext, agentName string, call core.CapabilityInvocation, result core.CapabilityResult) error {
	return cm.ExecuteCallbacks(ctx, CallbackAfterTool, &CallbackContext{
		RunContext: rc,
		Agent:      agentName,
		Invocation: &call,
		Result:     &result,
	})
}

// mergeCallbacks returns a manager running the callbacks of a followed by
// those of b. Nil managers are skipped.
func mergeCallbacks(a, b *CallbackManager) *CallbackManager {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}

	out := NewCallbackManager()
	for _, cm := range []*CallbackManager{a, b} {
		for t, cbs := range cm.callbacks {
			out.callbacks[t] = append(out.callbacks[t], cbs...)
		}
	}

	return out
}

// CallbackError reports a callback that aborted the run.
type CallbackError struct {
	Type  CallbackType
	Agent string
	Err   error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("%s callback failed for agent %q: %v", e.Type, e.Agent, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }
