package tool

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/orchestra/core"
	"github.com/hupe1980/orchestra/internal/util"
)

// FunctionTool is a generic adapter that exposes a plain Go function as a capability.
//
// Responsibilities:
//   - Holds the JSON schema describing accepted arguments
//   - Compiles that schema once for argument validation by the invoker
//   - Invokes the wrapped function with a *core.ToolContext giving access to
//     the run's caller value, logging and the invocation ID without exposing
//     them to the model
//   - Normalizes error handling so callers receive *Error with code
//     EXECUTION_ERROR (custom codes preserved if the function returns *Error)
//
// A FunctionTool has no mutable state after construction and is safe for
// concurrent use by multiple goroutines.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(toolCtx *core.ToolContext, args map[string]any) (any, error)
	opts        Options

	once      sync.Once
	validator *util.Validator
	schemaErr error
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	sumTool := NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(tc *core.ToolContext, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(toolCtx *core.ToolContext, args map[string]any) (any, error),
	optFns ...func(o *Options),
) *FunctionTool {
	opts := Options{}
	for _, f := range optFns {
		f(&opts)
	}

	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
		opts:        opts,
	}
}

// NewTypedTool derives the argument schema from In and decodes validated
// arguments into In before calling fn.
//
// Example:
//
//	type ConvertArgs struct {
//	  Amount float64 `json:"amount" jsonschema:"amount to convert"`
//	  From   string  `json:"from"`
//	  To     string  `json:"to"`
//	}
//
//	convert, err := NewTypedTool("convert", "Convert currency amounts",
//	  func(tc *core.ToolContext, in ConvertArgs) (string, error) { ... })
func NewTypedTool[In, Out any](
	name, description string,
	fn func(toolCtx *core.ToolContext, in In) (Out, error),
	optFns ...func(o *Options),
) (*FunctionTool, error) {
	schema, err := util.SchemaFor[In]()
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}

	return NewFunctionTool(name, description, schema, func(tc *core.ToolContext, args map[string]any) (any, error) {
		var in In

		raw, err := json.Marshal(args)
		if err != nil {
			return nil, NewError(name, err.Error(), CodeValidation)
		}

		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, &Error{Tool: name, Message: fmt.Sprintf("decode arguments: %v", err), Code: CodeValidation, cause: err}
		}

		return fn(tc, in)
	}, optFns...), nil
}

// MustTypedTool is NewTypedTool that panics on schema inference failure.
func MustTypedTool[In, Out any](
	name, description string,
	fn func(toolCtx *core.ToolContext, in In) (Out, error),
	optFns ...func(o *Options),
) *FunctionTool {
	t, err := NewTypedTool(name, description, fn, optFns...)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the unique tool name used in invocation requests and routing.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the short natural language description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Options returns the descriptor options.
func (t *FunctionTool) Options() Options { return t.opts }

// Kind implements Kinded.
func (t *FunctionTool) Kind() Kind { return KindFunction }

// ValidateArguments checks args against the compiled parameter schema.
func (t *FunctionTool) ValidateArguments(args map[string]any) error {
	t.once.Do(func() {
		t.validator, t.schemaErr = util.NewValidator(t.parameters)
	})

	if t.schemaErr != nil {
		return t.schemaErr
	}

	return t.validator.Validate(args)
}

// Call invokes the underlying function. Failures are wrapped (or passed
// through) as *Error for uniform downstream handling.
//
// Logging Fields:
//
//	tool: tool name
//	invocation_id: correlates model request & tool execution
//	duration_ms: execution time in milliseconds
func (t *FunctionTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	logger := toolCtx.Logger()
	start := time.Now()

	logger.Debug("tool.call.start", "tool", t.name, "invocation_id", toolCtx.InvocationID())

	result, err := t.fn(toolCtx, args)
	if err != nil {
		toolErr := WrapError(t.name, CodeExecution, err)
		logger.Warn("tool.call.error", "tool", t.name, "error", toolErr.Message)

		return nil, toolErr
	}

	logger.Debug("tool.call.success", "tool", t.name, "duration_ms", time.Since(start).Milliseconds())

	return result, nil
}
