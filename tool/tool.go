// Package tool implements the capability descriptor model: the invocable
// units a model may request during a run. Function capabilities wrap Go
// functions, remote capabilities delegate to an external service, and
// delegated-agent capabilities (built by the runner package) run a nested
// agent. Every capability carries a JSON schema used both as model facing
// documentation and for argument validation.
package tool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/orchestra/core"
	"github.com/hupe1980/orchestra/internal/util"
)

// Tool defines the interface for extending agent capabilities with external functions.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Handle errors gracefully
//   - Be thread-safe, since invocations within one turn run concurrently
type Tool interface {
	// Name returns the unique identifier for this tool within an agent.
	Name() string

	// Description returns a human-readable description of what this tool does.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]any

	// Call executes the tool with already validated arguments.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// Kind identifies the capability variant.
type Kind string

const (
	// KindFunction is a local Go function.
	KindFunction Kind = "function"
	// KindDelegatedAgent runs a nested agent and returns its final output.
	KindDelegatedAgent Kind = "delegated_agent"
	// KindRemote delegates to an external capability provider.
	KindRemote Kind = "remote"
)

// FailurePolicy decides what happens when a capability fails.
type FailurePolicy int

const (
	// FailureSurface converts the failure into a CapabilityResult error the model can see.
	FailureSurface FailurePolicy = iota
	// FailurePropagate aborts the run with a typed error.
	FailurePropagate
)

// String returns the policy name.
func (p FailurePolicy) String() string {
	if p == FailurePropagate {
		return "propagate"
	}
	return "surface"
}

// Options are the descriptor settings shared by every capability variant.
type Options struct {
	// FailurePolicy applies to argument validation and execution failures.
	FailurePolicy FailurePolicy
	// FailureFormatter renders the error text shown to the model. Defaults to DefaultFailureMessage.
	FailureFormatter func(err error) string
	// IsEnabled hides the capability from the model for a run when it returns false.
	IsEnabled func(ctx context.Context, rc *core.RunContext) bool
	// Timeout overrides the runner's per-capability timeout when positive.
	Timeout time.Duration
}

// Configurable is implemented by tools exposing descriptor Options.
type Configurable interface {
	Options() Options
}

// Kinded is implemented by tools reporting their variant.
type Kinded interface {
	Kind() Kind
}

// ArgumentValidator is implemented by tools that validate arguments with a
// pre-compiled schema.
type ArgumentValidator interface {
	ValidateArguments(args map[string]any) error
}

// OptionsOf returns the Options of t, or the zero Options.
func OptionsOf(t Tool) Options {
	if c, ok := t.(Configurable); ok {
		return c.Options()
	}
	return Options{}
}

// KindOf returns the variant of t; tools without a Kind are functions.
func KindOf(t Tool) Kind {
	if k, ok := t.(Kinded); ok {
		return k.Kind()
	}
	return KindFunction
}

// Enabled evaluates the IsEnabled predicate of t.
func Enabled(ctx context.Context, rc *core.RunContext, t Tool) bool {
	if fn := OptionsOf(t).IsEnabled; fn != nil {
		return fn(ctx, rc)
	}
	return true
}

// ValidateArguments validates args against the schema of t.
func ValidateArguments(t Tool, args map[string]any) error {
	if v, ok := t.(ArgumentValidator); ok {
		return v.ValidateArguments(args)
	}
	return util.ValidateParameters(args, t.Parameters())
}

// DefaultFailureMessage is the text the model sees for a failed capability.
func DefaultFailureMessage(err error) string {
	return fmt.Sprintf("An error occurred while running the tool. Please try again. Error: %v", err)
}

// FailureMessage renders err for the model using the formatter of t.
func FailureMessage(t Tool, err error) string {
	if t != nil {
		if fn := OptionsOf(t).FailureFormatter; fn != nil {
			return fn(err)
		}
	}
	return DefaultFailureMessage(err)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes carried by *Error.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeRemote     = "REMOTE_ERROR"
	CodeTimeout    = "TIMEOUT"
	CodeNotFound   = "NOT_FOUND"
)

// Error represents errors that occur during tool execution.
type Error struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
	cause   error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// NewError creates a new Error with the specified details.
func NewError(tool, message, code string) *Error {
	return &Error{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// WrapError wraps err as an *Error with the given code unless it already is one.
func WrapError(tool, code string, err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Tool: tool, Message: err.Error(), Code: code, cause: err}
}
