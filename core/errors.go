package core

import (
	"errors"
	"fmt"
)

// Sentinels matched by the typed run errors through errors.Is.
var (
	ErrModelBackend           = errors.New("model backend error")
	ErrToolArgumentValidation = errors.New("tool argument validation failed")
	ErrCapabilityExecution    = errors.New("capability execution failed")
	ErrHandoffResolution      = errors.New("handoff resolution failed")
	ErrInputGuardrailTripwire = errors.New("input guardrail tripwire triggered")
	ErrOutputGuardrailTripped = errors.New("output guardrail tripwire triggered")
	ErrGuardrailCheck         = errors.New("guardrail check failed")
	ErrMaxTurnsExceeded       = errors.New("max turns exceeded")
	ErrOutputShapeValidation  = errors.New("output shape validation failed")
	ErrCancelled              = errors.New("run cancelled")
)

// ModelBackendError reports a transport or backend failure. It is never
// retried by the runtime.
type ModelBackendError struct {
	Agent string
	Model string
	Err   error
}

func (e *ModelBackendError) Error() string {
	return fmt.Sprintf("model backend error (agent %q, model %q): %v", e.Agent, e.Model, e.Err)
}

func (e *ModelBackendError) Unwrap() error        { return e.Err }
func (e *ModelBackendError) Is(target error) bool { return target == ErrModelBackend }

// ToolArgumentValidationError reports arguments that are not valid JSON or do
// not satisfy the capability's argument schema.
type ToolArgumentValidationError struct {
	Capability   string
	InvocationID string
	Err          error
}

func (e *ToolArgumentValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for capability %q: %v", e.Capability, e.Err)
}

func (e *ToolArgumentValidationError) Unwrap() error        { return e.Err }
func (e *ToolArgumentValidationError) Is(target error) bool { return target == ErrToolArgumentValidation }

// CapabilityExecutionError reports a failing capability whose failure policy
// propagates errors to the caller.
type CapabilityExecutionError struct {
	Capability   string
	InvocationID string
	Err          error
}

func (e *CapabilityExecutionError) Error() string {
	return fmt.Sprintf("capability %q failed: %v", e.Capability, e.Err)
}

func (e *CapabilityExecutionError) Unwrap() error        { return e.Err }
func (e *CapabilityExecutionError) Is(target error) bool { return target == ErrCapabilityExecution }

// HandoffResolutionError reports a delegation that could not be resolved.
type HandoffResolutionError struct {
	From   string
	Target string
	Reason string
	Err    error
}

func (e *HandoffResolutionError) Error() string {
	msg := fmt.Sprintf("handoff from %q to %q failed: %s", e.From, e.Target, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *HandoffResolutionError) Unwrap() error        { return e.Err }
func (e *HandoffResolutionError) Is(target error) bool { return target == ErrHandoffResolution }

// InputGuardrailTripwireError carries the annotation of the input gate that tripped.
type InputGuardrailTripwireError struct {
	Guardrail  string
	Agent      string
	Annotation any
}

func (e *InputGuardrailTripwireError) Error() string {
	return fmt.Sprintf("input guardrail %q triggered tripwire", e.Guardrail)
}

func (e *InputGuardrailTripwireError) Is(target error) bool {
	return target == ErrInputGuardrailTripwire
}

// OutputGuardrailTripwireError carries the annotation of the output gate that tripped.
type OutputGuardrailTripwireError struct {
	Guardrail  string
	Agent      string
	Output     any
	Annotation any
}

func (e *OutputGuardrailTripwireError) Error() string {
	return fmt.Sprintf("output guardrail %q triggered tripwire", e.Guardrail)
}

func (e *OutputGuardrailTripwireError) Is(target error) bool {
	return target == ErrOutputGuardrailTripped
}

// GuardrailCheckError reports a gate that failed to produce a verdict. It is
// run-fatal and never a tripwire.
type GuardrailCheckError struct {
	Stage     string
	Guardrail string
	Agent     string
	Err       error
}

func (e *GuardrailCheckError) Error() string {
	return fmt.Sprintf("%s guardrail %q: %v", e.Stage, e.Guardrail, e.Err)
}

func (e *GuardrailCheckError) Unwrap() error        { return e.Err }
func (e *GuardrailCheckError) Is(target error) bool { return target == ErrGuardrailCheck }

// MaxTurnsExceededError is returned when a run needs more turns than allowed.
// Items holds the partial item log at the time of failure.
type MaxTurnsExceededError struct {
	MaxTurns int
	Items    []Item
}

func (e *MaxTurnsExceededError) Error() string {
	return fmt.Sprintf("max turns (%d) exceeded", e.MaxTurns)
}

func (e *MaxTurnsExceededError) Is(target error) bool { return target == ErrMaxTurnsExceeded }

// OutputShapeValidationError reports final output that does not satisfy the
// agent's expected output shape.
type OutputShapeValidationError struct {
	Agent string
	Raw   string
	Err   error
}

func (e *OutputShapeValidationError) Error() string {
	return fmt.Sprintf("agent %q produced output not matching the expected shape: %v", e.Agent, e.Err)
}

func (e *OutputShapeValidationError) Unwrap() error        { return e.Err }
func (e *OutputShapeValidationError) Is(target error) bool { return target == ErrOutputShapeValidation }

// CancelledError is returned when the run's context is cancelled or its
// deadline expires. Cause is the context error.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string {
	if e.Cause == nil {
		return ErrCancelled.Error()
	}
	return fmt.Sprintf("%s: %v", ErrCancelled, e.Cause)
}

func (e *CancelledError) Unwrap() error        { return e.Cause }
func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }

// IsTripwire reports whether err is an input or output guardrail tripwire.
func IsTripwire(err error) bool {
	return errors.Is(err, ErrInputGuardrailTripwire) || errors.Is(err, ErrOutputGuardrailTripped)
}
