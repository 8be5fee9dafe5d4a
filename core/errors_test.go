package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsMatchSentinels(t *testing.T) {
	cause := errors.New("cause")

	cases := []struct {
		err      error
		sentinel error
	}{
		{&ModelBackendError{Agent: "a", Err: cause}, ErrModelBackend},
		{&ToolArgumentValidationError{Capability: "c", Err: cause}, ErrToolArgumentValidation},
		{&CapabilityExecutionError{Capability: "c", Err: cause}, ErrCapabilityExecution},
		{&HandoffResolutionError{From: "a", Target: "b", Reason: "unknown agent"}, ErrHandoffResolution},
		{&InputGuardrailTripwireError{Guardrail: "g"}, ErrInputGuardrailTripwire},
		{&OutputGuardrailTripwireError{Guardrail: "g"}, ErrOutputGuardrailTripped},
		{&GuardrailCheckError{Stage: "input", Guardrail: "g", Err: cause}, ErrGuardrailCheck},
		{&MaxTurnsExceededError{MaxTurns: 2}, ErrMaxTurnsExceeded},
		{&OutputShapeValidationError{Agent: "a", Err: cause}, ErrOutputShapeValidation},
		{&CancelledError{Cause: context.Canceled}, ErrCancelled},
	}

	for _, tc := range cases {
		wrapped := fmt.Errorf("run: %w", tc.err)
		assert.ErrorIs(t, wrapped, tc.sentinel, tc.err.Error())
	}
}

func TestCancelledError_UnwrapsContextError(t *testing.T) {
	err := &CancelledError{Cause: context.DeadlineExceeded}
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "run cancelled")
}

func TestIsTripwire(t *testing.T) {
	assert.True(t, IsTripwire(&InputGuardrailTripwireError{}))
	assert.True(t, IsTripwire(&OutputGuardrailTripwireError{}))
	assert.False(t, IsTripwire(&MaxTurnsExceededError{}))
	assert.False(t, IsTripwire(&GuardrailCheckError{}))
}

func TestErrorsAs(t *testing.T) {
	var err error = fmt.Errorf("wrapped: %w", &OutputGuardrailTripwireError{Guardrail: "disclaimer", Annotation: "missing"})

	var trip *OutputGuardrailTripwireError
	if assert.ErrorAs(t, err, &trip) {
		assert.Equal(t, "missing", trip.Annotation)
	}
}
