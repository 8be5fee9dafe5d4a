package guardrail

import (
	"context"

	"github.com/hupe1980/orchestra/core"
)

// Stage identifies when a guardrail runs.
type Stage string

const (
	StageInput  Stage = "input"
	StageOutput Stage = "output"
)

// Verdict is the outcome of one guardrail check.
type Verdict struct {
	// Annotation is arbitrary information about the check, returned to the caller.
	Annotation any `json:"annotation,omitempty"`
	// TripwireTriggered aborts the run when true.
	TripwireTriggered bool `json:"tripwire_triggered"`
}

// Pass returns a verdict that lets the run continue.
func Pass(annotation any) Verdict { return Verdict{Annotation: annotation} }

// Trip returns a verdict that aborts the run.
func Trip(annotation any) Verdict { return Verdict{Annotation: annotation, TripwireTriggered: true} }

// InputCheck inspects the initial input of a run.
type InputCheck func(ctx context.Context, rc *core.RunContext, agentName string, input []core.Item) (Verdict, error)

// OutputCheck inspects a candidate final output.
type OutputCheck func(ctx context.Context, rc *core.RunContext, agentName string, output any) (Verdict, error)

// InputGuardrail is a named input gate.
type InputGuardrail struct {
	Name  string
	Check InputCheck
}

// OutputGuardrail is a named output gate.
type OutputGuardrail struct {
	Name  string
	Check OutputCheck
}

// NewInput creates an input guardrail.
func NewInput(name string, check InputCheck) InputGuardrail {
	return InputGuardrail{Name: name, Check: check}
}

// NewOutput creates an output guardrail.
func NewOutput(name string, check OutputCheck) OutputGuardrail {
	return OutputGuardrail{Name: name, Check: check}
}

// Result records the verdict of one gate of an evaluated set.
type Result struct {
	Guardrail string  `json:"guardrail"`
	Stage     Stage   `json:"stage"`
	Agent     string  `json:"agent"`
	Verdict   Verdict `json:"verdict"`
}
