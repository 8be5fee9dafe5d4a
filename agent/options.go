package agent

import (
	"github.com/hupe1980/orchestra/guardrail"
	"github.com/hupe1980/orchestra/handoff"
	"github.com/hupe1980/orchestra/model"
	"github.com/hupe1980/orchestra/tool"
)

// WithInstruction sets a static instruction.
func WithInstruction(text string) func(o *Options) {
	return func(o *Options) { o.Instruction = NewInstructionFromText(text) }
}

// WithModel selects a model by name.
func WithModel(name string) func(o *Options) {
	return func(o *Options) { o.ModelName = name }
}

// WithModelInstance uses m directly.
func WithModelInstance(m model.Model) func(o *Options) {
	return func(o *Options) { o.Model = m }
}

// WithTools appends tools.
func WithTools(tools ...tool.Tool) func(o *Options) {
	return func(o *Options) { o.Tools = append(o.Tools, tools...) }
}

// WithHandoffs appends handoff descriptors.
func WithHandoffs(handoffs ...*handoff.Handoff) func(o *Options) {
	return func(o *Options) { o.Handoffs = append(o.Handoffs, handoffs...) }
}

// HandoffTo appends a handoff to target and registers target as a peer. The
// handoff description includes the target's handoff description.
func HandoffTo(target *Agent, optFns ...func(o *handoff.Options)) func(o *Options) {
	return func(o *Options) {
		fns := append([]func(*handoff.Options){func(ho *handoff.Options) {
			ho.ToolDescription = handoff.DefaultToolDescription(target.Name(), target.HandoffDescription())
		}}, optFns...)

		o.Handoffs = append(o.Handoffs, handoff.New(target.Name(), fns...))
		o.Peers = append(o.Peers, target)
	}
}

// WithInputGuardrails appends input gates.
func WithInputGuardrails(gates ...guardrail.InputGuardrail) func(o *Options) {
	return func(o *Options) { o.InputGuardrails = append(o.InputGuardrails, gates...) }
}

// WithOutputGuardrails appends output gates.
func WithOutputGuardrails(gates ...guardrail.OutputGuardrail) func(o *Options) {
	return func(o *Options) { o.OutputGuardrails = append(o.OutputGuardrails, gates...) }
}

// WithOutputType sets the expected output shape.
func WithOutputType(ot *OutputType) func(o *Options) {
	return func(o *Options) { o.OutputType = ot }
}

// WithToolUseBehavior sets the tool use behavior.
func WithToolUseBehavior(b ToolUseBehavior) func(o *Options) {
	return func(o *Options) { o.ToolUseBehavior = b }
}

// WithResetToolChoice controls whether a forced tool choice reverts after capability use.
func WithResetToolChoice(reset bool) func(o *Options) {
	return func(o *Options) { o.ResetToolChoice = &reset }
}

// Rename changes the name of a cloned agent.
func Rename(name string) func(o *Options) {
	return func(o *Options) { o.rename = name }
}
