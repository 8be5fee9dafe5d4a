package agent

import (
	"context"

	"github.com/hupe1980/orchestra/core"
	"github.com/hupe1980/orchestra/internal/util"
)

// Provider supplies dynamic instruction text at runtime.
// Implementations can derive instructions from the run's caller value, the agent, etc.
type Provider interface {
	Instruction(ctx context.Context, rc *core.RunContext, a *Agent) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(ctx context.Context, rc *core.RunContext, a *Agent) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(ctx context.Context, rc *core.RunContext, a *Agent) (string, error) {
	return f(ctx, rc, a)
}

// Instruction represents either a static instruction string or a dynamic provider.
// This mirrors a union of string | provider in a Go-idiomatic way.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(ctx context.Context, rc *core.RunContext, a *Agent) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// NewTemplateInstruction creates an Instruction rendering a text/template
// against the run's caller value.
//
// Example:
//
//	agent.NewTemplateInstruction("You help {{.User}} with billing questions.")
func NewTemplateInstruction(text string) Instruction {
	return NewInstructionFromFunc(func(_ context.Context, rc *core.RunContext, _ *Agent) (string, error) {
		var data any
		if rc != nil {
			data = rc.Value
		}
		return util.RenderTemplate(text, data)
	})
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text, invoking the provider if needed.
func (i Instruction) Resolve(ctx context.Context, rc *core.RunContext, a *Agent) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(ctx, rc, a)
	}
	return i.text, nil
}
