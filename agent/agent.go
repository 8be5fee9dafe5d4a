package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/orchestra/core"
	"github.com/hupe1980/orchestra/guardrail"
	"github.com/hupe1980/orchestra/handoff"
	"github.com/hupe1980/orchestra/model"
	"github.com/hupe1980/orchestra/tool"
)

// Options configures an Agent.
//
// Use functional options with New to override defaults.
type Options struct {
	// Instruction is the system prompt, static or derived per run.
	Instruction Instruction
	// HandoffDescription is appended to the description of handoffs targeting this agent.
	HandoffDescription string
	// ModelName is resolved through the runner's model provider. Empty selects the default model.
	ModelName string
	// Model bypasses the provider when set.
	Model model.Model
	// ModelSettings tune every generation of this agent.
	ModelSettings model.Settings
	// Tools are the capabilities the model may invoke. Names must be unique.
	Tools []tool.Tool
	// Handoffs are the delegations the model may invoke.
	Handoffs []*handoff.Handoff
	// Peers are agents reachable from this one, registered with the run's arena.
	Peers []*Agent
	// InputGuardrails run against the initial input when this agent starts a run.
	InputGuardrails []guardrail.InputGuardrail
	// OutputGuardrails run against the final output when this agent produces it.
	OutputGuardrails []guardrail.OutputGuardrail
	// OutputType is the expected output shape. Nil means plain text.
	OutputType *OutputType
	// ToolUseBehavior decides whether capability results end the run.
	ToolUseBehavior ToolUseBehavior
	// ResetToolChoice reverts a forced tool choice to auto after capability use. Defaults to true.
	ResetToolChoice *bool

	rename string
}

// Agent is an immutable agent descriptor.
type Agent struct {
	name string
	opts Options
}

// New creates an agent. The default instruction introduces the agent by name.
func New(name string, optFns ...func(o *Options)) *Agent {
	opts := Options{
		Instruction: NewInstructionFromText(fmt.Sprintf("You are %s, a helpful AI assistant.", name)),
	}

	for _, fn := range optFns {
		fn(&opts)
	}
	opts.rename = ""

	return &Agent{name: name, opts: copyOptions(opts)}
}

// Clone returns a new agent with the option functions applied on top of a's options.
// The name is kept unless Rename is among the option functions.
func (a *Agent) Clone(optFns ...func(o *Options)) *Agent {
	opts := copyOptions(a.opts)
	name := a.name

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.rename != "" {
		name = opts.rename
		opts.rename = ""
	}

	return &Agent{name: name, opts: copyOptions(opts)}
}

func copyOptions(o Options) Options {
	o.Tools = append([]tool.Tool(nil), o.Tools...)
	o.Handoffs = append([]*handoff.Handoff(nil), o.Handoffs...)
	o.Peers = append([]*Agent(nil), o.Peers...)
	o.InputGuardrails = append([]guardrail.InputGuardrail(nil), o.InputGuardrails...)
	o.OutputGuardrails = append([]guardrail.OutputGuardrail(nil), o.OutputGuardrails...)
	return o
}

// Validate checks the descriptor for configuration errors: an empty name and
// duplicate capability names across tools and handoffs.
func (a *Agent) Validate() error {
	if a.name == "" {
		return errors.New("agent name must not be empty")
	}

	seen := make(map[string]string, len(a.opts.Tools)+len(a.opts.Handoffs))

	for _, t := range a.opts.Tools {
		if t == nil {
			return fmt.Errorf("agent %s: nil tool", a.name)
		}
		if _, dup := seen[t.Name()]; dup {
			return fmt.Errorf("agent %s: duplicate capability name %q", a.name, t.Name())
		}
		seen[t.Name()] = "tool"
	}

	for _, h := range a.opts.Handoffs {
		if h == nil {
			return fmt.Errorf("agent %s: nil handoff", a.name)
		}
		if kind, dup := seen[h.Name()]; dup {
			return fmt.Errorf("agent %s: handoff name %q collides with %s", a.name, h.Name(), kind)
		}
		seen[h.Name()] = "handoff"
	}

	return nil
}

// Name returns the agent name, unique within a run's delegation graph.
func (a *Agent) Name() string { return a.name }

// HandoffDescription returns the description used by handoffs targeting this agent.
func (a *Agent) HandoffDescription() string { return a.opts.HandoffDescription }

// Instructions resolves the system prompt for a run.
func (a *Agent) Instructions(ctx context.Context, rc *core.RunContext) (string, error) {
	return a.opts.Instruction.Resolve(ctx, rc, a)
}

// ModelName returns the model reference resolved by the runner.
func (a *Agent) ModelName() string { return a.opts.ModelName }

// Model returns the directly configured model, or nil.
func (a *Agent) Model() model.Model { return a.opts.Model }

// ModelSettings returns the agent's model settings.
func (a *Agent) ModelSettings() model.Settings { return a.opts.ModelSettings }

// Tools returns a copy of the agent's capabilities.
func (a *Agent) Tools() []tool.Tool { return append([]tool.Tool(nil), a.opts.Tools...) }

// Handoffs returns a copy of the agent's delegations.
func (a *Agent) Handoffs() []*handoff.Handoff {
	return append([]*handoff.Handoff(nil), a.opts.Handoffs...)
}

// Peers returns the agents reachable from this one.
func (a *Agent) Peers() []*Agent { return append([]*Agent(nil), a.opts.Peers...) }

// InputGuardrails returns the agent's input gates.
func (a *Agent) InputGuardrails() []guardrail.InputGuardrail {
	return append([]guardrail.InputGuardrail(nil), a.opts.InputGuardrails...)
}

// OutputGuardrails returns the agent's output gates.
func (a *Agent) OutputGuardrails() []guardrail.OutputGuardrail {
	return append([]guardrail.OutputGuardrail(nil), a.opts.OutputGuardrails...)
}

// OutputType returns the expected output shape, or nil for plain text.
func (a *Agent) OutputType() *OutputType { return a.opts.OutputType }

// ToolUseBehavior returns the tool use behavior.
func (a *Agent) ToolUseBehavior() ToolUseBehavior { return a.opts.ToolUseBehavior }

// ResetToolChoice reports whether a forced tool choice reverts after capability use.
func (a *Agent) ResetToolChoice() bool {
	if a.opts.ResetToolChoice == nil {
		return true
	}
	return *a.opts.ResetToolChoice
}

// FindTool returns the tool with the given name.
func (a *Agent) FindTool(name string) (tool.Tool, bool) {
	for _, t := range a.opts.Tools {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// FindHandoff returns the handoff presented to the model under name.
func (a *Agent) FindHandoff(name string) (*handoff.Handoff, bool) {
	for _, h := range a.opts.Handoffs {
		if h.Name() == name {
			return h, true
		}
	}
	return nil, false
}

// EnabledTools returns the tools visible to the model for this run.
func (a *Agent) EnabledTools(ctx context.Context, rc *core.RunContext) []tool.Tool {
	out := make([]tool.Tool, 0, len(a.opts.Tools))
	for _, t := range a.opts.Tools {
		if tool.Enabled(ctx, rc, t) {
			out = append(out, t)
		}
	}
	return out
}

// EnabledHandoffs returns the handoffs visible to the model for this run.
func (a *Agent) EnabledHandoffs(ctx context.Context, rc *core.RunContext) []*handoff.Handoff {
	out := make([]*handoff.Handoff, 0, len(a.opts.Handoffs))
	for _, h := range a.opts.Handoffs {
		if h.Enabled(ctx, rc) {
			out = append(out, h)
		}
	}
	return out
}

// String implements fmt.Stringer.
func (a *Agent) String() string { return a.name }
