package runner

import (
	"errors"
	"fmt"

	"github.com/hupe1980/orchestra/agent"
	"github.com/hupe1980/orchestra/core"
	"github.com/hupe1980/orchestra/internal/util"
	"github.com/hupe1980/orchestra/tool"
)

// AgentToolOptions configure an AgentTool.
type AgentToolOptions struct {
	tool.Options
	// Name defaults to the snake_case agent name.
	Name        string
	Description string
	// MaxTurns bounds the nested run independently of the parent run.
	MaxTurns int
	// OutputExtractor turns the nested Result into the capability output.
	// The default returns the final output.
	OutputExtractor func(res *Result) (any, error)
}

// AgentTool exposes an agent as a capability. Invoking it runs the agent to
// completion as a nested run with a fresh item log; the parent agent keeps
// control and receives the nested final output as the capability result.
type AgentTool struct {
	agent *agent.Agent
	opts  AgentToolOptions
}

// NewAgentTool wraps a as a capability.
func NewAgentTool(a *agent.Agent, optFns ...func(o *AgentToolOptions)) *AgentTool {
	opts := AgentToolOptions{
		Name:        util.SnakeCase(a.Name()),
		Description: a.HandoffDescription(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Description == "" {
		opts.Description = fmt.Sprintf("Run the %s agent and return its answer.", a.Name())
	}

	return &AgentTool{agent: a, opts: opts}
}

// AsTool is a shorthand for NewAgentTool with a name and description.
func AsTool(a *agent.Agent, name, description string) *AgentTool {
	return NewAgentTool(a, func(o *AgentToolOptions) {
		if name != "" {
			o.Name = name
		}
		if description != "" {
			o.Description = description
		}
	})
}

// Name implements tool.Tool.
func (t *AgentTool) Name() string { return t.opts.Name }

// Description implements tool.Tool.
func (t *AgentTool) Description() string { return t.opts.Description }

// Parameters implements tool.Tool.
func (t *AgentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"input": map[string]any{
				"type":        "string",
				"description": "The input for the agent.",
			},
		},
		"required":             []any{"input"},
		"additionalProperties": false,
	}
}

// Options implements tool.Configurable.
func (t *AgentTool) Options() tool.Options { return t.opts.Options }

// Kind implements tool.Kinded.
func (t *AgentTool) Kind() tool.Kind { return tool.KindDelegatedAgent }

// Agent returns the wrapped agent.
func (t *AgentTool) Agent() *agent.Agent { return t.agent }

// Call runs the wrapped agent on the input argument. The nested run shares
// the runner and the RunContext value of the parent run; its token usage is
// added to the parent's.
func (t *AgentTool) Call(tc *core.ToolContext, args map[string]any) (any, error) {
	input, _ := args["input"].(string)

	r := runnerFromContext(tc.Context())
	if r == nil {
		return nil, errors.New("agent tool invoked outside of a run")
	}

	tc.LogDebug("agent.tool.nested_run", "agent", t.agent.Name())

	res, err := r.Run(tc.Context(), t.agent, input, func(o *RunOptions) {
		o.Context = tc.Value()
		o.MaxTurns = t.opts.MaxTurns
	})

	if res != nil && tc.RunContext() != nil {
		tc.RunContext().AddUsage(res.Usage)
	}

	if err != nil {
		return nil, fmt.Errorf("nested run of agent %s: %w", t.agent.Name(), err)
	}

	if t.opts.OutputExtractor != nil {
		return t.opts.OutputExtractor(res)
	}

	return res.FinalOutput, nil
}
