package runner

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/orchestra/agent"
	"github.com/hupe1980/orchestra/core"
	"github.com/hupe1980/orchestra/guardrail"
)

// Result is the outcome of a run. When a run fails the Result returned
// alongside the error describes how far it got: FinalOutput is nil and
// NewItems holds every item produced before the failure.
type Result struct {
	RunID string
	// Input is what the first generation saw, including session history.
	Input []core.Item
	// NewItems are the items produced by the run, in order.
	NewItems    []core.Item
	FinalOutput any
	// LastAgent is the agent that was active when the run ended.
	LastAgent              *agent.Agent
	TurnsUsed              int
	InputGuardrailResults  []guardrail.Result
	OutputGuardrailResults []guardrail.Result
	Usage                  core.Usage
}

// Items returns the full item log: the input followed by the new items.
func (r *Result) Items() []core.Item {
	out := make([]core.Item, 0, len(r.Input)+len(r.NewItems))
	out = append(out, r.Input...)
	return append(out, r.NewItems...)
}

// ToInputList returns the item log as input for a follow-up run.
func (r *Result) ToInputList() []core.Item {
	return core.CloneItems(r.Items())
}

// LastAgentName returns the name of the final agent, or "" before any agent ran.
func (r *Result) LastAgentName() string {
	if r.LastAgent == nil {
		return ""
	}
	return r.LastAgent.Name()
}

// FinalOutputText renders the final output as text. Structured outputs are
// encoded as JSON.
func (r *Result) FinalOutputText() string {
	switch v := r.FinalOutput.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

// FinalOutputAs returns the final output as T.
func FinalOutputAs[T any](r *Result) (T, error) {
	var zero T
	if r == nil || r.FinalOutput == nil {
		return zero, fmt.Errorf("run produced no final output")
	}
	v, ok := r.FinalOutput.(T)
	if !ok {
		return zero, fmt.Errorf("final output is %T, not %T", r.FinalOutput, zero)
	}
	return v, nil
}
