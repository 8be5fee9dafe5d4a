package agent

import (
	"context"
	"slices"

	"github.com/hupe1980/orchestra/core"
)

// ToolsToFinalOutput is the decision of a ToolUseBehavior.
type ToolsToFinalOutput struct {
	// IsFinal ends the run with FinalOutput without another generation.
	IsFinal     bool
	FinalOutput any
}

// ToolUseFunc decides whether the capability results of a turn end the run.
type ToolUseFunc func(ctx context.Context, rc *core.RunContext, results []core.CapabilityResult) (ToolsToFinalOutput, error)

type behaviorKind int

const (
	runLLMAgain behaviorKind = iota
	stopOnFirstTool
	stopAtTools
	customToolUse
)

// ToolUseBehavior controls what happens after capabilities ran. The zero
// value is RunLLMAgain.
type ToolUseBehavior struct {
	kind  behaviorKind
	names []string
	fn    ToolUseFunc
}

// RunLLMAgain feeds capability results back to the model.
func RunLLMAgain() ToolUseBehavior { return ToolUseBehavior{kind: runLLMAgain} }

// StopOnFirstTool uses the first capability result of a turn as the final output.
func StopOnFirstTool() ToolUseBehavior { return ToolUseBehavior{kind: stopOnFirstTool} }

// StopAtTools ends the run when one of the named capabilities ran; its result is the final output.
func StopAtTools(names ...string) ToolUseBehavior {
	return ToolUseBehavior{kind: stopAtTools, names: names}
}

// CustomToolUse delegates the decision to fn.
func CustomToolUse(fn ToolUseFunc) ToolUseBehavior {
	return ToolUseBehavior{kind: customToolUse, fn: fn}
}

// Decide evaluates the behavior for the capability results of one turn.
func (b ToolUseBehavior) Decide(ctx context.Context, rc *core.RunContext, results []core.CapabilityResult) (ToolsToFinalOutput, error) {
	if len(results) == 0 {
		return ToolsToFinalOutput{}, nil
	}

	switch b.kind {
	case stopOnFirstTool:
		return ToolsToFinalOutput{IsFinal: true, FinalOutput: resultValue(results[0])}, nil
	case stopAtTools:
		for _, r := range results {
			if slices.Contains(b.names, r.Name) {
				return ToolsToFinalOutput{IsFinal: true, FinalOutput: resultValue(r)}, nil
			}
		}
	case customToolUse:
		if b.fn != nil {
			return b.fn(ctx, rc, results)
		}
	}

	return ToolsToFinalOutput{}, nil
}

func resultValue(r core.CapabilityResult) any {
	if r.Failed() {
		return r.Error
	}
	return r.Output
}
