// Package runner implements the orchestration loop.
//
// A Runner drives a starting agent through turns. Each turn assembles a
// model request from the agent's instructions, visible history, enabled
// capabilities and delegations, then classifies the generation: capability
// invocations are executed concurrently and their results appended in
// request order; a delegation transfers control to another agent with a
// filtered view of the history; anything else is the final output, which is
// validated against the agent's output type and output gates.
//
// Input gates race the first generation. If one trips, the generation is
// cancelled and nothing it produced reaches the item log.
//
// Run and RunItems block until the run ends. RunStreamed returns a Stream
// delivering semantic events and raw model deltas while the run progresses.
// Every entry point returns a *Result, also on failure, describing the
// partial progress alongside the typed error from package core.
//
// AgentTool exposes an agent as a capability executed as a nested run.
package runner
