// Package handoff implements delegations: capabilities that transfer control
// of a run to another agent.
//
// A Handoff is presented to the model as an invocable capability. When the
// model invokes it the Resolver runs the optional OnInitiate callback,
// applies the history filter and records a core.DelegationEvent. Targets are
// referenced by agent name and looked up by the runner.
package handoff
