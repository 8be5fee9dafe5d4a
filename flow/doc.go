// Package flow assembles model requests and executes capability invocations
// for one turn of a run.
//
// Request processors build each turn's model.Request from the active agent,
// the visible items and the run's settings. The Executor runs the capability
// invocations a model requested: it resolves each invocation to its
// descriptor, validates the arguments, runs independent invocations
// concurrently under a parallelism cap and reassembles results in request
// order.
package flow
