// Package guardrail implements validation gates and their concurrent executor.
//
// Input guardrails inspect the initial input of a run and race the first
// generation call. Output guardrails inspect a candidate final output. Gates
// of one set run concurrently; the first gate that triggers its tripwire
// cancels its siblings and the run fails with a typed tripwire error carrying
// that gate's annotation. Gates only read their payload and never append
// conversation items.
package guardrail
