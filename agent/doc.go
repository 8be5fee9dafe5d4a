// Package agent contains the immutable agent descriptor and its supporting
// types.
//
// An Agent bundles instructions, model selection, capabilities, delegations,
// validation gates and an optional expected output shape. Agents never change
// after construction; Clone derives a new descriptor with overridden fields.
//
// Delegation graphs are represented as an arena: handoffs reference their
// target by name and a Registry resolves names to agents. Agents supplied
// through HandoffTo or AgentTools are registered automatically when a
// Registry is built from a starting agent, so cyclic graphs only need the
// agents that close the cycle registered explicitly.
package agent
