// Package core provides the foundational domain types shared by every
// orchestra package:
//
//   - Conversation items (the append-only run log) and their JSON codec
//   - Semantic run events and the EventSink subscriber interface
//   - RunContext / ToolContext (caller state threaded through a run)
//   - The typed run error taxonomy
//   - Turn limiting, usage accounting and the SessionStore interface
//
// The package keeps orchestration concerns out of scope. It only defines
// small value types and interfaces so that model backends, capabilities,
// guardrails and stores can be implemented without importing the runner.
package core
