// Package model defines the backend interface the runner drives each turn.
//
// A Model receives a normalized Request (instructions, capability schemas,
// the visible conversation items and an optional output schema) and answers
// on a channel of Responses. Streaming backends send partial Responses
// carrying a core.Delta followed by one completed Response; non-streaming
// backends send only the completed Response. Collect consumes either mode.
package model
