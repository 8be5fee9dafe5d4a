// Package tracing records trace spans for runs.
//
// A Tracer creates spans of the kinds run, generation, capability,
// delegation and guardrail. Parent relationships follow the context: a span
// started from a context carrying another span becomes its child. Start and
// end notifications are delivered in order to the configured processors.
// Spans are a side channel and never influence control flow.
//
// Payload values marked sensitive (model input and output, capability
// arguments and results) are redacted unless IncludeSensitiveData is set.
package tracing
