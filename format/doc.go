// Package format implements structured output: declaring an output schema for
// a call, resolving the requested formatting mode against a model's
// capabilities, generating formatting instructions, and parsing (possibly
// still-streaming) model output into partial or complete values.
//
// A Format is declared once per output type via New and is immutable.
// Resolution against model capabilities produces a new resolved value with a
// concrete mode; the declared Format is never mutated.
package format
