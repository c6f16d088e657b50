package format

import (
	"github.com/anyllm/anyllm/logging"
)

// ModelCaps describes the structured-output capabilities of a concrete model,
// supplied by its provider adapter.
type ModelCaps struct {
	// SupportsStrictMode is true when the model supports provider-enforced
	// schema (constrained decoding).
	SupportsStrictMode bool
	// HasNativeJSONSupport is true when the model has a native JSON response
	// mode, so json-mode instructions can omit the plain-text admonition.
	HasNativeJSONSupport bool
}

const jsonInstructionsHeader = "Respond with valid JSON that matches this exact schema:\n\n```json\n"

const jsonOnlyLine = "Respond ONLY with valid JSON, and no other text."

const toolInstructions = "Call the tool named " + ToolName +
	" with arguments matching its schema to produce the final output. Do not emit any other text."

// Resolve turns a declared format into a resolved one against the given model
// capabilities. Concrete modes are kept; compound requests resolve as:
//
//	strict-or-tool -> strict if caps.SupportsStrictMode else tool
//	strict-or-json -> strict if caps.SupportsStrictMode else json
//
// Every fallback transition is logged at DEBUG. Unless instruction generation
// was explicitly disabled or explicit instructions were supplied, formatting
// instructions are generated for the concrete mode. Resolve is pure: it
// returns a new Format and never mutates the declared one, and resolving the
// same format against the same capabilities twice yields identical results.
func Resolve(f *Format, caps ModelCaps, logger logging.Logger) *Format {
	if f == nil {
		return nil
	}
	logger = logging.OrNoOp(logger)

	resolved := f.clone()
	switch f.Mode {
	case ModeStrictOrTool:
		if caps.SupportsStrictMode {
			resolved.Mode = ModeStrict
		} else {
			resolved.Mode = ModeTool
			logger.Debug("format mode strict-or-tool falls back to tool",
				"format", f.Name, "reason", "model does not support strict mode")
		}
	case ModeStrictOrJSON:
		if caps.SupportsStrictMode {
			resolved.Mode = ModeStrict
		} else {
			resolved.Mode = ModeJSON
			logger.Debug("format mode strict-or-json falls back to json",
				"format", f.Name, "reason", "model does not support strict mode")
		}
	default:
		// Already concrete.
	}

	if resolved.noInstructions {
		resolved.Instructions = nil
		return resolved
	}
	if resolved.Instructions != nil {
		return resolved
	}

	switch resolved.Mode {
	case ModeStrict:
		// The transport enforces the schema; no instructions needed.
	case ModeJSON:
		instructions := jsonInstructionsHeader + resolved.SchemaJSON() + "\n```"
		if !caps.HasNativeJSONSupport {
			instructions += "\n\n" + jsonOnlyLine
		}
		resolved.Instructions = &instructions
	case ModeTool:
		instructions := toolInstructions
		resolved.Instructions = &instructions
	}
	return resolved
}
