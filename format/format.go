package format

import (
	"encoding/json"
	"reflect"
	"sync"
)

// Mode selects how structured output is obtained from a model.
type Mode string

const (
	// ModeStrict uses the provider's native constrained decoding; the
	// transport itself enforces the schema.
	ModeStrict Mode = "strict"
	// ModeJSON asks the model for a JSON response via instructions (and the
	// provider's JSON response mode when available).
	ModeJSON Mode = "json"
	// ModeTool forces the model to call a sentinel output tool whose
	// arguments carry the structured value.
	ModeTool Mode = "tool"
	// ModeStrictOrTool requests strict when the model supports it, tool
	// otherwise. Resolution turns it into a concrete mode.
	ModeStrictOrTool Mode = "strict-or-tool"
	// ModeStrictOrJSON requests strict when the model supports it, json
	// otherwise. Resolution turns it into a concrete mode.
	ModeStrictOrJSON Mode = "strict-or-json"
)

// IsConcrete reports whether the mode is an unambiguous strategy rather than
// a compound request.
func (m Mode) IsConcrete() bool {
	return m == ModeStrict || m == ModeJSON || m == ModeTool
}

// ToolName is the reserved name of the sentinel tool used in tool mode.
const ToolName = "__formatted_output_tool__"

// Format declares the structured output contract for a call: a name, a JSON
// schema derived from the target Go type, the requested mode and optional
// formatting instructions. Values are immutable after construction; Resolve
// returns a new value rather than mutating.
type Format struct {
	// Name identifies the output type (defaults to the Go type name).
	Name string
	// Description is surfaced to the model in tool mode.
	Description string
	// Schema is the JSON Schema for the target type.
	Schema map[string]any
	// Mode is the requested (possibly compound) or resolved concrete mode.
	Mode Mode
	// Instructions holds the formatting instructions for the model. Nil on a
	// declared format means "generate during resolution" unless generation
	// was explicitly disabled.
	Instructions *string

	// target is the Go type the output parses into.
	target reflect.Type
	// noInstructions disables instruction generation: the caller contracts
	// to have embedded equivalent guidance elsewhere.
	noInstructions bool
}

// Option configures Format construction.
type Option func(f *Format)

// WithMode sets the requested formatting mode. Default is ModeStrictOrJSON.
func WithMode(mode Mode) Option {
	return func(f *Format) { f.Mode = mode }
}

// WithName overrides the format name derived from the type.
func WithName(name string) Option {
	return func(f *Format) { f.Name = name }
}

// WithDescription sets the description surfaced in tool mode.
func WithDescription(description string) Option {
	return func(f *Format) { f.Description = description }
}

// WithInstructions supplies explicit formatting instructions, suppressing
// auto-generation.
func WithInstructions(instructions string) Option {
	return func(f *Format) { f.Instructions = &instructions }
}

// WithoutInstructions disables instruction generation entirely. The caller is
// then responsible for having embedded equivalent guidance in the prompt;
// resolution preserves the absence and never synthesizes a default.
func WithoutInstructions() Option {
	return func(f *Format) {
		f.Instructions = nil
		f.noInstructions = true
	}
}

// declaredCache memoizes the default (option-free) Format per target type so
// repeated declaration and resolution is idempotent.
var declaredCache sync.Map // reflect.Type -> *Format

// New declares a Format for the output type T. The schema is derived from T
// via SchemaOf. Declaring the same type twice yields structurally identical
// formats; the option-free declaration is cached per type.
func New[T any](opts ...Option) *Format {
	target := reflect.TypeOf((*T)(nil)).Elem()
	if len(opts) == 0 {
		if cached, ok := declaredCache.Load(target); ok {
			return cached.(*Format)
		}
	}

	f := &Format{
		Name:   typeName(target),
		Schema: SchemaOfType(target),
		Mode:   ModeStrictOrJSON,
		target: target,
	}
	for _, opt := range opts {
		opt(f)
	}

	if len(opts) == 0 {
		declaredCache.Store(target, f)
	}
	return f
}

// Target returns the Go type the output parses into.
func (f *Format) Target() reflect.Type { return f.target }

// SchemaJSON renders the schema as pretty-printed JSON for embedding in
// formatting instructions. Key order is deterministic, so rendering the same
// format twice is byte-identical.
func (f *Format) SchemaJSON() string {
	data, err := json.MarshalIndent(f.Schema, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// ToolSchema returns the sentinel tool definition handed to provider encoders
// in tool mode: the reserved tool name, the format description and the output
// schema as the tool's parameters.
func (f *Format) ToolSchema() (name, description string, parameters map[string]any) {
	description = f.Description
	if description == "" {
		description = "Produce the final structured output for this request."
	}
	return ToolName, description, f.Schema
}

// clone returns a shallow copy; Resolve uses it so declared formats are never
// mutated.
func (f *Format) clone() *Format {
	c := *f
	return &c
}

func typeName(t reflect.Type) string {
	if name := t.Name(); name != "" {
		return name
	}
	return t.String()
}
