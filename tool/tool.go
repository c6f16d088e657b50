// Package tool implements the function calling subsystem that lets models
// invoke structured capabilities (APIs, computations, side effects) with
// schema validated arguments and consistent error capture.
//
// A Tool binds a declared JSON Schema to a Go function. Schemas are derived
// from the function's typed argument struct, so the wire-visible parameter
// set is exactly the exported, json-tagged fields of that struct. Execution
// failures inside tool code are never propagated as call failures: they are
// captured into the resulting ToolOutput so the model always receives a
// textual result for every call it issued.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/anyllm/anyllm/core"
	"github.com/anyllm/anyllm/format"
	"github.com/anyllm/anyllm/logging"
)

// Tool exposes a Go function to models. Instances are immutable after
// construction and safe for concurrent use.
type Tool struct {
	name        string
	description string
	parameters  map[string]any
	strict      bool
	fn          func(ctx context.Context, rawArgs string) (any, error)
}

// Option configures tool construction.
type Option func(*options)

type options struct {
	strict bool
	logger logging.Logger
}

// Strict marks the tool for strict/structured tool calling. Providers that
// enforce strict tool schemas reject optional properties, so every property
// is forced into the schema's required list.
func Strict() Option {
	return func(o *options) { o.strict = true }
}

// WithLogger attaches a logger used during execution. Defaults to NoOp.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New builds a Tool from a typed function. The parameter schema is derived
// from the Args struct: json tags name the properties, `description` tags
// document them, and pointer or omitempty fields are optional (unless Strict
// is set, which forces every property into required).
func New[Args any](name, description string, fn func(ctx context.Context, args Args) (any, error), opts ...Option) *Tool {
	o := applyOptions(opts)
	logger := logging.OrNoOp(o.logger)

	return &Tool{
		name:        name,
		description: description,
		parameters:  deriveSchema[Args](o.strict),
		strict:      o.strict,
		fn: func(ctx context.Context, rawArgs string) (any, error) {
			args, err := decodeArgs[Args](name, rawArgs)
			if err != nil {
				return nil, err
			}
			logger.Debug("tool.call.start", "tool", name)
			start := time.Now()
			result, err := fn(ctx, args)
			logger.Debug("tool.call.done", "tool", name,
				"duration_ms", time.Since(start).Milliseconds(), "error", err != nil)
			return result, err
		},
	}
}

// NewContext builds a ContextTool: a tool whose implementation additionally
// receives a caller-supplied dependency value. The dependency is excluded
// from the JSON Schema and from the wire-visible parameter set; it is
// injected at call time when the tool is bound via Bind.
func NewContext[D any, Args any](name, description string, fn func(ctx context.Context, deps D, args Args) (any, error), opts ...Option) *ContextTool[D] {
	o := applyOptions(opts)
	logger := logging.OrNoOp(o.logger)

	return &ContextTool[D]{
		name:        name,
		description: description,
		parameters:  deriveSchema[Args](o.strict),
		strict:      o.strict,
		fn: func(ctx context.Context, deps D, rawArgs string) (any, error) {
			args, err := decodeArgs[Args](name, rawArgs)
			if err != nil {
				return nil, err
			}
			logger.Debug("tool.call.start", "tool", name)
			start := time.Now()
			result, err := fn(ctx, deps, args)
			logger.Debug("tool.call.done", "tool", name,
				"duration_ms", time.Since(start).Milliseconds(), "error", err != nil)
			return result, err
		},
	}
}

func applyOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Name returns the unique tool name used in call routing.
func (t *Tool) Name() string { return t.name }

// Description returns the natural language description exposed to models.
func (t *Tool) Description() string { return t.description }

// Parameters returns the JSON Schema describing the accepted arguments.
func (t *Tool) Parameters() map[string]any { return t.parameters }

// IsStrict reports whether the tool uses strict/structured calling.
func (t *Tool) IsStrict() bool { return t.strict }

// Schema returns the wire-visible contract handed to provider encoders.
func (t *Tool) Schema() core.ToolSchema {
	return core.ToolSchema{
		Name:        t.name,
		Description: t.description,
		Parameters:  t.parameters,
		Strict:      t.strict,
	}
}

// Execute runs the tool against a model-issued call and always produces a
// ToolOutput. Argument parse failures, validation failures, errors returned
// by the implementation, and panics inside it are captured as
// ToolExecution errors; Result still carries a textual description of the
// failure so the model can react to it.
func (t *Tool) Execute(ctx context.Context, call core.ToolCall) core.ToolOutput {
	result, err := invokeCaptured(func() (any, error) { return t.fn(ctx, call.Args) })
	return buildOutput(call, t.name, result, err)
}

// ContextTool is a Tool whose implementation receives a dependency value of
// type D in addition to the model-supplied arguments.
type ContextTool[D any] struct {
	name        string
	description string
	parameters  map[string]any
	strict      bool
	fn          func(ctx context.Context, deps D, rawArgs string) (any, error)
}

// Name returns the unique tool name used in call routing.
func (t *ContextTool[D]) Name() string { return t.name }

// Description returns the natural language description exposed to models.
func (t *ContextTool[D]) Description() string { return t.description }

// Parameters returns the JSON Schema describing the accepted arguments. The
// dependency value is never part of this schema.
func (t *ContextTool[D]) Parameters() map[string]any { return t.parameters }

// IsStrict reports whether the tool uses strict/structured calling.
func (t *ContextTool[D]) IsStrict() bool { return t.strict }

// Execute runs the context tool with the given dependencies.
func (t *ContextTool[D]) Execute(ctx context.Context, deps D, call core.ToolCall) core.ToolOutput {
	result, err := invokeCaptured(func() (any, error) { return t.fn(ctx, deps, call.Args) })
	return buildOutput(call, t.name, result, err)
}

// Bind fixes the dependency value, producing a plain Tool. Binding is how
// context tools enter a Registry: dispatch stays static, decided by which
// kind of tool was constructed.
func (t *ContextTool[D]) Bind(deps D) *Tool {
	return &Tool{
		name:        t.name,
		description: t.description,
		parameters:  t.parameters,
		strict:      t.strict,
		fn: func(ctx context.Context, rawArgs string) (any, error) {
			return t.fn(ctx, deps, rawArgs)
		},
	}
}

// invokeCaptured calls fn, converting panics into errors so a misbehaving
// tool can never abort the turn.
func invokeCaptured(fn func() (any, error)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return fn()
}

// buildOutput assembles the ToolOutput for one call. On failure the output
// carries both the captured error and a model-visible textual result.
func buildOutput(call core.ToolCall, name string, result any, err error) core.ToolOutput {
	out := core.ToolOutput{ID: call.ID, Name: name, Result: result}
	if err != nil {
		out.Error = core.WrapError(core.KindToolExecution, err.Error(), err)
		out.Result = err.Error()
	}
	return out
}

// decodeArgs parses and validates the raw JSON arguments into Args.
func decodeArgs[Args any](name, rawArgs string) (Args, error) {
	var args Args
	if rawArgs == "" {
		rawArgs = "{}"
	}

	var asMap map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &asMap); err != nil {
		return args, fmt.Errorf("invalid arguments for tool %q: %w", name, err)
	}
	if err := validateParameters(asMap, deriveSchemaForValue(args)); err != nil {
		return args, fmt.Errorf("argument validation failed for tool %q: %w", name, err)
	}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return args, fmt.Errorf("arguments for tool %q do not match its schema: %w", name, err)
	}
	return args, nil
}

// deriveSchema builds the parameter schema for Args, optionally forcing every
// property into required for strict tools.
func deriveSchema[Args any](strict bool) map[string]any {
	var zero Args
	schema := deriveSchemaForValue(zero)
	if strict {
		schema = forceAllRequired(schema)
	}
	return schema
}

func deriveSchemaForValue(v any) map[string]any {
	t := reflect.TypeOf(v)
	if t == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return format.SchemaOfType(t)
}

// forceAllRequired returns a copy of schema with every property (at every
// nesting level, including array items and $defs) listed as required.
func forceAllRequired(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		out[k] = v
	}
	if props, ok := out["properties"].(map[string]any); ok {
		required := make([]string, 0, len(props))
		newProps := make(map[string]any, len(props))
		for name, prop := range props {
			required = append(required, name)
			if nested, ok := prop.(map[string]any); ok {
				newProps[name] = forceAllRequired(nested)
			} else {
				newProps[name] = prop
			}
		}
		sort.Strings(required)
		out["properties"] = newProps
		if len(required) > 0 {
			out["required"] = required
		}
	}
	if items, ok := out["items"].(map[string]any); ok {
		out["items"] = forceAllRequired(items)
	}
	if extra, ok := out["additionalProperties"].(map[string]any); ok {
		out["additionalProperties"] = forceAllRequired(extra)
	}
	if defs, ok := out["$defs"].(map[string]any); ok {
		newDefs := make(map[string]any, len(defs))
		for name, def := range defs {
			if nested, ok := def.(map[string]any); ok {
				newDefs[name] = forceAllRequired(nested)
			} else {
				newDefs[name] = def
			}
		}
		out["$defs"] = newDefs
	}
	return out
}
