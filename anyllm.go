// Package anyllm provides a high-level façade over the provider-agnostic
// client core: canonical messages and content parts, structured output
// formats, tool execution and the response/resume protocol. Most applications
// interact with this package by:
//  1. Constructing a provider model (provider/openai, provider/anthropic)
//  2. Calling Call or Stream with canonical messages, optionally declaring
//     tools and a structured output format
//  3. Resuming the returned response with tool outputs or follow-up content
//
// The façade delegates the heavy lifting to the response package while
// keeping setup and usage ergonomics concise.
package anyllm

import (
	"context"
	"sync"

	"github.com/anyllm/anyllm/core"
	"github.com/anyllm/anyllm/format"
	"github.com/anyllm/anyllm/response"
	"github.com/anyllm/anyllm/tool"
)

// Model is the interface every provider adapter satisfies.
type Model = response.Caller

// Response is a terminal exchange.
type Response = response.Response

// StreamResponse is an in-flight exchange.
type StreamResponse = response.StreamResponse

// Options configure a single call.
type Options struct {
	// Tools the model may invoke during this exchange.
	Tools []*tool.Tool
	// Format declares the structured output contract, nil for free text.
	Format *format.Format
	// Params are the sampling parameters.
	Params core.Params
}

// WithTools declares the tools available to the model.
func WithTools(tools ...*tool.Tool) func(o *Options) {
	return func(o *Options) { o.Tools = append(o.Tools, tools...) }
}

// WithFormat declares the structured output format.
func WithFormat(f *format.Format) func(o *Options) {
	return func(o *Options) { o.Format = f }
}

// WithParams sets the sampling parameters.
func WithParams(params core.Params) func(o *Options) {
	return func(o *Options) { o.Params = params }
}

// WithModel returns a context carrying model as the ambient model. Resume
// calls issued under the returned context target it regardless of which
// model produced the prior turn.
func WithModel(ctx context.Context, model Model) context.Context {
	return response.WithCaller(ctx, model)
}

// ModelFromContext returns the ambient model, nil when none is set.
func ModelFromContext(ctx context.Context) Model {
	return response.CallerFromContext(ctx)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Model{}
)

// RegisterModel makes model addressable by name through GetModel. Later
// registrations under the same name replace earlier ones.
func RegisterModel(name string, model Model) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = model
}

// GetModel returns the model registered under name.
func GetModel(name string) (Model, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	model, ok := registry[name]
	if !ok {
		return nil, core.Errorf(core.KindNotFound, "no model registered with name %q", name)
	}
	return model, nil
}

// Call issues a blocking exchange against model.
func Call(ctx context.Context, model Model, messages []core.Message, optFns ...func(o *Options)) (*Response, error) {
	return model.Call(ctx, buildRequest(messages, optFns))
}

// Stream starts a streaming exchange against model.
func Stream(ctx context.Context, model Model, messages []core.Message, optFns ...func(o *Options)) (*StreamResponse, error) {
	return model.Stream(ctx, buildRequest(messages, optFns))
}

func buildRequest(messages []core.Message, optFns []func(o *Options)) response.Request {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	schemas := make([]core.ToolSchema, 0, len(opts.Tools))
	for _, t := range opts.Tools {
		schemas = append(schemas, t.Schema())
	}

	return response.Request{
		Messages: messages,
		Tools:    schemas,
		Format:   opts.Format,
		Params:   opts.Params,
	}
}
