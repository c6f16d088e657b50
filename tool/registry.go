package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/anyllm/anyllm/core"
)

// Registry maps tool names to executable tools. Context tools enter a
// registry by binding their dependency value first (ContextTool.Bind).
// A Registry is safe for concurrent reads after construction.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

// NewRegistry builds a registry from the given tools.
func NewRegistry(tools ...*Tool) *Registry {
	r := &Registry{tools: make(map[string]*Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool, replacing any existing tool of the same name.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.name]; !exists {
		r.order = append(r.order, t.name)
	}
	r.tools[t.name] = t
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Tools returns all registered tools in registration order.
func (r *Registry) Tools() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Schemas returns the wire-visible contracts of all registered tools in
// registration order.
func (r *Registry) Schemas() []core.ToolSchema {
	tools := r.Tools()
	out := make([]core.ToolSchema, len(tools))
	for i, t := range tools {
		out[i] = t.Schema()
	}
	return out
}

// Execute runs a single tool call. An unknown tool name is captured the same
// way a failing implementation is: as a ToolExecution error on the output,
// keeping the output model-visible rather than aborting the turn.
func (r *Registry) Execute(ctx context.Context, call core.ToolCall) core.ToolOutput {
	t, ok := r.Get(call.Name)
	if !ok {
		err := fmt.Errorf("no tool registered with name %q", call.Name)
		return buildOutput(call, call.Name, nil, err)
	}
	return t.Execute(ctx, call)
}

// ExecuteAll runs every call from one assistant turn, concurrently, and
// returns exactly one ToolOutput per call in the original call order
// regardless of completion order. The calls are independent side-effecting
// functions with no shared state here, so parallelism is safe; ordering of
// the returned collection is the only guarantee callers rely on.
func (r *Registry) ExecuteAll(ctx context.Context, calls []core.ToolCall) []core.ToolOutput {
	outputs := make([]core.ToolOutput, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call core.ToolCall) {
			defer wg.Done()
			outputs[i] = r.Execute(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return outputs
}

// RetryFailed re-executes only the calls whose prior output carries an error,
// leaving already-succeeded outputs untouched. calls and prior must be
// parallel slices as produced by ExecuteAll.
func (r *Registry) RetryFailed(ctx context.Context, calls []core.ToolCall, prior []core.ToolOutput) []core.ToolOutput {
	outputs := make([]core.ToolOutput, len(prior))
	copy(outputs, prior)

	var wg sync.WaitGroup
	for i := range calls {
		if i >= len(prior) || prior[i].Error == nil {
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outputs[i] = r.Execute(ctx, calls[i])
		}(i)
	}
	wg.Wait()
	return outputs
}
