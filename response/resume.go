package response

import (
	"context"

	"github.com/anyllm/anyllm/core"
	"github.com/anyllm/anyllm/format"
)

// Caller issues requests against one concrete provider model. Provider
// packages implement it; the response layer never sees wire formats.
type Caller interface {
	// ProviderID identifies the provider, e.g. "openai" or "anthropic".
	ProviderID() string
	// ModelID is the caller-facing model identifier.
	ModelID() string
	// ProviderModelName is the exact name the provider knows the model by.
	ProviderModelName() string
	// Capabilities reports what the model supports for format resolution.
	Capabilities() format.ModelCaps
	// Call performs a blocking exchange and returns the terminal response.
	Call(ctx context.Context, req Request) (*Response, error)
	// Stream starts a streaming exchange.
	Stream(ctx context.Context, req Request) (*StreamResponse, error)
}

type callerKey struct{}

// WithCaller returns a context carrying caller as the ambient model. Resume
// issued under that context targets caller instead of the model that
// produced the prior turn.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the ambient caller, nil when none is set.
func CallerFromContext(ctx context.Context) Caller {
	caller, _ := ctx.Value(callerKey{}).(Caller)
	return caller
}

// Resume continues the conversation: tool outputs and any literal user parts
// are appended as one UserMessage after the prior messages, and a new call is
// issued against the ambient caller from ctx, falling back to the caller that
// produced this response. Prior messages are never mutated or reordered; the
// prior assistant turn crosses provider boundaries through its canonical
// parts only, never through its raw payload.
func (r *Response) Resume(ctx context.Context, outputs []core.ToolOutput, parts ...core.Part) (*Response, error) {
	req, caller, err := r.resumeRequest(ctx, outputs, parts)
	if err != nil {
		return nil, err
	}
	return caller.Call(ctx, req)
}

// ResumeStream is Resume for a streaming continuation.
func (r *Response) ResumeStream(ctx context.Context, outputs []core.ToolOutput, parts ...core.Part) (*StreamResponse, error) {
	req, caller, err := r.resumeRequest(ctx, outputs, parts)
	if err != nil {
		return nil, err
	}
	return caller.Stream(ctx, req)
}

func (r *Response) resumeRequest(ctx context.Context, outputs []core.ToolOutput, parts []core.Part) (Request, Caller, error) {
	if len(outputs) == 0 && len(parts) == 0 {
		return Request{}, nil, core.NewError(core.KindBadRequest,
			"resume requires at least one tool output or content part")
	}

	caller := CallerFromContext(ctx)
	if caller == nil {
		caller = r.caller
	}
	if caller == nil {
		return Request{}, nil, core.NewError(core.KindBadRequest,
			"no model available to resume with")
	}

	turn := make([]core.Part, 0, len(outputs)+len(parts))
	for _, out := range outputs {
		turn = append(turn, out)
	}
	turn = append(turn, parts...)

	messages := make([]core.Message, 0, len(r.messages)+1)
	messages = append(messages, r.messages...)
	messages = append(messages, core.User(turn...))

	req := Request{
		Messages: messages,
		Tools:    r.tools,
		Format:   r.format,
		Params:   r.Params,
	}
	return req, caller, nil
}
