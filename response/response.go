package response

import (
	"sync"

	"github.com/anyllm/anyllm/core"
	"github.com/anyllm/anyllm/format"
)

// Request is the provider-agnostic description of one model call. Provider
// callers translate it into their wire format; nothing in it is
// provider-specific.
type Request struct {
	Messages []core.Message
	Tools    []core.ToolSchema
	Format   *format.Format
	Params   core.Params
}

// Response is a terminal exchange with a model: the full conversation
// including the assistant turn that concluded it, plus provenance, finish
// state and token accounting. Derived views are computed once and memoized.
type Response struct {
	// ProviderID identifies the provider that produced the assistant turn.
	ProviderID string
	// ModelID is the caller-facing model identifier.
	ModelID string
	// ProviderModelName is the exact model name the provider reported.
	ProviderModelName string
	// Params are the sampling parameters the call was issued with.
	Params core.Params
	// FinishReason explains why generation stopped.
	FinishReason core.FinishReason
	// Usage is the provider-reported token accounting, nil if unreported.
	Usage *core.Usage

	messages []core.Message
	tools    []core.ToolSchema
	format   *format.Format
	caller   Caller

	viewOnce  sync.Once
	texts     []core.Text
	toolCalls []core.ToolCall
	thinkings []core.Thought

	parseOnce sync.Once
	parsed    any
	parseErr  error
}

// New assembles a terminal Response from a completed request. parts is the
// content of the concluding assistant turn; it is appended to the request
// messages as an AssistantMessage carrying provenance and the provider's raw
// payload.
func New(req Request, caller Caller, parts []core.Part, finish core.FinishReason, usage *core.Usage, raw any) *Response {
	messages := make([]core.Message, 0, len(req.Messages)+1)
	messages = append(messages, req.Messages...)
	messages = append(messages, core.AssistantMessage{
		Parts:             parts,
		ProviderID:        caller.ProviderID(),
		ModelID:           caller.ModelID(),
		ProviderModelName: caller.ProviderModelName(),
		Raw:               raw,
	})

	return &Response{
		ProviderID:        caller.ProviderID(),
		ModelID:           caller.ModelID(),
		ProviderModelName: caller.ProviderModelName(),
		Params:            req.Params,
		FinishReason:      finish,
		Usage:             usage,
		messages:          messages,
		tools:             req.Tools,
		format:            req.Format,
		caller:            caller,
	}
}

// Messages returns the full conversation, ending with the assistant turn that
// produced this response. The slice is shared; treat it as read-only.
func (r *Response) Messages() []core.Message { return r.messages }

// Format returns the structured output format the call was issued with, nil
// when none was declared.
func (r *Response) Format() *format.Format { return r.format }

// ToolSchemas returns the tool definitions the call was issued with.
func (r *Response) ToolSchemas() []core.ToolSchema { return r.tools }

// Content returns the content parts of the concluding assistant turn.
func (r *Response) Content() []core.Part {
	if len(r.messages) == 0 {
		return nil
	}
	last, ok := r.messages[len(r.messages)-1].(core.AssistantMessage)
	if !ok {
		return nil
	}
	return last.Parts
}

func (r *Response) buildViews() {
	for _, p := range r.Content() {
		switch v := p.(type) {
		case core.Text:
			r.texts = append(r.texts, v)
		case core.ToolCall:
			r.toolCalls = append(r.toolCalls, v)
		case core.Thought:
			r.thinkings = append(r.thinkings, v)
		}
	}
}

// Texts returns the text parts of the assistant turn, in order.
func (r *Response) Texts() []core.Text {
	r.viewOnce.Do(r.buildViews)
	return r.texts
}

// ToolCalls returns the tool calls the assistant turn requested, in order.
func (r *Response) ToolCalls() []core.ToolCall {
	r.viewOnce.Do(r.buildViews)
	return r.toolCalls
}

// Thinkings returns the reasoning parts of the assistant turn, in order.
func (r *Response) Thinkings() []core.Thought {
	r.viewOnce.Do(r.buildViews)
	return r.thinkings
}

// Text returns the concatenated text of the assistant turn.
func (r *Response) Text() string { return core.TextOf(r.Content()) }

// Parse validates and decodes the assistant turn's structured output into a
// value of the declared format's target type. A refusal finish reason always
// fails rather than surfacing a partial object. The result is memoized;
// repeated calls return the same value and error.
func (r *Response) Parse() (any, error) {
	r.parseOnce.Do(func() {
		r.parsed, r.parseErr = r.parse()
	})
	return r.parsed, r.parseErr
}

func (r *Response) parse() (any, error) {
	if r.format == nil {
		return nil, core.NewError(core.KindFormatValidation,
			"no output format was declared for this call")
	}
	if r.FinishReason == core.FinishRefusal {
		return nil, core.NewError(core.KindFormatValidation,
			"the model refused to produce the requested output")
	}

	payload, err := r.structuredPayload()
	if err != nil {
		return nil, err
	}
	return format.Parse(payload, r.format.Target())
}

// structuredPayload extracts the raw text carrying the structured output:
// the sentinel tool call's arguments in tool mode, the concatenated text
// otherwise.
func (r *Response) structuredPayload() (string, error) {
	if r.format.Mode == format.ModeTool {
		for _, tc := range r.ToolCalls() {
			if tc.Name == format.ToolName {
				return tc.Args, nil
			}
		}
		return "", core.NewError(core.KindFormatValidation,
			"the model did not call the formatted output tool")
	}
	return r.Text(), nil
}
