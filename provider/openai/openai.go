// Package openai implements the provider boundary over the OpenAI Chat
// Completions API (including streaming and tool calling). It encodes the
// canonical message sequence into the SDK's message format and decodes SDK
// responses and stream events back into canonical parts and chunks.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/openai/openai-go"

	"github.com/anyllm/anyllm/core"
	"github.com/anyllm/anyllm/format"
	"github.com/anyllm/anyllm/logging"
	"github.com/anyllm/anyllm/response"
)

// ProviderID identifies this provider in canonical messages and errors.
const ProviderID = "openai"

// Options configure the OpenAI model adapter.
type Options struct {
	Model  string
	Logger logging.Logger
}

// Model wraps the OpenAI Chat Completions API behind the response.Caller
// interface.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a new OpenAI model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	client := openai.NewClient()
	return NewModelFromClient(&client, optFns...)
}

// NewModelFromClient creates a new OpenAI model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:  openai.ChatModelGPT4oMini,
		Logger: logging.NewDefaultSlogLogger(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// ProviderID implements response.Caller.
func (m *Model) ProviderID() string { return ProviderID }

// ModelID implements response.Caller.
func (m *Model) ModelID() string { return m.opts.Model }

// ProviderModelName implements response.Caller.
func (m *Model) ProviderModelName() string { return m.opts.Model }

// Capabilities implements response.Caller.
func (m *Model) Capabilities() format.ModelCaps {
	return format.ModelCaps{
		SupportsStrictMode:   true,
		HasNativeJSONSupport: true,
	}
}

// Call implements response.Caller for a blocking exchange.
func (m *Model) Call(ctx context.Context, req response.Request) (*response.Response, error) {
	params, resolved, err := m.buildParams(req, false)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, core.NewError(core.KindServer, "openai returned no choices")
	}

	choice := resp.Choices[0]
	parts := decodeMessage(choice.Message)
	finish := mapFinishReason(choice.FinishReason)
	if choice.Message.Refusal != "" {
		finish = core.FinishRefusal
	}
	usage := &core.Usage{
		InputTokens:     resp.Usage.PromptTokens,
		OutputTokens:    resp.Usage.CompletionTokens,
		CacheReadTokens: resp.Usage.PromptTokensDetails.CachedTokens,
		ReasoningTokens: resp.Usage.CompletionTokensDetails.ReasoningTokens,
	}

	req.Format = resolved
	return response.New(req, m, parts, finish, usage, resp), nil
}

// Stream implements response.Caller for a streaming exchange. SDK events are
// fully translated into canonical chunks before they reach the aggregator;
// tool call deltas receive a stable unit id derived from the call index.
func (m *Model) Stream(ctx context.Context, req response.Request) (*response.StreamResponse, error) {
	params, resolved, err := m.buildParams(req, true)
	if err != nil {
		return nil, err
	}

	out := make(chan core.Chunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(out)
		m.pump(ctx, params, out, errCh)
	}()

	req.Format = resolved
	return response.NewStream(req, m, response.NewChannelSource(out, errCh)), nil
}

// callTracker assigns a stable unit id per SDK call index. The SDK only
// carries the provider id on the first delta of each call, and parallel calls
// must be finalized in call-index order.
type callTracker struct {
	ids  map[int64]string
	open map[int64]bool
}

func newCallTracker() *callTracker {
	return &callTracker{ids: map[int64]string{}, open: map[int64]bool{}}
}

func (t *callTracker) idFor(index int64, providerID string) string {
	if id, ok := t.ids[index]; ok {
		return id
	}
	id := providerID
	if id == "" {
		id = fmt.Sprintf("call-%d", index)
	}
	t.ids[index] = id
	t.open[index] = true
	return id
}

// finals closes every still-open call, ordered by call index.
func (t *callTracker) finals() []core.ToolCallChunk {
	indices := make([]int64, 0, len(t.open))
	for idx, open := range t.open {
		if open {
			indices = append(indices, idx)
		}
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	chunks := make([]core.ToolCallChunk, 0, len(indices))
	for _, idx := range indices {
		chunks = append(chunks, core.ToolCallChunk{ID: t.ids[idx], Final: true})
		t.open[idx] = false
	}
	return chunks
}

// pump drives the SDK stream and forwards canonical chunks.
func (m *Model) pump(ctx context.Context, params openai.ChatCompletionNewParams, out chan<- core.Chunk, errCh chan<- error) {
	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	calls := newCallTracker()
	textOpen := false

	for stream.Next() {
		ck := stream.Current()
		if ck.Usage.TotalTokens > 0 || ck.Usage.CompletionTokens > 0 {
			out <- core.UsageChunk{Usage: core.Usage{
				InputTokens:     ck.Usage.PromptTokens,
				OutputTokens:    ck.Usage.CompletionTokens,
				CacheReadTokens: ck.Usage.PromptTokensDetails.CachedTokens,
				ReasoningTokens: ck.Usage.CompletionTokensDetails.ReasoningTokens,
			}}
		}
		for _, choice := range ck.Choices {
			if choice.Delta.Content != "" {
				textOpen = true
				out <- core.TextChunk{ID: "text-0", Delta: choice.Delta.Content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				out <- core.ToolCallChunk{
					ID:        calls.idFor(tc.Index, tc.ID),
					Name:      tc.Function.Name,
					ArgsDelta: tc.Function.Arguments,
				}
			}
			if choice.FinishReason != "" {
				if textOpen {
					out <- core.TextChunk{ID: "text-0", Final: true}
					textOpen = false
				}
				for _, final := range calls.finals() {
					out <- final
				}
				finish := mapFinishReason(choice.FinishReason)
				if choice.Delta.Refusal != "" {
					finish = core.FinishRefusal
				}
				out <- core.FinishChunk{Reason: finish}
			}
		}
	}
	if err := stream.Err(); err != nil {
		errCh <- mapError(err)
	}
}

// buildParams assembles the SDK request: encoded messages, tool definitions,
// sampling parameters and the resolved output format. It returns the resolved
// format so the response records the concrete mode that was actually used.
func (m *Model) buildParams(req response.Request, streaming bool) (openai.ChatCompletionNewParams, *format.Format, error) {
	resolved := format.Resolve(req.Format, m.Capabilities(), m.opts.Logger)

	messages, err := encodeMessages(req.Messages, resolved)
	if err != nil {
		return openai.ChatCompletionNewParams{}, nil, err
	}

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    m.opts.Model,
	}
	if req.Params.Temperature != nil {
		params.Temperature = openai.Float(*req.Params.Temperature)
	}
	if req.Params.TopP != nil {
		params.TopP = openai.Float(*req.Params.TopP)
	}
	if req.Params.MaxTokens != nil {
		params.MaxCompletionTokens = openai.Int(*req.Params.MaxTokens)
	}
	if len(req.Params.StopSequences) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{
			OfStringArray: req.Params.StopSequences,
		}
	}
	if streaming {
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		}
	}

	tools := encodeTools(req.Tools)
	if resolved != nil {
		tools = applyFormat(&params, resolved, tools)
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	return params, resolved, nil
}

// applyFormat wires the resolved output format into the request: strict mode
// uses native structured outputs, json mode the JSON response format, tool
// mode a forced call of the sentinel output tool.
func applyFormat(params *openai.ChatCompletionNewParams, f *format.Format, tools []openai.ChatCompletionToolParam) []openai.ChatCompletionToolParam {
	switch f.Mode {
	case format.ModeStrict:
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        f.Name,
					Description: openai.String(f.Description),
					Schema:      f.Schema,
					Strict:      openai.Bool(true),
				},
			},
		}
	case format.ModeJSON:
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	case format.ModeTool:
		name, description, parameters := f.ToolSchema()
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        name,
				Description: openai.String(description),
				Parameters:  parameters,
			},
		})
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{
					Name: name,
				},
			},
		}
	}
	return tools
}

// encodeMessages converts the canonical message sequence into SDK chat
// messages. Tool outputs become tool role messages placed directly after the
// user turn position they arrived in, which the API requires to follow the
// assistant turn that issued the calls. Resolved format instructions are
// appended as a trailing system message.
func encodeMessages(messages []core.Message, f *format.Format) ([]openai.ChatCompletionMessageParamUnion, error) {
	var encoded []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch v := msg.(type) {
		case core.SystemMessage:
			encoded = append(encoded, openai.SystemMessage(v.Content.Text))
		case core.UserMessage:
			encoded = append(encoded, encodeUserMessage(v)...)
		case core.AssistantMessage:
			encoded = append(encoded, encodeAssistantMessage(v))
		default:
			return nil, core.Errorf(core.KindBadRequest, "unsupported message role %q", msg.Role())
		}
	}
	if f != nil && f.Instructions != nil {
		encoded = append(encoded, openai.SystemMessage(*f.Instructions))
	}
	return encoded, nil
}

func encodeUserMessage(msg core.UserMessage) []openai.ChatCompletionMessageParamUnion {
	var encoded []openai.ChatCompletionMessageParamUnion
	var content []openai.ChatCompletionContentPartUnionParam
	for _, p := range msg.Parts {
		switch part := p.(type) {
		case core.Text:
			content = append(content, openai.TextContentPart(part.Text))
		case core.Image:
			uri := fmt.Sprintf("data:%s;base64,%s", part.MimeType,
				base64.StdEncoding.EncodeToString(part.Data))
			content = append(content, openai.ImageContentPart(
				openai.ChatCompletionContentPartImageImageURLParam{URL: uri}))
		case core.ToolOutput:
			// Tool outputs are their own role on this API.
			encoded = append(encoded, openai.ToolMessage(outputText(part), part.ID))
		}
	}
	if len(content) > 0 {
		encoded = append(encoded, openai.UserMessage(content))
	}
	return encoded
}

func encodeAssistantMessage(msg core.AssistantMessage) openai.ChatCompletionMessageParamUnion {
	var text strings.Builder
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, p := range msg.Parts {
		switch part := p.(type) {
		case core.Text:
			text.WriteString(part.Text)
		case core.ToolCall:
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
				ID: part.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      part.Name,
					Arguments: part.Args,
				},
			})
		}
	}
	if len(toolCalls) == 0 {
		return openai.AssistantMessage(text.String())
	}
	assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
	if text.Len() > 0 {
		assistant.Content.OfString = openai.String(text.String())
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

// encodeTools converts canonical tool schemas to SDK tool definitions.
func encodeTools(tools []core.ToolSchema) []openai.ChatCompletionToolParam {
	encoded := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		fn := openai.FunctionDefinitionParam{
			Name:       t.Name,
			Parameters: t.Parameters,
		}
		if t.Description != "" {
			fn.Description = openai.String(t.Description)
		}
		if t.Strict {
			fn.Strict = openai.Bool(true)
		}
		encoded = append(encoded, openai.ChatCompletionToolParam{Function: fn})
	}
	return encoded
}

// decodeMessage converts an SDK completion message into canonical parts.
func decodeMessage(msg openai.ChatCompletionMessage) []core.Part {
	parts := make([]core.Part, 0, len(msg.ToolCalls)+1)
	if msg.Content != "" {
		parts = append(parts, core.Text{Text: msg.Content})
	}
	if msg.Refusal != "" {
		parts = append(parts, core.Text{Text: msg.Refusal})
	}
	for _, tc := range msg.ToolCalls {
		parts = append(parts, core.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: tc.Function.Arguments,
		})
	}
	return parts
}

// outputText renders a tool output's result for the wire. Errors already
// carry a textual result; everything else is serialized.
func outputText(out core.ToolOutput) string {
	switch v := out.Result.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// mapFinishReason translates API finish reasons into the canonical set.
func mapFinishReason(reason string) core.FinishReason {
	switch reason {
	case "stop":
		return core.FinishEndTurn
	case "length":
		return core.FinishMaxTokens
	case "tool_calls", "function_call":
		return core.FinishToolUse
	case "content_filter":
		return core.FinishRefusal
	default:
		return core.FinishUnknown
	}
}

// mapError translates SDK errors into the canonical taxonomy without masking
// cancellation.
func mapError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.WrapError(core.KindTimeout, "openai request timed out", err)
	}

	var apierr *openai.Error
	if errors.As(err, &apierr) {
		e := core.WrapError(kindForStatus(apierr.StatusCode), "openai api error", err)
		e.Provider = ProviderID
		e.StatusCode = apierr.StatusCode
		return e
	}

	e := core.WrapError(core.KindConnection, "openai request failed", err)
	e.Provider = ProviderID
	return e
}

func kindForStatus(status int) core.ErrorKind {
	switch {
	case status == 401:
		return core.KindAuthentication
	case status == 403:
		return core.KindPermission
	case status == 404:
		return core.KindNotFound
	case status == 429:
		return core.KindRateLimit
	case status >= 500:
		return core.KindServer
	case status >= 400:
		return core.KindBadRequest
	default:
		return core.KindConnection
	}
}
