// Package anthropic implements the provider boundary over the Anthropic
// Messages API, including streaming, tool calling and extended thinking
// blocks.
package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/anyllm/anyllm/core"
	"github.com/anyllm/anyllm/format"
	"github.com/anyllm/anyllm/logging"
	"github.com/anyllm/anyllm/response"
)

// ProviderID identifies this provider in canonical messages and errors.
const ProviderID = "anthropic"

const defaultMaxTokens = 4096

// Options configure the Anthropic model adapter.
type Options struct {
	Model  anthropic.Model
	APIKey string
	Logger logging.Logger
}

// Model wraps the Anthropic Messages API behind the response.Caller
// interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// NewModel creates a new Anthropic model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:  anthropic.ModelClaudeSonnet4_0,
		Logger: logging.NewDefaultSlogLogger(),
	}
}

// ProviderID implements response.Caller.
func (m *Model) ProviderID() string { return ProviderID }

// ModelID implements response.Caller.
func (m *Model) ModelID() string { return string(m.opts.Model) }

// ProviderModelName implements response.Caller.
func (m *Model) ProviderModelName() string { return string(m.opts.Model) }

// Capabilities implements response.Caller. The Messages API has no native
// constrained decoding and no JSON response mode; structured output always
// resolves to tool or instruction-driven json mode.
func (m *Model) Capabilities() format.ModelCaps {
	return format.ModelCaps{}
}

// Call implements response.Caller for a blocking exchange.
func (m *Model) Call(ctx context.Context, req response.Request) (*response.Response, error) {
	params, resolved, err := m.buildParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, mapError(err)
	}

	parts := decodeBlocks(resp.Content)
	usage := &core.Usage{
		InputTokens:      resp.Usage.InputTokens,
		OutputTokens:     resp.Usage.OutputTokens,
		CacheReadTokens:  resp.Usage.CacheReadInputTokens,
		CacheWriteTokens: resp.Usage.CacheCreationInputTokens,
	}

	req.Format = resolved
	return response.New(req, m, parts, mapStopReason(string(resp.StopReason)), usage, resp), nil
}

// Stream implements response.Caller for a streaming exchange. Wire events
// carry a block index, not an id; the pump assigns stable unit ids at block
// start and routes deltas by index.
func (m *Model) Stream(ctx context.Context, req response.Request) (*response.StreamResponse, error) {
	params, resolved, err := m.buildParams(req)
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

// blockState tracks one open content block during streaming.
type blockState struct {
	id   string
	kind string
	name string
}

func (m *Model) pump(ctx context.Context, params anthropic.MessageNewParams, out chan<- core.Chunk, errCh chan<- error) {
	stream := m.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	blocks := map[int64]*blockState{}
	var usage core.Usage

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			usage.InputTokens = ev.Message.Usage.InputTokens
			usage.CacheReadTokens = ev.Message.Usage.CacheReadInputTokens
			usage.CacheWriteTokens = ev.Message.Usage.CacheCreationInputTokens

		case anthropic.ContentBlockStartEvent:
			blocks[ev.Index] = startBlock(ev)

		case anthropic.ContentBlockDeltaEvent:
			b, ok := blocks[ev.Index]
			if !ok {
				continue
			}
			switch d := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				out <- core.TextChunk{ID: b.id, Delta: d.Text}
			case anthropic.ThinkingDelta:
				out <- core.ThinkingChunk{ID: b.id, Delta: d.Thinking}
			case anthropic.SignatureDelta:
				out <- core.ThinkingChunk{ID: b.id, Signature: d.Signature}
			case anthropic.InputJSONDelta:
				out <- core.ToolCallChunk{ID: b.id, Name: b.name, ArgsDelta: d.PartialJSON}
			}

		case anthropic.ContentBlockStopEvent:
			b, ok := blocks[ev.Index]
			if !ok {
				continue
			}
			delete(blocks, ev.Index)
			switch b.kind {
			case "text":
				out <- core.TextChunk{ID: b.id, Final: true}
			case "thinking":
				out <- core.ThinkingChunk{ID: b.id, Final: true}
			case "tool_use":
				out <- core.ToolCallChunk{ID: b.id, Name: b.name, Final: true}
			}

		case anthropic.MessageDeltaEvent:
			if ev.Delta.StopReason != "" {
				out <- core.FinishChunk{Reason: mapStopReason(string(ev.Delta.StopReason))}
			}
			// Output tokens arrive as a cumulative total.
			usage.OutputTokens = ev.Usage.OutputTokens
			total := usage
			out <- core.UsageChunk{Usage: total}
		}
	}
	if err := stream.Err(); err != nil {
		errCh <- mapError(err)
	}
}

func startBlock(ev anthropic.ContentBlockStartEvent) *blockState {
	switch block := ev.ContentBlock.AsAny().(type) {
	case anthropic.ToolUseBlock:
		return &blockState{id: block.ID, kind: "tool_use", name: block.Name}
	case anthropic.ThinkingBlock:
		return &blockState{id: fmt.Sprintf("block-%d", ev.Index), kind: "thinking"}
	default:
		return &blockState{id: fmt.Sprintf("block-%d", ev.Index), kind: "text"}
	}
}

// buildParams assembles the SDK request from the canonical message sequence.
func (m *Model) buildParams(req response.Request) (anthropic.MessageNewParams, *format.Format, error) {
	resolved := format.Resolve(req.Format, m.Capabilities(), m.opts.Logger)
	if resolved != nil && resolved.Mode == format.ModeStrict {
		return anthropic.MessageNewParams{}, nil, core.NewError(core.KindBadRequest,
			"anthropic models do not support strict structured output")
	}

	maxTokens := int64(defaultMaxTokens)
	if req.Params.MaxTokens != nil {
		maxTokens = *req.Params.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     m.opts.Model,
		MaxTokens: maxTokens,
	}
	if req.Params.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Params.Temperature)
	}
	if req.Params.TopP != nil {
		params.TopP = anthropic.Float(*req.Params.TopP)
	}
	if len(req.Params.StopSequences) > 0 {
		params.StopSequences = req.Params.StopSequences
	}

	messages, system, err := encodeMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, nil, err
	}
	if resolved != nil && resolved.Instructions != nil {
		system = append(system, anthropic.TextBlockParam{Text: *resolved.Instructions})
	}
	params.Messages = messages
	if len(system) > 0 {
		params.System = system
	}

	tools := encodeTools(req.Tools)
	if resolved != nil && resolved.Mode == format.ModeTool {
		name, description, parameters := resolved.ToolSchema()
		tools = append(tools, toolParam(name, description, parameters))
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: name},
		}
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	return params, resolved, nil
}

// encodeMessages converts canonical messages into SDK message params,
// splitting system messages out into system blocks.
func encodeMessages(messages []core.Message) ([]anthropic.MessageParam, []anthropic.TextBlockParam, error) {
	var encoded []anthropic.MessageParam
	var system []anthropic.TextBlockParam

	for _, msg := range messages {
		switch v := msg.(type) {
		case core.SystemMessage:
			system = append(system, anthropic.TextBlockParam{Text: v.Content.Text})
		case core.UserMessage:
			content := encodeUserParts(v.Parts)
			if len(content) > 0 {
				encoded = append(encoded, anthropic.NewUserMessage(content...))
			}
		case core.AssistantMessage:
			content := encodeAssistantParts(v.Parts)
			if len(content) > 0 {
				encoded = append(encoded, anthropic.NewAssistantMessage(content...))
			}
		default:
			return nil, nil, core.Errorf(core.KindBadRequest, "unsupported message role %q", msg.Role())
		}
	}
	return encoded, system, nil
}

func encodeUserParts(parts []core.Part) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion
	for _, p := range parts {
		switch part := p.(type) {
		case core.Text:
			if part.Text != "" {
				content = append(content, anthropic.NewTextBlock(part.Text))
			}
		case core.Image:
			content = append(content, anthropic.NewImageBlockBase64(
				part.MimeType, base64.StdEncoding.EncodeToString(part.Data)))
		case core.ToolOutput:
			content = append(content, anthropic.NewToolResultBlock(
				part.ID, outputText(part), part.Error != nil))
		}
	}
	return content
}

func encodeAssistantParts(parts []core.Part) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion
	for _, p := range parts {
		switch part := p.(type) {
		case core.Text:
			if part.Text != "" {
				content = append(content, anthropic.NewTextBlock(part.Text))
			}
		case core.Thought:
			content = append(content, anthropic.NewThinkingBlock(part.Signature, part.Thought))
		case core.ToolCall:
			var input any
			if part.Args != "" {
				if err := json.Unmarshal([]byte(part.Args), &input); err != nil {
					input = part.Args
				}
			}
			content = append(content, anthropic.NewToolUseBlock(part.ID, input, part.Name))
		}
	}
	return content
}

// encodeTools converts canonical tool schemas to SDK tool params.
func encodeTools(tools []core.ToolSchema) []anthropic.ToolUnionParam {
	encoded := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		encoded = append(encoded, toolParam(t.Name, t.Description, t.Parameters))
	}
	return encoded
}

func toolParam(name, description string, parameters map[string]any) anthropic.ToolUnionParam {
	schema := anthropic.ToolInputSchemaParam{}
	if properties, ok := parameters["properties"]; ok {
		schema.Properties = properties
	}
	switch required := parameters["required"].(type) {
	case []string:
		schema.Required = required
	case []any:
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	tool := anthropic.ToolUnionParamOfTool(schema, name)
	if description != "" && tool.OfTool != nil {
		tool.OfTool.Description = anthropic.String(description)
	}
	return tool
}

// decodeBlocks converts response content blocks into canonical parts.
func decodeBlocks(blocks []anthropic.ContentBlockUnion) []core.Part {
	var parts []core.Part
	for _, block := range blocks {
		switch block.Type {
		case "text":
			text := block.AsText()
			if text.Text != "" {
				parts = append(parts, core.Text{Text: text.Text})
			}
		case "thinking":
			thinking := block.AsThinking()
			parts = append(parts, core.Thought{
				Thought:   thinking.Thinking,
				Signature: thinking.Signature,
			})
		case "tool_use":
			toolUse := block.AsToolUse()
			args := ""
			if toolUse.Input != nil {
				if data, err := json.Marshal(toolUse.Input); err == nil {
					args = string(data)
				}
			}
			parts = append(parts, core.ToolCall{
				ID:   toolUse.ID,
				Name: toolUse.Name,
				Args: args,
			})
		}
	}
	return parts
}

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

// mapStopReason translates API stop reasons into the canonical set.
func mapStopReason(reason string) core.FinishReason {
	switch reason {
	case "end_turn":
		return core.FinishEndTurn
	case "max_tokens":
		return core.FinishMaxTokens
	case "stop_sequence":
		return core.FinishStop
	case "tool_use":
		return core.FinishToolUse
	case "refusal":
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
		return core.WrapError(core.KindTimeout, "anthropic request timed out", err)
	}

	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		e := core.WrapError(kindForStatus(apierr.StatusCode), "anthropic api error", err)
		e.Provider = ProviderID
		e.StatusCode = apierr.StatusCode
		return e
	}

	e := core.WrapError(core.KindConnection, "anthropic request failed", err)
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
