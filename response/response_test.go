package response

import (
	"context"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anyllm/anyllm/core"
	"github.com/anyllm/anyllm/format"
)

type fakeCaller struct {
	provider string
	model    string
	caps     format.ModelCaps
	chunks   []core.Chunk
	lastReq  Request
}

func (c *fakeCaller) ProviderID() string             { return c.provider }
func (c *fakeCaller) ModelID() string                { return c.model }
func (c *fakeCaller) ProviderModelName() string      { return c.model }
func (c *fakeCaller) Capabilities() format.ModelCaps { return c.caps }

func (c *fakeCaller) Call(ctx context.Context, req Request) (*Response, error) {
	c.lastReq = req
	stream, err := c.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return stream.Finish(ctx)
}

func (c *fakeCaller) Stream(ctx context.Context, req Request) (*StreamResponse, error) {
	c.lastReq = req
	return NewStream(req, c, NewSliceSource(c.chunks...)), nil
}

func newFakeCaller(chunks ...core.Chunk) *fakeCaller {
	return &fakeCaller{provider: "fake", model: "fake-1", chunks: chunks}
}

func textTurn(text string) []core.Chunk {
	return []core.Chunk{
		core.TextChunk{ID: "t0", Delta: text, Final: true},
		core.FinishChunk{Reason: core.FinishEndTurn},
		core.UsageChunk{Usage: core.Usage{InputTokens: 3, OutputTokens: 7}},
	}
}

func TestFinishAssemblesResponse(t *testing.T) {
	caller := newFakeCaller(textTurn("Hello there")...)
	req := Request{Messages: []core.Message{core.UserText("Hi")}}

	stream, err := caller.Stream(context.Background(), req)
	require.NoError(t, err)

	resp, err := stream.Finish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Hello there", resp.Text())
	assert.Equal(t, core.FinishEndTurn, resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, int64(7), resp.Usage.OutputTokens)
	assert.True(t, stream.Consumed())

	require.Len(t, resp.Messages(), 2)
	last, ok := resp.Messages()[1].(core.AssistantMessage)
	require.True(t, ok)
	assert.Equal(t, "fake", last.ProviderID)
}

func TestChunkDeltasRoundTrip(t *testing.T) {
	chunks := []core.Chunk{
		core.TextChunk{ID: "t0", Delta: "The answer "},
		core.TextChunk{ID: "t0", Delta: "is "},
		core.TextChunk{ID: "t0", Delta: "42.", Final: true},
		core.FinishChunk{Reason: core.FinishEndTurn},
	}
	stream := NewStream(Request{}, newFakeCaller(), NewSliceSource(chunks...))

	resp, err := stream.Finish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "The answer is 42.", resp.Text())
}

func TestInterleavedUnitsKeyedByID(t *testing.T) {
	chunks := []core.Chunk{
		core.ThinkingChunk{ID: "th0", Delta: "Considering "},
		core.ToolCallChunk{ID: "tc0", Name: "lookup", ArgsDelta: `{"q":`},
		core.ThinkingChunk{ID: "th0", Delta: "the options.", Final: true},
		core.ToolCallChunk{ID: "tc0", ArgsDelta: `"go"}`, Final: true},
		core.FinishChunk{Reason: core.FinishToolUse},
	}
	stream := NewStream(Request{}, newFakeCaller(), NewSliceSource(chunks...))

	resp, err := stream.Finish(context.Background())
	require.NoError(t, err)

	parts := resp.Content()
	require.Len(t, parts, 2)
	thought, ok := parts[0].(core.Thought)
	require.True(t, ok)
	assert.Equal(t, "Considering the options.", thought.Thought)
	call, ok := parts[1].(core.ToolCall)
	require.True(t, ok)
	assert.Equal(t, "lookup", call.Name)
	assert.Equal(t, `{"q":"go"}`, call.Args)
}

func TestToolCallChunksEnrichedWithArgsPartial(t *testing.T) {
	chunks := []core.Chunk{
		core.ToolCallChunk{ID: "tc0", Name: "search", ArgsDelta: `{"query": "par`},
		core.ToolCallChunk{ID: "tc0", ArgsDelta: `tial json"}`, Final: true},
	}
	stream := NewStream(Request{}, newFakeCaller(), NewSliceSource(chunks...))
	ctx := context.Background()

	first, err := stream.Next(ctx)
	require.NoError(t, err)
	tc, ok := first.(core.ToolCallChunk)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"query": "par"}, tc.ArgsPartial)

	second, err := stream.Next(ctx)
	require.NoError(t, err)
	tc, ok = second.(core.ToolCallChunk)
	require.True(t, ok)
	assert.Equal(t, "search", tc.Name)
	assert.Equal(t, map[string]any{"query": "partial json"}, tc.ArgsPartial)
}

func TestFinishReasonAndUsageOverwritten(t *testing.T) {
	chunks := []core.Chunk{
		core.UsageChunk{Usage: core.Usage{InputTokens: 10, OutputTokens: 1}},
		core.FinishChunk{Reason: core.FinishMaxTokens},
		core.UsageChunk{Usage: core.Usage{InputTokens: 10, OutputTokens: 25}},
		core.FinishChunk{Reason: core.FinishEndTurn},
	}
	stream := NewStream(Request{}, newFakeCaller(), NewSliceSource(chunks...))

	resp, err := stream.Finish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.FinishEndTurn, resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, int64(25), resp.Usage.OutputTokens)
}

func TestResponseBeforeFinishIsAnError(t *testing.T) {
	stream := NewStream(Request{}, newFakeCaller(), NewSliceSource(textTurn("hi")...))

	_, err := stream.Response()
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindStreamNotFinished))
}

func TestCloseLeavesDefinedPartialState(t *testing.T) {
	chunks := []core.Chunk{
		core.TextChunk{ID: "t0", Delta: "partial "},
		core.TextChunk{ID: "t0", Delta: "text"},
	}
	stream := NewStream(Request{}, newFakeCaller(), NewSliceSource(chunks...))

	_, err := stream.Next(context.Background())
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	assert.False(t, stream.Consumed())
	assert.Equal(t, "partial ", stream.PartialText())

	// Closing again is a no-op, and the stream yields nothing further.
	require.NoError(t, stream.Close())
	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestSourceErrorAbortsFinish(t *testing.T) {
	boom := errors.New("connection reset")
	chunks := make(chan core.Chunk, 1)
	errs := make(chan error, 1)
	chunks <- core.TextChunk{ID: "t0", Delta: "par"}
	errs <- boom
	close(chunks)
	close(errs)

	stream := NewStream(Request{}, newFakeCaller(), NewChannelSource(chunks, errs))

	_, err := stream.Finish(context.Background())
	require.ErrorIs(t, err, boom)
	assert.False(t, stream.Consumed())
	_, err = stream.Response()
	assert.True(t, core.IsKind(err, core.KindStreamNotFinished))
}

func TestClosedErrorChannelDoesNotTruncateStream(t *testing.T) {
	// A finished producer leaves both channels closed with chunks still
	// buffered; every one of them must reach the consumer before EOF.
	chunks := make(chan core.Chunk, 4)
	errs := make(chan error, 1)
	chunks <- core.TextChunk{ID: "t0", Delta: "hello "}
	chunks <- core.TextChunk{ID: "t0", Delta: "world", Final: true}
	chunks <- core.FinishChunk{Reason: core.FinishEndTurn}
	close(errs)
	close(chunks)

	stream := NewStream(Request{}, newFakeCaller(), NewChannelSource(chunks, errs))

	resp, err := stream.Finish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello world", resp.Text())
	assert.Equal(t, core.FinishEndTurn, resp.FinishReason)
	assert.True(t, stream.Consumed())
}

func TestNextHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stream := NewStream(Request{}, newFakeCaller(),
		NewChannelSource(make(chan core.Chunk), make(chan error)))

	_, err := stream.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

type recipe struct {
	Title string   `json:"title"`
	Steps []string `json:"steps"`
}

func TestStructuredStreamYieldsMonotonicPartials(t *testing.T) {
	chunks := []core.Chunk{
		core.TextChunk{ID: "t0", Delta: `{"title": "Pan`},
		core.TextChunk{ID: "t0", Delta: `cakes", "steps": ["mix"`},
		core.TextChunk{ID: "t0", Delta: `, "fry"]}`, Final: true},
		core.FinishChunk{Reason: core.FinishEndTurn},
	}
	req := Request{Format: format.New[recipe](format.WithMode(format.ModeJSON))}
	stream := NewStream(req, newFakeCaller(), NewSliceSource(chunks...))

	partials, err := stream.Partials()
	require.NoError(t, err)

	var titles []string
	for {
		value, err := partials.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		title := field(t, value, "Title")
		if title != nil {
			titles = append(titles, *title.(*string))
		}
	}

	require.NotEmpty(t, titles)
	// Values already yielded are never retracted.
	assert.Equal(t, "Pancakes", titles[len(titles)-1])

	resp, err := stream.Response()
	require.NoError(t, err)
	parsed, err := resp.Parse()
	require.NoError(t, err)
	assert.Equal(t, "Pancakes", parsed.(*recipe).Title)
}

func TestPartialsRequireDeclaredFormat(t *testing.T) {
	stream := NewStream(Request{}, newFakeCaller(), NewSliceSource())
	_, err := stream.Partials()
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindFormatValidation))
}

func TestParseInToolMode(t *testing.T) {
	chunks := []core.Chunk{
		core.ToolCallChunk{ID: "tc0", Name: format.ToolName,
			ArgsDelta: `{"title": "Soup", "steps": ["boil"]}`, Final: true},
		core.FinishChunk{Reason: core.FinishToolUse},
	}
	req := Request{Format: format.New[recipe](format.WithMode(format.ModeTool))}
	stream := NewStream(req, newFakeCaller(), NewSliceSource(chunks...))

	resp, err := stream.Finish(context.Background())
	require.NoError(t, err)

	parsed, err := resp.Parse()
	require.NoError(t, err)
	assert.Equal(t, "Soup", parsed.(*recipe).Title)
}

func TestParseRefusalAlwaysFails(t *testing.T) {
	chunks := []core.Chunk{
		core.TextChunk{ID: "t0", Delta: `{"title": "No"}`, Final: true},
		core.FinishChunk{Reason: core.FinishRefusal},
	}
	req := Request{Format: format.New[recipe](format.WithMode(format.ModeJSON))}
	stream := NewStream(req, newFakeCaller(), NewSliceSource(chunks...))

	resp, err := stream.Finish(context.Background())
	require.NoError(t, err)

	_, err = resp.Parse()
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindFormatValidation))
}

func TestDerivedViews(t *testing.T) {
	resp := New(Request{}, newFakeCaller(), []core.Part{
		core.Thought{Thought: "hmm"},
		core.Text{Text: "Using a tool. "},
		core.ToolCall{ID: "c1", Name: "lookup", Args: "{}"},
		core.Text{Text: "Done."},
	}, core.FinishToolUse, nil, nil)

	assert.Equal(t, "Using a tool. Done.", resp.Text())
	assert.Len(t, resp.Texts(), 2)
	require.Len(t, resp.ToolCalls(), 1)
	assert.Equal(t, "lookup", resp.ToolCalls()[0].Name)
	require.Len(t, resp.Thinkings(), 1)
	assert.Equal(t, "hmm", resp.Thinkings()[0].Thought)
}

func TestResumeAppendsOnly(t *testing.T) {
	first := newFakeCaller(textTurn("Need the weather tool")...)
	req := Request{Messages: []core.Message{core.UserText("Weather in Oslo?")}}

	resp, err := first.Call(context.Background(), req)
	require.NoError(t, err)
	before := resp.Messages()

	first.chunks = textTurn("It is raining")
	next, err := resp.Resume(context.Background(), []core.ToolOutput{
		{ID: "c1", Name: "weather", Result: "rain"},
	})
	require.NoError(t, err)

	after := next.Messages()
	require.Greater(t, len(after), len(before))
	for i := range before {
		assert.Equal(t, before[i], after[i])
	}

	turn, ok := after[len(before)].(core.UserMessage)
	require.True(t, ok)
	require.Len(t, turn.Parts, 1)
	_, ok = turn.Parts[0].(core.ToolOutput)
	assert.True(t, ok)
}

func TestResumeUsesAmbientCaller(t *testing.T) {
	first := newFakeCaller(textTurn("first turn")...)
	resp, err := first.Call(context.Background(),
		Request{Messages: []core.Message{core.UserText("hi")}})
	require.NoError(t, err)

	second := newFakeCaller(textTurn("second turn")...)
	second.provider = "other"

	ctx := WithCaller(context.Background(), second)
	next, err := resp.Resume(ctx, nil, core.Text{Text: "continue"})
	require.NoError(t, err)
	assert.Equal(t, "other", next.ProviderID)

	// The prior turn crosses the provider boundary as canonical parts only.
	for _, msg := range second.lastReq.Messages {
		if am, ok := msg.(core.AssistantMessage); ok {
			assert.NotEmpty(t, am.Parts)
		}
	}
}

func TestResumeRequiresNewContent(t *testing.T) {
	resp := New(Request{}, newFakeCaller(), []core.Part{core.Text{Text: "hi"}},
		core.FinishEndTurn, nil, nil)

	_, err := resp.Resume(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindBadRequest))
}

// field returns the named field of a reflection-built partial value, nil when
// the pointer field is nil.
func field(t *testing.T, instance any, name string) any {
	t.Helper()
	v := reflect.ValueOf(instance)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	v = v.FieldByName(name)
	require.True(t, v.IsValid())
	if v.Kind() == reflect.Ptr && v.IsNil() {
		return nil
	}
	return v.Interface()
}
