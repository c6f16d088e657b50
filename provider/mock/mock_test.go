package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anyllm/anyllm/core"
	"github.com/anyllm/anyllm/format"
	"github.com/anyllm/anyllm/response"
)

func TestScriptedTextTurn(t *testing.T) {
	m := NewModel([]Turn{{Text: "The capital of Norway is Oslo."}})

	resp, err := m.Call(context.Background(), response.Request{
		Messages: []core.Message{core.UserText("Capital of Norway?")},
	})
	require.NoError(t, err)
	assert.Equal(t, "The capital of Norway is Oslo.", resp.Text())
	assert.Equal(t, core.FinishEndTurn, resp.FinishReason)
}

func TestScriptedToolCallTurn(t *testing.T) {
	m := NewModel([]Turn{{
		ToolCalls: []core.ToolCall{{Name: "weather", Args: `{"city":"Oslo"}`}},
	}})

	resp, err := m.Call(context.Background(), response.Request{
		Messages: []core.Message{core.UserText("Weather?")},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls(), 1)
	call := resp.ToolCalls()[0]
	assert.Equal(t, "weather", call.Name)
	assert.NotEmpty(t, call.ID)
	assert.Equal(t, core.FinishToolUse, resp.FinishReason)
}

func TestTurnsAdvanceAndLastRepeats(t *testing.T) {
	m := NewModel([]Turn{{Text: "first"}, {Text: "second"}})
	ctx := context.Background()

	for _, want := range []string{"first", "second", "second"} {
		resp, err := m.Call(ctx, response.Request{
			Messages: []core.Message{core.UserText("go")},
		})
		require.NoError(t, err)
		assert.Equal(t, want, resp.Text())
	}
	assert.Len(t, m.Requests(), 3)
}

func TestScriptedError(t *testing.T) {
	boom := errors.New("scripted failure")
	m := NewModel([]Turn{{
		Chunks: []core.Chunk{core.TextChunk{ID: "t0", Delta: "par"}},
		Err:    boom,
	}})

	_, err := m.Call(context.Background(), response.Request{})
	require.ErrorIs(t, err, boom)
}

func TestFormatResolvedAgainstCaps(t *testing.T) {
	m := NewModel([]Turn{{Text: `{"answer": "4"}`}},
		func(o *Options) { o.Caps = format.ModelCaps{HasNativeJSONSupport: true} })

	stream, err := m.Stream(context.Background(), response.Request{
		Messages: []core.Message{core.UserText("2+2?")},
		Format: format.New[struct {
			Answer string `json:"answer"`
		}](format.WithMode(format.ModeStrictOrJSON)),
	})
	require.NoError(t, err)

	resp, err := stream.Finish(context.Background())
	require.NoError(t, err)
	require.NotNil(t, resp.Format())
	assert.Equal(t, format.ModeJSON, resp.Format().Mode)

	parsed, err := resp.Parse()
	require.NoError(t, err)
	v := parsed.(*struct {
		Answer string `json:"answer"`
	})
	assert.Equal(t, "4", v.Answer)
}
