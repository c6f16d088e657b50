// Package mock provides a scriptable in-memory model for tests and examples.
// Each call consumes the next scripted turn; turns are emitted through the
// same chunk pipeline real providers use, so aggregation and parsing behave
// identically to a live model.
package mock

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/anyllm/anyllm/core"
	"github.com/anyllm/anyllm/format"
	"github.com/anyllm/anyllm/response"
)

// ProviderID identifies this provider in canonical messages and errors.
const ProviderID = "mock"

// Turn is one scripted assistant turn.
type Turn struct {
	// Chunks are emitted verbatim. When set, the remaining fields are
	// ignored.
	Chunks []core.Chunk
	// Text is emitted as a single text unit split into word deltas.
	Text string
	// ToolCalls are emitted after the text, one unit each. Calls without an
	// id receive a generated one.
	ToolCalls []core.ToolCall
	// Err aborts the turn mid-stream.
	Err error
}

// Model replays scripted turns in order. Safe for concurrent use.
type Model struct {
	model string
	caps  format.ModelCaps

	mu    sync.Mutex
	turns []Turn
	next  int

	requests []response.Request
}

// Options configure the mock model.
type Options struct {
	Model string
	Caps  format.ModelCaps
}

// NewModel creates a mock model that replays the given turns. When the
// script runs out, the last turn repeats.
func NewModel(turns []Turn, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model: "mock-1",
		Caps:  format.ModelCaps{SupportsStrictMode: true, HasNativeJSONSupport: true},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{model: opts.Model, caps: opts.Caps, turns: turns}
}

// ProviderID implements response.Caller.
func (m *Model) ProviderID() string { return ProviderID }

// ModelID implements response.Caller.
func (m *Model) ModelID() string { return m.model }

// ProviderModelName implements response.Caller.
func (m *Model) ProviderModelName() string { return m.model }

// Capabilities implements response.Caller.
func (m *Model) Capabilities() format.ModelCaps { return m.caps }

// Requests returns every request the model has received, in order.
func (m *Model) Requests() []response.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]response.Request(nil), m.requests...)
}

// Call implements response.Caller.
func (m *Model) Call(ctx context.Context, req response.Request) (*response.Response, error) {
	stream, err := m.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return stream.Finish(ctx)
}

// Stream implements response.Caller.
func (m *Model) Stream(ctx context.Context, req response.Request) (*response.StreamResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	turn := m.takeTurn()
	m.mu.Unlock()

	req.Format = format.Resolve(req.Format, m.caps, nil)

	out := make(chan core.Chunk, 32)
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		defer close(out)
		emit(ctx, turn, out, errCh)
	}()
	return response.NewStream(req, m, response.NewChannelSource(out, errCh)), nil
}

func (m *Model) takeTurn() Turn {
	if len(m.turns) == 0 {
		return Turn{Text: ""}
	}
	turn := m.turns[m.next]
	if m.next < len(m.turns)-1 {
		m.next++
	}
	return turn
}

func emit(ctx context.Context, turn Turn, out chan<- core.Chunk, errCh chan<- error) {
	send := func(c core.Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if len(turn.Chunks) > 0 {
		for _, c := range turn.Chunks {
			if !send(c) {
				return
			}
		}
		if turn.Err != nil {
			errCh <- turn.Err
		}
		return
	}

	finish := core.FinishEndTurn
	if turn.Text != "" {
		id := uuid.NewString()
		runes := []rune(turn.Text)
		for len(runes) > 0 {
			n := len(runes)
			if n > 8 {
				n = 8
			}
			if !send(core.TextChunk{ID: id, Delta: string(runes[:n])}) {
				return
			}
			runes = runes[n:]
		}
		if !send(core.TextChunk{ID: id, Final: true}) {
			return
		}
	}
	for _, call := range turn.ToolCalls {
		id := call.ID
		if id == "" {
			id = uuid.NewString()
		}
		if !send(core.ToolCallChunk{ID: id, Name: call.Name, ArgsDelta: call.Args, Final: true}) {
			return
		}
		finish = core.FinishToolUse
	}
	if turn.Err != nil {
		errCh <- turn.Err
		return
	}
	send(core.FinishChunk{Reason: finish})
	send(core.UsageChunk{Usage: core.Usage{InputTokens: 1, OutputTokens: int64(len(turn.Text))}})
}
