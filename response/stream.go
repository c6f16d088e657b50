package response

import (
	"context"
	"errors"
	"io"
	"reflect"

	"github.com/anyllm/anyllm/core"
	"github.com/anyllm/anyllm/format"
)

// StreamResponse is an in-flight exchange. It owns exactly one chunk source
// and folds its chunks through the aggregator as they are pulled. At most one
// goroutine may drain a stream at a time; that is a caller contract, the
// stream does not lock internally.
type StreamResponse struct {
	req    Request
	caller Caller
	source ChunkSource
	agg    *aggregator

	consumed bool
	closed   bool
	response *Response
}

// NewStream wraps a chunk source into a stream response for the given
// request. The source must already be provider-normalized; the stream never
// sees provider-native events.
func NewStream(req Request, caller Caller, source ChunkSource) *StreamResponse {
	return &StreamResponse{
		req:    req,
		caller: caller,
		source: source,
		agg:    newAggregator(),
	}
}

// Next pulls one chunk from the source, folds it into the accumulating
// state and returns it. io.EOF signals a cleanly finished stream; after it,
// Response is available. Any other error aborts the stream without
// installing a terminal response.
func (s *StreamResponse) Next(ctx context.Context) (core.Chunk, error) {
	if s.consumed || s.closed {
		return nil, io.EOF
	}
	chunk, err := s.source.Next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.finalize()
			return nil, io.EOF
		}
		s.closed = true
		_ = s.source.Close()
		return nil, err
	}
	return s.agg.apply(chunk), nil
}

// Finish drains the remaining chunks and freezes the stream into a terminal
// Response. An error from the source aborts the drain and no Response is
// installed; the partial state remains observable through PartialParts.
func (s *StreamResponse) Finish(ctx context.Context) (*Response, error) {
	for {
		_, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if !s.consumed {
		return nil, core.NewError(core.KindStreamNotFinished,
			"the stream was closed before it finished")
	}
	return s.response, nil
}

func (s *StreamResponse) finalize() {
	s.agg.finishAll()
	s.consumed = true
	_ = s.source.Close()
	s.response = New(s.req, s.caller, s.agg.parts, s.agg.finish, s.agg.usage, s.agg.chunks)
}

// Close abandons the stream early. The accumulated state stays observable as
// a defined partial snapshot, but the stream is not consumed and no terminal
// Response exists. Closing a finished or already-closed stream is a no-op.
func (s *StreamResponse) Close() error {
	if s.consumed || s.closed {
		return nil
	}
	s.closed = true
	s.agg.finishAll()
	return s.source.Close()
}

// Consumed reports whether the chunk source was drained to completion.
func (s *StreamResponse) Consumed() bool { return s.consumed }

// Response returns the terminal response. Calling it before the stream has
// been fully drained is a programmer error.
func (s *StreamResponse) Response() (*Response, error) {
	if !s.consumed {
		return nil, core.NewError(core.KindStreamNotFinished,
			"call Finish before reading the response")
	}
	return s.response, nil
}

// PartialParts returns a snapshot of the content accumulated so far,
// including still-open units. Valid at any point in the stream's life.
func (s *StreamResponse) PartialParts() []core.Part {
	return s.agg.snapshotParts()
}

// PartialText returns the text accumulated so far.
func (s *StreamResponse) PartialText() string {
	return core.TextOf(s.agg.snapshotParts())
}

// FinishReason returns the most recent finish reason seen, empty until the
// provider reports one.
func (s *StreamResponse) FinishReason() core.FinishReason { return s.agg.finish }

// Usage returns the most recent usage total seen, nil until the provider
// reports one.
func (s *StreamResponse) Usage() *core.Usage { return s.agg.usage }

// Partials returns a lazy iterator over partial structured output values.
// It requires a declared format on the request.
func (s *StreamResponse) Partials() (*StructuredStream, error) {
	if s.req.Format == nil {
		return nil, core.NewError(core.KindFormatValidation,
			"no output format was declared for this call")
	}
	sentinel := ""
	if s.req.Format.Mode == format.ModeTool {
		sentinel = format.ToolName
	}
	return &StructuredStream{
		stream:   s,
		target:   s.req.Format.Target(),
		sentinel: sentinel,
	}, nil
}

// StructuredStream yields successively more complete partial instances of
// the declared output type as chunks arrive. The sequence is append-only and
// non-restartable: fields already populated in one yielded value are never
// retracted in a later one, because each value reparses a longer prefix of
// the same payload.
type StructuredStream struct {
	stream   *StreamResponse
	target   reflect.Type
	sentinel string
}

// Next advances the underlying stream until the accumulated structured
// payload parses into a partial value and returns it. io.EOF signals the end
// of the stream; after it the underlying stream is consumed and its terminal
// Response carries the complete output.
func (ss *StructuredStream) Next(ctx context.Context) (any, error) {
	for {
		if _, err := ss.stream.Next(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, err
		}
		text := ss.stream.agg.structuredText(ss.sentinel)
		if text == "" {
			continue
		}
		value, err := format.ParsePartial(text, ss.target)
		if err != nil || value == nil {
			// Not enough of the payload has streamed yet.
			continue
		}
		return value, nil
	}
}
