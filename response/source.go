package response

import (
	"context"
	"io"
	"sync"

	"github.com/anyllm/anyllm/core"
)

// ChunkSource is a pull-based stream of provider-normalized chunks. Next
// returns io.EOF once the stream is exhausted; any other error aborts the
// drain. Close releases the underlying stream; closing before exhaustion is
// the cancellation path and must be safe to call at any time, including
// concurrently with or after Next returning.
type ChunkSource interface {
	Next(ctx context.Context) (core.Chunk, error)
	Close() error
}

// SliceSource serves a fixed chunk sequence. Used by tests and the mock
// provider.
type SliceSource struct {
	mu     sync.Mutex
	chunks []core.Chunk
	pos    int
	closed bool
}

// NewSliceSource builds a ChunkSource over a fixed sequence.
func NewSliceSource(chunks ...core.Chunk) *SliceSource {
	return &SliceSource{chunks: chunks}
}

// Next implements ChunkSource.
func (s *SliceSource) Next(ctx context.Context) (core.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

// Close implements ChunkSource.
func (s *SliceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ChannelSource adapts the channel-pair idiom used by provider adapters
// (a chunk channel plus a one-shot error channel) into a ChunkSource. The
// chunk channel must be closed by the producer when the stream ends; a value
// on errs takes precedence over EOF.
type ChannelSource struct {
	chunks <-chan core.Chunk
	errs   <-chan error

	closeOnce sync.Once
	done      chan struct{}
}

// NewChannelSource builds a ChunkSource over producer channels.
func NewChannelSource(chunks <-chan core.Chunk, errs <-chan error) *ChannelSource {
	return &ChannelSource{chunks: chunks, errs: errs, done: make(chan struct{})}
}

// Next implements ChunkSource. A closed error channel is forgotten (a nil
// channel never wins a select) so buffered chunks keep draining after the
// producer shuts its error side down.
func (s *ChannelSource) Next(ctx context.Context) (core.Chunk, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, io.EOF
		case err, ok := <-s.errs:
			if !ok {
				s.errs = nil
				continue
			}
			if err != nil {
				return nil, err
			}
		case c, ok := <-s.chunks:
			if !ok {
				// Drain a terminal error if the producer sent one.
				if s.errs != nil {
					select {
					case err := <-s.errs:
						if err != nil {
							return nil, err
						}
					default:
					}
				}
				return nil, io.EOF
			}
			return c, nil
		}
	}
}

// Close implements ChunkSource. The producer goroutine is expected to select
// on its context; Close only detaches the consumer side.
func (s *ChannelSource) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
