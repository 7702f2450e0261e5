package router

import (
	"context"
	"io"
	"sync"

	"github.com/llm-relay/relay/pkg/types"
)

// Stream is the caller-facing token stream produced by RouteStream. Recv
// returns io.EOF after the terminal chunk of a completed stream; any
// other error is terminal and means no further chunks will arrive.
type Stream struct {
	events chan *types.StreamChunk

	mu  sync.Mutex
	err error
}

func newStream() *Stream {
	return &Stream{events: make(chan *types.StreamChunk, 16)}
}

// Recv returns the next chunk of the stream. Buffered chunks are drained
// before a terminal error is reported.
func (s *Stream) Recv() (*types.StreamChunk, error) {
	chunk, ok := <-s.events
	if !ok {
		if err := s.terminalErr(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return chunk, nil
}

func (s *Stream) terminalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// push forwards a chunk to the consumer, aborting if the request context
// ends first
func (s *Stream) push(ctx context.Context, chunk *types.StreamChunk) error {
	select {
	case s.events <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fail terminates the stream. The error is recorded before the channel
// closes, so it is delivered even when the request context is already
// cancelled.
func (s *Stream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.events)
}

// finish terminates a healthy stream
func (s *Stream) finish() {
	close(s.events)
}
