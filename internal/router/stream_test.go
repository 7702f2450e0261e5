package router

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-relay/relay/pkg/types"
)

func TestStreamDrainsBufferedChunksBeforeError(t *testing.T) {
	s := newStream()
	terminal := errors.New("upstream gone")

	require.NoError(t, s.push(context.Background(), &types.StreamChunk{Token: "a"}))
	require.NoError(t, s.push(context.Background(), &types.StreamChunk{Token: "b"}))
	s.fail(terminal)

	chunk, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "a", chunk.Token)

	chunk, err = s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "b", chunk.Token)

	_, err = s.Recv()
	assert.ErrorIs(t, err, terminal)
	_, err = s.Recv()
	assert.ErrorIs(t, err, terminal, "terminal error is sticky")
}

func TestStreamFinishReportsEOF(t *testing.T) {
	s := newStream()
	require.NoError(t, s.push(context.Background(), &types.StreamChunk{Token: "done"}))
	s.finish()

	chunk, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "done", chunk.Token)

	_, err = s.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamFailWithCancelledContextStillDeliversError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newStream()
	s.fail(ctx.Err())

	_, err := s.Recv()
	assert.ErrorIs(t, err, context.Canceled, "a failed stream must never look like a clean EOF")
}

func TestRouteStreamCancelledContextSurfacesError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	alpha := &fakeClient{name: "alpha"}
	alpha.streamFn = func(int) (types.TokenStream, error) {
		cancel()
		return nil, context.Canceled
	}
	beta := &fakeClient{name: "beta"}
	r := newTestRouter(t, twoProviderTable(), nil, alpha, beta)

	stream, err := r.RouteStream(ctx, &types.RoutingRequest{TaskType: "chat", Prompt: "hi"})
	require.NoError(t, err)

	_, _, err = drainStream(t, stream)
	require.Error(t, err, "cancellation must not be reported as a completed stream")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, beta.streamCount())
}
