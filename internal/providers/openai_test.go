package providers

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-relay/relay/pkg/cost"
)

func newSSEStream(body string) *sseStream {
	reader := io.NopCloser(strings.NewReader(body))
	return &sseStream{
		provider:  "openai",
		model:     "gpt-4o",
		body:      reader,
		scanner:   bufio.NewScanner(reader),
		estimator: cost.NewEstimator(),
		tokensIn:  3,
	}
}

func TestSSEStreamCompleteBody(t *testing.T) {
	s := newSSEStream(strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		``,
		`data: {"choices":[],"usage":{"prompt_tokens":9,"completion_tokens":2}}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n"))

	chunk, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "Hel", chunk.Token)

	chunk, err = s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "lo", chunk.Token)

	chunk, err = s.Recv()
	require.NoError(t, err)
	require.NotNil(t, chunk.Usage, "terminal chunk carries usage")
	assert.Equal(t, 9, chunk.Usage.TokensIn, "vendor usage wins over estimates")
	assert.Equal(t, 2, chunk.Usage.TokensOut)

	_, err = s.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSSEStreamTruncatedBodyIsTransientError(t *testing.T) {
	s := newSSEStream(strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"par"}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"tial"}}]}`,
		``,
	}, "\n"))

	chunk, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "par", chunk.Token)

	chunk, err = s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "tial", chunk.Token)

	_, err = s.Recv()
	var provErr *Error
	require.ErrorAs(t, err, &provErr, "truncated body must not read as a healthy completion")
	assert.Equal(t, ErrorServer, provErr.Category)
	assert.True(t, provErr.Retryable)
}

func TestSSEStreamMalformedEvent(t *testing.T) {
	s := newSSEStream("data: {not json}\n")

	_, err := s.Recv()
	var provErr *Error
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, ErrorServer, provErr.Category)
}
