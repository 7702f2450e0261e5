package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyHTTP(t *testing.T) {
	tests := []struct {
		status    int
		category  ErrorCategory
		retryable bool
	}{
		{http.StatusUnauthorized, ErrorAuth, false},
		{http.StatusForbidden, ErrorAuth, false},
		{http.StatusTooManyRequests, ErrorRateLimit, true},
		{http.StatusPaymentRequired, ErrorQuota, false},
		{http.StatusBadRequest, ErrorClient, false},
		{http.StatusUnprocessableEntity, ErrorClient, false},
		{http.StatusInternalServerError, ErrorServer, true},
		{http.StatusBadGateway, ErrorServer, true},
		{http.StatusServiceUnavailable, ErrorServer, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			e := ClassifyHTTP("test", "invoke", tt.status, "boom")
			assert.Equal(t, tt.category, e.Category)
			assert.Equal(t, tt.retryable, e.Retryable)
			assert.Equal(t, tt.status, e.StatusCode)
		})
	}
}

func TestClassifyMessages(t *testing.T) {
	tests := []struct {
		message   string
		category  ErrorCategory
		retryable bool
	}{
		{"dial tcp: connection refused", ErrorNetwork, true},
		{"request timeout while reading", ErrorTimeout, true},
		{"invalid api key provided", ErrorAuth, false},
		{"rate limit exceeded for model", ErrorRateLimit, true},
		{"bad request: missing field", ErrorClient, false},
		{"something unexpected", ErrorNetwork, true},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			e := Classify(errors.New(tt.message), "test", "invoke")
			assert.Equal(t, tt.category, e.Category)
			assert.Equal(t, tt.retryable, e.Retryable)
		})
	}
}

func TestClassifyPassesThroughClassifiedErrors(t *testing.T) {
	original := NewPermanent("p", "invoke", ErrorAuth, "denied")
	wrapped := fmt.Errorf("attempt failed: %w", original)

	assert.Same(t, original, Classify(wrapped, "other", "other"))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(NewTransient("p", "invoke", ErrorServer, "boom")))
	assert.False(t, IsRetryable(NewPermanent("p", "invoke", ErrorAuth, "denied")))
	assert.True(t, IsRetryable(errors.New("connection reset by peer")))

	wrapped := fmt.Errorf("candidate failed: %w", NewPermanent("p", "invoke", ErrorClient, "bad"))
	assert.False(t, IsRetryable(wrapped))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("socket closed")
	e := Classify(cause, "test", "invoke")
	require.ErrorIs(t, e, cause)
}
