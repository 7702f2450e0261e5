// Package providers defines the provider client contract and the error
// taxonomy the routing layer depends on
package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/llm-relay/relay/pkg/types"
)

// Client is the per-vendor contract consumed by the router. Both calls
// normalize vendor failures into a classified *Error so the retry policy
// and circuit breaker can tell transient from permanent failures.
type Client interface {
	Name() string
	Invoke(ctx context.Context, req *types.RoutingRequest, model string) (*types.ProviderResult, error)
	InvokeStream(ctx context.Context, req *types.RoutingRequest, model string) (types.TokenStream, error)
}

// ErrorCategory buckets provider failures
type ErrorCategory string

const (
	ErrorAuth      ErrorCategory = "auth"
	ErrorClient    ErrorCategory = "client"
	ErrorQuota     ErrorCategory = "quota"
	ErrorRateLimit ErrorCategory = "rate_limit"
	ErrorServer    ErrorCategory = "server"
	ErrorTimeout   ErrorCategory = "timeout"
	ErrorNetwork   ErrorCategory = "network"
)

// Error represents a classified failure from a provider operation.
// Retryable errors (timeouts, 5xx, rate limits) are transient; the rest
// (auth, validation) are permanent.
type Error struct {
	Provider   string        `json:"provider"`
	Operation  string        `json:"operation"`
	Category   ErrorCategory `json:"category"`
	StatusCode int           `json:"status_code,omitempty"`
	Message    string        `json:"message"`
	Retryable  bool          `json:"retryable"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Err        error         `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s failed: %s (retryable: %v)", e.Provider, e.Operation, e.Message, e.Retryable)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransient creates a retryable provider error
func NewTransient(provider, operation string, category ErrorCategory, message string) *Error {
	return &Error{
		Provider:  provider,
		Operation: operation,
		Category:  category,
		Message:   message,
		Retryable: true,
	}
}

// NewPermanent creates a non-retryable provider error
func NewPermanent(provider, operation string, category ErrorCategory, message string) *Error {
	return &Error{
		Provider:  provider,
		Operation: operation,
		Category:  category,
		Message:   message,
		Retryable: false,
	}
}

// IsRetryable reports whether an error should be retried. Context errors
// are never retryable; unclassified errors are treated as transient
// network trouble.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var provErr *Error
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return true
}

// ClassifyHTTP classifies an HTTP status code into the error taxonomy
func ClassifyHTTP(provider, operation string, statusCode int, message string) *Error {
	e := &Error{
		Provider:   provider,
		Operation:  operation,
		StatusCode: statusCode,
		Message:    message,
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		e.Category = ErrorAuth
		e.Retryable = false
	case statusCode == http.StatusTooManyRequests:
		e.Category = ErrorRateLimit
		e.Retryable = true
		e.RetryAfter = 30 * time.Second
	case statusCode == http.StatusPaymentRequired:
		e.Category = ErrorQuota
		e.Retryable = false
	case statusCode == http.StatusRequestTimeout:
		e.Category = ErrorTimeout
		e.Retryable = true
	case statusCode >= 500:
		e.Category = ErrorServer
		e.Retryable = true
	case statusCode >= 400:
		e.Category = ErrorClient
		e.Retryable = false
	default:
		e.Category = ErrorNetwork
		e.Retryable = true
	}

	return e
}

// Classify wraps an arbitrary error from a provider operation into a
// classified *Error. Already-classified errors pass through untouched.
func Classify(err error, provider, operation string) *Error {
	if err == nil {
		return nil
	}

	var provErr *Error
	if errors.As(err, &provErr) {
		return provErr
	}

	e := &Error{
		Provider:  provider,
		Operation: operation,
		Message:   err.Error(),
		Err:       err,
	}

	message := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(message, "timeout") ||
		strings.Contains(message, "deadline exceeded"):
		e.Category = ErrorTimeout
		e.Retryable = true

	case strings.Contains(message, "unauthorized") ||
		strings.Contains(message, "invalid api key") ||
		strings.Contains(message, "forbidden"):
		e.Category = ErrorAuth
		e.Retryable = false

	case strings.Contains(message, "rate limit") ||
		strings.Contains(message, "too many requests"):
		e.Category = ErrorRateLimit
		e.Retryable = true

	case strings.Contains(message, "connection refused") ||
		strings.Contains(message, "no such host") ||
		strings.Contains(message, "connection reset") ||
		strings.Contains(message, "unreachable"):
		e.Category = ErrorNetwork
		e.Retryable = true

	case strings.Contains(message, "bad request") ||
		strings.Contains(message, "invalid") ||
		strings.Contains(message, "malformed"):
		e.Category = ErrorClient
		e.Retryable = false

	default:
		e.Category = ErrorNetwork
		e.Retryable = true
	}

	return e
}
