// Package retry implements bounded exponential backoff for provider
// attempts, including a streaming variant that never retries after
// partial delivery
package retry

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/llm-relay/relay/pkg/types"
)

// ExhaustedError is returned when every permitted attempt has failed
type ExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Cause
}

// Policy holds retry parameters. A Policy is immutable after construction
// and safe to share across concurrent calls.
type Policy struct {
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration
	multiplier  float64
	isRetryable func(error) bool

	sleep func(ctx context.Context, d time.Duration) error
}

// Info is a read-only snapshot of a policy's configuration
type Info struct {
	MaxRetries int           `json:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay"`
	MaxDelay   time.Duration `json:"max_delay"`
	Multiplier float64       `json:"multiplier"`
}

// Option customizes a Policy
type Option func(*Policy)

// WithRetryable sets the retryable-error predicate. The default retries
// every error.
func WithRetryable(fn func(error) bool) Option {
	return func(p *Policy) {
		p.isRetryable = fn
	}
}

// NewPolicy creates a retry policy with bounded exponential backoff
func NewPolicy(maxRetries int, baseDelay, maxDelay time.Duration, multiplier float64, opts ...Option) *Policy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	if multiplier <= 1 {
		multiplier = 2.0
	}

	p := &Policy{
		maxRetries:  maxRetries,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		multiplier:  multiplier,
		isRetryable: func(error) bool { return true },
		sleep:       waitWithContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Delay returns the backoff before retry number attempt+1:
// min(baseDelay * multiplier^attempt, maxDelay)
func (p *Policy) Delay(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(p.multiplier, float64(attempt))
	if delay > float64(p.maxDelay) {
		return p.maxDelay
	}
	return time.Duration(delay)
}

// Info returns the policy's configuration snapshot
func (p *Policy) Info() Info {
	return Info{
		MaxRetries: p.maxRetries,
		BaseDelay:  p.baseDelay,
		MaxDelay:   p.maxDelay,
		Multiplier: p.multiplier,
	}
}

// Execute runs op until it succeeds, fails non-retryably, or exhausts the
// retry budget. It returns the number of retries consumed. A
// non-retryable error propagates unchanged; an exhausted budget yields an
// *ExhaustedError wrapping the final cause.
func (p *Policy) Execute(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}

		err := op(ctx)
		if err == nil {
			return attempt, nil
		}

		if !p.isRetryable(err) {
			return attempt, err
		}
		if attempt == p.maxRetries {
			return attempt, &ExhaustedError{Attempts: attempt + 1, Cause: err}
		}

		if serr := p.sleep(ctx, p.Delay(attempt)); serr != nil {
			return attempt, serr
		}
		attempt++
	}
}

// ExecuteStreaming opens a token stream and forwards every chunk through
// yield. A failure before the first chunk is retried under the normal
// backoff rules; a failure after at least one chunk has been forwarded is
// terminal and is never retried here, since downstream consumers may
// already have observed partial output. The returned bool reports whether
// any chunk was forwarded.
func (p *Policy) ExecuteStreaming(
	ctx context.Context,
	open func(ctx context.Context) (types.TokenStream, error),
	yield func(chunk *types.StreamChunk) error,
) (int, bool, error) {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return attempt, false, err
		}

		yielded := false
		err := p.drain(ctx, open, yield, &yielded)
		if err == nil {
			return attempt, yielded, nil
		}
		if yielded {
			return attempt, true, err
		}

		if !p.isRetryable(err) {
			return attempt, false, err
		}
		if attempt == p.maxRetries {
			return attempt, false, &ExhaustedError{Attempts: attempt + 1, Cause: err}
		}

		if serr := p.sleep(ctx, p.Delay(attempt)); serr != nil {
			return attempt, false, serr
		}
		attempt++
	}
}

// drain performs one full open-and-forward pass over the stream
func (p *Policy) drain(
	ctx context.Context,
	open func(ctx context.Context) (types.TokenStream, error),
	yield func(chunk *types.StreamChunk) error,
	yielded *bool,
) error {
	stream, err := open(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		*yielded = true
		if err := yield(chunk); err != nil {
			return err
		}
	}
}

// waitWithContext sleeps for the given delay unless the context is
// cancelled first
func waitWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
