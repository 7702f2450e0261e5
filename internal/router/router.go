// Package router selects and iterates candidate providers for inference
// requests, guarding each provider path with a circuit breaker and a
// retry policy
package router

import (
	"context"
	"sync"
	"time"

	"github.com/llm-relay/relay/internal/breaker"
	"github.com/llm-relay/relay/internal/providers"
	"github.com/llm-relay/relay/internal/retry"
	"github.com/llm-relay/relay/internal/usage"
	"github.com/llm-relay/relay/pkg/types"
	"github.com/llm-relay/relay/pkg/utils"
)

// Config holds the default breaker/retry parameters plus optional
// per-provider overrides
type Config struct {
	Breaker          types.BreakerConfig
	Retry            types.RetryConfig
	BreakerOverrides map[string]types.BreakerConfig
	RetryOverrides   map[string]types.RetryConfig
}

// DefaultConfig returns conservative production defaults
func DefaultConfig() *Config {
	return &Config{
		Breaker: types.BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  60 * time.Second,
			SuccessThreshold: 2,
		},
		Retry: types.RetryConfig{
			MaxRetries: 3,
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   8 * time.Second,
			Multiplier: 2.0,
		},
	}
}

// ProviderStatus is the observability view over one provider's resilience
// state
type ProviderStatus struct {
	Breaker breaker.Status `json:"breaker"`
	Retry   retry.Info     `json:"retry"`
}

// Router orchestrates candidate iteration. It exclusively owns one
// circuit breaker per registered provider, created at construction and
// living for the process lifetime. Candidates are always tried
// sequentially, never fanned out in parallel.
type Router struct {
	registry *providers.Registry
	breakers map[string]*breaker.Breaker
	policies map[string]*retry.Policy
	recorder usage.Recorder
	logger   *utils.Logger

	mu       sync.RWMutex
	table    *Table
	selectFn SelectFunc
}

// Option customizes a Router
type Option func(*Router)

// WithSelectFunc swaps the candidate selection strategy
func WithSelectFunc(fn SelectFunc) Option {
	return func(r *Router) {
		r.selectFn = fn
	}
}

// WithRecorder sets the usage event sink
func WithRecorder(recorder usage.Recorder) Option {
	return func(r *Router) {
		r.recorder = recorder
	}
}

// New creates a router over the given table and provider registry
func New(cfg *Config, table *Table, registry *providers.Registry, logger *utils.Logger, opts ...Option) *Router {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	r := &Router{
		registry: registry,
		breakers: make(map[string]*breaker.Breaker),
		policies: make(map[string]*retry.Policy),
		recorder: usage.NewLogRecorder(logger),
		logger:   logger,
		table:    table,
		selectFn: TaskOrdered,
	}

	for _, name := range registry.Names() {
		bc := cfg.Breaker
		if override, ok := cfg.BreakerOverrides[name]; ok {
			bc = override
		}
		rc := cfg.Retry
		if override, ok := cfg.RetryOverrides[name]; ok {
			rc = override
		}

		r.breakers[name] = breaker.New(name, bc.FailureThreshold, bc.RecoveryTimeout, bc.SuccessThreshold)
		r.policies[name] = retry.NewPolicy(rc.MaxRetries, rc.BaseDelay, rc.MaxDelay, rc.Multiplier,
			retry.WithRetryable(providers.IsRetryable))
	}

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// UpdateTable swaps the routing table, typically on a config reload
func (r *Router) UpdateTable(table *Table) {
	r.mu.Lock()
	r.table = table
	r.mu.Unlock()
	r.logger.Info("Routing table updated")
}

// Candidates returns the ordered candidate list for a request. An
// explicitly pinned provider bypasses the strategy and its filters.
func (r *Router) Candidates(req *types.RoutingRequest) ([]types.ProviderConfig, error) {
	r.mu.RLock()
	table, selectFn := r.table, r.selectFn
	r.mu.RUnlock()

	if req.ExplicitProviderID != "" {
		config, ok := table.FindProvider(req.TaskType, req.ExplicitProviderID)
		if !ok {
			return nil, &NoProviderError{TaskType: req.TaskType, Provider: req.ExplicitProviderID}
		}
		return []types.ProviderConfig{config}, nil
	}

	candidates := selectFn(table, req)
	if len(candidates) == 0 {
		return nil, &NoProviderError{TaskType: req.TaskType}
	}
	return candidates, nil
}

// Route tries each candidate in order until one succeeds. Every failure
// type falls through to the next candidate; only caller cancellation
// aborts the loop early. When all candidates are exhausted the aggregated
// *AllFailedError is returned, except for explicitly pinned requests,
// which surface the provider's terminal error directly.
func (r *Router) Route(ctx context.Context, req *types.RoutingRequest) (*types.ProviderResult, error) {
	start := time.Now()

	candidates, err := r.Candidates(req)
	if err != nil {
		return nil, err
	}
	r.logger.WithTask(req.TaskType).WithField("candidates", len(candidates)).Debug("Routing request")

	var attempts []*AttemptError
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		result, retries, err := r.attempt(ctx, req, candidate)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			attempts = append(attempts, &AttemptError{ProviderID: candidate.ProviderID, Err: err})
			r.logger.LogProviderOutcome(candidate.ProviderID, req.RequestID, err, time.Since(start), retries)
			continue
		}

		result.FallbackUsed = candidate.IsFallback
		result.RetryCount = retries
		if result.LatencyMs == 0 {
			result.LatencyMs = time.Since(start).Milliseconds()
		}
		r.logger.LogProviderOutcome(candidate.ProviderID, req.RequestID, nil, time.Since(start), retries)
		r.recordResult(ctx, req, result, false)
		return result, nil
	}

	r.recordFailure(ctx, req, attempts, time.Since(start), false)

	if req.ExplicitProviderID != "" && len(attempts) == 1 {
		return nil, attempts[0].Err
	}
	return nil, &AllFailedError{TaskType: req.TaskType, Attempts: attempts}
}

// attempt executes one fully-retried call against one candidate, guarded
// by the candidate's breaker
func (r *Router) attempt(ctx context.Context, req *types.RoutingRequest, candidate types.ProviderConfig) (*types.ProviderResult, int, error) {
	client, err := r.registry.Get(candidate.ProviderID)
	if err != nil {
		return nil, 0, err
	}

	br := r.breakers[candidate.ProviderID]
	policy := r.policies[candidate.ProviderID]
	r.logger.LogProviderCall(candidate.ProviderID, candidate.ModelID, req.RequestID)

	var result *types.ProviderResult
	var retries int
	err = br.Call(ctx, func() error {
		n, callErr := policy.Execute(ctx, func(ctx context.Context) error {
			res, invokeErr := client.Invoke(ctx, req, candidate.ModelID)
			if invokeErr != nil {
				return invokeErr
			}
			result = res
			return nil
		})
		retries = n
		return callErr
	})
	if err != nil {
		return nil, retries, err
	}
	return result, retries, nil
}

// RouteStream is the streaming variant of Route. A candidate that fails
// before yielding any chunk falls through to the next candidate
// transparently; a candidate that fails after partial delivery terminates
// the stream with a *StreamInterruptedError — the router never splices
// output from two providers.
func (r *Router) RouteStream(ctx context.Context, req *types.RoutingRequest) (*Stream, error) {
	candidates, err := r.Candidates(req)
	if err != nil {
		return nil, err
	}

	streamable := make([]types.ProviderConfig, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.SupportsStreaming {
			streamable = append(streamable, candidate)
		}
	}
	if len(streamable) == 0 {
		return nil, &NoProviderError{TaskType: req.TaskType, Provider: req.ExplicitProviderID}
	}
	r.logger.WithTask(req.TaskType).WithField("candidates", len(streamable)).Debug("Routing stream request")

	stream := newStream()
	go r.runStream(ctx, req, streamable, stream)
	return stream, nil
}

// runStream drives the candidate loop for one streaming request
func (r *Router) runStream(ctx context.Context, req *types.RoutingRequest, candidates []types.ProviderConfig, stream *Stream) {
	start := time.Now()

	var attempts []*AttemptError
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			stream.fail(ctx.Err())
			return
		}

		client, err := r.registry.Get(candidate.ProviderID)
		if err != nil {
			attempts = append(attempts, &AttemptError{ProviderID: candidate.ProviderID, Err: err})
			continue
		}

		br := r.breakers[candidate.ProviderID]
		policy := r.policies[candidate.ProviderID]
		r.logger.LogProviderCall(candidate.ProviderID, candidate.ModelID, req.RequestID)

		chunks := 0
		var lastUsage *types.StreamUsage
		var retries int
		var yielded bool

		err = br.Call(ctx, func() error {
			n, y, streamErr := policy.ExecuteStreaming(ctx,
				func(ctx context.Context) (types.TokenStream, error) {
					return client.InvokeStream(ctx, req, candidate.ModelID)
				},
				func(chunk *types.StreamChunk) error {
					if chunk.Usage != nil {
						lastUsage = chunk.Usage
					}
					if err := stream.push(ctx, chunk); err != nil {
						return err
					}
					chunks++
					return nil
				})
			retries, yielded = n, y
			return streamErr
		})

		if err == nil {
			r.logger.LogProviderOutcome(candidate.ProviderID, req.RequestID, nil, time.Since(start), retries)
			r.recordStreamResult(ctx, req, candidate, lastUsage, retries, time.Since(start))
			stream.finish()
			return
		}

		if ctx.Err() != nil {
			stream.fail(err)
			return
		}

		r.logger.LogProviderOutcome(candidate.ProviderID, req.RequestID, err, time.Since(start), retries)

		attempts = append(attempts, &AttemptError{ProviderID: candidate.ProviderID, Err: err})

		if yielded {
			// Partial output already reached the caller; switching
			// providers now would splice two different completions.
			r.recordFailure(ctx, req, attempts, time.Since(start), true)
			stream.fail(&StreamInterruptedError{
				ProviderID: candidate.ProviderID,
				Chunks:     chunks,
				Err:        err,
			})
			return
		}
	}

	r.recordFailure(ctx, req, attempts, time.Since(start), true)

	if req.ExplicitProviderID != "" && len(attempts) == 1 {
		stream.fail(attempts[0].Err)
		return
	}
	stream.fail(&AllFailedError{TaskType: req.TaskType, Attempts: attempts})
}

// Status returns the resilience state of every provider, keyed by
// provider id
func (r *Router) Status() map[string]ProviderStatus {
	status := make(map[string]ProviderStatus, len(r.breakers))
	for name, br := range r.breakers {
		status[name] = ProviderStatus{
			Breaker: br.Status(),
			Retry:   r.policies[name].Info(),
		}
	}
	return status
}

func (r *Router) recordResult(ctx context.Context, req *types.RoutingRequest, result *types.ProviderResult, streamed bool) {
	r.recorder.Record(ctx, &usage.Event{
		RequestID:    req.RequestID,
		TaskType:     req.TaskType,
		ProviderID:   result.ProviderID,
		ModelID:      result.ModelID,
		TokensIn:     result.TokensIn,
		TokensOut:    result.TokensOut,
		CostUsd:      result.CostUsd,
		LatencyMs:    result.LatencyMs,
		FallbackUsed: result.FallbackUsed,
		RetryCount:   result.RetryCount,
		FinalStatus:  usage.StatusSuccess,
		Streamed:     streamed,
		CreatedAt:    time.Now(),
	})
}

func (r *Router) recordStreamResult(ctx context.Context, req *types.RoutingRequest, candidate types.ProviderConfig, streamUsage *types.StreamUsage, retries int, elapsed time.Duration) {
	event := &usage.Event{
		RequestID:    req.RequestID,
		TaskType:     req.TaskType,
		ProviderID:   candidate.ProviderID,
		ModelID:      candidate.ModelID,
		LatencyMs:    elapsed.Milliseconds(),
		FallbackUsed: candidate.IsFallback,
		RetryCount:   retries,
		FinalStatus:  usage.StatusSuccess,
		Streamed:     true,
		CreatedAt:    time.Now(),
	}
	if streamUsage != nil {
		event.TokensIn = streamUsage.TokensIn
		event.TokensOut = streamUsage.TokensOut
		event.CostUsd = streamUsage.CostUsd
	}
	r.recorder.Record(ctx, event)
}

func (r *Router) recordFailure(ctx context.Context, req *types.RoutingRequest, attempts []*AttemptError, elapsed time.Duration, streamed bool) {
	event := &usage.Event{
		RequestID:   req.RequestID,
		TaskType:    req.TaskType,
		LatencyMs:   elapsed.Milliseconds(),
		FinalStatus: usage.StatusFailed,
		Streamed:    streamed,
		CreatedAt:   time.Now(),
	}
	if len(attempts) > 0 {
		event.ProviderID = attempts[len(attempts)-1].ProviderID
	}
	r.recorder.Record(ctx, event)
}
