package router

import (
	"fmt"
	"strings"

	"github.com/llm-relay/relay/pkg/types"
)

// NoProviderError is returned when candidate selection produced an empty
// list for the request
type NoProviderError struct {
	TaskType types.TaskType
	Provider string
}

func (e *NoProviderError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("no provider %q configured for task %q", e.Provider, e.TaskType)
	}
	return fmt.Sprintf("no provider available for task %q", e.TaskType)
}

// AttemptError records the terminal failure of one candidate
type AttemptError struct {
	ProviderID string `json:"provider_id"`
	Err        error  `json:"-"`
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("%s: %v", e.ProviderID, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// AllFailedError aggregates one terminal error per attempted candidate,
// in attempt order. It is the only error a task-routed call surfaces when
// every candidate is exhausted.
type AllFailedError struct {
	TaskType types.TaskType
	Attempts []*AttemptError
}

func (e *AllFailedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, attempt := range e.Attempts {
		parts[i] = attempt.Error()
	}
	return fmt.Sprintf("all %d providers failed for task %q: [%s]",
		len(e.Attempts), e.TaskType, strings.Join(parts, "; "))
}

// StreamInterruptedError is surfaced when a stream fails after partial
// delivery. The router never switches providers mid-stream, so the chunks
// already forwarded are all the caller will get.
type StreamInterruptedError struct {
	ProviderID string
	Chunks     int
	Err        error
}

func (e *StreamInterruptedError) Error() string {
	return fmt.Sprintf("stream from %s interrupted after %d chunks: %v", e.ProviderID, e.Chunks, e.Err)
}

func (e *StreamInterruptedError) Unwrap() error {
	return e.Err
}
