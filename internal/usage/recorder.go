// Package usage defines the structured usage event emitted after every
// routed call and the recorder sinks that consume it
package usage

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/llm-relay/relay/pkg/types"
	"github.com/llm-relay/relay/pkg/utils"
)

// Outcome of a routed call
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Event is emitted once per completed or exhausted route call
type Event struct {
	RequestID    string         `json:"request_id"`
	TaskType     types.TaskType `json:"task_type"`
	ProviderID   string         `json:"provider_id"`
	ModelID      string         `json:"model_id"`
	TokensIn     int            `json:"tokens_in"`
	TokensOut    int            `json:"tokens_out"`
	CostUsd      float64        `json:"cost_usd"`
	LatencyMs    int64          `json:"latency_ms"`
	FallbackUsed bool           `json:"fallback_used"`
	RetryCount   int            `json:"retry_count"`
	FinalStatus  string         `json:"final_status"`
	Streamed     bool           `json:"streamed"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Recorder consumes usage events. Implementations must tolerate failure
// without affecting the routed call.
type Recorder interface {
	Record(ctx context.Context, event *Event)
}

// LogRecorder writes usage events to the structured log
type LogRecorder struct {
	logger *utils.Logger
}

// NewLogRecorder creates a log-backed recorder
func NewLogRecorder(logger *utils.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

// Record logs the event
func (r *LogRecorder) Record(ctx context.Context, event *Event) {
	r.logger.WithFields(logrus.Fields{
		"type":          "usage",
		"request_id":    event.RequestID,
		"task_type":     string(event.TaskType),
		"provider":      event.ProviderID,
		"model":         event.ModelID,
		"tokens_in":     event.TokensIn,
		"tokens_out":    event.TokensOut,
		"cost_usd":      event.CostUsd,
		"latency_ms":    event.LatencyMs,
		"fallback_used": event.FallbackUsed,
		"retry_count":   event.RetryCount,
		"final_status":  event.FinalStatus,
		"streamed":      event.Streamed,
	}).Info("Usage event")
}

// MultiRecorder fans one event out to several sinks
type MultiRecorder struct {
	recorders []Recorder
}

// NewMultiRecorder combines recorders
func NewMultiRecorder(recorders ...Recorder) *MultiRecorder {
	return &MultiRecorder{recorders: recorders}
}

// Record delivers the event to every sink
func (r *MultiRecorder) Record(ctx context.Context, event *Event) {
	for _, recorder := range r.recorders {
		recorder.Record(ctx, event)
	}
}
