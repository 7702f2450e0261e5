package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/llm-relay/relay/internal/breaker"
	"github.com/llm-relay/relay/internal/middleware"
	"github.com/llm-relay/relay/internal/providers"
	"github.com/llm-relay/relay/internal/retry"
	"github.com/llm-relay/relay/internal/router"
	"github.com/llm-relay/relay/internal/storage"
	"github.com/llm-relay/relay/internal/usage"
	"github.com/llm-relay/relay/pkg/types"
)

// completions handles a buffered completion request
func (g *Gateway) completions(c *gin.Context) {
	req, ok := g.bindRequest(c)
	if !ok {
		return
	}

	result, err := g.router.Route(c.Request.Context(), req)
	if err != nil {
		g.respondRouteError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// completionsStream handles a streaming completion request over SSE
func (g *Gateway) completionsStream(c *gin.Context) {
	req, ok := g.bindRequest(c)
	if !ok {
		return
	}

	stream, err := g.router.RouteStream(c.Request.Context(), req)
	if err != nil {
		g.respondRouteError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, _ := c.Writer.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			fmt.Fprint(c.Writer, "data: [DONE]\n\n")
			flush()
			return
		}
		if err != nil {
			g.writeStreamError(c, err)
			flush()
			return
		}

		data, marshalErr := json.Marshal(chunk)
		if marshalErr != nil {
			continue
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		flush()
	}
}

// status reports per-provider breaker and retry state
func (g *Gateway) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"providers": g.router.Status(),
	})
}

// usageRecent serves recent usage events, preferring the Redis cache and
// falling back to the database when the cache is disabled. Filtering by
// provider always goes to the database.
func (g *Gateway) usageRecent(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	var events []*usage.Event
	var err error
	switch {
	case c.Query("provider") != "" && g.store != nil:
		var records []storage.UsageRecord
		since := time.Now().Add(-24 * time.Hour)
		records, err = g.store.ByProvider(c.Request.Context(), c.Query("provider"), since, limit)
		events = recordEvents(records)
	case g.cache != nil:
		events, err = g.cache.RecentUsage(c.Request.Context(), limit)
	case g.store != nil:
		var records []storage.UsageRecord
		records, err = g.store.Recent(c.Request.Context(), limit)
		events = recordEvents(records)
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": gin.H{
				"code":    "USAGE_UNAVAILABLE",
				"message": "recent usage requires the redis cache or the database to be enabled",
			},
		})
		return
	}
	if err != nil {
		g.logger.WithError(err).Error("Failed to read recent usage")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "USAGE_READ_FAILED",
				"message": "failed to read recent usage",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  len(events),
		"events": events,
	})
}

// usageStats serves aggregated usage over a trailing window, read from
// the database
func (g *Gateway) usageStats(c *gin.Context) {
	if g.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": gin.H{
				"code":    "USAGE_UNAVAILABLE",
				"message": "usage stats require the database to be enabled",
			},
		})
		return
	}

	window := 24 * time.Hour
	if raw := c.Query("window"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			window = parsed
		}
	}

	end := time.Now()
	stats, err := g.store.Stats(c.Request.Context(), end.Add(-window), end)
	if err != nil {
		g.logger.WithError(err).Error("Failed to aggregate usage stats")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "USAGE_READ_FAILED",
				"message": "failed to aggregate usage stats",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"window": window.String(),
		"stats":  stats,
	})
}

// recordEvents converts persisted rows back into the wire event shape so
// both usage backends serve the same response
func recordEvents(records []storage.UsageRecord) []*usage.Event {
	events := make([]*usage.Event, 0, len(records))
	for _, record := range records {
		events = append(events, &usage.Event{
			RequestID:    record.RequestID,
			TaskType:     types.TaskType(record.TaskType),
			ProviderID:   record.ProviderID,
			ModelID:      record.ModelID,
			TokensIn:     record.TokensIn,
			TokensOut:    record.TokensOut,
			CostUsd:      record.CostUsd,
			LatencyMs:    record.LatencyMs,
			FallbackUsed: record.FallbackUsed,
			RetryCount:   record.RetryCount,
			FinalStatus:  record.FinalStatus,
			Streamed:     record.Streamed,
			CreatedAt:    record.CreatedAt,
		})
	}
	return events
}

// bindRequest decodes and validates the routing request body
func (g *Gateway) bindRequest(c *gin.Context) (*types.RoutingRequest, bool) {
	req := &types.RoutingRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "invalid request format",
			},
		})
		return nil, false
	}

	if req.TaskType == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "MISSING_TASK_TYPE",
				"message": "task_type is required",
			},
		})
		return nil, false
	}
	if req.Prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "MISSING_PROMPT",
				"message": "prompt is required",
			},
		})
		return nil, false
	}

	if req.RequestID == "" {
		req.RequestID = middleware.GetRequestIDFromContext(c)
	}
	return req, true
}

// respondRouteError maps routing failures to HTTP responses
func (g *Gateway) respondRouteError(c *gin.Context, err error) {
	status, code := classifyRouteError(err)

	var openErr *breaker.OpenError
	if errors.As(err, &openErr) && openErr.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(openErr.RetryAfter.Seconds())+1))
	}

	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": err.Error(),
		},
	})
}

// writeStreamError emits a terminal SSE error event
func (g *Gateway) writeStreamError(c *gin.Context, err error) {
	_, code := classifyRouteError(err)

	payload, _ := json.Marshal(gin.H{
		"code":    code,
		"message": err.Error(),
	})
	fmt.Fprintf(c.Writer, "event: error\ndata: %s\n\n", payload)
}

func classifyRouteError(err error) (int, string) {
	var noProvider *router.NoProviderError
	if errors.As(err, &noProvider) {
		return http.StatusNotFound, "NO_PROVIDER"
	}

	var interrupted *router.StreamInterruptedError
	if errors.As(err, &interrupted) {
		return http.StatusBadGateway, "STREAM_INTERRUPTED"
	}

	var allFailed *router.AllFailedError
	if errors.As(err, &allFailed) {
		return http.StatusBadGateway, "ALL_PROVIDERS_FAILED"
	}

	var openErr *breaker.OpenError
	if errors.As(err, &openErr) {
		return http.StatusServiceUnavailable, "CIRCUIT_OPEN"
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return http.StatusBadGateway, "RETRIES_EXHAUSTED"
	}

	var provErr *providers.Error
	if errors.As(err, &provErr) {
		switch provErr.Category {
		case providers.ErrorAuth:
			return http.StatusBadGateway, "PROVIDER_AUTH_FAILED"
		case providers.ErrorRateLimit:
			return http.StatusTooManyRequests, "PROVIDER_RATE_LIMITED"
		case providers.ErrorClient:
			return http.StatusBadRequest, "PROVIDER_REJECTED_REQUEST"
		default:
			return http.StatusBadGateway, "PROVIDER_FAILED"
		}
	}

	if errors.Is(err, context.Canceled) {
		// Client went away; status is moot but 499 matches nginx convention.
		return 499, "CLIENT_CANCELLED"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "TIMEOUT"
	}

	return http.StatusInternalServerError, "INTERNAL_ERROR"
}
