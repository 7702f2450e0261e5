package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/llm-relay/relay/internal/usage"
	"github.com/llm-relay/relay/pkg/types"
	"github.com/llm-relay/relay/pkg/utils"
)

const (
	recentUsageKey = "usage:recent"
	recentUsageCap = 200
)

// Cache wraps the Redis client. It keeps a capped list of the most recent
// usage events for the fast-path /v1/usage/recent endpoint, sparing the
// database a query per status poll.
type Cache struct {
	client *redis.Client
	config *types.RedisConfig
	logger *utils.Logger
}

// NewCache creates a new Redis-backed cache
func NewCache(config *types.RedisConfig, logger *utils.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.Database,

		PoolSize:     10,
		MinIdleConns: 5,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Successfully connected to Redis")

	return &Cache{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping tests Redis connectivity
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Record implements usage.Recorder. The event is pushed onto a capped
// list; failures are logged and swallowed.
func (c *Cache) Record(ctx context.Context, event *usage.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to marshal usage event")
		return
	}

	pipe := c.client.Pipeline()
	pipe.LPush(ctx, recentUsageKey, data)
	pipe.LTrim(ctx, recentUsageKey, 0, recentUsageCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.WithError(err).Warn("Failed to cache usage event")
	}
}

// RecentUsage returns up to limit of the most recent usage events,
// newest first
func (c *Cache) RecentUsage(ctx context.Context, limit int) ([]*usage.Event, error) {
	if limit <= 0 || limit > recentUsageCap {
		limit = recentUsageCap
	}

	entries, err := c.client.LRange(ctx, recentUsageKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read recent usage: %w", err)
	}

	events := make([]*usage.Event, 0, len(entries))
	for _, entry := range entries {
		event := &usage.Event{}
		if err := json.Unmarshal([]byte(entry), event); err != nil {
			// Skip entries written by an incompatible version.
			continue
		}
		events = append(events, event)
	}
	return events, nil
}
