// Package types defines core types shared across the relay
package types

import (
	"time"
)

// TaskType classifies the purpose of a request and selects the ordered
// candidate list from the routing table.
type TaskType string

// RoutingRequest represents a single inference request to be routed
type RoutingRequest struct {
	RequestID    string   `json:"request_id,omitempty"`
	TaskType     TaskType `json:"task_type"`
	Prompt       string   `json:"prompt"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Temperature  float64  `json:"temperature,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`

	// Override constraints. ExplicitProviderID pins the request to a single
	// provider and bypasses the latency/cost filters. MaxLatencyMs and
	// MaxCostUsd, when non-zero, narrow the candidate list.
	ExplicitProviderID string  `json:"provider,omitempty"`
	MaxLatencyMs       int64   `json:"max_latency_ms,omitempty"`
	MaxCostUsd         float64 `json:"max_cost_usd,omitempty"`
}

// ProviderResult represents a completed inference response
type ProviderResult struct {
	Content      string  `json:"content"`
	ProviderID   string  `json:"provider_id"`
	ModelID      string  `json:"model_id"`
	TokensIn     int     `json:"tokens_in"`
	TokensOut    int     `json:"tokens_out"`
	CostUsd      float64 `json:"cost_usd"`
	LatencyMs    int64   `json:"latency_ms"`
	FallbackUsed bool    `json:"fallback_used"`
	RetryCount   int     `json:"retry_count"`
}

// StreamChunk is one element of a token stream. Either Token carries an
// incremental piece of output, or Usage marks the terminal summary chunk.
type StreamChunk struct {
	Token string       `json:"token,omitempty"`
	Usage *StreamUsage `json:"usage,omitempty"`
}

// StreamUsage is the terminal accounting summary of a stream
type StreamUsage struct {
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	CostUsd   float64 `json:"cost_usd"`
}

// TokenStream is a sequence of stream chunks produced by a provider.
// Recv returns io.EOF after the terminal chunk of a healthy stream; any
// other error means the stream failed at that point.
type TokenStream interface {
	Recv() (*StreamChunk, error)
	Close() error
}

// ProviderConfig is one routing-table candidate: a provider/model pair
// with its selection constraints
type ProviderConfig struct {
	ProviderID        string  `json:"provider_id"`
	ModelID           string  `json:"model_id"`
	MaxLatencyMs      int64   `json:"max_latency_ms"`
	MaxCostUsd        float64 `json:"max_cost_usd"`
	IsFallback        bool    `json:"is_fallback"`
	SupportsStreaming bool    `json:"supports_streaming"`
}

// Config represents the relay configuration
type Config struct {
	Server    ServerConfig       `mapstructure:"server"`
	Database  DatabaseConfig     `mapstructure:"database"`
	Redis     RedisConfig        `mapstructure:"redis"`
	Auth      AuthConfig         `mapstructure:"auth"`
	Logging   LoggingConfig      `mapstructure:"logging"`
	Breaker   BreakerConfig      `mapstructure:"breaker"`
	Retry     RetryConfig        `mapstructure:"retry"`
	Providers []ProviderSettings `mapstructure:"providers"`
	Routing   RoutingConfig      `mapstructure:"routing"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig represents the usage-log database configuration
type DatabaseConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// RedisConfig represents the usage-cache Redis configuration
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	Database int    `mapstructure:"database"`
}

// AuthConfig represents API authentication configuration
type AuthConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	JWTSecret string   `mapstructure:"jwt_secret"`
	APIKeys   []string `mapstructure:"api_keys"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// BreakerConfig holds circuit breaker thresholds. Used as the process-wide
// default and overridable per provider via ProviderSettings.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold" json:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout" json:"recovery_timeout"`
	SuccessThreshold int           `mapstructure:"success_threshold" json:"success_threshold"`
}

// RetryConfig holds retry policy parameters
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries" json:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay" json:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay" json:"max_delay"`
	Multiplier float64       `mapstructure:"multiplier" json:"multiplier"`
}

// ProviderSettings holds per-provider endpoint credentials plus optional
// breaker/retry overrides
type ProviderSettings struct {
	Name           string         `mapstructure:"name"`
	BaseURL        string         `mapstructure:"base_url"`
	APIKey         string         `mapstructure:"api_key"`
	TimeoutSeconds int            `mapstructure:"timeout_seconds"`
	Breaker        *BreakerConfig `mapstructure:"breaker"`
	Retry          *RetryConfig   `mapstructure:"retry"`
}

// RouteEntry is one configured routing-table entry for a task
type RouteEntry struct {
	Provider     string  `mapstructure:"provider"`
	Model        string  `mapstructure:"model"`
	MaxLatencyMs int64   `mapstructure:"max_latency_ms"`
	MaxCostUsd   float64 `mapstructure:"max_cost_usd"`
	Fallback     bool    `mapstructure:"fallback"`
	Streaming    bool    `mapstructure:"streaming"`
}

// RoutingConfig maps task types to their ordered candidate entries
type RoutingConfig struct {
	Tasks map[string][]RouteEntry `mapstructure:"tasks"`
}
