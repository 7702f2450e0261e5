// Package config provides configuration management for the relay
package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/llm-relay/relay/pkg/types"
)

// Manager handles configuration loading, validation and hot reload
type Manager struct {
	mu     sync.RWMutex
	config *types.Config
	viper  *viper.Viper
}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{
		viper: viper.New(),
	}
}

// Load loads configuration from the config file and environment
func (m *Manager) Load() error {
	m.setDefaults()

	m.viper.SetConfigName("config")
	m.viper.SetConfigType("yaml")
	m.viper.AddConfigPath("./configs")
	m.viper.AddConfigPath(".")

	m.viper.AutomaticEnv()
	m.viper.SetEnvPrefix("RELAY")
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, defaults and env vars apply.
	}

	config := &types.Config{}
	if err := m.viper.Unmarshal(config); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	m.mu.Lock()
	m.config = config
	m.mu.Unlock()
	return nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	// Server defaults
	m.viper.SetDefault("server.host", "0.0.0.0")
	m.viper.SetDefault("server.port", 8080)
	m.viper.SetDefault("server.read_timeout", "30s")
	m.viper.SetDefault("server.write_timeout", "120s")
	m.viper.SetDefault("server.idle_timeout", "120s")

	// Breaker defaults
	m.viper.SetDefault("breaker.failure_threshold", 5)
	m.viper.SetDefault("breaker.recovery_timeout", "60s")
	m.viper.SetDefault("breaker.success_threshold", 2)

	// Retry defaults
	m.viper.SetDefault("retry.max_retries", 3)
	m.viper.SetDefault("retry.base_delay", "500ms")
	m.viper.SetDefault("retry.max_delay", "8s")
	m.viper.SetDefault("retry.multiplier", 2.0)

	// Database defaults
	m.viper.SetDefault("database.enabled", false)
	m.viper.SetDefault("database.host", "localhost")
	m.viper.SetDefault("database.port", 5432)
	m.viper.SetDefault("database.username", "relay")
	m.viper.SetDefault("database.password", "password")
	m.viper.SetDefault("database.database", "relay")
	m.viper.SetDefault("database.max_open_conns", 50)
	m.viper.SetDefault("database.max_idle_conns", 10)

	// Redis defaults
	m.viper.SetDefault("redis.enabled", false)
	m.viper.SetDefault("redis.host", "localhost")
	m.viper.SetDefault("redis.port", 6379)
	m.viper.SetDefault("redis.password", "")
	m.viper.SetDefault("redis.database", 0)

	// Auth defaults
	m.viper.SetDefault("auth.enabled", false)
	m.viper.SetDefault("auth.jwt_secret", "")

	// Logging defaults
	m.viper.SetDefault("logging.level", "info")
	m.viper.SetDefault("logging.format", "json")
	m.viper.SetDefault("logging.output", "stdout")
}

// Get returns the current configuration
func (m *Manager) Get() *types.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Watch starts watching the config file. On every change the new config
// is re-unmarshalled and handed to the callback, which is how the routing
// table gets hot-reloaded without a restart.
func (m *Manager) Watch(callback func(*types.Config)) {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		config := &types.Config{}
		if err := m.viper.Unmarshal(config); err != nil {
			return
		}
		m.mu.Lock()
		m.config = config
		m.mu.Unlock()
		if callback != nil {
			callback(config)
		}
	})
}

// Validate validates the loaded configuration
func (m *Manager) Validate() error {
	cfg := m.Get()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	if cfg.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure_threshold must be positive")
	}
	if cfg.Breaker.RecoveryTimeout <= 0 {
		return fmt.Errorf("breaker recovery_timeout must be positive")
	}
	if cfg.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry max_retries must not be negative")
	}
	if cfg.Retry.Multiplier < 1.0 {
		return fmt.Errorf("retry multiplier must be >= 1.0")
	}

	if cfg.Auth.Enabled && cfg.Auth.JWTSecret == "" && len(cfg.Auth.APIKeys) == 0 {
		return fmt.Errorf("auth is enabled but no jwt_secret or api_keys configured")
	}

	names := make(map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider with empty name")
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate provider name: %s", p.Name)
		}
		names[p.Name] = true
	}

	for task, entries := range cfg.Routing.Tasks {
		for _, entry := range entries {
			if entry.Provider == "" {
				return fmt.Errorf("routing task %q has an entry with no provider", task)
			}
			if !names[entry.Provider] {
				return fmt.Errorf("routing task %q references unknown provider %q", task, entry.Provider)
			}
		}
	}

	return nil
}
