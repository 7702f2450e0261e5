package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
server:
  port: 9090

breaker:
  failure_threshold: 3
  recovery_timeout: 30s
  success_threshold: 1

retry:
  max_retries: 2
  base_delay: 250ms
  max_delay: 4s
  multiplier: 2.0

providers:
  - name: openai
    base_url: https://api.openai.com/v1
    api_key: sk-test
    timeout_seconds: 30
    retry:
      max_retries: 1
      base_delay: 100ms
      max_delay: 1s
      multiplier: 2.0

routing:
  tasks:
    chat:
      - provider: openai
        model: gpt-4o
        max_latency_ms: 5000
        max_cost_usd: 0.05
        streaming: true
`

func chdirWithConfig(t *testing.T, content string) {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "configs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", "config.yaml"), []byte(content), 0o644))

	original, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(original) })
}

func TestLoadFromFile(t *testing.T) {
	chdirWithConfig(t, testConfig)

	m := NewManager()
	require.NoError(t, m.Load())

	cfg := m.Get()
	require.NotNil(t, cfg)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "defaults fill unset fields")

	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.RecoveryTimeout)
	assert.Equal(t, 2, cfg.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)

	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "openai", cfg.Providers[0].Name)
	require.NotNil(t, cfg.Providers[0].Retry)
	assert.Equal(t, 1, cfg.Providers[0].Retry.MaxRetries)
	assert.Nil(t, cfg.Providers[0].Breaker, "absent override stays nil")

	entries := cfg.Routing.Tasks["chat"]
	require.Len(t, entries, 1)
	assert.Equal(t, "gpt-4o", entries[0].Model)
	assert.True(t, entries[0].Streaming)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	chdirWithConfig(t, testConfig)
	require.NoError(t, os.Remove(filepath.Join("configs", "config.yaml")))

	m := NewManager()
	require.NoError(t, m.Load())

	cfg := m.Get()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 8*time.Second, cfg.Retry.MaxDelay)
}

func TestValidate(t *testing.T) {
	t.Run("valid config passes", func(t *testing.T) {
		chdirWithConfig(t, testConfig)
		m := NewManager()
		require.NoError(t, m.Load())
		assert.NoError(t, m.Validate())
	})

	t.Run("not loaded", func(t *testing.T) {
		m := NewManager()
		assert.Error(t, m.Validate())
	})

	t.Run("routing references unknown provider", func(t *testing.T) {
		chdirWithConfig(t, `
providers:
  - name: openai
    base_url: https://api.openai.com/v1
    api_key: sk-test

routing:
  tasks:
    chat:
      - provider: missing
        model: gpt-4o
`)
		m := NewManager()
		require.NoError(t, m.Load())
		err := m.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown provider")
	})

	t.Run("auth enabled without credentials", func(t *testing.T) {
		chdirWithConfig(t, `
auth:
  enabled: true
`)
		m := NewManager()
		require.NoError(t, m.Load())
		assert.Error(t, m.Validate())
	})
}
