package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-relay/relay/internal/providers"
	"github.com/llm-relay/relay/internal/router"
	"github.com/llm-relay/relay/internal/storage"
	"github.com/llm-relay/relay/pkg/types"
	"github.com/llm-relay/relay/pkg/utils"
)

// stubClient returns a canned result or error
type stubClient struct {
	name string
	err  error
}

func (s *stubClient) Name() string { return s.name }

func (s *stubClient) Invoke(ctx context.Context, req *types.RoutingRequest, model string) (*types.ProviderResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &types.ProviderResult{
		Content:    "stubbed completion",
		ProviderID: s.name,
		ModelID:    model,
		TokensIn:   4,
		TokensOut:  2,
		CostUsd:    0.0001,
		LatencyMs:  5,
	}, nil
}

func (s *stubClient) InvokeStream(ctx context.Context, req *types.RoutingRequest, model string) (types.TokenStream, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &stubStream{chunks: []*types.StreamChunk{
		{Token: "stub"},
		{Usage: &types.StreamUsage{TokensIn: 4, TokensOut: 1, CostUsd: 0.0001}},
	}}, nil
}

type stubStream struct {
	chunks []*types.StreamChunk
	pos    int
}

func (s *stubStream) Recv() (*types.StreamChunk, error) {
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *stubStream) Close() error { return nil }

func newTestGateway(t *testing.T, authCfg types.AuthConfig, clientErr error) *Gateway {
	return newTestGatewayWithStore(t, authCfg, clientErr, nil)
}

func newTestGatewayWithStore(t *testing.T, authCfg types.AuthConfig, clientErr error, store UsageStore) *Gateway {
	t.Helper()

	logger := utils.NewNopLogger()
	registry := providers.NewRegistry(logger)
	require.NoError(t, registry.Register(&stubClient{name: "stub", err: clientErr}))

	table := router.NewTable(map[types.TaskType][]types.ProviderConfig{
		"chat": {{ProviderID: "stub", ModelID: "stub-model", SupportsStreaming: true}},
	})

	cfg := &types.Config{
		Server: types.ServerConfig{Host: "127.0.0.1", Port: 0},
		Auth:   authCfg,
		Retry: types.RetryConfig{
			MaxRetries: 0,
			BaseDelay:  time.Millisecond,
			MaxDelay:   time.Millisecond,
			Multiplier: 2.0,
		},
		Breaker: types.BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  time.Minute,
			SuccessThreshold: 1,
		},
	}

	r := router.New(&router.Config{Breaker: cfg.Breaker, Retry: cfg.Retry}, table, registry, logger)
	return New(cfg, r, nil, store, logger)
}

// fakeUsageStore is an in-memory UsageStore capturing query arguments
type fakeUsageStore struct {
	records []storage.UsageRecord
	stats   map[string]interface{}

	lastLimit    int
	lastProvider string
	lastWindow   time.Duration
}

func (f *fakeUsageStore) Recent(ctx context.Context, limit int) ([]storage.UsageRecord, error) {
	f.lastLimit = limit
	return f.records, nil
}

func (f *fakeUsageStore) ByProvider(ctx context.Context, providerID string, since time.Time, limit int) ([]storage.UsageRecord, error) {
	f.lastProvider = providerID
	f.lastLimit = limit
	return f.records, nil
}

func (f *fakeUsageStore) Stats(ctx context.Context, startTime, endTime time.Time) (map[string]interface{}, error) {
	f.lastWindow = endTime.Sub(startTime)
	return f.stats, nil
}

func doRequest(g *Gateway, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	g.engine.ServeHTTP(w, req)
	return w
}

func TestCompletionsSuccess(t *testing.T) {
	g := newTestGateway(t, types.AuthConfig{}, nil)

	w := doRequest(g, http.MethodPost, "/v1/completions",
		`{"task_type":"chat","prompt":"hello"}`, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"provider_id":"stub"`)
	assert.Contains(t, w.Body.String(), "stubbed completion")
}

func TestCompletionsValidation(t *testing.T) {
	g := newTestGateway(t, types.AuthConfig{}, nil)

	t.Run("missing task_type", func(t *testing.T) {
		w := doRequest(g, http.MethodPost, "/v1/completions", `{"prompt":"hello"}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "MISSING_TASK_TYPE")
	})

	t.Run("missing prompt", func(t *testing.T) {
		w := doRequest(g, http.MethodPost, "/v1/completions", `{"task_type":"chat"}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "MISSING_PROMPT")
	})

	t.Run("malformed body", func(t *testing.T) {
		w := doRequest(g, http.MethodPost, "/v1/completions", `{not json`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCompletionsNoProvider(t *testing.T) {
	g := newTestGateway(t, types.AuthConfig{}, nil)

	w := doRequest(g, http.MethodPost, "/v1/completions",
		`{"task_type":"translate","prompt":"hello"}`, nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NO_PROVIDER")
}

func TestCompletionsAllFailed(t *testing.T) {
	g := newTestGateway(t, types.AuthConfig{},
		providers.NewPermanent("stub", "invoke", providers.ErrorAuth, "key rejected"))

	w := doRequest(g, http.MethodPost, "/v1/completions",
		`{"task_type":"chat","prompt":"hello"}`, nil)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "ALL_PROVIDERS_FAILED")
}

func TestCompletionsStreamSSE(t *testing.T) {
	g := newTestGateway(t, types.AuthConfig{}, nil)

	w := doRequest(g, http.MethodPost, "/v1/completions/stream",
		`{"task_type":"chat","prompt":"hello"}`, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, `data: {"token":"stub"}`)
	assert.Contains(t, body, "data: [DONE]")
}

func TestStatusEndpoint(t *testing.T) {
	g := newTestGateway(t, types.AuthConfig{}, nil)

	w := doRequest(g, http.MethodGet, "/v1/status", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"stub"`)
	assert.Contains(t, w.Body.String(), `"state":"closed"`)
}

func TestUsageRecentWithoutBackends(t *testing.T) {
	g := newTestGateway(t, types.AuthConfig{}, nil)

	w := doRequest(g, http.MethodGet, "/v1/usage/recent", "", nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "USAGE_UNAVAILABLE")
}

func TestUsageRecentFromStore(t *testing.T) {
	store := &fakeUsageStore{records: []storage.UsageRecord{
		{RequestID: "req_1", TaskType: "chat", ProviderID: "stub", ModelID: "stub-model",
			TokensIn: 4, TokensOut: 2, FinalStatus: "success"},
	}}
	g := newTestGatewayWithStore(t, types.AuthConfig{}, nil, store)

	w := doRequest(g, http.MethodGet, "/v1/usage/recent?limit=10", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, store.lastLimit)
	assert.Contains(t, w.Body.String(), `"count":1`)
	assert.Contains(t, w.Body.String(), `"provider_id":"stub"`)
	assert.Contains(t, w.Body.String(), `"request_id":"req_1"`)
}

func TestUsageRecentByProvider(t *testing.T) {
	store := &fakeUsageStore{records: []storage.UsageRecord{
		{RequestID: "req_2", ProviderID: "stub", FinalStatus: "failed"},
	}}
	g := newTestGatewayWithStore(t, types.AuthConfig{}, nil, store)

	w := doRequest(g, http.MethodGet, "/v1/usage/recent?provider=stub", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stub", store.lastProvider)
	assert.Contains(t, w.Body.String(), `"final_status":"failed"`)
}

func TestUsageStats(t *testing.T) {
	store := &fakeUsageStore{stats: map[string]interface{}{
		"total_requests": 7,
		"total_cost_usd": 0.42,
	}}
	g := newTestGatewayWithStore(t, types.AuthConfig{}, nil, store)

	w := doRequest(g, http.MethodGet, "/v1/usage/stats?window=1h", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, time.Hour, store.lastWindow)
	assert.Contains(t, w.Body.String(), `"total_requests":7`)
	assert.Contains(t, w.Body.String(), `"window":"1h0m0s"`)
}

func TestUsageStatsWithoutStore(t *testing.T) {
	g := newTestGateway(t, types.AuthConfig{}, nil)

	w := doRequest(g, http.MethodGet, "/v1/usage/stats", "", nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "USAGE_UNAVAILABLE")
}

func TestHealthBypassesAuth(t *testing.T) {
	g := newTestGateway(t, types.AuthConfig{Enabled: true, APIKeys: []string{"secret"}}, nil)

	w := doRequest(g, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRequired(t *testing.T) {
	authCfg := types.AuthConfig{
		Enabled:   true,
		JWTSecret: "test-secret",
		APIKeys:   []string{"valid-key"},
	}

	t.Run("rejected without credentials", func(t *testing.T) {
		g := newTestGateway(t, authCfg, nil)
		w := doRequest(g, http.MethodPost, "/v1/completions",
			`{"task_type":"chat","prompt":"hello"}`, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("accepted with api key header", func(t *testing.T) {
		g := newTestGateway(t, authCfg, nil)
		w := doRequest(g, http.MethodPost, "/v1/completions",
			`{"task_type":"chat","prompt":"hello"}`,
			map[string]string{"X-API-Key": "valid-key"})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rejected with wrong api key", func(t *testing.T) {
		g := newTestGateway(t, authCfg, nil)
		w := doRequest(g, http.MethodPost, "/v1/completions",
			`{"task_type":"chat","prompt":"hello"}`,
			map[string]string{"X-API-Key": "wrong"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("accepted with signed jwt", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "tester",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte(authCfg.JWTSecret))
		require.NoError(t, err)

		g := newTestGateway(t, authCfg, nil)
		w := doRequest(g, http.MethodPost, "/v1/completions",
			`{"task_type":"chat","prompt":"hello"}`,
			map[string]string{"Authorization": "Bearer " + signed})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rejected with forged jwt", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "tester"})
		signed, err := token.SignedString([]byte("wrong-secret"))
		require.NoError(t, err)

		g := newTestGateway(t, authCfg, nil)
		w := doRequest(g, http.MethodPost, "/v1/completions",
			`{"task_type":"chat","prompt":"hello"}`,
			map[string]string{"Authorization": "Bearer " + signed})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequestIDPropagated(t *testing.T) {
	g := newTestGateway(t, types.AuthConfig{}, nil)

	w := doRequest(g, http.MethodPost, "/v1/completions",
		`{"task_type":"chat","prompt":"hello"}`,
		map[string]string{"X-Request-ID": "req_custom"})

	assert.Equal(t, "req_custom", w.Header().Get("X-Request-ID"))
}
