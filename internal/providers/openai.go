package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/llm-relay/relay/pkg/cost"
	"github.com/llm-relay/relay/pkg/types"
	"github.com/llm-relay/relay/pkg/utils"
)

// OpenAIClient speaks the OpenAI chat-completions wire format, which most
// hosted inference vendors expose. One instance serves one configured
// provider endpoint.
type OpenAIClient struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	estimator  *cost.Estimator
	logger     *utils.Logger
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint
func NewOpenAIClient(settings *types.ProviderSettings, logger *utils.Logger) *OpenAIClient {
	timeout := time.Duration(settings.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &OpenAIClient{
		name:       settings.Name,
		baseURL:    strings.TrimRight(settings.BaseURL, "/"),
		apiKey:     settings.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		estimator:  cost.NewEstimator(),
		logger:     logger,
	}
}

// Name returns the provider id this client serves
func (c *OpenAIClient) Name() string {
	return c.name
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage chatUsage `json:"usage"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke performs a blocking chat completion
func (c *OpenAIClient) Invoke(ctx context.Context, req *types.RoutingRequest, model string) (*types.ProviderResult, error) {
	start := time.Now()

	resp, err := c.post(ctx, req, model, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.httpError(resp, "invoke")
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, NewTransient(c.name, "invoke", ErrorServer,
			fmt.Sprintf("malformed response body: %v", err))
	}
	if len(parsed.Choices) == 0 {
		return nil, NewTransient(c.name, "invoke", ErrorServer, "response contained no choices")
	}

	content := parsed.Choices[0].Message.Content
	tokensIn := parsed.Usage.PromptTokens
	tokensOut := parsed.Usage.CompletionTokens
	if tokensIn == 0 && tokensOut == 0 {
		tokensIn = c.estimator.EstimatePromptTokens(req.SystemPrompt, req.Prompt)
		tokensOut = c.estimator.EstimateTokens(content)
	}

	return &types.ProviderResult{
		Content:    content,
		ProviderID: c.name,
		ModelID:    model,
		TokensIn:   tokensIn,
		TokensOut:  tokensOut,
		CostUsd:    cost.Calculate(model, tokensIn, tokensOut),
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// InvokeStream opens a streaming chat completion. Failures during
// iteration surface from TokenStream.Recv with the same classification as
// blocking failures.
func (c *OpenAIClient) InvokeStream(ctx context.Context, req *types.RoutingRequest, model string) (types.TokenStream, error) {
	resp, err := c.post(ctx, req, model, true)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.httpError(resp, "invoke_stream")
	}

	return &sseStream{
		provider:  c.name,
		model:     model,
		body:      resp.Body,
		scanner:   bufio.NewScanner(resp.Body),
		estimator: c.estimator,
		tokensIn:  c.estimator.EstimatePromptTokens(req.SystemPrompt, req.Prompt),
	}, nil
}

// post sends the chat-completions request
func (c *OpenAIClient) post(ctx context.Context, req *types.RoutingRequest, model string, stream bool) (*http.Response, error) {
	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	payload, err := json.Marshal(&chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, NewPermanent(c.name, "invoke", ErrorClient,
			fmt.Sprintf("failed to encode request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, NewPermanent(c.name, "invoke", ErrorClient, err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, Classify(err, c.name, "invoke")
	}
	return resp, nil
}

// httpError reads the body of a non-200 response and classifies it
func (c *OpenAIClient) httpError(resp *http.Response, operation string) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

	message := strings.TrimSpace(string(body))
	var parsed apiError
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		message = parsed.Error.Message
	}

	return ClassifyHTTP(c.name, operation, resp.StatusCode, message)
}

// sseStream adapts a server-sent-events response body into a TokenStream.
// After the vendor's [DONE] marker it emits one synthesized terminal
// usage chunk, then io.EOF.
type sseStream struct {
	provider  string
	model     string
	body      io.ReadCloser
	scanner   *bufio.Scanner
	estimator *cost.Estimator

	tokensIn  int
	fragments []string
	usage     *chatUsage
	finished  bool
	summSent  bool
}

// Recv returns the next chunk of the stream
func (s *sseStream) Recv() (*types.StreamChunk, error) {
	if s.summSent {
		return nil, io.EOF
	}
	if s.finished {
		return s.summary(), nil
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			s.finished = true
			return s.summary(), nil
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil, NewTransient(s.provider, "invoke_stream", ErrorServer,
				fmt.Sprintf("malformed stream event: %v", err))
		}
		if chunk.Usage != nil {
			s.usage = chunk.Usage
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}

		token := chunk.Choices[0].Delta.Content
		s.fragments = append(s.fragments, token)
		return &types.StreamChunk{Token: token}, nil
	}

	if err := s.scanner.Err(); err != nil {
		return nil, Classify(err, s.provider, "invoke_stream")
	}

	// The body ended without a [DONE] marker, so the completion was cut
	// short upstream.
	return nil, NewTransient(s.provider, "invoke_stream", ErrorServer,
		"stream ended before completion marker")
}

// summary builds the terminal usage chunk
func (s *sseStream) summary() *types.StreamChunk {
	s.summSent = true

	tokensIn := s.tokensIn
	tokensOut := s.estimator.EstimateChunkTokens(s.fragments)
	if s.usage != nil {
		tokensIn = s.usage.PromptTokens
		tokensOut = s.usage.CompletionTokens
	}

	return &types.StreamChunk{Usage: &types.StreamUsage{
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		CostUsd:   cost.Calculate(s.model, tokensIn, tokensOut),
	}}
}

// Close releases the underlying response body
func (s *sseStream) Close() error {
	return s.body.Close()
}
