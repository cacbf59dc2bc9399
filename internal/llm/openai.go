package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jberon/kiln/internal/logging"
	"github.com/jberon/kiln/internal/models"
)

// OpenAIClient executes prompts over the OpenAI-compatible
// /v1/chat/completions endpoint. Local servers (vLLM, llama.cpp,
// LM Studio) speak this shape too; the API key is optional for them.
type OpenAIClient struct {
	cfg    Config
	apiKey string
	client *http.Client
	logger zerolog.Logger
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates an OpenAI-compatible executor client. An
// empty apiKey sends no Authorization header.
func NewOpenAIClient(cfg Config, apiKey string) *OpenAIClient {
	def := DefaultConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}

	return &OpenAIClient{
		cfg:    cfg,
		apiKey: apiKey,
		client: &http.Client{},
		logger: logging.Component("llm"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// Execute sends one prompt as a single user message and returns the
// first choice. Attempts are bounded by the configured retry policy.
func (c *OpenAIClient) Execute(ctx context.Context, slot models.ModelSlot, prompt string) (Response, error) {
	if err := validateRequest(slot, prompt); err != nil {
		return Response{}, err
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model:    slot.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Debug().
		Str("model", slot.Model).
		Str("endpoint", slot.Endpoint).
		Int("prompt_len", len(prompt)).
		Msg("executing prompt")

	return runWithRetry(ctx, c.cfg, c.logger, func(ctx context.Context) (Response, error) {
		return c.complete(ctx, slot, body)
	})
}

func (c *OpenAIClient) complete(ctx context.Context, slot models.ModelSlot, body []byte) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	url := strings.TrimRight(slot.Endpoint, "/") + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Response{}, retryable(fmt.Errorf("complete on %s: %w", slot.Endpoint, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Response{}, statusError(resp)
	}

	var data chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if len(data.Choices) == 0 {
		return Response{}, fmt.Errorf("empty completion from %s", slot.Model)
	}

	return Response{
		Text:     data.Choices[0].Message.Content,
		Tokens:   data.Usage.CompletionTokens,
		Duration: time.Since(start),
	}, nil
}
