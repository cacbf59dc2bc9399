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

// OllamaClient executes prompts over the Ollama-native /api/generate
// endpoint, non-streaming.
type OllamaClient struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger
}

var _ Client = (*OllamaClient)(nil)

// NewOllamaClient creates an Ollama executor client.
func NewOllamaClient(cfg Config) *OllamaClient {
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

	return &OllamaClient{
		cfg:    cfg,
		client: &http.Client{},
		logger: logging.Component("llm"),
	}
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response      string `json:"response"`
	Done          bool   `json:"done"`
	EvalCount     int64  `json:"eval_count"`
	TotalDuration int64  `json:"total_duration"`
	Error         string `json:"error"`
}

// Execute sends one prompt to the slot's endpoint and returns the
// completion. Attempts are bounded by the configured retry policy.
func (c *OllamaClient) Execute(ctx context.Context, slot models.ModelSlot, prompt string) (Response, error) {
	if err := validateRequest(slot, prompt); err != nil {
		return Response{}, err
	}

	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  slot.Model,
		Prompt: prompt,
		Stream: false,
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
		return c.generate(ctx, slot, body)
	})
}

func (c *OllamaClient) generate(ctx context.Context, slot models.ModelSlot, body []byte) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	url := strings.TrimRight(slot.Endpoint, "/") + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Response{}, retryable(fmt.Errorf("generate on %s: %w", slot.Endpoint, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Response{}, statusError(resp)
	}

	var data ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if data.Error != "" {
		return Response{}, fmt.Errorf("model error: %s", data.Error)
	}

	elapsed := time.Since(start)
	if data.TotalDuration > 0 {
		elapsed = time.Duration(data.TotalDuration)
	}
	return Response{
		Text:     data.Response,
		Tokens:   data.EvalCount,
		Duration: elapsed,
	}, nil
}

// statusError turns a non-200 response into an error, lifting the
// server's own message when the body carries one. 5xx and 429 are
// retryable; anything else will not fix itself.
func statusError(resp *http.Response) error {
	msg := resp.Status
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
		msg = fmt.Sprintf("%s: %s", resp.Status, apiErr.Error)
	}

	err := fmt.Errorf("unexpected status: %s", msg)
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return retryable(err)
	}
	return err
}
