// Package llm is the executor seam: it sends a prompt to the endpoint
// behind a model slot and returns the raw completion. The pool and
// pipeline never speak HTTP themselves; they go through a Client.
package llm

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/jberon/kiln/internal/models"
)

// Client errors.
var (
	ErrEmptyPrompt = errors.New("empty prompt")
)

// Response is one completed generation.
type Response struct {
	// Text is the raw model output, fences and all.
	Text string

	// Tokens is the completion token count as reported by the server.
	// Zero when the server does not report one.
	Tokens int64

	// Duration is the server-reported generation time, falling back to
	// wall clock when the server reports none.
	Duration time.Duration
}

// Client executes a prompt against the endpoint behind a slot.
type Client interface {
	Execute(ctx context.Context, slot models.ModelSlot, prompt string) (Response, error)
}

// Config holds executor client settings shared by all implementations.
type Config struct {
	// RequestTimeout bounds a single request attempt.
	// Default: 120 seconds.
	RequestTimeout time.Duration

	// MaxAttempts is how many times a request is tried before giving
	// up. Transport failures, 5xx and 429 responses are retried; other
	// statuses and model-side errors are not.
	// Default: 3.
	MaxAttempts int

	// RetryDelay is the pause between attempts.
	// Default: 2 seconds.
	RetryDelay time.Duration
}

// DefaultConfig returns the default executor client configuration.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 120 * time.Second,
		MaxAttempts:    3,
		RetryDelay:     2 * time.Second,
	}
}

// retryableError marks a failure the retry loop may try again.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func retryable(err error) error { return &retryableError{err: err} }

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// runWithRetry drives do until it succeeds, exhausts cfg.MaxAttempts,
// or hits a non-retryable failure.
func runWithRetry(ctx context.Context, cfg Config, logger zerolog.Logger, do func(context.Context) (Response, error)) (Response, error) {
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			logger.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Msg("retrying request")
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(cfg.RetryDelay):
			}
		}

		resp, err := do(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) || ctx.Err() != nil {
			break
		}
	}
	return Response{}, lastErr
}

// validateRequest checks the slot and prompt before any attempt.
func validateRequest(slot models.ModelSlot, prompt string) error {
	if prompt == "" {
		return ErrEmptyPrompt
	}
	if slot.Model == "" {
		return models.ErrInvalidModelName
	}
	if slot.Endpoint == "" {
		return models.ErrInvalidEndpoint
	}
	return nil
}
