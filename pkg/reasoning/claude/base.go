// Package claude is an Anthropic-backed reasoning.Engine, hand-rolled
// against the raw Messages API rather than an SDK — the same in-house
// pattern the reference framework's ai/providers package uses for every
// model vendor it supports.
package claude

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ormind-ai/ormind/core"
)

// baseClient carries the HTTP plumbing common to every Anthropic call:
// timeout, logging, and a small bounded retry loop. Adapted from the
// reference framework's providers.BaseClient.
type baseClient struct {
	httpClient *http.Client
	logger     core.Logger
	maxRetries int
	retryDelay time.Duration
	apiKey     string
	baseURL    string
}

const defaultBaseURL = "https://api.anthropic.com/v1"
const apiVersion = "2023-06-01"

func newBaseClient(apiKey, baseURL string, logger core.Logger) *baseClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &baseClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		maxRetries: 3,
		retryDelay: time.Second,
		apiKey:     apiKey,
		baseURL:    baseURL,
	}
}

// executeWithRetry mirrors the reference framework's exponential-backoff
// retry loop: 4xx (except 429) returns immediately, everything else is
// retried up to maxRetries times with a doubling delay.
func (b *baseClient) executeWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		clone := req.Clone(ctx)
		resp, err := b.httpClient.Do(clone)

		if err == nil && resp.StatusCode < 400 {
			return resp, nil
		}
		if err == nil && resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("anthropic: server error status %d", resp.StatusCode)
			resp.Body.Close()
		}

		if attempt < b.maxRetries {
			shift := attempt
			if shift > 31 {
				shift = 31
			}
			delay := b.retryDelay * time.Duration(1<<uint(shift))
			b.logger.Debug("retrying anthropic request", map[string]interface{}{
				"attempt": attempt + 1, "max_retries": b.maxRetries, "delay": delay,
			})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("anthropic: request failed after %d retries: %w", b.maxRetries, lastErr)
}

func (b *baseClient) handleError(statusCode int, body []byte) error {
	switch statusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("anthropic: invalid or missing API key")
	case http.StatusTooManyRequests:
		return fmt.Errorf("anthropic: rate limit exceeded")
	case http.StatusBadRequest:
		return fmt.Errorf("anthropic: invalid request - %s", string(body))
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return fmt.Errorf("anthropic: service temporarily unavailable (status %d)", statusCode)
	default:
		return fmt.Errorf("anthropic: API error (status %d): %s", statusCode, string(body))
	}
}
