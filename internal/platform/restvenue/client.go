// Package restvenue is a venue adapter for exchanges exposing an
// HMAC-signed JSON REST API.
package restvenue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/arbengine/internal/crypto"
	"github.com/alanyoungcy/arbengine/internal/domain"
)

// Defaults applied by New.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxRetries   = 2
	DefaultRetryBackoff = 250 * time.Millisecond
	DefaultRPS          = 5

	// maxResponseBytes caps how much of a venue response is read.
	maxResponseBytes = 4 << 20
)

var errResponseTooLarge = fmt.Errorf("response exceeds %d bytes", maxResponseBytes)

// APIError is a non-2xx response. It unwraps to the matching domain
// sentinel so callers can use errors.Is.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("restvenue: HTTP %d: %s (%s)", e.Status, e.Message, e.Code)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound:
		return domain.ErrNotFound
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return domain.ErrUnauthorized
	case e.Status == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case e.Code == "insufficient_funds":
		return domain.ErrInsufficientBalance
	case e.Status == http.StatusBadRequest || e.Status == http.StatusUnprocessableEntity:
		return domain.ErrInvalidOrder
	}
	return nil
}

func (e *APIError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// client does the HTTP work for a Venue: signing, rate limiting and
// retrying idempotent reads.
type client struct {
	name       string
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
	limiter    *rate.Limiter

	shared       domain.RateLimiter
	sharedLimit  int
	sharedWindow time.Duration

	maxRetries   int
	retryBackoff time.Duration
	logger       *slog.Logger
}

// do sends a signed request and decodes a JSON response into out (if non-nil).
// GET requests are retried on transport errors, 429 and 5xx; anything that
// could change state is sent exactly once.
func (c *client) do(ctx context.Context, method, path string, reqBody, out any) error {
	var body []byte
	if reqBody != nil {
		var err error
		if body, err = json.Marshal(reqBody); err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	attempts := 1
	if method == http.MethodGet {
		attempts += c.maxRetries
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			backoff := c.retryBackoff * time.Duration(1<<(i-1))
			c.logger.WarnContext(ctx, "retrying venue request",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("attempt", i+1),
				slog.Duration("backoff", backoff),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		respBody, err := c.send(ctx, method, path, body)
		if err == nil {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.retryable() {
			return err
		}
		if errors.Is(err, errResponseTooLarge) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return lastErr
}

func (c *client) send(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		for k, v := range c.auth.Headers(method, path, string(body)) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(respBody) > maxResponseBytes {
		return nil, fmt.Errorf("read response: %w", errResponseTooLarge)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr errorResponse
		_ = json.Unmarshal(respBody, &apiErr)
		return nil, &APIError{Status: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Message}
	}
	return respBody, nil
}

// wait blocks on the in-process limiter and, when configured, the shared
// limiter used by every process trading on the same account.
func (c *client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	if c.shared != nil {
		if err := c.shared.Wait(ctx, "venue:"+c.name, c.sharedLimit, c.sharedWindow); err != nil {
			return fmt.Errorf("shared rate limiter: %w", err)
		}
	}
	return nil
}
