// Package prizepool provides a client for the USDC prize-pool relay, the
// service that reads the pool contract balance and submits prize
// distribution transactions on our behalf.
//
// # Usage
//
//	client := prizepool.NewClient(prizepool.Config{
//	    BaseURL: "https://relay.example.com",
//	    Token:   token,
//	})
//
//	pool, err := client.Balance(ctx)
package prizepool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// Config holds configuration for the relay client.
type Config struct {
	// BaseURL is the relay root, e.g. "https://relay.example.com".
	BaseURL string

	// Token is sent as a bearer token on every request.
	Token string

	// MaxRetries is the maximum number of retry attempts for retryable errors.
	// Defaults to 3 if zero.
	MaxRetries int

	// BaseRetryDelay is the initial delay before the first retry.
	// Defaults to 1 second if zero.
	BaseRetryDelay time.Duration

	// MaxRetryDelay caps the exponential backoff delay.
	// Defaults to 10 seconds if zero.
	MaxRetryDelay time.Duration

	// HTTPClient allows injecting a custom HTTP client (useful for testing).
	// Defaults to a client with 30s timeout.
	HTTPClient *http.Client
}

// Client talks to the prize-pool relay.
type Client struct {
	config Config
	http   *http.Client
	mu     sync.RWMutex
}

// NewClient creates a relay client with the given configuration.
func NewClient(cfg Config) *Client {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseRetryDelay == 0 {
		cfg.BaseRetryDelay = time.Second
	}
	if cfg.MaxRetryDelay == 0 {
		cfg.MaxRetryDelay = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{config: cfg, http: httpClient}
}

// SetToken replaces the bearer token (thread-safe).
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.Token = token
}

// Token returns the current bearer token (thread-safe).
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.Token
}

// Balance reads the current prize pool.
func (c *Client) Balance(ctx context.Context) (*Pool, error) {
	var pool Pool
	if err := c.doWithRetry(ctx, http.MethodGet, "v1/pool", nil, "", &pool); err != nil {
		return nil, err
	}
	return &pool, nil
}

// Distribute asks the relay to pay recipients for a period. The period id is
// sent as the idempotency key so a retried request cannot pay twice.
func (c *Client) Distribute(ctx context.Context, req DistributeRequest) (*Receipt, error) {
	if len(req.Recipients) == 0 {
		return nil, fmt.Errorf("prizepool: no recipients")
	}
	var receipt Receipt
	if err := c.doWithRetry(ctx, http.MethodPost, "v1/distribute", req, req.PeriodID, &receipt); err != nil {
		return nil, err
	}
	if receipt.TxHash == "" {
		return nil, fmt.Errorf("prizepool: relay returned no transaction hash")
	}
	return &receipt, nil
}

// doRequest sends a single request to the relay and decodes the response into out.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, idemKey string, out any) error {
	url := strings.TrimRight(c.config.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/")

	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("prizepool: marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("prizepool: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &AuthError{StatusCode: resp.StatusCode, Message: "relay token rejected"}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var env errorEnvelope
		if json.Unmarshal(respBody, &env) == nil && env.Error != nil {
			env.Error.StatusCode = resp.StatusCode
			return env.Error
		}
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("prizepool: invalid response JSON: %w", err)
	}
	return nil
}

// doWithRetry retries transport failures, 429s, 5xx responses and transient
// relay errors with capped exponential backoff.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body any, idemKey string, out any) error {
	b := retry.NewExponential(c.config.BaseRetryDelay)
	b = retry.WithCappedDuration(c.config.MaxRetryDelay, b)
	b = retry.WithMaxRetries(uint64(c.config.MaxRetries), b)

	attempts := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		err := c.doRequest(ctx, method, path, body, idemKey, out)
		if err != nil && IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && IsRetryable(err) && attempts > c.config.MaxRetries {
		return fmt.Errorf("prizepool: max retries exceeded: %w", err)
	}
	return err
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	var (
		httpErr  *HTTPError
		relayErr *RelayError
		tErr     *TransportError
	)
	switch {
	case errors.As(err, &httpErr):
		return httpErr.IsRetryable()
	case errors.As(err, &relayErr):
		return relayErr.IsRetryable()
	case errors.As(err, &tErr):
		return true
	}
	return false
}
