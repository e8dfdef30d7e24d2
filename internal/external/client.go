// Package external is the anti-corruption layer between the bridge and the
// hosted services it consumes: the EmailJS send API, the SendBird Platform
// API, and the backend registration endpoint. All outbound HTTP goes through
// BaseClient, which applies a circuit breaker, bounded retries with backoff,
// request-id propagation, and error mapping to types.AppError.
package external

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"legalchat/internal/types"
)

// defaultUserAgent identifies the bridge on outbound calls.
const defaultUserAgent = "LegalChat-Bridge/1.0"

// RetryPolicy configures retry behavior for a BaseClient. A MaxRetries of
// zero disables retries entirely, which the email dispatch client relies on:
// a failed dispatch is surfaced, never replayed.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy returns the retry defaults for idempotent lookups
// (channel fetches, registration status checks).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    500 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}
}

// NoRetryPolicy returns a policy that performs exactly one attempt.
func NoRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: time.Millisecond}
}

// BaseClient wraps an *http.Client and a circuit breaker so every provider
// client inherits the same resilience behavior.
type BaseClient struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	retry   RetryPolicy
	agent   string
	sleepFn func(time.Duration) // injectable for tests; defaults to time.Sleep
}

// BaseClientOption is a functional option for configuring a BaseClient.
type BaseClientOption func(*BaseClient)

// WithSleepFunc overrides the sleep between retries. Intended for tests.
func WithSleepFunc(fn func(time.Duration)) BaseClientOption {
	return func(c *BaseClient) {
		c.sleepFn = fn
	}
}

// NewBaseClient creates a BaseClient named for circuit breaker telemetry.
func NewBaseClient(httpClient *http.Client, name string, retry RetryPolicy, opts ...BaseClientOption) *BaseClient {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	bc := &BaseClient{
		client:  httpClient,
		breaker: cb,
		retry:   retry,
		agent:   defaultUserAgent,
		sleepFn: time.Sleep,
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

// Do executes the request with request-id injection, circuit breaking, and
// retry on 429/5xx. Responses with any other status are returned as-is; the
// caller owns closing the body. Exhausted retries and an open breaker map to
// a types.AppError with the matching upstream code.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if id := types.GetRequestID(req.Context()); id != "" {
		req.Header.Set("X-Request-Id", id)
	}
	req.Header.Set("User-Agent", c.agent)

	// Snapshot the body so it can be replayed on retries.
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
				"failed to buffer request body", err)
		}
		req.Body.Close()
	}

	var lastResp *http.Response
	var lastErr error

	attempts := 1 + c.retry.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			// 429 and 5xx count as failures for the breaker.
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if resp != nil {
			if attempt < attempts-1 {
				resp.Body.Close()
			} else {
				lastResp = resp
			}
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		// Non-retryable statuses were returned above, so only 429/5xx and
		// transport failures reach this point.
		if attempt < attempts-1 {
			c.sleepFn(c.backoff(attempt, resp))
		}
	}

	if lastResp != nil {
		lastResp.Body.Close()
	}
	return nil, c.mapError(lastResp, lastErr)
}

// backoff computes the wait before the next attempt: the Retry-After header
// when present, else exponential backoff with jitter in [MinWait, MaxWait].
func (c *BaseClient) backoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				return min(time.Duration(secs)*time.Second, c.retry.MaxWait)
			}
		}
	}

	base := float64(c.retry.MinWait) * math.Pow(2, float64(attempt))
	base = math.Min(base, float64(c.retry.MaxWait))
	lo := float64(c.retry.MinWait)
	if base <= lo {
		return c.retry.MinWait
	}
	return time.Duration(lo + rand.Float64()*(base-lo))
}

// mapError translates a terminal HTTP failure into a types.AppError.
func (c *BaseClient) mapError(resp *http.Response, err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			"circuit breaker is open; upstream unavailable", err)
	}
	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return types.NewAppErrorWithDetails(types.ErrCodeUpstreamRateLimited,
				"upstream rate limit exceeded", err,
				map[string]any{"status": resp.StatusCode})
		case resp.StatusCode >= 500:
			return types.NewAppErrorWithDetails(types.ErrCodeUpstreamUnavailable,
				fmt.Sprintf("upstream returned %d after retries", resp.StatusCode), err,
				map[string]any{"status": resp.StatusCode})
		}
	}
	return types.NewAppError(types.ErrCodeUpstreamUnavailable,
		"upstream request failed", err)
}
