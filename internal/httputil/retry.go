package httputil

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/terrain-fusion/internal/domain"
	"github.com/couchcryptid/terrain-fusion/internal/observability"
)

// RetryPolicy controls how request failures are retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// BaseWait is doubled for each attempt: the wait after attempt n is
	// BaseWait * 2^n, capped at MaxWait.
	BaseWait time.Duration
	MaxWait  time.Duration
	// RateLimitWait replaces the exponential wait after an HTTP 429.
	RateLimitWait time.Duration
}

// DefaultRetryPolicy returns the policy shared by all provider clients.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		BaseWait:      time.Second,
		MaxWait:       30 * time.Second,
		RateLimitWait: 10 * time.Second,
	}
}

// Backoff returns the wait before the retry that follows the given 1-based
// attempt number.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	wait := p.BaseWait
	for n := 0; n < attempt; n++ {
		wait *= 2
		if wait >= p.MaxWait {
			return p.MaxWait
		}
	}
	return wait
}

// Sleep waits for d through the shared clock. Returns false when ctx ends
// before the wait elapses.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	select {
	case <-ctx.Done():
		return false
	case <-domain.Clock().After(d):
		return true
	}
}

// Client wraps an HTTPClient with the shared retry policy. Transport errors
// and HTTP 429/5xx responses are retried; 401 and 403 fail immediately as
// credential errors. Any other response is returned to the caller for
// interpretation, with its body open.
type Client struct {
	client   HTTPClient
	policy   RetryPolicy
	provider string
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewClient creates a retrying client. The provider name labels retry metrics
// and classified errors.
func NewClient(client HTTPClient, policy RetryPolicy, provider string, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		client:   client,
		policy:   policy,
		provider: provider,
		logger:   logger,
		metrics:  metrics,
	}
}

// Do builds and issues the request once per attempt. The build function runs
// again for each retry so request bodies are never reused.
func (c *Client) Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	op := c.provider + ".request"

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, domain.Classify(domain.KindNetworkTransient, op, err)
		}

		req, err := build(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := c.client.Do(req)
		if err == nil {
			switch {
			case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
				drainBody(resp)
				return nil, domain.Classifyf(domain.KindAuthInvalid, op, "status %d", resp.StatusCode)
			case resp.StatusCode == http.StatusTooManyRequests:
				drainBody(resp)
				lastErr = domain.Classifyf(domain.KindRateLimited, op, "status 429")
			case resp.StatusCode >= 500:
				drainBody(resp)
				lastErr = domain.Classifyf(domain.KindNetworkTransient, op, "status %d", resp.StatusCode)
			default:
				return resp, nil
			}
		} else {
			if ctx.Err() != nil {
				return nil, domain.Classify(domain.KindNetworkTransient, op, err)
			}
			lastErr = domain.Classify(domain.KindNetworkTransient, op, err)
		}

		if attempt >= c.policy.MaxAttempts {
			return nil, lastErr
		}

		wait := c.policy.Backoff(attempt)
		if domain.IsKind(lastErr, domain.KindRateLimited) {
			wait = c.policy.RateLimitWait
		}

		c.metrics.HTTPRetries.WithLabelValues(c.provider).Inc()
		c.logger.Warn("request failed, retrying",
			"provider", c.provider, "attempt", attempt, "wait", wait, "error", lastErr)

		if !Sleep(ctx, wait) {
			return nil, lastErr
		}
	}
}

// drainBody reads a little of the body before closing so the underlying
// connection can be reused.
func drainBody(resp *http.Response) {
	io.CopyN(io.Discard, resp.Body, 4096) //nolint:errcheck // best-effort drain
	resp.Body.Close()
}
