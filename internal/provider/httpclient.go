package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultMaxRetries  = 3
	defaultRetryBase   = 500 * time.Millisecond
	defaultRequestsSec = 2.0
)

// httpClient wraps http.Client with rate limiting and bounded retries.
type httpClient struct {
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
	logger     *slog.Logger
}

func newHTTPClient(requestsPerSec float64, logger *slog.Logger) *httpClient {
	if requestsPerSec <= 0 {
		requestsPerSec = defaultRequestsSec
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &httpClient{
		client:     &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSec), 1),
		maxRetries: defaultMaxRetries,
		logger:     logger,
	}
}

// get fetches a URL, retrying on 429 and 5xx responses and transport
// errors. The response body is fully read and returned.
func (c *httpClient) get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultRetryBase << (attempt - 1)
			c.logger.Debug("retrying request", "url", url, "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, retryable, err := c.doOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}

	return nil, fmt.Errorf("request failed after %d retries: %w", c.maxRetries, lastErr)
}

func (c *httpClient) doOnce(ctx context.Context, url string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", "marketpipe/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("server returned %s", resp.Status)
	default:
		return nil, false, fmt.Errorf("server returned %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}
	return data, false, nil
}
