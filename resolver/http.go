package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// StatusError reports an unsuccessful HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// HTTP resolves http and https URLs. Connection failures and 5xx or 429
// responses are retried with a Fibonacci backoff.
type HTTP struct {
	client     *http.Client
	maxRetries uint64
	backoff    time.Duration
}

// NewHTTP returns an HTTP resolver; a nil client means http.DefaultClient.
func NewHTTP(client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{client: client, maxRetries: 3, backoff: 200 * time.Millisecond}
}

// WithRetries sets the retry budget and the initial backoff.
func (h *HTTP) WithRetries(maxRetries uint64, backoff time.Duration) *HTTP {
	h.maxRetries = maxRetries
	h.backoff = backoff
	return h
}

// Resolve implements Resolver.
func (h *HTTP) Resolve(ctx context.Context, href, base string) (io.ReadCloser, string, error) {
	abs, err := Absolute(href, base)
	if err != nil {
		return nil, "", err
	}

	var body io.ReadCloser
	b := retry.WithMaxRetries(h.maxRetries, retry.NewFibonacci(h.backoff))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, abs, nil)
		if err != nil {
			return err
		}
		resp, err := h.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		if resp.StatusCode == http.StatusOK {
			body = resp.Body
			return nil
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		statusErr := &StatusError{URL: abs, StatusCode: resp.StatusCode}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return retry.RetryableError(statusErr)
		}
		return statusErr
	})
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return nil, "", statusErr
		}
		return nil, "", fmt.Errorf("GET %s: %w", abs, err)
	}
	return body, abs, nil
}
