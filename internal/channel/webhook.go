package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// HTTPWebhookCaller posts payloads over net/http behind a circuit breaker,
// so a dead endpoint cannot stall every rule that references it.
type HTTPWebhookCaller struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[int]
	log     *slog.Logger
}

// NewHTTPWebhookCaller creates a webhook caller with the given per-request
// timeout.
func NewHTTPWebhookCaller(timeout time.Duration, log *slog.Logger) *HTTPWebhookCaller {
	settings := gobreaker.Settings{
		Name:    "webhook",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &HTTPWebhookCaller{
		client:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[int](settings),
		log:     log.With("component", "webhook"),
	}
}

// Post delivers the payload as JSON. Any transport failure or non-2xx status
// is a WebhookError; the returned status code is zero when no response was
// received.
func (c *HTTPWebhookCaller) Post(ctx context.Context, url string, payload any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, &WebhookError{URL: url, Err: err}
	}

	return c.breaker.Execute(func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return 0, &WebhookError{URL: url, Err: err}
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return 0, &WebhookError{URL: url, Err: err}
		}
		defer resp.Body.Close()
		// Only the status code matters for success classification.
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			c.log.Warn("webhook delivery rejected", "url", url, "status", resp.StatusCode)
			return resp.StatusCode, &WebhookError{URL: url, StatusCode: resp.StatusCode}
		}
		return resp.StatusCode, nil
	})
}
