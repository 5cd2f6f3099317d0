package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dennisdiepolder/monti/handoff/internal/resilience"
	"github.com/dennisdiepolder/monti/handoff/internal/types"
	"github.com/sony/gobreaker"
)

// WebhookSink POSTs notifications as JSON to an external endpoint, behind a
// circuit breaker, with retries and a concurrency cap.
type WebhookSink struct {
	url      string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	bulkhead *resilience.Bulkhead
	retry    resilience.Config
}

// NewWebhookSink creates a webhook sink for url
func NewWebhookSink(url string, cfg resilience.Config) *WebhookSink {
	return &WebhookSink{
		url:      url,
		client:   &http.Client{Timeout: 5 * time.Second},
		breaker:  resilience.NewCircuitBreaker("webhook"),
		bulkhead: resilience.NewBulkhead(cfg.MaxConcurrency),
		retry:    cfg,
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

// State reports the breaker state
func (s *WebhookSink) State() gobreaker.State {
	return s.breaker.State()
}

func (s *WebhookSink) Send(ctx context.Context, n types.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if err := s.bulkhead.Acquire(ctx); err != nil {
		return err
	}
	defer s.bulkhead.Release()

	// An open breaker fails fast; retrying it would only burn the timeout
	return resilience.RetryWithBackoff(ctx, s.retry, func() error {
		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, s.post(ctx, body)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return resilience.Permanent(err)
		}
		return err
	})
}

func (s *WebhookSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return resilience.Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return resilience.Permanent(fmt.Errorf("webhook rejected notification: status %d", resp.StatusCode))
	default:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
}
