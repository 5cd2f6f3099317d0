// Package resilience wraps outbound calls made by the notification sinks:
// retry with exponential backoff, a circuit breaker and a concurrency bulkhead.
package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"
)

// Config holds retry and concurrency limits for one outbound target
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration // 0 means uncapped
	MaxConcurrency int
}

// DefaultConfig is used by sinks that were not given explicit limits
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 200 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	MaxConcurrency: 8,
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying (a 4xx from a webhook, a bad payload)
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// backoff returns the wait before retry number attempt (0-based), with up to 50% jitter
func (c Config) backoff(attempt int) time.Duration {
	wait := c.InitialBackoff << attempt
	if c.MaxBackoff > 0 && (wait > c.MaxBackoff || wait <= 0) {
		wait = c.MaxBackoff
	}
	if half := int64(wait / 2); half > 0 {
		wait += time.Duration(rand.Int63n(half))
	}
	return wait
}

// RetryWithBackoff runs fn until it succeeds, returns a permanent error, the
// retries are used up or ctx is done.
func RetryWithBackoff(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return lastErr
		}

		if attempt < cfg.MaxRetries {
			timer := time.NewTimer(cfg.backoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return lastErr
}

// NewCircuitBreaker returns a breaker that opens once at least five calls in a
// 30s window failed at a 60% rate, and probes again after 10s.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		// Permanent errors are the receiver's fault, not an outage
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err)
		},
	})
}

// Bulkhead limits concurrent calls against one target
type Bulkhead struct {
	sem chan struct{}
}

// NewBulkhead creates a bulkhead admitting at most maxConcurrency callers
func NewBulkhead(maxConcurrency int) *Bulkhead {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Bulkhead{sem: make(chan struct{}, maxConcurrency)}
}

// Acquire blocks until a slot is free or ctx is done
func (b *Bulkhead) Acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot
func (b *Bulkhead) Release() {
	<-b.sem
}
