// Package notify fans handoff notifications out to agent dashboards,
// visitor widgets and external systems.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/handoff/internal/metrics"
	"github.com/dennisdiepolder/monti/handoff/internal/types"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a single sink delivery
const DefaultTimeout = 10 * time.Second

// Sink delivers a notification to one destination
type Sink interface {
	Name() string
	Send(ctx context.Context, n types.Notification) error
}

// Dispatcher delivers every notification to all sinks in the background.
// Delivery failures are logged and counted, never returned to the caller.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	metrics *metrics.Metrics
	logger  zerolog.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher over sinks
func NewDispatcher(logger zerolog.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		sinks:   sinks,
		timeout: DefaultTimeout,
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// SetMetrics sets the metrics sink
func (d *Dispatcher) SetMetrics(m *metrics.Metrics) {
	d.metrics = m
}

// SetTimeout overrides the per-sink delivery timeout
func (d *Dispatcher) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		d.timeout = timeout
	}
}

// Sinks returns the names of the configured sinks
func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

// Notify starts one delivery per sink and returns immediately. The request
// context only contributes its values; cancellation is not inherited.
func (d *Dispatcher) Notify(ctx context.Context, n types.Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	base := context.WithoutCancel(ctx)

	for _, sink := range d.sinks {
		d.wg.Add(1)
		go func(s Sink) {
			defer d.wg.Done()

			sendCtx, cancel := context.WithTimeout(base, d.timeout)
			defer cancel()

			err := s.Send(sendCtx, n)
			d.metrics.RecordNotification(s.Name(), err)
			if err != nil {
				d.logger.Warn().
					Err(err).
					Str("sink", s.Name()).
					Str("type", string(n.Type)).
					Int64("session_id", n.SessionID).
					Msg("notification delivery failed")
				return
			}
			d.logger.Debug().
				Str("sink", s.Name()).
				Str("type", string(n.Type)).
				Int64("session_id", n.SessionID).
				Msg("notification delivered")
		}(sink)
	}
}

// Wait blocks until every started delivery has finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
