package aggregator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/handoff/internal/alerts"
	"github.com/dennisdiepolder/monti/handoff/internal/metrics"
	"github.com/dennisdiepolder/monti/handoff/internal/types"
	"github.com/dennisdiepolder/monti/handoff/internal/websocket"
	"github.com/rs/zerolog"
)

// DefaultInterval is the overview broadcast period
const DefaultInterval = 2 * time.Second

// SnapshotSource produces the current queue overview
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*types.QueueSnapshot, error)
}

// Publisher is the part of the websocket hub the aggregator needs
type Publisher interface {
	Publish(topic string, data []byte) bool
	Subscribers(topic string) int
}

// Aggregator periodically builds the supervisor overview, evaluates alert
// rules on it and pushes it to dashboard subscribers.
type Aggregator struct {
	source   SnapshotSource
	hub      Publisher
	rules    alerts.Rules
	interval time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   zerolog.Logger

	mu     sync.RWMutex
	latest *types.QueueSnapshot
}

// NewAggregator creates a new aggregator
func NewAggregator(source SnapshotSource, hub Publisher, rules alerts.Rules, interval time.Duration, logger zerolog.Logger) *Aggregator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Aggregator{
		source:   source,
		hub:      hub,
		rules:    rules,
		interval: interval,
		now:      time.Now,
		logger:   logger.With().Str("component", "aggregator").Logger(),
	}
}

// SetMetrics sets the metrics sink
func (a *Aggregator) SetMetrics(m *metrics.Metrics) {
	a.metrics = m
}

// Start broadcasts the overview every interval until ctx is done
func (a *Aggregator) Start(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info().Dur("interval", a.interval).Msg("aggregator started")

	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("aggregator stopped")
			return
		case <-ticker.C:
			if _, err := a.Cycle(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error().Err(err).Msg("aggregation cycle failed")
			}
		}
	}
}

// Cycle builds one overview, stores it as the latest and pushes it when
// anyone is watching.
func (a *Aggregator) Cycle(ctx context.Context) (*types.QueueSnapshot, error) {
	start := time.Now()

	snap, err := a.source.Snapshot(ctx)
	if err != nil {
		a.metrics.RecordAggregationError()
		return nil, err
	}
	alerts.CheckQueueAlerts(snap, a.rules, a.now())

	a.mu.Lock()
	a.latest = snap
	a.mu.Unlock()

	if a.hub.Subscribers(websocket.DashboardTopic) > 0 {
		data, err := json.Marshal(snap)
		if err != nil {
			a.metrics.RecordAggregationError()
			return nil, err
		}
		a.hub.Publish(websocket.DashboardTopic, data)
	}

	a.metrics.RecordAggregationCycle(time.Since(start))
	a.logger.Debug().
		Int("waiting", snap.WaitingCount).
		Int("active", snap.ActiveCount).
		Int("online_agents", len(snap.OnlineAgents)).
		Int("alerts", len(snap.Alerts)).
		Msg("overview broadcasted")
	return snap, nil
}

// Latest returns the most recent overview, nil before the first cycle
func (a *Aggregator) Latest() *types.QueueSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest
}
