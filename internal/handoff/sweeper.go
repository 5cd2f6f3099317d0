package handoff

import (
	"context"
	"time"

	"github.com/dennisdiepolder/monti/handoff/internal/types"
	"github.com/rs/zerolog"
)

// Sweeper periodically ends waiting sessions older than the waiting timeout
// and drops expired presence rows.
type Sweeper struct {
	mgr      *Manager
	interval time.Duration
	logger   zerolog.Logger
}

// NewSweeper creates a new Sweeper
func NewSweeper(mgr *Manager, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		mgr:      mgr,
		interval: interval,
		logger:   logger.With().Str("component", "sweeper").Logger(),
	}
}

// Start runs sweeps until the context is cancelled
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().
		Dur("interval", s.interval).
		Dur("waiting_timeout", s.mgr.settings.WaitingTimeout).
		Msg("sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs a single pass and returns the ids of sessions it ended
func (s *Sweeper) Sweep(ctx context.Context) []int64 {
	if pruned := s.mgr.presence.Prune(); pruned > 0 {
		s.logger.Debug().Int("pruned", pruned).Msg("expired presence removed")
	}

	timeout := s.mgr.settings.WaitingTimeout
	if timeout <= 0 {
		return nil
	}

	waiting, err := s.mgr.store.ListWaiting(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list waiting sessions")
		return nil
	}

	cutoff := s.mgr.now().Add(-timeout)
	var ended []int64
	for _, sess := range waiting {
		// FIFO order: everything after the first young session is younger
		if !sess.StartedAt.Before(cutoff) {
			break
		}
		if _, err := s.mgr.EndSession(ctx, sess.ID, types.EndedBySystem); err != nil {
			s.logger.Error().Err(err).Int64("session_id", sess.ID).Msg("failed to end stale waiting session")
			continue
		}
		ended = append(ended, sess.ID)
	}

	if len(ended) > 0 {
		s.logger.Info().Int("ended", len(ended)).Dur("timeout", timeout).Msg("waiting sessions timed out")
	}
	return ended
}
