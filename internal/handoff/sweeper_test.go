package handoff

import (
	"context"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/handoff/internal/types"
	"github.com/rs/zerolog"
)

func TestSweep_EndsStaleWaitingSessions(t *testing.T) {
	settings := defaultSettings()
	settings.WaitingTimeout = 10 * time.Minute
	f := newFixture(t, settings)
	ctx := context.Background()

	f.setStatus(t, "X", types.StatusBusy)
	old, _ := f.mgr.RequestHandoff(ctx, "c", "v", "old")
	f.clock.Advance(8 * time.Minute)
	young, _ := f.mgr.RequestHandoff(ctx, "c", "v", "young")
	f.clock.Advance(3 * time.Minute)

	sweeper := NewSweeper(f.mgr, time.Second, zerolog.Nop())
	ended := sweeper.Sweep(ctx)
	if len(ended) != 1 || ended[0] != old.Session.ID {
		t.Fatalf("expected only %d ended, got %v", old.Session.ID, ended)
	}

	sess, _ := f.mgr.Session(ctx, old.Session.ID)
	if sess.Status != types.SessionEnded || sess.EndedBy != types.EndedBySystem {
		t.Errorf("unexpected swept session: %+v", sess)
	}
	sess, _ = f.mgr.Session(ctx, young.Session.ID)
	if sess.Status != types.SessionWaiting {
		t.Errorf("young session should keep waiting, got %s", sess.Status)
	}
}

func TestSweep_DisabledByDefault(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	f.setStatus(t, "X", types.StatusBusy)
	f.mgr.RequestHandoff(ctx, "c", "v", "t1")
	f.clock.Advance(240 * time.Hour)

	if ended := NewSweeper(f.mgr, time.Second, zerolog.Nop()).Sweep(ctx); len(ended) != 0 {
		t.Errorf("no timeout configured, expected nothing ended, got %v", ended)
	}
}

func TestSweeperStopsOnCancel(t *testing.T) {
	f := newFixture(t, defaultSettings())
	sweeper := NewSweeper(f.mgr, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		sweeper.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("sweeper did not stop after context cancel")
	}
}
