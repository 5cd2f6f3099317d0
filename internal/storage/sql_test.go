package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/handoff/internal/types"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*SQLStore, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	store, err := OpenSQL(context.Background(), SQLConfig{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "handoff.db"),
	}, WithStoreClock(clock.Now))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, clock
}

func mustCreate(t *testing.T, s *SQLStore, token string) *types.LiveSession {
	t.Helper()
	sess, _, err := s.CreateOrReuse(context.Background(), "conv-"+token, "visitor-"+token, token)
	if err != nil {
		t.Fatalf("create %s: %v", token, err)
	}
	return sess
}

func TestCreateOrReuse_Idempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first, created, err := s.CreateOrReuse(ctx, "c1", "v1", "t1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created || first.Status != types.SessionWaiting || first.AgentID != "" {
		t.Fatalf("unexpected new session: %+v created=%v", first, created)
	}

	second, created, err := s.CreateOrReuse(ctx, "c1", "v1", "t1")
	if err != nil {
		t.Fatalf("reuse: %v", err)
	}
	if created || second.ID != first.ID {
		t.Errorf("expected reuse of %d, got %d (created=%v)", first.ID, second.ID, created)
	}

	// Ended sessions are never reused
	if _, _, err := s.End(ctx, first.ID, types.EndedByUser); err != nil {
		t.Fatalf("end: %v", err)
	}
	third, created, err := s.CreateOrReuse(ctx, "c1", "v1", "t1")
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if !created || third.ID == first.ID {
		t.Errorf("expected fresh session after end, got %d", third.ID)
	}
}

func TestCreateOrReuse_Concurrent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	const workers = 16
	ids := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, _, err := s.CreateOrReuse(ctx, "c", "v", "same-token")
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			ids[i] = sess.ID
		}(i)
	}
	wg.Wait()

	for i, id := range ids {
		if id != ids[0] {
			t.Errorf("worker %d got session %d, want %d", i, id, ids[0])
		}
	}
	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[types.SessionWaiting] != 1 {
		t.Errorf("expected exactly one open session, got %d", counts[types.SessionWaiting])
	}
}

func TestAssign(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	sess := mustCreate(t, s, "t1")
	clock.Advance(42 * time.Second)

	ok, err := s.Assign(ctx, sess.ID, "agent-1")
	if err != nil || !ok {
		t.Fatalf("assign: ok=%v err=%v", ok, err)
	}

	got, _ := s.Get(ctx, sess.ID)
	if got.Status != types.SessionActive || got.AgentID != "agent-1" || got.HandledBy != "agent-1" {
		t.Errorf("unexpected session after assign: %+v", got)
	}
	if got.AcceptedAt == nil || got.WaitTime(clock.Now()) != 42*time.Second {
		t.Errorf("expected 42s wait, got %v", got.AcceptedAt)
	}

	// Not waiting anymore
	ok, err = s.Assign(ctx, sess.ID, "agent-2")
	if err != nil || ok {
		t.Errorf("expected second assign to be refused, ok=%v err=%v", ok, err)
	}
}

func TestAppendMessage_Rejections(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	sess := mustCreate(t, s, "t1")

	_, err := s.AppendMessage(ctx, sess.ID, types.SenderUser, "v", "hi")
	if !errors.Is(err, ErrSessionNotActive) {
		t.Errorf("waiting session: expected ErrSessionNotActive, got %v", err)
	}

	_, err = s.AppendMessage(ctx, 9999, types.SenderUser, "v", "hi")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("missing session: expected ErrSessionNotFound, got %v", err)
	}

	s.Assign(ctx, sess.ID, "a")
	if _, err := s.AppendMessage(ctx, sess.ID, types.SenderUser, "v", "hi"); err != nil {
		t.Fatalf("active session: %v", err)
	}

	s.End(ctx, sess.ID, types.EndedByAgent)
	_, err = s.AppendMessage(ctx, sess.ID, types.SenderAgent, "a", "bye")
	if !errors.Is(err, ErrSessionNotActive) {
		t.Errorf("ended session: expected ErrSessionNotActive, got %v", err)
	}
}

func TestMessagesSince(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a := mustCreate(t, s, "a")
	b := mustCreate(t, s, "b")
	s.Assign(ctx, a.ID, "x")
	s.Assign(ctx, b.ID, "y")

	var aIDs []int64
	for i := 1; i <= 3; i++ {
		id, err := s.AppendMessage(ctx, a.ID, types.SenderUser, "v", fmt.Sprintf("m%d", i))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		aIDs = append(aIDs, id)
	}
	other, _ := s.AppendMessage(ctx, b.ID, types.SenderUser, "v", "elsewhere")
	last, _ := s.AppendMessage(ctx, a.ID, types.SenderAgent, "x", "m5")
	aIDs = append(aIDs, last)

	want := []int64{1, 2, 3, 5}
	for i := range want {
		if aIDs[i] != want[i] {
			t.Fatalf("expected ids %v, got %v", want, aIDs)
		}
	}
	if other != 4 {
		t.Fatalf("expected other session message id 4, got %d", other)
	}

	msgs, err := s.MessagesSince(ctx, a.ID, 2)
	if err != nil {
		t.Fatalf("messages since: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != 3 || msgs[1].ID != 5 {
		t.Fatalf("expected [3 5], got %+v", msgs)
	}
	if msgs[1].SenderType != types.SenderAgent || msgs[1].Text != "m5" {
		t.Errorf("unexpected message: %+v", msgs[1])
	}

	all, _ := s.MessagesSince(ctx, a.ID, 0)
	if len(all) != 4 {
		t.Errorf("expected 4 messages from cursor 0, got %d", len(all))
	}
	none, _ := s.MessagesSince(ctx, a.ID, 5)
	if none == nil || len(none) != 0 {
		t.Errorf("expected empty non-nil slice past the last id, got %v", none)
	}

	if n, _ := s.MessageCount(ctx, a.ID); n != 4 {
		t.Errorf("expected message count 4, got %d", n)
	}
}

func TestEnd_Terminal(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	sess := mustCreate(t, s, "t1")
	s.Assign(ctx, sess.ID, "agent-1")

	ended, changed, err := s.End(ctx, sess.ID, types.EndedByAgent)
	if err != nil || !changed {
		t.Fatalf("end: changed=%v err=%v", changed, err)
	}
	if ended.Status != types.SessionEnded || ended.AgentID != "" || ended.HandledBy != "agent-1" {
		t.Errorf("unexpected ended session: %+v", ended)
	}
	firstEnd := *ended.EndedAt

	clock.Advance(time.Minute)
	again, changed, err := s.End(ctx, sess.ID, types.EndedByUser)
	if err != nil {
		t.Fatalf("second end should not error: %v", err)
	}
	if changed {
		t.Error("second end should report no change")
	}
	if !again.EndedAt.Equal(firstEnd) || again.EndedBy != types.EndedByAgent {
		t.Errorf("second end mutated the session: %+v", again)
	}

	if _, _, err := s.End(ctx, 12345, types.EndedBySystem); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestQueueFIFO(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// Burn ids 1..9
	for i := 1; i <= 9; i++ {
		sess := mustCreate(t, s, fmt.Sprintf("old-%d", i))
		s.End(ctx, sess.ID, types.EndedBySystem)
	}

	s10 := mustCreate(t, s, "t10")
	s11 := mustCreate(t, s, "t11")
	s12 := mustCreate(t, s, "t12")
	if s10.ID != 10 || s11.ID != 11 || s12.ID != 12 {
		t.Fatalf("expected ids 10,11,12 got %d,%d,%d", s10.ID, s11.ID, s12.ID)
	}

	pos, err := s.QueuePosition(ctx, 11)
	if err != nil || pos != 2 {
		t.Fatalf("expected position 2, got %d (err=%v)", pos, err)
	}

	oldest, err := s.OldestWaiting(ctx)
	if err != nil || oldest == nil || oldest.ID != 10 {
		t.Fatalf("expected oldest waiting 10, got %+v (err=%v)", oldest, err)
	}

	s.Assign(ctx, 10, "a")
	if pos, _ := s.QueuePosition(ctx, 12); pos != 2 {
		t.Errorf("expected position 2 after head was assigned, got %d", pos)
	}

	waiting, _ := s.ListWaiting(ctx)
	if len(waiting) != 2 || waiting[0].ID != 11 {
		t.Errorf("unexpected waiting list: %+v", waiting)
	}
}

func TestOldestWaiting_Empty(t *testing.T) {
	s, _ := newTestStore(t)

	sess, err := s.OldestWaiting(context.Background())
	if err != nil || sess != nil {
		t.Errorf("expected no waiting session, got %+v (err=%v)", sess, err)
	}
}

func TestActiveCountsAndLookups(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i, agent := range []string{"a", "a", "b"} {
		sess := mustCreate(t, s, fmt.Sprintf("t%d", i))
		s.Assign(ctx, sess.ID, agent)
	}
	mustCreate(t, s, "waiting")

	counts, err := s.ActiveCounts(ctx)
	if err != nil {
		t.Fatalf("active counts: %v", err)
	}
	if counts["a"] != 2 || counts["b"] != 1 || len(counts) != 2 {
		t.Errorf("unexpected counts: %v", counts)
	}

	active, _ := s.ListActiveByAgent(ctx, "a")
	if len(active) != 2 {
		t.Errorf("expected 2 active sessions for a, got %d", len(active))
	}

	s.End(ctx, active[0].ID, types.EndedByAgent)
	latest, _ := s.LatestByToken(ctx, active[0].ChatToken)
	if latest == nil || latest.Status != types.SessionEnded {
		t.Errorf("expected latest session to be ended, got %+v", latest)
	}
	open, _ := s.FindOpenByToken(ctx, active[0].ChatToken)
	if open != nil {
		t.Errorf("expected no open session, got %+v", open)
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{driver: DriverPostgres}
	got := pg.rebind("SELECT * FROM t WHERE a = ? AND b IN (?, ?)")
	if got != "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)" {
		t.Errorf("unexpected rebind: %s", got)
	}

	lite := &SQLStore{driver: DriverSQLite}
	if q := lite.rebind("a = ?"); q != "a = ?" {
		t.Errorf("sqlite query should be unchanged, got %s", q)
	}
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{"plain path", "data/h.db", "data/h.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"},
		{"existing query", "data/h.db?_txlock=immediate", "data/h.db?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sqliteDSN(tt.dsn); got != tt.want {
				t.Errorf("sqliteDSN(%q) = %q, want %q", tt.dsn, got, tt.want)
			}
		})
	}
}

func TestOpenSQL_DSNWithQuery(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "q.db") + "?_txlock=immediate"
	store, err := OpenSQL(context.Background(), SQLConfig{Driver: DriverSQLite, DSN: dsn})
	if err != nil {
		t.Fatalf("open with query: %v", err)
	}
	defer store.Close()

	if _, _, err := store.CreateOrReuse(context.Background(), "c", "v", "t1"); err != nil {
		t.Errorf("create on store opened with query: %v", err)
	}
}
