package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/handoff/internal/metrics"
	"github.com/dennisdiepolder/monti/handoff/internal/resilience"
	"github.com/dennisdiepolder/monti/handoff/internal/types"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

type fakeSink struct {
	name string
	err  error
	mu   sync.Mutex
	got  []types.Notification
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Send(_ context.Context, n types.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return s.err
}

func (s *fakeSink) received() []types.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Notification(nil), s.got...)
}

func TestDispatcherFansOut(t *testing.T) {
	ok := &fakeSink{name: "ok"}
	failing := &fakeSink{name: "failing", err: errors.New("boom")}

	d := NewDispatcher(zerolog.Nop(), ok, failing)
	d.SetMetrics(metrics.NewMetrics())

	// A cancelled request context must not cancel delivery
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Notify(ctx, types.Notification{Type: types.NotifySessionWaiting, SessionID: 7})
	d.Wait()

	for _, s := range []*fakeSink{ok, failing} {
		got := s.received()
		if len(got) != 1 || got[0].SessionID != 7 {
			t.Fatalf("%s: unexpected deliveries %+v", s.name, got)
		}
		if got[0].Timestamp.IsZero() {
			t.Errorf("%s: expected timestamp to be filled", s.name)
		}
	}

	if names := d.Sinks(); !reflect.DeepEqual(names, []string{"ok", "failing"}) {
		t.Errorf("unexpected sink names %v", names)
	}
}

type fakePublisher struct {
	full   bool
	topics []string
}

func (p *fakePublisher) Publish(topic string, _ []byte) bool {
	p.topics = append(p.topics, topic)
	return !p.full
}

func TestTopics(t *testing.T) {
	tests := []struct {
		name string
		n    types.Notification
		want []string
	}{
		{
			name: "waiting goes to the pool only",
			n:    types.Notification{Type: types.NotifySessionWaiting, ChatToken: "tok"},
			want: []string{"agents"},
		},
		{
			name: "assigned reaches pool, agent and widget",
			n:    types.Notification{Type: types.NotifySessionAssigned, AgentID: "alice", ChatToken: "tok"},
			want: []string{"agents", "agent:alice", "session:tok"},
		},
		{
			name: "message to agent and widget",
			n:    types.Notification{Type: types.NotifyNewMessage, AgentID: "alice", ChatToken: "tok"},
			want: []string{"agent:alice", "session:tok"},
		},
		{
			name: "ended without agent",
			n:    types.Notification{Type: types.NotifySessionEnded, ChatToken: "tok"},
			want: []string{"session:tok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Topics(tt.n); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWebSocketSink(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewWebSocketSink(pub)
	n := types.Notification{Type: types.NotifyNewMessage, AgentID: "bob", ChatToken: "tok", MessageID: 3}

	if err := sink.Send(context.Background(), n); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(pub.topics) != 2 {
		t.Errorf("expected 2 pushes, got %v", pub.topics)
	}

	pub.full = true
	if err := sink.Send(context.Background(), n); !errors.Is(err, ErrDropped) {
		t.Errorf("expected ErrDropped, got %v", err)
	}
}

func fastRetry() resilience.Config {
	return resilience.Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, MaxConcurrency: 2}
}

func TestWebhookSinkRetriesServerErrors(t *testing.T) {
	var calls int32
	var body types.Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, fastRetry())
	n := types.Notification{Type: types.NotifySessionEnded, SessionID: 12}
	if err := sink.Send(context.Background(), n); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if body.SessionID != 12 || body.Type != types.NotifySessionEnded {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestWebhookSinkDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, fastRetry())
	err := sink.Send(context.Background(), types.Notification{Type: types.NotifyNewMessage})
	if !resilience.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected a single attempt, got %d", got)
	}
}

func TestWebhookSinkBreakerOpens(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := fastRetry()
	cfg.MaxRetries = 0
	sink := NewWebhookSink(srv.URL, cfg)

	for i := 0; i < 5; i++ {
		_ = sink.Send(context.Background(), types.Notification{Type: types.NotifyNewMessage})
	}
	before := atomic.LoadInt32(&calls)

	if err := sink.Send(context.Background(), types.Notification{Type: types.NotifyNewMessage}); err == nil {
		t.Fatal("expected open breaker to fail")
	}
	if after := atomic.LoadInt32(&calls); after != before {
		t.Errorf("open breaker still reached the server (%d -> %d)", before, after)
	}
	if sink.State().String() != "open" {
		t.Errorf("expected open state, got %s", sink.State())
	}
}

type fakeChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	closed   bool
}

func (c *fakeChannel) Publish(exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.exchange, c.key, c.msg = exchange, key, msg
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestAMQPSinkPublishes(t *testing.T) {
	ch := &fakeChannel{}
	sink := &AMQPSink{exchange: DefaultExchange, channel: ch}

	n := types.Notification{Type: types.NotifySessionAssigned, AgentID: "alice", SessionID: 4, Timestamp: time.Unix(100, 0)}
	if err := sink.Send(context.Background(), n); err != nil {
		t.Fatalf("send: %v", err)
	}

	if ch.exchange != DefaultExchange || ch.key != "session_assigned" {
		t.Errorf("unexpected exchange/key %q/%q", ch.exchange, ch.key)
	}
	if ch.msg.ContentType != "application/json" || ch.msg.DeliveryMode != amqp.Persistent {
		t.Errorf("unexpected publishing %+v", ch.msg)
	}
	var decoded types.Notification
	if err := json.Unmarshal(ch.msg.Body, &decoded); err != nil || decoded.AgentID != "alice" {
		t.Errorf("unexpected body %s (%v)", ch.msg.Body, err)
	}

	sink.Close()
	if !ch.closed {
		t.Error("expected channel to be closed")
	}
}
