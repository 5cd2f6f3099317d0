package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/handoff/internal/config"
	"github.com/dennisdiepolder/monti/handoff/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func mockClient(hub *Hub, id string, buf int, topics ...string) *Client {
	return &Client{id: id, hub: hub, send: make(chan []byte, buf), topics: topics}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestNewHub(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	if hub.clients == nil || hub.topics == nil {
		t.Fatal("expected client and topic maps to be initialized")
	}
	if hub.publish == nil || hub.register == nil || hub.unregister == nil || hub.done == nil {
		t.Fatal("expected channels to be initialized")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := startHub(t)
	client := mockClient(hub, "c1", 1, AgentTopic("alice"), PoolTopic)

	hub.register <- client
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	if got := hub.Subscribers(PoolTopic); got != 1 {
		t.Errorf("expected 1 pool subscriber, got %d", got)
	}

	hub.unregister <- client
	waitFor(t, func() bool { return hub.ClientCount() == 0 })

	if got := hub.Subscribers(AgentTopic("alice")); got != 0 {
		t.Errorf("expected topic to be emptied, got %d", got)
	}
	if _, ok := <-client.send; ok {
		t.Error("expected send channel to be closed")
	}
}

func TestHubPublishOnlyReachesSubscribers(t *testing.T) {
	hub := startHub(t)
	alice := mockClient(hub, "alice", 4, AgentTopic("alice"), PoolTopic)
	bob := mockClient(hub, "bob", 4, AgentTopic("bob"), PoolTopic)
	widget := mockClient(hub, "widget", 4, SessionTopic("tok-1"))

	for _, c := range []*Client{alice, bob, widget} {
		hub.register <- c
	}
	waitFor(t, func() bool { return hub.ClientCount() == 3 })

	hub.Publish(AgentTopic("alice"), []byte("private"))
	hub.Publish(PoolTopic, []byte("pool"))
	hub.Publish(SessionTopic("tok-1"), []byte("visitor"))

	expect := func(c *Client, want ...string) {
		t.Helper()
		for _, w := range want {
			select {
			case got := <-c.send:
				if string(got) != w {
					t.Errorf("%s: expected %q, got %q", c.id, w, got)
				}
			case <-time.After(time.Second):
				t.Fatalf("%s: did not receive %q", c.id, w)
			}
		}
		select {
		case extra := <-c.send:
			t.Errorf("%s: unexpected message %q", c.id, extra)
		default:
		}
	}

	// Publish is asynchronous; give the hub a moment to drain all three
	waitFor(t, func() bool { return len(widget.send) == 1 && len(bob.send) == 1 && len(alice.send) == 2 })
	expect(alice, "private", "pool")
	expect(bob, "pool")
	expect(widget, "visitor")
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.SetMetrics(metrics.NewMetrics())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	slow := mockClient(hub, "slow", 1, PoolTopic)
	hub.register <- slow
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	hub.Publish(PoolTopic, []byte("one"))
	hub.Publish(PoolTopic, []byte("two"))

	waitFor(t, func() bool { return hub.ClientCount() == 0 })
	if got := hub.Subscribers(PoolTopic); got != 0 {
		t.Errorf("expected slow client unsubscribed, got %d", got)
	}
}

func TestHubPublishWithoutSubscribers(t *testing.T) {
	hub := startHub(t)
	if !hub.Publish("nobody", []byte("x")) {
		t.Error("expected publish to be accepted")
	}
}

func TestHubStoppedDoesNotBlockClients(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	client := mockClient(hub, "c1", 1, PoolTopic)
	if !hub.join(client) {
		t.Fatal("expected running hub to accept client")
	}
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	cancel()
	<-stopped
	if _, ok := <-client.send; ok {
		t.Error("expected shutdown to close the send channel")
	}

	joined := make(chan bool, 1)
	go func() {
		hub.leave(client)
		joined <- hub.join(mockClient(hub, "late", 1, PoolTopic))
	}()
	select {
	case ok := <-joined:
		if ok {
			t.Error("stopped hub must not accept clients")
		}
	case <-time.After(time.Second):
		t.Fatal("leave or join blocked on a stopped hub")
	}
}

func TestHandlerAfterHubStopped(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	resolve := func(*http.Request) ([]string, error) { return []string{PoolTopic}, nil }
	srv := httptest.NewServer(NewHandler(hub, testConfig(), resolve, zerolog.Nop()))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the server to close the connection")
	} else if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
		t.Error("connection was left open after the hub stopped")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("expected no clients, got %d", hub.ClientCount())
	}
}

func TestTopicKind(t *testing.T) {
	tests := map[string]string{
		AgentTopic("a"):     "agent",
		SessionTopic("tok"): "session",
		PoolTopic:           "agents",
		DashboardTopic:      "dashboard",
	}
	for topic, want := range tests {
		if got := topicKind(topic); got != want {
			t.Errorf("topicKind(%q) = %q, want %q", topic, got, want)
		}
	}
}

func testConfig() *config.Config {
	return &config.Config{
		AllowedOrigins: []string{"http://localhost:5173"},
		PongWait:       time.Minute,
		PingPeriod:     54 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 512,
	}
}

func TestHandlerDeliversToSocket(t *testing.T) {
	hub := startHub(t)
	resolve := func(r *http.Request) ([]string, error) {
		token := r.URL.Query().Get("chatToken")
		if token == "" {
			return nil, errors.New("chatToken is required")
		}
		if token == "blocked" {
			return nil, ErrForbidden
		}
		return []string{SessionTopic(token)}, nil
	}
	srv := httptest.NewServer(NewHandler(hub, testConfig(), resolve, zerolog.Nop()))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without token, got %v", resp)
	}
	if _, resp, err := websocket.DefaultDialer.Dial(wsURL+"?chatToken=blocked", nil); err == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for blocked token, got %v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?chatToken=tok-9", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return hub.Subscribers(SessionTopic("tok-9")) == 1 })
	hub.Publish(SessionTopic("tok-9"), []byte(`{"type":"new_message"}`))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `{"type":"new_message"}` {
		t.Errorf("unexpected payload %s", data)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com"})

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://app.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := check(r); got != tt.want {
			t.Errorf("origin %q: got %v, want %v", tt.origin, got, tt.want)
		}
	}

	if !originChecker([]string{"*"})(httptest.NewRequest(http.MethodGet, "/ws", nil)) {
		t.Error("wildcard should allow everything")
	}
}
