package websocket

import (
	"context"
	"strings"
	"sync"

	"github.com/dennisdiepolder/monti/handoff/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	// PoolTopic reaches every connected agent
	PoolTopic = "agents"
	// DashboardTopic carries the supervisor overview
	DashboardTopic = "dashboard"
)

// AgentTopic is the private topic of one agent
func AgentTopic(agentID string) string { return "agent:" + agentID }

// SessionTopic is the topic the visitor widget of a chat listens on
func SessionTopic(chatToken string) string { return "session:" + chatToken }

// topicKind strips the identifier so metrics stay low-cardinality
func topicKind(topic string) string {
	if i := strings.IndexByte(topic, ':'); i >= 0 {
		return topic[:i]
	}
	return topic
}

type envelope struct {
	topic string
	data  []byte
}

// Hub keeps the connected clients indexed by topic and fans published
// messages out to the subscribers of a topic.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// topic -> subscribed clients
	topics map[string]map[*Client]bool

	// Outbound messages
	publish chan envelope

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed once Run has returned
	done chan struct{}

	mu      sync.RWMutex
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewHub creates a new Hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		topics:     make(map[string]map[*Client]bool),
		publish:    make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "ws_hub").Logger(),
	}
}

// SetMetrics sets the metrics sink
func (h *Hub) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

// Run starts the hub's main loop and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info().Msg("websocket hub started")
	defer h.logger.Info().Msg("websocket hub stopped")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.add(client)

		case client := <-h.unregister:
			h.remove(client, "client disconnected")

		case msg := <-h.publish:
			h.deliver(msg)
		}
	}
}

// join hands client to the running hub. It returns false once the hub has stopped.
func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// leave asks the hub to drop client; a stopped hub has already dropped it
func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	for _, topic := range client.topics {
		subs, ok := h.topics[topic]
		if !ok {
			subs = make(map[*Client]bool)
			h.topics[topic] = subs
		}
		subs[client] = true
	}
	total := len(h.clients)
	h.mu.Unlock()

	h.metrics.RecordWebSocketConnect()
	h.logger.Info().
		Str("client_id", client.id).
		Strs("topics", client.topics).
		Int("total_clients", total).
		Msg("client connected")
}

func (h *Hub) remove(client *Client, reason string) {
	h.mu.Lock()
	if !h.clients[client] {
		h.mu.Unlock()
		return
	}
	h.detach(client)
	total := len(h.clients)
	h.mu.Unlock()

	h.metrics.RecordWebSocketDisconnect()
	h.logger.Info().
		Str("client_id", client.id).
		Int("total_clients", total).
		Msg(reason)
}

// detach drops the client from every index and closes its send channel. Caller holds mu.
func (h *Hub) detach(client *Client) {
	delete(h.clients, client)
	for _, topic := range client.topics {
		if subs, ok := h.topics[topic]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	close(client.send)
}

func (h *Hub) deliver(msg envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.topics[msg.topic]
	if len(subs) == 0 {
		return
	}
	h.metrics.RecordWebSocketMessage(topicKind(msg.topic))

	for client := range subs {
		select {
		case client.send <- msg.data:
		default:
			// Client's send buffer is full, close and remove it
			h.detach(client)
			h.metrics.RecordWebSocketDisconnect()
			h.logger.Warn().
				Str("client_id", client.id).
				Msg("client send buffer full, closing connection")
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.detach(client)
	}
}

// Publish queues data for the subscribers of topic. It never blocks; when the
// hub is saturated the message is dropped and false is returned.
func (h *Hub) Publish(topic string, data []byte) bool {
	select {
	case h.publish <- envelope{topic: topic, data: data}:
		return true
	default:
		h.logger.Warn().Str("topic", topic).Msg("hub publish buffer full, dropping message")
		return false
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribers returns the number of clients listening on topic
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
