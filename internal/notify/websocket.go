package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dennisdiepolder/monti/handoff/internal/types"
	"github.com/dennisdiepolder/monti/handoff/internal/websocket"
)

// ErrDropped is returned when the hub had no room for a push
var ErrDropped = errors.New("push dropped")

// Publisher is the part of the websocket hub the sink needs
type Publisher interface {
	Publish(topic string, data []byte) bool
}

// WebSocketSink pushes notifications as change hints to connected dashboards
// and widgets. Clients fetch the data itself through the REST API.
type WebSocketSink struct {
	hub Publisher
}

// NewWebSocketSink creates a sink publishing on hub
func NewWebSocketSink(hub Publisher) *WebSocketSink {
	return &WebSocketSink{hub: hub}
}

func (s *WebSocketSink) Name() string { return "websocket" }

// Topics returns the topics a notification is pushed to
func Topics(n types.Notification) []string {
	var topics []string
	switch n.Type {
	case types.NotifySessionWaiting:
		topics = append(topics, websocket.PoolTopic)
	case types.NotifySessionAssigned:
		// The pool learns the session left the queue
		topics = append(topics, websocket.PoolTopic)
		if n.AgentID != "" {
			topics = append(topics, websocket.AgentTopic(n.AgentID))
		}
	default:
		if n.AgentID != "" {
			topics = append(topics, websocket.AgentTopic(n.AgentID))
		}
	}
	if n.ChatToken != "" && n.Type != types.NotifySessionWaiting {
		topics = append(topics, websocket.SessionTopic(n.ChatToken))
	}
	return topics
}

func (s *WebSocketSink) Send(_ context.Context, n types.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	var dropped []string
	for _, topic := range Topics(n) {
		if !s.hub.Publish(topic, data) {
			dropped = append(dropped, topic)
		}
	}
	if len(dropped) > 0 {
		return fmt.Errorf("%w: %v", ErrDropped, dropped)
	}
	return nil
}
