package types

import "time"

// HandoffRequest is the JSON body for POST /api/handoff
type HandoffRequest struct {
	ConversationRef string `json:"conversationRef"`
	VisitorID       string `json:"visitorId"`
	ChatToken       string `json:"chatToken"`
}

// HandoffResponse is returned to the chat widget after a handoff request
type HandoffResponse struct {
	Success       bool          `json:"success"`
	SessionID     int64         `json:"sessionId"`
	Status        SessionStatus `json:"status"`
	Agent         *AgentSummary `json:"agent"`
	QueuePosition int           `json:"queuePosition"`
	Message       string        `json:"message"`
}

// SendMessageRequest is the JSON body for posting into a session
type SendMessageRequest struct {
	ChatToken string `json:"chatToken,omitempty"` // visitor side only
	Text      string `json:"text"`
}

// SendMessageResponse is returned after a message is stored
type SendMessageResponse struct {
	Success   bool  `json:"success"`
	MessageID int64 `json:"messageId"`
}

// MessagesResponse is returned by the incremental message poll
type MessagesResponse struct {
	Messages []LiveMessage `json:"messages"`
}

// StatusResponse is returned to the visitor widget while it waits for an agent
type StatusResponse struct {
	HasSession      bool          `json:"hasSession"`
	SessionID       int64         `json:"sessionId,omitempty"`
	Status          SessionStatus `json:"status,omitempty"`
	Agent           *AgentSummary `json:"agent,omitempty"`
	QueuePosition   int           `json:"queuePosition,omitempty"`
	AgentsAvailable bool          `json:"agentsAvailable"`
}

// AgentStatusRequest is the JSON body for POST /api/agent/status
type AgentStatusRequest struct {
	Status AgentStatus `json:"status"`
}

// AgentStatusResponse reports the effective status of the calling agent
type AgentStatusResponse struct {
	Success bool        `json:"success"`
	AgentID string      `json:"agentId"`
	Status  AgentStatus `json:"status"`
}

// EndSessionRequest is the JSON body a visitor sends to close its chat
type EndSessionRequest struct {
	ChatToken string `json:"chatToken"`
}

// EndSessionResponse is returned after a session end request
type EndSessionResponse struct {
	Success   bool          `json:"success"`
	SessionID int64         `json:"sessionId"`
	Status    SessionStatus `json:"status"`
	EndedBy   EndedBy       `json:"endedBy,omitempty"`
}

// CheckRequest carries an assistant reply to classify
type CheckRequest struct {
	Text string `json:"text"`
}

// CheckResponse tells the widget whether to offer a live agent
type CheckResponse struct {
	Negative        bool `json:"negative"`
	HandoffEnabled  bool `json:"handoffEnabled"`
	AgentsAvailable bool `json:"agentsAvailable"`
}

// RosterEntry is one agent in the admin roster view
type RosterEntry struct {
	AgentID string      `json:"agentId"`
	Name    string      `json:"name"`
	Status  AgentStatus `json:"status"`
}

// NotificationKind classifies a notification sent to agents and widgets
type NotificationKind string

const (
	NotifySessionAssigned NotificationKind = "session_assigned"
	NotifySessionWaiting  NotificationKind = "session_waiting"
	NotifySessionEnded    NotificationKind = "session_ended"
	NotifyNewMessage      NotificationKind = "new_message"
)

// Notification is the payload fanned out to notification sinks
type Notification struct {
	Type      NotificationKind `json:"type"`
	AgentID   string           `json:"agentId,omitempty"` // empty means the whole agent pool
	SessionID int64            `json:"sessionId"`
	ChatToken string           `json:"chatToken,omitempty"`
	MessageID int64            `json:"messageId,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}
