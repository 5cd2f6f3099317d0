package types

import "time"

// AgentStatus represents an agent's self-reported availability
type AgentStatus string

const (
	StatusOffline   AgentStatus = "offline"
	StatusAvailable AgentStatus = "available"
	StatusBusy      AgentStatus = "busy"
)

// Valid reports whether s is one of the known agent statuses
func (s AgentStatus) Valid() bool {
	switch s {
	case StatusOffline, StatusAvailable, StatusBusy:
		return true
	}
	return false
}

// AgentIdentity is what the identity provider tells us about a caller
type AgentIdentity struct {
	AgentID    string
	Name       string
	AvatarURL  string
	Authorized bool // caller holds one of the allowed agent roles
}

// Presence is the stored presence row for an agent
type Presence struct {
	AgentID       string      `json:"agentId"`
	Status        AgentStatus `json:"status"`
	LastHeartbeat time.Time   `json:"lastHeartbeat"`
	Name          string      `json:"name,omitempty"`
	AvatarURL     string      `json:"avatarUrl,omitempty"`
}

// OnlineAgent is a live agent annotated with its current load
type OnlineAgent struct {
	AgentID        string      `json:"agentId"`
	Name           string      `json:"name,omitempty"`
	Status         AgentStatus `json:"status"`
	ActiveSessions int         `json:"activeSessions"`
	LastHeartbeat  time.Time   `json:"lastHeartbeat"`
	Alerts         []Alert     `json:"alerts,omitempty"`
}

// AgentSummary is the caller-facing description of a connected agent
type AgentSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

// AlertSeverity represents the severity of a queue or agent alert
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert represents an alert condition raised for the supervisor overview
type Alert struct {
	Rule     string        `json:"rule"`
	Severity AlertSeverity `json:"severity"`
	Message  string        `json:"message"`
}
