package types

import "time"

// SessionStatus represents the lifecycle state of a live session
type SessionStatus string

const (
	SessionWaiting SessionStatus = "waiting" // queued, no agent yet
	SessionActive  SessionStatus = "active"  // assigned to an agent
	SessionEnded   SessionStatus = "ended"   // terminal
)

// EndedBy records who closed a session
type EndedBy string

const (
	EndedByAgent  EndedBy = "agent"
	EndedByUser   EndedBy = "user"
	EndedBySystem EndedBy = "system"
)

// Valid reports whether e is a known closer
func (e EndedBy) Valid() bool {
	return e == EndedByAgent || e == EndedByUser || e == EndedBySystem
}

// SenderType identifies which side of a session wrote a message
type SenderType string

const (
	SenderAgent SenderType = "agent"
	SenderUser  SenderType = "user"
)

// Valid reports whether s is a known sender type
func (s SenderType) Valid() bool {
	return s == SenderAgent || s == SenderUser
}

// LiveSession is one handoff from the assistant to a human agent
type LiveSession struct {
	ID              int64         `json:"id"`
	ConversationRef string        `json:"conversationRef"`
	VisitorID       string        `json:"visitorId"`
	ChatToken       string        `json:"chatToken"`
	AgentID         string        `json:"agentId,omitempty"`   // set iff Status is active
	HandledBy       string        `json:"handledBy,omitempty"` // last assigned agent, kept after end
	Status          SessionStatus `json:"status"`
	StartedAt       time.Time     `json:"startedAt"`
	AcceptedAt      *time.Time    `json:"acceptedAt,omitempty"`
	EndedAt         *time.Time    `json:"endedAt,omitempty"`
	EndedBy         EndedBy       `json:"endedBy,omitempty"`
}

// Open reports whether the session still counts against its chat token
func (s *LiveSession) Open() bool {
	return s.Status == SessionWaiting || s.Status == SessionActive
}

// WaitTime returns how long the visitor waited for an agent (or has waited so far)
func (s *LiveSession) WaitTime(now time.Time) time.Duration {
	switch {
	case s.AcceptedAt != nil:
		return s.AcceptedAt.Sub(s.StartedAt)
	case s.EndedAt != nil:
		return s.EndedAt.Sub(s.StartedAt)
	default:
		return now.Sub(s.StartedAt)
	}
}

// LiveMessage is a single line exchanged inside a live session
type LiveMessage struct {
	ID         int64      `json:"id"`
	SessionID  int64      `json:"sessionId"`
	SenderType SenderType `json:"senderType"`
	SenderID   string     `json:"senderId"`
	Text       string     `json:"text"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// QueueSnapshot represents the current state of the handoff queue
type QueueSnapshot struct {
	Type            string        `json:"type"` // "queue_overview"
	Timestamp       time.Time     `json:"timestamp"`
	WaitingCount    int           `json:"waitingCount"`
	ActiveCount     int           `json:"activeCount"`
	LongestWaitSecs float64       `json:"longestWaitSecs"`
	OnlineAgents    []OnlineAgent `json:"onlineAgents"`
	AvailableAgents int           `json:"availableAgents"`
	ServiceLevel    ServiceLevel  `json:"serviceLevel"`
	Waiting         []LiveSession `json:"waiting,omitempty"`
	Alerts          []Alert       `json:"alerts,omitempty"`
}

// ServiceLevel tracks how quickly waiting visitors are connected
type ServiceLevel struct {
	Target        int     `json:"target"`        // target percentage (e.g., 80)
	ThresholdSecs int     `json:"thresholdSecs"` // threshold in seconds (e.g., 60)
	AnsweredInSL  int     `json:"answeredInSL"`  // sessions connected within threshold
	TotalAnswered int     `json:"totalAnswered"` // total sessions connected
	CurrentSL     float64 `json:"currentSL"`     // calculated SL percentage
}
