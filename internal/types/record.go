package types

// SessionRecord represents an ended live session for archive persistence
type SessionRecord struct {
	DateKey         string  `json:"dateKey" dynamodbav:"DateKey"`     // YYYY-MM-DD (partition key)
	SessionKey      string  `json:"sessionKey" dynamodbav:"SessionKey"` // zero-padded session id (sort key)
	SessionID       int64   `json:"sessionId" dynamodbav:"SessionID"`
	ConversationRef string  `json:"conversationRef" dynamodbav:"ConversationRef"`
	VisitorID       string  `json:"visitorId" dynamodbav:"VisitorID"`
	ChatToken       string  `json:"chatToken" dynamodbav:"ChatToken"`
	AgentID         string  `json:"agentId" dynamodbav:"AgentID"`
	StartedAt       string  `json:"startedAt" dynamodbav:"StartedAt"`   // RFC3339
	AcceptedAt      string  `json:"acceptedAt" dynamodbav:"AcceptedAt"` // RFC3339
	EndedAt         string  `json:"endedAt" dynamodbav:"EndedAt"`       // RFC3339
	EndedBy         EndedBy `json:"endedBy" dynamodbav:"EndedBy"`
	WaitTime        float64 `json:"waitTime" dynamodbav:"WaitTime"`         // seconds
	HandleTime      float64 `json:"handleTime" dynamodbav:"HandleTime"`     // seconds from accept to end
	MessageCount    int     `json:"messageCount" dynamodbav:"MessageCount"`
	Abandoned       bool    `json:"abandoned" dynamodbav:"Abandoned"` // ended before an agent accepted
	AnsweredInSL    bool    `json:"answeredInSL" dynamodbav:"AnsweredInSL"`
}

// AgentDailyStats holds per-agent counters for a single day
type AgentDailyStats struct {
	AgentID         string  `json:"agentId" dynamodbav:"AgentID"` // partition key
	Date            string  `json:"date" dynamodbav:"Date"`       // YYYY-MM-DD (sort key)
	SessionsHandled int     `json:"sessionsHandled" dynamodbav:"SessionsHandled"`
	MessagesTotal   int     `json:"messagesTotal" dynamodbav:"MessagesTotal"`
	HandleTimeTotal float64 `json:"handleTimeTotal" dynamodbav:"HandleTimeTotal"` // seconds
}
