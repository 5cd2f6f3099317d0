package handoff

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/dennisdiepolder/monti/handoff/internal/types"
)

const (
	DefaultMaxConcurrent     = 3
	DefaultWaitingTemplate   = "All of our agents are busy right now. You are number {position} in the queue."
	DefaultConnectedTemplate = "You are now chatting with {agent_name}."
	DefaultOfflineTemplate   = "Our team is offline right now. Please leave your question and we will get back to you."
	DefaultMaxMessageLength  = 4000
)

// Settings is the process-wide handoff configuration, read-only to the core
type Settings struct {
	Enabled           bool
	MaxConcurrent     int
	QueueEnabled      bool
	Roster            []string // candidate agent ids; empty means any authorized agent
	WaitingTemplate   string
	ConnectedTemplate string
	OfflineTemplate   string
	WaitingTimeout    time.Duration // 0 keeps waiting sessions forever
	SLTarget          int
	SLSeconds         int
	MaxMessageLength  int // in characters
}

func (s Settings) withDefaults() Settings {
	if s.MaxConcurrent <= 0 {
		s.MaxConcurrent = DefaultMaxConcurrent
	}
	if s.WaitingTemplate == "" {
		s.WaitingTemplate = DefaultWaitingTemplate
	}
	if s.ConnectedTemplate == "" {
		s.ConnectedTemplate = DefaultConnectedTemplate
	}
	if s.OfflineTemplate == "" {
		s.OfflineTemplate = DefaultOfflineTemplate
	}
	if s.SLTarget <= 0 {
		s.SLTarget = 80
	}
	if s.SLSeconds <= 0 {
		s.SLSeconds = 60
	}
	if s.MaxMessageLength <= 0 {
		s.MaxMessageLength = DefaultMaxMessageLength
	}
	return s
}

// WaitingMessage renders the waiting template for a queue position
func (s Settings) WaitingMessage(position int) string {
	return strings.ReplaceAll(s.WaitingTemplate, "{position}", strconv.Itoa(position))
}

// ConnectedMessage renders the connected template for an agent
func (s Settings) ConnectedMessage(agent types.AgentSummary) string {
	return strings.NewReplacer("{agent_name}", agent.Name, "{agent_id}", agent.ID).Replace(s.ConnectedTemplate)
}

// Notifier receives fire-and-forget notifications; delivery errors stay with the implementation
type Notifier interface {
	Notify(ctx context.Context, n types.Notification)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, types.Notification) {}

// SessionStore is the subset of storage.SQLStore the handoff core needs
type SessionStore interface {
	CreateOrReuse(ctx context.Context, conversationRef, visitorID, chatToken string) (*types.LiveSession, bool, error)
	Get(ctx context.Context, sessionID int64) (*types.LiveSession, error)
	FindOpenByToken(ctx context.Context, chatToken string) (*types.LiveSession, error)
	LatestByToken(ctx context.Context, chatToken string) (*types.LiveSession, error)
	Assign(ctx context.Context, sessionID int64, agentID string) (bool, error)
	AppendMessage(ctx context.Context, sessionID int64, senderType types.SenderType, senderID, text string) (int64, error)
	MessagesSince(ctx context.Context, sessionID, afterID int64) ([]types.LiveMessage, error)
	MessageCount(ctx context.Context, sessionID int64) (int, error)
	End(ctx context.Context, sessionID int64, endedBy types.EndedBy) (*types.LiveSession, bool, error)
	QueuePosition(ctx context.Context, sessionID int64) (int, error)
	OldestWaiting(ctx context.Context) (*types.LiveSession, error)
	ListWaiting(ctx context.Context) ([]types.LiveSession, error)
	ListActiveByAgent(ctx context.Context, agentID string) ([]types.LiveSession, error)
	ActiveCounts(ctx context.Context) (map[string]int, error)
	CountByStatus(ctx context.Context) (map[types.SessionStatus]int, error)
}

// SessionArchiver is the subset of storage.Archive needed on session end
type SessionArchiver interface {
	SaveSessionRecord(ctx context.Context, record types.SessionRecord) error
}
