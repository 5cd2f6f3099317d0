package handoff

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/handoff/internal/cache"
	"github.com/dennisdiepolder/monti/handoff/internal/metrics"
	"github.com/dennisdiepolder/monti/handoff/internal/types"
	"github.com/rs/zerolog"
)

// Assignment is a waiting session promoted to an agent
type Assignment struct {
	Session types.LiveSession
	AgentID string
	Wait    time.Duration
}

// QueueProcessor promotes the oldest waiting session to the least loaded agent.
// It owns no timer; callers invoke it when capacity may have been freed.
type QueueProcessor struct {
	store    SessionStore
	presence *cache.PresenceTracker
	routing  RoutingStrategy
	notifier Notifier
	sl       *SLTracker
	metrics  *metrics.Metrics
	roster   []string
	maxChats int
	now      func() time.Time
	logger   zerolog.Logger

	// mu serializes matching with assignment so a cap is never exceeded
	mu sync.Mutex
}

// NewQueueProcessor creates a queue processor over the given store and presence tracker
func NewQueueProcessor(store SessionStore, presence *cache.PresenceTracker, settings Settings, logger zerolog.Logger) *QueueProcessor {
	return &QueueProcessor{
		store:    store,
		presence: presence,
		routing:  LeastLoaded{},
		notifier: nopNotifier{},
		sl:       NewSLTracker(settings.SLTarget, settings.SLSeconds),
		roster:   settings.Roster,
		maxChats: settings.MaxConcurrent,
		now:      time.Now,
		logger:   logger.With().Str("component", "queue").Logger(),
	}
}

// ProcessQueue assigns waiting sessions, oldest first, while an agent with
// spare capacity exists. It returns the assignments it made.
func (p *QueueProcessor) ProcessQueue(ctx context.Context) ([]Assignment, error) {
	return p.process(ctx, "event")
}

func (p *QueueProcessor) process(ctx context.Context, trigger string) ([]Assignment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var assigned []Assignment
	for {
		sess, err := p.store.OldestWaiting(ctx)
		if err != nil {
			return assigned, fmt.Errorf("oldest waiting: %w", err)
		}
		if sess == nil {
			return assigned, nil
		}

		agent, err := p.candidate(ctx)
		if err != nil {
			return assigned, err
		}
		if agent == nil {
			// Session stays waiting until the next capacity event
			return assigned, nil
		}

		ok, err := p.store.Assign(ctx, sess.ID, agent.AgentID)
		if err != nil {
			return assigned, err
		}
		if !ok {
			// Ended between read and assign; try the next one
			continue
		}

		wait := p.now().Sub(sess.StartedAt)
		p.sl.RecordAnswer(wait.Seconds())
		p.metrics.RecordAssignment(trigger, wait)

		sess.Status = types.SessionActive
		sess.AgentID = agent.AgentID
		sess.HandledBy = agent.AgentID
		assigned = append(assigned, Assignment{Session: *sess, AgentID: agent.AgentID, Wait: wait})

		p.logger.Info().
			Int64("session_id", sess.ID).
			Str("agent_id", agent.AgentID).
			Str("trigger", trigger).
			Dur("wait", wait).
			Msg("session assigned to agent")

		p.notifier.Notify(ctx, types.Notification{
			Type:      types.NotifySessionAssigned,
			AgentID:   agent.AgentID,
			SessionID: sess.ID,
			ChatToken: sess.ChatToken,
			Timestamp: p.now(),
		})
	}
}

// candidate asks the routing strategy for an agent over live presence and current load
func (p *QueueProcessor) candidate(ctx context.Context) (*types.OnlineAgent, error) {
	online, err := p.OnlineAgents(ctx)
	if err != nil {
		return nil, err
	}
	return p.routing.SelectAgent(online, p.maxChats), nil
}

// OnlineAgents returns live roster agents annotated with their active session counts
func (p *QueueProcessor) OnlineAgents(ctx context.Context) ([]types.OnlineAgent, error) {
	counts, err := p.store.ActiveCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("active counts: %w", err)
	}
	return p.presence.ListOnline(p.roster, counts), nil
}

// AvailableAgent returns the agent the next assignment would go to, or nil
func (p *QueueProcessor) AvailableAgent(ctx context.Context) (*types.OnlineAgent, error) {
	return p.candidate(ctx)
}

// ServiceLevel returns the current service level snapshot
func (p *QueueProcessor) ServiceLevel() types.ServiceLevel {
	return p.sl.Snapshot()
}
