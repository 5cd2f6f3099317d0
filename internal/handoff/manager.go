package handoff

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dennisdiepolder/monti/handoff/internal/cache"
	"github.com/dennisdiepolder/monti/handoff/internal/metrics"
	"github.com/dennisdiepolder/monti/handoff/internal/storage"
	"github.com/dennisdiepolder/monti/handoff/internal/types"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("handoff")

var (
	// ErrNotEnabled is returned when live handoff is switched off
	ErrNotEnabled = errors.New("live handoff is not enabled")
	// ErrNoAgents is returned when no agent was ever configured or seen
	ErrNoAgents = errors.New("no agents configured")
	// ErrNoAgentsAvailable is returned when nobody is free and queueing is disabled
	ErrNoAgentsAvailable = errors.New("no agents available")
	// ErrInvalidInput is returned for missing or malformed arguments
	ErrInvalidInput = errors.New("invalid input")

	ErrSessionNotFound  = storage.ErrSessionNotFound
	ErrSessionNotActive = storage.ErrSessionNotActive
)

// HandoffResult is the outcome of a handoff request
type HandoffResult struct {
	Session       types.LiveSession
	Agent         *types.AgentSummary
	QueuePosition int
	Message       string
	Reused        bool // an open session already existed for the chat token
}

// Response converts the result to its wire shape
func (r *HandoffResult) Response() types.HandoffResponse {
	return types.HandoffResponse{
		Success:       true,
		SessionID:     r.Session.ID,
		Status:        r.Session.Status,
		Agent:         r.Agent,
		QueuePosition: r.QueuePosition,
		Message:       r.Message,
	}
}

// Manager orchestrates handoff requests, messaging and session endings
type Manager struct {
	store    SessionStore
	presence *cache.PresenceTracker
	queue    *QueueProcessor
	archive  SessionArchiver
	notifier Notifier
	metrics  *metrics.Metrics
	settings Settings
	now      func() time.Time
	logger   zerolog.Logger
}

// NewManager creates a new handoff manager
func NewManager(store SessionStore, presence *cache.PresenceTracker, settings Settings, logger zerolog.Logger) *Manager {
	settings = settings.withDefaults()
	return &Manager{
		store:    store,
		presence: presence,
		queue:    NewQueueProcessor(store, presence, settings, logger),
		notifier: nopNotifier{},
		settings: settings,
		now:      time.Now,
		logger:   logger.With().Str("component", "handoff").Logger(),
	}
}

// SetNotifier sets the notification sink; nil disables notifications
func (m *Manager) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	m.notifier = n
	m.queue.notifier = n
}

// SetArchive sets the persistence target for ended sessions
func (m *Manager) SetArchive(a SessionArchiver) {
	m.archive = a
}

// SetMetrics sets the metrics sink
func (m *Manager) SetMetrics(mt *metrics.Metrics) {
	m.metrics = mt
	m.queue.metrics = mt
}

// SetRouting replaces the agent selection strategy
func (m *Manager) SetRouting(r RoutingStrategy) {
	m.queue.routing = r
}

// SetClock replaces the wall clock, mostly for tests
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
	m.queue.now = now
}

// Settings returns the effective settings
func (m *Manager) Settings() Settings {
	return m.settings
}

// Queue returns the queue processor
func (m *Manager) Queue() *QueueProcessor {
	return m.queue
}

// RequestHandoff creates or reuses the session for chatToken and tries to
// connect it to an agent right away.
func (m *Manager) RequestHandoff(ctx context.Context, conversationRef, visitorID, chatToken string) (*HandoffResult, error) {
	ctx, span := tracer.Start(ctx, "handoff.RequestHandoff")
	defer span.End()
	span.SetAttributes(attribute.String("handoff.chat_token", chatToken))

	result, err := m.requestHandoff(ctx, conversationRef, visitorID, chatToken)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.metrics.RecordHandoff(handoffErrorLabel(err))
		return nil, err
	}

	label := string(result.Session.Status)
	if result.Reused {
		label = "reused"
	}
	m.metrics.RecordHandoff(label)
	span.SetAttributes(
		attribute.Int64("handoff.session_id", result.Session.ID),
		attribute.String("handoff.status", string(result.Session.Status)),
	)
	return result, nil
}

func (m *Manager) requestHandoff(ctx context.Context, conversationRef, visitorID, chatToken string) (*HandoffResult, error) {
	if !m.settings.Enabled {
		return nil, ErrNotEnabled
	}
	if strings.TrimSpace(chatToken) == "" {
		return nil, fmt.Errorf("%w: chat token is required", ErrInvalidInput)
	}
	if len(m.settings.Roster) == 0 && m.presence.Known() == 0 {
		return nil, ErrNoAgents
	}

	existing, err := m.store.FindOpenByToken(ctx, chatToken)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return m.describe(ctx, existing, true)
	}

	if !m.settings.QueueEnabled {
		agent, err := m.queue.AvailableAgent(ctx)
		if err != nil {
			return nil, err
		}
		if agent == nil {
			return nil, ErrNoAgentsAvailable
		}
	}

	sess, created, err := m.store.CreateOrReuse(ctx, conversationRef, visitorID, chatToken)
	if err != nil {
		return nil, err
	}
	if !created {
		return m.describe(ctx, sess, true)
	}

	m.logger.Info().
		Int64("session_id", sess.ID).
		Str("conversation_ref", conversationRef).
		Msg("handoff session created")

	if _, err := m.queue.process(ctx, "handoff"); err != nil {
		m.logger.Error().Err(err).Int64("session_id", sess.ID).Msg("queue processing failed after handoff")
	}

	sess, err = m.store.Get(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	if sess.Status == types.SessionWaiting {
		if !m.settings.QueueEnabled {
			// The free agent was taken in the meantime
			if _, _, err := m.store.End(ctx, sess.ID, types.EndedBySystem); err != nil {
				return nil, err
			}
			return nil, ErrNoAgentsAvailable
		}
		m.notifier.Notify(ctx, types.Notification{
			Type:      types.NotifySessionWaiting,
			SessionID: sess.ID,
			ChatToken: sess.ChatToken,
			Timestamp: m.now(),
		})
	}

	return m.describe(ctx, sess, false)
}

// describe builds the caller-facing view of a session
func (m *Manager) describe(ctx context.Context, sess *types.LiveSession, reused bool) (*HandoffResult, error) {
	result := &HandoffResult{Session: *sess, Reused: reused}

	switch sess.Status {
	case types.SessionActive:
		agent := m.presence.Profile(sess.AgentID)
		result.Agent = &agent
		result.Message = m.settings.ConnectedMessage(agent)
	case types.SessionWaiting:
		pos, err := m.store.QueuePosition(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		result.QueuePosition = pos
		result.Message = m.settings.WaitingMessage(pos)
	}
	return result, nil
}

func handoffErrorLabel(err error) string {
	switch {
	case errors.Is(err, ErrNotEnabled):
		return "not_enabled"
	case errors.Is(err, ErrNoAgents):
		return "no_agents"
	case errors.Is(err, ErrNoAgentsAvailable):
		return "no_agents_available"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}

// OfflineMessage returns the message shown when no agent can take the chat
func (m *Manager) OfflineMessage() string {
	return m.settings.OfflineTemplate
}

// SendMessage appends a message to an active session and returns its id
func (m *Manager) SendMessage(ctx context.Context, sessionID int64, senderType types.SenderType, senderID, text string) (int64, error) {
	ctx, span := tracer.Start(ctx, "handoff.SendMessage")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("handoff.session_id", sessionID),
		attribute.String("handoff.sender_type", string(senderType)),
	)

	if !senderType.Valid() {
		return 0, fmt.Errorf("%w: unknown sender type %q", ErrInvalidInput, senderType)
	}
	if strings.TrimSpace(text) == "" {
		return 0, fmt.Errorf("%w: message text is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > m.settings.MaxMessageLength {
		return 0, fmt.Errorf("%w: message exceeds %d characters", ErrInvalidInput, m.settings.MaxMessageLength)
	}

	id, err := m.store.AppendMessage(ctx, sessionID, senderType, senderID, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	m.metrics.RecordMessage(senderType)

	n := types.Notification{
		Type:      types.NotifyNewMessage,
		SessionID: sessionID,
		MessageID: id,
		Timestamp: m.now(),
	}
	if sess, err := m.store.Get(ctx, sessionID); err == nil {
		n.AgentID = sess.AgentID
		n.ChatToken = sess.ChatToken
	}
	m.notifier.Notify(ctx, n)

	return id, nil
}

// Messages returns the session's messages after the cursor
func (m *Manager) Messages(ctx context.Context, sessionID, afterID int64) ([]types.LiveMessage, error) {
	if _, err := m.store.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return m.store.MessagesSince(ctx, sessionID, afterID)
}

// Session returns a session by id
func (m *Manager) Session(ctx context.Context, sessionID int64) (*types.LiveSession, error) {
	return m.store.Get(ctx, sessionID)
}

// LatestSession returns the newest session for a chat token, nil when none exists
func (m *Manager) LatestSession(ctx context.Context, chatToken string) (*types.LiveSession, error) {
	return m.store.LatestByToken(ctx, chatToken)
}

// AgentSessions returns the agent's active sessions
func (m *Manager) AgentSessions(ctx context.Context, agentID string) ([]types.LiveSession, error) {
	return m.store.ListActiveByAgent(ctx, agentID)
}

// PollStatus reports the latest session for a chat token, used by the
// visitor widget while it waits for an agent.
func (m *Manager) PollStatus(ctx context.Context, chatToken string) (*types.StatusResponse, error) {
	ctx, span := tracer.Start(ctx, "handoff.PollStatus")
	defer span.End()

	available, err := m.queue.AvailableAgent(ctx)
	if err != nil {
		return nil, err
	}
	resp := &types.StatusResponse{AgentsAvailable: available != nil}

	sess, err := m.store.LatestByToken(ctx, chatToken)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return resp, nil
	}

	resp.HasSession = true
	resp.SessionID = sess.ID
	resp.Status = sess.Status

	switch sess.Status {
	case types.SessionActive:
		agent := m.presence.Profile(sess.AgentID)
		resp.Agent = &agent
	case types.SessionWaiting:
		pos, err := m.store.QueuePosition(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		resp.QueuePosition = pos
	}
	return resp, nil
}

// EndSession closes a session and gives the freed capacity to the queue.
// Ending an already ended session is a no-op.
func (m *Manager) EndSession(ctx context.Context, sessionID int64, endedBy types.EndedBy) (*types.LiveSession, error) {
	ctx, span := tracer.Start(ctx, "handoff.EndSession")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("handoff.session_id", sessionID),
		attribute.String("handoff.ended_by", string(endedBy)),
	)

	if !endedBy.Valid() {
		return nil, fmt.Errorf("%w: unknown closer %q", ErrInvalidInput, endedBy)
	}

	sess, changed, err := m.store.End(ctx, sessionID, endedBy)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if changed {
		m.metrics.RecordSessionEnded(endedBy)
		m.logger.Info().
			Int64("session_id", sess.ID).
			Str("agent_id", sess.HandledBy).
			Str("ended_by", string(endedBy)).
			Msg("session ended")

		m.archiveSession(*sess)
		m.notifier.Notify(ctx, types.Notification{
			Type:      types.NotifySessionEnded,
			AgentID:   sess.HandledBy,
			SessionID: sess.ID,
			ChatToken: sess.ChatToken,
			Timestamp: m.now(),
		})
	}

	if _, err := m.queue.process(ctx, "session_end"); err != nil {
		m.logger.Error().Err(err).Int64("session_id", sessionID).Msg("queue processing failed after session end")
	}
	return sess, nil
}

// archiveSession persists the ended session summary asynchronously
func (m *Manager) archiveSession(sess types.LiveSession) {
	if m.archive == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		count, err := m.store.MessageCount(ctx, sess.ID)
		if err != nil {
			m.logger.Warn().Err(err).Int64("session_id", sess.ID).Msg("failed to count messages for archive")
		}
		record := sessionToRecord(sess, count, m.queue.sl)
		if err := m.archive.SaveSessionRecord(ctx, record); err != nil {
			m.logger.Error().Err(err).Int64("session_id", sess.ID).Msg("failed to save session record")
		}
	}()
}

// sessionToRecord converts an ended session to its archive record
func sessionToRecord(sess types.LiveSession, messageCount int, sl *SLTracker) types.SessionRecord {
	record := types.SessionRecord{
		DateKey:         sess.StartedAt.Format("2006-01-02"),
		SessionKey:      fmt.Sprintf("%012d", sess.ID),
		SessionID:       sess.ID,
		ConversationRef: sess.ConversationRef,
		VisitorID:       sess.VisitorID,
		ChatToken:       sess.ChatToken,
		AgentID:         sess.HandledBy,
		StartedAt:       sess.StartedAt.Format(time.RFC3339),
		EndedBy:         sess.EndedBy,
		MessageCount:    messageCount,
		Abandoned:       sess.AcceptedAt == nil,
	}

	end := sess.StartedAt
	if sess.EndedAt != nil {
		end = *sess.EndedAt
		record.EndedAt = end.Format(time.RFC3339)
	}
	record.WaitTime = sess.WaitTime(end).Seconds()

	if sess.AcceptedAt != nil {
		record.AcceptedAt = sess.AcceptedAt.Format(time.RFC3339)
		record.HandleTime = end.Sub(*sess.AcceptedAt).Seconds()
		record.AnsweredInSL = sl.Within(record.WaitTime)
	}
	return record
}

// IsNegativeAIResult reports whether an assistant reply hedges or refuses
func (m *Manager) IsNegativeAIResult(text string) bool {
	return IsNegativeAIResult(text)
}

// SetAgentStatus stores the agent's status. A transition to available lets
// the queue hand out waiting sessions. Returns false for unauthorized callers.
func (m *Manager) SetAgentStatus(ctx context.Context, id types.AgentIdentity, status types.AgentStatus) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}

	previous := m.presence.GetStatus(id.AgentID)
	if !m.presence.SetStatus(id, status) {
		m.logger.Warn().Str("agent_id", id.AgentID).Msg("status change rejected for unauthorized caller")
		return false, nil
	}

	m.logger.Info().
		Str("agent_id", id.AgentID).
		Str("from", string(previous)).
		Str("to", string(status)).
		Msg("agent status changed")

	if status == types.StatusAvailable && previous != types.StatusAvailable {
		if _, err := m.queue.process(ctx, "agent_available"); err != nil {
			return true, err
		}
	}
	return true, nil
}

// AgentHeartbeat keeps the agent's presence alive. A heartbeat that brings an
// expired agent back as available also runs the queue.
func (m *Manager) AgentHeartbeat(ctx context.Context, id types.AgentIdentity) (types.AgentStatus, error) {
	if !id.Authorized || id.AgentID == "" {
		return types.StatusOffline, nil
	}

	status, initialized := m.presence.Heartbeat(id)
	if initialized {
		m.logger.Debug().Str("agent_id", id.AgentID).Msg("presence initialised by heartbeat")
		if _, err := m.queue.process(ctx, "heartbeat"); err != nil {
			return status, err
		}
	}
	return status, nil
}

// AgentStatus returns the agent's effective status
func (m *Manager) AgentStatus(agentID string) types.AgentStatus {
	return m.presence.GetStatus(agentID)
}

// AgentsAvailable reports whether a new chat could be connected right now
func (m *Manager) AgentsAvailable(ctx context.Context) (bool, error) {
	agent, err := m.queue.AvailableAgent(ctx)
	return agent != nil, err
}

// Roster lists the configured roster, or every agent seen so far when no
// roster is configured, with their effective status.
func (m *Manager) Roster() []types.RosterEntry {
	ids := m.settings.Roster
	if len(ids) == 0 {
		ids = m.presence.KnownIDs()
	}
	entries := make([]types.RosterEntry, 0, len(ids))
	for _, id := range ids {
		profile := m.presence.Profile(id)
		entries = append(entries, types.RosterEntry{
			AgentID: id,
			Name:    profile.Name,
			Status:  m.presence.GetStatus(id),
		})
	}
	return entries
}

// Snapshot returns the queue overview for supervisors
func (m *Manager) Snapshot(ctx context.Context) (*types.QueueSnapshot, error) {
	counts, err := m.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	waiting, err := m.store.ListWaiting(ctx)
	if err != nil {
		return nil, err
	}
	online, err := m.queue.OnlineAgents(ctx)
	if err != nil {
		return nil, err
	}

	now := m.now()
	snap := &types.QueueSnapshot{
		Type:         "queue_overview",
		Timestamp:    now,
		WaitingCount: counts[types.SessionWaiting],
		ActiveCount:  counts[types.SessionActive],
		OnlineAgents: online,
		ServiceLevel: m.queue.ServiceLevel(),
		Waiting:      waiting,
	}
	if len(waiting) > 0 {
		snap.LongestWaitSecs = now.Sub(waiting[0].StartedAt).Seconds()
	}
	for _, a := range online {
		if a.Status == types.StatusAvailable && a.ActiveSessions < m.settings.MaxConcurrent {
			snap.AvailableAgents++
		}
	}

	m.metrics.UpdateSessionStats(counts)
	m.metrics.UpdateAgentStats(m.presence.GetStatusCounts())
	return snap, nil
}
