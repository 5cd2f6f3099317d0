package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/dennisdiepolder/monti/handoff/internal/auth"
	"github.com/dennisdiepolder/monti/handoff/internal/handoff"
	"github.com/dennisdiepolder/monti/handoff/internal/types"
	"github.com/rs/zerolog"
)

var errNotYourSession = errors.New("session belongs to another agent")

// AgentActionsHandler provides REST endpoints for agent presence and chats
type AgentActionsHandler struct {
	mgr    *handoff.Manager
	authn  *auth.Authenticator
	logger zerolog.Logger
}

// NewAgentActionsHandler creates a new AgentActionsHandler
func NewAgentActionsHandler(mgr *handoff.Manager, authn *auth.Authenticator, logger zerolog.Logger) *AgentActionsHandler {
	return &AgentActionsHandler{
		mgr:    mgr,
		authn:  authn,
		logger: logger.With().Str("component", "agent_actions").Logger(),
	}
}

// GetStatus handles GET /api/agent/status
func (h *AgentActionsHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id := h.authn.IdentityFromRequest(r)
	writeJSON(w, http.StatusOK, types.AgentStatusResponse{
		Success: id.Authorized,
		AgentID: id.AgentID,
		Status:  h.mgr.AgentStatus(id.AgentID),
	})
}

// SetStatus handles POST /api/agent/status
func (h *AgentActionsHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req types.AgentStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id := h.authn.IdentityFromRequest(r)
	ok, err := h.mgr.SetAgentStatus(r.Context(), id, req.Status)
	if err != nil && !ok {
		writeServiceError(w, err)
		return
	}
	if err != nil {
		// The status was stored; only the queue run behind it failed
		h.logger.Error().Err(err).Str("agent_id", id.AgentID).Msg("queue processing after status change failed")
	}
	if !ok {
		writeJSON(w, http.StatusForbidden, types.AgentStatusResponse{Success: false, AgentID: id.AgentID, Status: types.StatusOffline})
		return
	}

	writeJSON(w, http.StatusOK, types.AgentStatusResponse{
		Success: true,
		AgentID: id.AgentID,
		Status:  h.mgr.AgentStatus(id.AgentID),
	})
}

// Heartbeat handles POST /api/agent/heartbeat
func (h *AgentActionsHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	id := h.authn.IdentityFromRequest(r)
	if !id.Authorized {
		writeJSON(w, http.StatusForbidden, types.AgentStatusResponse{Success: false, AgentID: id.AgentID, Status: types.StatusOffline})
		return
	}

	status, err := h.mgr.AgentHeartbeat(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("agent_id", id.AgentID).Msg("queue processing after heartbeat failed")
	}
	writeJSON(w, http.StatusOK, types.AgentStatusResponse{Success: true, AgentID: id.AgentID, Status: status})
}

// Sessions handles GET /api/agent/sessions
func (h *AgentActionsHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	id := h.authn.IdentityFromRequest(r)
	if !id.Authorized {
		writeError(w, http.StatusForbidden, "agent role required")
		return
	}

	sessions, err := h.mgr.AgentSessions(r.Context(), id.AgentID)
	if err != nil {
		h.logger.Error().Err(err).Str("agent_id", id.AgentID).Msg("failed to list agent sessions")
		writeServiceError(w, err)
		return
	}
	if sessions == nil {
		sessions = []types.LiveSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// assignedSession loads the session and checks the caller is, or was, its agent
func (h *AgentActionsHandler) assignedSession(ctx context.Context, r *http.Request) (*types.LiveSession, types.AgentIdentity, error) {
	id := h.authn.IdentityFromRequest(r)
	if !id.Authorized {
		return nil, id, errNotYourSession
	}
	sessionID, err := sessionIDParam(r)
	if err != nil {
		return nil, id, err
	}
	sess, err := h.mgr.Session(ctx, sessionID)
	if err != nil {
		return nil, id, err
	}
	if sess.AgentID != id.AgentID && sess.HandledBy != id.AgentID {
		return nil, id, errNotYourSession
	}
	return sess, id, nil
}

func (h *AgentActionsHandler) writeAccessError(w http.ResponseWriter, err error) {
	if errors.Is(err, errNotYourSession) {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	writeServiceError(w, err)
}

// Messages handles GET /api/agent/sessions/{id}/messages?after=
func (h *AgentActionsHandler) Messages(w http.ResponseWriter, r *http.Request) {
	sess, _, err := h.assignedSession(r.Context(), r)
	if err != nil {
		h.writeAccessError(w, err)
		return
	}
	after, err := afterParam(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	msgs, err := h.mgr.Messages(r.Context(), sess.ID, after)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.MessagesResponse{Messages: msgs})
}

// Send handles POST /api/agent/sessions/{id}/messages
func (h *AgentActionsHandler) Send(w http.ResponseWriter, r *http.Request) {
	sess, id, err := h.assignedSession(r.Context(), r)
	if err != nil {
		h.writeAccessError(w, err)
		return
	}
	var req types.SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	msgID, err := h.mgr.SendMessage(r.Context(), sess.ID, types.SenderAgent, id.AgentID, req.Text)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.SendMessageResponse{Success: true, MessageID: msgID})
}

// End handles POST /api/agent/sessions/{id}/end
func (h *AgentActionsHandler) End(w http.ResponseWriter, r *http.Request) {
	sess, id, err := h.assignedSession(r.Context(), r)
	if err != nil {
		h.writeAccessError(w, err)
		return
	}

	ended, err := h.mgr.EndSession(r.Context(), sess.ID, types.EndedByAgent)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.logger.Info().
		Str("agent_id", id.AgentID).
		Int64("session_id", sess.ID).
		Msg("session ended by agent")
	writeJSON(w, http.StatusOK, endResponse(ended))
}
