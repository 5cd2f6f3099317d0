package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/dennisdiepolder/monti/handoff/internal/handoff"
	"github.com/dennisdiepolder/monti/handoff/internal/types"
	"github.com/rs/zerolog"
)

// VisitorHandler serves the chat widget. The chat token is the visitor's
// only credential; a token that does not own a session sees 404.
type VisitorHandler struct {
	mgr    *handoff.Manager
	logger zerolog.Logger
}

// NewVisitorHandler creates a new VisitorHandler
func NewVisitorHandler(mgr *handoff.Manager, logger zerolog.Logger) *VisitorHandler {
	return &VisitorHandler{
		mgr:    mgr,
		logger: logger.With().Str("component", "visitor_api").Logger(),
	}
}

// RequestHandoff handles POST /api/handoff
func (h *VisitorHandler) RequestHandoff(w http.ResponseWriter, r *http.Request) {
	var req types.HandoffRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.mgr.RequestHandoff(r.Context(), req.ConversationRef, req.VisitorID, req.ChatToken)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result.Response())
	case errors.Is(err, handoff.ErrNoAgents), errors.Is(err, handoff.ErrNoAgentsAvailable):
		// Expected outcome for the widget, shown to the visitor as is
		writeJSON(w, http.StatusOK, types.HandoffResponse{Success: false, Message: h.mgr.OfflineMessage()})
	case errors.Is(err, handoff.ErrNotEnabled):
		writeJSON(w, http.StatusServiceUnavailable, types.HandoffResponse{Success: false, Message: err.Error()})
	default:
		if statusFor(err) == http.StatusInternalServerError {
			h.logger.Error().Err(err).Msg("handoff request failed")
		}
		writeServiceError(w, err)
	}
}

// Status handles GET /api/handoff/status?chatToken=
func (h *VisitorHandler) Status(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("chatToken")
	if token == "" {
		writeError(w, http.StatusBadRequest, "chatToken is required")
		return
	}

	resp, err := h.mgr.PollStatus(r.Context(), token)
	if err != nil {
		h.logger.Error().Err(err).Msg("status poll failed")
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Check handles POST /api/handoff/check. The widget asks after every
// assistant reply whether to offer a live agent.
func (h *VisitorHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req types.CheckRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp := types.CheckResponse{
		Negative:       h.mgr.IsNegativeAIResult(req.Text),
		HandoffEnabled: h.mgr.Settings().Enabled,
	}
	if resp.HandoffEnabled {
		available, err := h.mgr.AgentsAvailable(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		resp.AgentsAvailable = available
	}
	writeJSON(w, http.StatusOK, resp)
}

// ownedSession loads the session and checks that token owns it
func (h *VisitorHandler) ownedSession(ctx context.Context, id int64, token string) (*types.LiveSession, error) {
	if token == "" {
		return nil, handoff.ErrSessionNotFound
	}
	sess, err := h.mgr.Session(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.ChatToken != token {
		return nil, handoff.ErrSessionNotFound
	}
	return sess, nil
}

// Messages handles GET /api/sessions/{id}/messages?chatToken=&after=
func (h *VisitorHandler) Messages(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	after, err := afterParam(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if _, err := h.ownedSession(r.Context(), id, r.URL.Query().Get("chatToken")); err != nil {
		writeServiceError(w, err)
		return
	}

	msgs, err := h.mgr.Messages(r.Context(), id, after)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.MessagesResponse{Messages: msgs})
}

// Send handles POST /api/sessions/{id}/messages
func (h *VisitorHandler) Send(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	var req types.SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := h.ownedSession(r.Context(), id, req.ChatToken)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	msgID, err := h.mgr.SendMessage(r.Context(), id, types.SenderUser, sess.VisitorID, req.Text)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.SendMessageResponse{Success: true, MessageID: msgID})
}

// End handles POST /api/sessions/{id}/end
func (h *VisitorHandler) End(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	var req types.EndSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := h.ownedSession(r.Context(), id, req.ChatToken); err != nil {
		writeServiceError(w, err)
		return
	}

	sess, err := h.mgr.EndSession(r.Context(), id, types.EndedByUser)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, endResponse(sess))
}

func endResponse(sess *types.LiveSession) types.EndSessionResponse {
	return types.EndSessionResponse{
		Success:   true,
		SessionID: sess.ID,
		Status:    sess.Status,
		EndedBy:   sess.EndedBy,
	}
}
