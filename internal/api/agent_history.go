package api

import (
	"net/http"
	"time"

	"github.com/dennisdiepolder/monti/handoff/internal/types"
	"github.com/go-chi/chi/v5"
)

// dateParam reads ?date=YYYY-MM-DD, defaulting to today (UTC)
func dateParam(r *http.Request) (string, bool) {
	date := r.URL.Query().Get("date")
	if date == "" {
		return time.Now().UTC().Format("2006-01-02"), true
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return "", false
	}
	return date, true
}

// History returns the archived sessions of a day
// GET /api/admin/history?date=YYYY-MM-DD
func (h *AdminHandler) History(w http.ResponseWriter, r *http.Request) {
	date, ok := dateParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	records, err := h.archive.GetSessionRecords(r.Context(), date)
	if err != nil {
		h.logger.Error().Err(err).Str("date", date).Msg("failed to get session records")
		writeError(w, http.StatusInternalServerError, "failed to retrieve history")
		return
	}
	if records == nil {
		records = []types.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// AgentSessions returns the archived sessions an agent handled on a day
// GET /api/admin/agents/{agentId}/sessions?date=YYYY-MM-DD
func (h *AdminHandler) AgentSessions(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "agentId is required")
		return
	}
	date, ok := dateParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	records, err := h.archive.GetAgentSessionsByDate(r.Context(), agentID, date)
	if err != nil {
		h.logger.Error().Err(err).
			Str("agent_id", agentID).
			Str("date", date).
			Msg("failed to get agent sessions")
		writeError(w, http.StatusInternalServerError, "failed to retrieve sessions")
		return
	}
	if records == nil {
		records = []types.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// AgentStats returns the agent's daily counters
// GET /api/admin/agents/{agentId}/stats
func (h *AdminHandler) AgentStats(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "agentId is required")
		return
	}

	stats, err := h.archive.GetAgentDailyStats(r.Context(), agentID)
	if err != nil {
		h.logger.Error().Err(err).Str("agent_id", agentID).Msg("failed to get agent daily stats")
		writeError(w, http.StatusInternalServerError, "failed to retrieve stats")
		return
	}
	if stats == nil {
		stats = []types.AgentDailyStats{}
	}
	writeJSON(w, http.StatusOK, stats)
}
