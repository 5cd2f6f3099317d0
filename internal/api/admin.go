package api

import (
	"net/http"

	"github.com/dennisdiepolder/monti/handoff/internal/aggregator"
	"github.com/dennisdiepolder/monti/handoff/internal/handoff"
	"github.com/dennisdiepolder/monti/handoff/internal/storage"
	"github.com/dennisdiepolder/monti/handoff/internal/types"
	"github.com/rs/zerolog"
)

// AdminHandler serves the supervisor views: live queue, agents, forced
// session ends and the session archive.
type AdminHandler struct {
	mgr     *handoff.Manager
	agg     *aggregator.Aggregator
	archive storage.Archive
	logger  zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(mgr *handoff.Manager, agg *aggregator.Aggregator, archive storage.Archive, logger zerolog.Logger) *AdminHandler {
	if archive == nil {
		archive = storage.NewNoopArchive()
	}
	return &AdminHandler{
		mgr:     mgr,
		agg:     agg,
		archive: archive,
		logger:  logger.With().Str("component", "admin_api").Logger(),
	}
}

// overview runs a fresh aggregation cycle so the REST view never lags the push channel
func (h *AdminHandler) overview(r *http.Request) (*types.QueueSnapshot, error) {
	return h.agg.Cycle(r.Context())
}

// Queue handles GET /api/admin/queue
func (h *AdminHandler) Queue(w http.ResponseWriter, r *http.Request) {
	snap, err := h.overview(r)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to build queue overview")
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Agents handles GET /api/admin/agents
func (h *AdminHandler) Agents(w http.ResponseWriter, r *http.Request) {
	snap, err := h.overview(r)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to build queue overview")
		writeServiceError(w, err)
		return
	}
	agents := snap.OnlineAgents
	if agents == nil {
		agents = []types.OnlineAgent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

// EndSession handles POST /api/admin/sessions/{id}/end
func (h *AdminHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	sess, err := h.mgr.EndSession(r.Context(), id, types.EndedBySystem)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.logger.Info().Int64("session_id", id).Msg("session force-ended via admin")
	writeJSON(w, http.StatusOK, endResponse(sess))
}

// WipeArchive handles DELETE /api/admin/archive
func (h *AdminHandler) WipeArchive(w http.ResponseWriter, r *http.Request) {
	if err := h.archive.TruncateAll(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("failed to truncate archive")
		writeError(w, http.StatusInternalServerError, "failed to truncate archive")
		return
	}

	h.logger.Info().Msg("session archive truncated")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "session archive truncated",
	})
}
