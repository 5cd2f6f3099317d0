package api

import (
	"net/http"
)

// Roster handles GET /api/admin/roster: every candidate agent with its
// effective presence, including those currently offline.
func (h *AdminHandler) Roster(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mgr.Roster())
}
