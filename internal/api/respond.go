package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dennisdiepolder/monti/handoff/internal/handoff"
	"github.com/go-chi/chi/v5"
)

// maxBodySize caps every JSON request body
const maxBodySize = 64 << 10

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg})
}

// decodeJSON reads a size-capped JSON body into v. On failure it writes 413
// or 400 and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusFor maps handoff errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, handoff.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, handoff.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, handoff.ErrSessionNotActive):
		return http.StatusConflict
	case errors.Is(err, handoff.ErrNotEnabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with its mapped status. Internal errors are
// not echoed to the caller.
func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, status, msg)
}

func sessionIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid session id", handoff.ErrInvalidInput)
	}
	return id, nil
}

// afterParam reads the message cursor; a missing cursor starts at the beginning
func afterParam(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("after")
	if raw == "" {
		return 0, nil
	}
	after, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || after < 0 {
		return 0, fmt.Errorf("%w: invalid cursor", handoff.ErrInvalidInput)
	}
	return after, nil
}
