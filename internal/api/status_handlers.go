package api

import (
	"log"
	"net/http"
	"strconv"

	"github.com/technosupport/guardcar/internal/data"
	"github.com/technosupport/guardcar/internal/live"
)

// StatusHandler serves the read endpoints over the state cache and the
// history store.
type StatusHandler struct {
	State   *live.StateCache
	History data.EventStore
}

// GetStatus handles GET /api/status.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.State == nil {
		writeError(w, http.StatusServiceUnavailable, "state cache not configured")
		return
	}
	status, err := h.State.Status(r.Context())
	if err != nil {
		log.Printf("[API] status: %v", err)
		writeError(w, http.StatusInternalServerError, "state cache unavailable")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ListEvents handles GET /api/events?limit=&offset=.
func (h *StatusHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		writeError(w, http.StatusServiceUnavailable, "event history not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	evts, err := h.History.ListEvents(r.Context(), limit, offset)
	if err != nil {
		log.Printf("[API] events: %v", err)
		writeError(w, http.StatusInternalServerError, "event history unavailable")
		return
	}
	if evts == nil {
		evts = []data.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evts})
}

// ListRecordings handles GET /api/recordings?limit=.
func (h *StatusHandler) ListRecordings(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		writeError(w, http.StatusServiceUnavailable, "event history not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	sessions, err := h.History.ListRecordings(r.Context(), limit)
	if err != nil {
		log.Printf("[API] recordings: %v", err)
		writeError(w, http.StatusInternalServerError, "event history unavailable")
		return
	}
	if sessions == nil {
		sessions = []data.RecordingSession{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"recordings": sessions})
}
