// Package api is the backend's HTTP surface: the thin control endpoints that
// publish config messages toward the edge, the SSE event stream, the
// WebSocket camera stream, and the read endpoints over the state cache, the
// history store and the recordings vault.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/technosupport/guardcar/internal/data"
	"github.com/technosupport/guardcar/internal/live"
	"github.com/technosupport/guardcar/internal/metrics"
	"github.com/technosupport/guardcar/internal/middleware"
	"github.com/technosupport/guardcar/internal/vault"
)

// Publisher posts control messages onto the fabric.
type Publisher interface {
	Publish(queue string, v any) error
}

// Deps bundles everything the router mounts. Vault and History are optional;
// their endpoints 503 when absent.
type Deps struct {
	Bus     Publisher
	SSE     *live.SSEHub
	Frames  *live.FrameHub
	State   *live.StateCache
	History data.EventStore
	Vault   *vault.Vault

	// StreamMaxWidth caps the WebSocket frame width; zero means source size.
	StreamMaxWidth int
}

// NewRouter assembles the chi router.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.CORS)
	r.Use(middleware.Metrics)

	control := &ControlHandler{Bus: d.Bus}
	stream := &StreamHandler{SSE: d.SSE, Frames: d.Frames, MaxWidth: d.StreamMaxWidth}
	status := &StatusHandler{State: d.State, History: d.History}
	videos := &VideoHandler{Vault: d.Vault}

	r.Post("/api/register_provider", control.RegisterProvider)
	r.Delete("/api/delete_provider", control.DeleteProvider)
	r.Post("/api/suspicion_config", control.SuspicionConfig)

	r.Get("/api/sse", stream.ServeSSE)
	r.Get("/ws/video", stream.ServeVideoWS)

	r.Get("/api/status", status.GetStatus)
	r.Get("/api/events", status.ListEvents)
	r.Get("/api/recordings", status.ListRecordings)

	r.Post("/api/videos/upload", videos.Upload)
	r.Get("/api/videos", videos.List)
	r.Get("/api/videos/{id}", videos.Get)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	r.Handle("/metrics", metrics.Handler())

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
