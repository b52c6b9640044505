package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/guardcar/internal/vault"
)

// maxUploadBytes caps a single recording upload.
const maxUploadBytes = 512 << 20

// VideoHandler serves the recordings catalog. The camera gateway uploads a
// closed segment after every recording completes.
type VideoHandler struct {
	Vault *vault.Vault
}

// Upload handles POST /api/videos/upload (multipart: file, title, camera_id,
// description?, location?, timestamp?).
func (h *VideoHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.Vault == nil {
		writeError(w, http.StatusServiceUnavailable, "recordings vault not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	title := r.FormValue("title")
	cameraID := r.FormValue("camera_id")
	if title == "" || cameraID == "" {
		writeError(w, http.StatusBadRequest, "title and camera_id are required")
		return
	}

	video, err := h.Vault.Upload(r.Context(), vault.UploadRequest{
		Title:       title,
		CameraID:    cameraID,
		Description: r.FormValue("description"),
		Location:    r.FormValue("location"),
		Timestamp:   r.FormValue("timestamp"),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		log.Printf("[API] video upload: %v", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"status":   "uploaded",
		"video_id": video.VideoID,
		"metadata": video,
	})
}

// List handles GET /api/videos.
func (h *VideoHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.Vault == nil {
		writeError(w, http.StatusServiceUnavailable, "recordings vault not configured")
		return
	}
	videos, err := h.Vault.List(r.Context())
	if err != nil {
		log.Printf("[API] video list: %v", err)
		writeError(w, http.StatusInternalServerError, "vault unavailable")
		return
	}
	if videos == nil {
		videos = []vault.Video{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"videos": videos})
}

// Get handles GET /api/videos/{id}.
func (h *VideoHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Vault == nil {
		writeError(w, http.StatusServiceUnavailable, "recordings vault not configured")
		return
	}
	id := chi.URLParam(r, "id")
	video, err := h.Vault.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			writeError(w, http.StatusNotFound, "video not found")
			return
		}
		log.Printf("[API] video get: %v", err)
		writeError(w, http.StatusInternalServerError, "vault unavailable")
		return
	}
	writeJSON(w, http.StatusOK, video)
}
