package api

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"

	"github.com/technosupport/guardcar/internal/events"
)

// ControlHandler publishes config messages toward the edge. The backend
// never mutates pipeline state itself; the edge answers every message on the
// response queue and the SSE stream carries the outcome back to the UI.
type ControlHandler struct {
	Bus Publisher
}

// RegisterProvider handles POST /api/register_provider.
func (h *ControlHandler) RegisterProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProviderName        string `json:"provider_name"`
		ConnectionIP        string `json:"connection_ip"`
		ServerCertification string `json:"server_certification"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ProviderName == "" || req.ConnectionIP == "" {
		writeError(w, http.StatusBadRequest, "provider_name and connection_ip are required")
		return
	}
	if _, err := base64.StdEncoding.DecodeString(req.ServerCertification); err != nil {
		writeError(w, http.StatusBadRequest, "server_certification must be base64 DER")
		return
	}

	msg := events.CloudProviderConfigMessage{
		ProviderName:        req.ProviderName,
		ConnectionIP:        req.ConnectionIP,
		ServerCertification: req.ServerCertification,
	}
	if err := h.Bus.Publish(events.CloudProviderConfigQueue, msg); err != nil {
		log.Printf("[API] provider config publish: %v", err)
		writeError(w, http.StatusBadGateway, "broker unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// DeleteProvider handles DELETE /api/delete_provider.
func (h *ControlHandler) DeleteProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProviderName string `json:"provider_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ProviderName == "" {
		writeError(w, http.StatusBadRequest, "provider_name is required")
		return
	}

	msg := events.CloudProviderConfigMessage{
		ProviderName: req.ProviderName,
		Delete:       true,
	}
	if err := h.Bus.Publish(events.CloudProviderConfigQueue, msg); err != nil {
		log.Printf("[API] provider delete publish: %v", err)
		writeError(w, http.StatusBadGateway, "broker unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// SuspicionConfig handles POST /api/suspicion_config. class_weights is
// optional; an absent map publishes empty exactly as received.
func (h *ControlHandler) SuspicionConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SuspicionLevel *int               `json:"suspicion_level"`
		ClassWeights   map[string]float64 `json:"class_weights"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.SuspicionLevel == nil {
		writeError(w, http.StatusBadRequest, "suspicion_level is required")
		return
	}
	if *req.SuspicionLevel < 0 || *req.SuspicionLevel > 100 {
		writeError(w, http.StatusBadRequest, "suspicion_level must be in [0,100]")
		return
	}

	msg := events.SuspicionConfigMessage{
		Threshold:    *req.SuspicionLevel,
		ClassWeights: req.ClassWeights,
	}
	if err := h.Bus.Publish(events.SuspicionConfigQueue, msg); err != nil {
		log.Printf("[API] suspicion config publish: %v", err)
		writeError(w, http.StatusBadGateway, "broker unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
