// Package camera talks to the vehicle camera gateway: the plain-HTTP control
// API and the TLS framed-JPEG video socket.
package camera

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Status is the camera's recording status snapshot.
type Status struct {
	Recording       bool    `json:"recording"`
	Filename        string  `json:"filename,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Frames          int     `json:"frames,omitempty"`
}

// ControlClient drives the camera control HTTP API. Calls use a short timeout
// and are retried once; the camera is treated as eventually consistent, so a
// failed call never blocks the caller's state machine.
type ControlClient struct {
	baseURL string
	client  *http.Client
}

func NewControlClient(baseURL string, timeout time.Duration) *ControlClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &ControlClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// StartRecording POSTs /start. A 400 means the camera is already recording,
// which callers treat as success toward the desired state.
func (c *ControlClient) StartRecording(ctx context.Context) error {
	return c.post(ctx, "/start")
}

// StopRecording POSTs /stop. A 400 means the camera is already idle.
func (c *ControlClient) StopRecording(ctx context.Context) error {
	return c.post(ctx, "/stop")
}

func (c *ControlClient) post(ctx context.Context, path string) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusBadRequest {
			return nil
		}
		lastErr = fmt.Errorf("camera %s: status %d", path, resp.StatusCode)
	}
	return lastErr
}

// Status GETs /status.
func (c *ControlClient) Status(ctx context.Context) (*Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("camera /status: status %d", resp.StatusCode)
	}
	var s Status
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Healthy GETs /health and reports whether the camera answered ok.
func (c *ControlClient) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
