// Package recording turns the per-frame suspicion score into camera
// start/stop commands, edge-triggered against the stored state so steady
// scores never spam the camera.
package recording

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/technosupport/guardcar/internal/events"
	"github.com/technosupport/guardcar/internal/metrics"
)

// CameraControl is the slice of the camera control API the controller needs.
type CameraControl interface {
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) error
}

// Publisher posts recording-state transitions to the event fabric.
type Publisher interface {
	Publish(queue string, v any) error
}

// Controller is the two-state machine: idle until the score reaches the
// threshold, recording until it falls below it. HTTP failures are logged but
// never revert the state; the camera is eventually consistent.
type Controller struct {
	camera CameraControl
	pub    Publisher

	mu             sync.Mutex
	threshold      int
	recording      bool
	lastTransition time.Time
}

func NewController(camera CameraControl, pub Publisher, threshold int) *Controller {
	return &Controller{
		camera:    camera,
		pub:       pub,
		threshold: clampThreshold(threshold),
	}
}

func clampThreshold(t int) int {
	if t < 0 {
		return 0
	}
	if t > 100 {
		return 100
	}
	return t
}

// SetThreshold hot-reloads the threshold, clamped to [0,100]. The next frame
// re-evaluates against the new value.
func (c *Controller) SetThreshold(t int) {
	c.mu.Lock()
	c.threshold = clampThreshold(t)
	c.mu.Unlock()
}

// Threshold returns the current threshold.
func (c *Controller) Threshold() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threshold
}

// Recording reports the stored machine state.
func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// Observe feeds one score through the machine. Start fires on score >=
// threshold, stop on score < threshold, each exactly once per crossing.
func (c *Controller) Observe(ctx context.Context, score float64) {
	c.mu.Lock()
	threshold := float64(c.threshold)
	wasRecording := c.recording
	var start, stop bool
	if !wasRecording && score >= threshold {
		c.recording = true
		c.lastTransition = time.Now()
		start = true
	} else if wasRecording && score < threshold {
		c.recording = false
		c.lastTransition = time.Now()
		stop = true
	}
	c.mu.Unlock()

	switch {
	case start:
		log.Printf("[Recording] score %.1f >= %d, starting", score, c.Threshold())
		if err := c.camera.StartRecording(ctx); err != nil {
			log.Printf("[Recording] start failed: %v", err)
		}
		metrics.RecordingTransitionsTotal.WithLabelValues("start").Inc()
		metrics.SetRecording(true)
		c.publish(true)
	case stop:
		log.Printf("[Recording] score %.1f < %d, stopping", score, c.Threshold())
		if err := c.camera.StopRecording(ctx); err != nil {
			log.Printf("[Recording] stop failed: %v", err)
		}
		metrics.RecordingTransitionsTotal.WithLabelValues("stop").Inc()
		metrics.SetRecording(false)
		c.publish(false)
	}
}

func (c *Controller) publish(recording bool) {
	if c.pub == nil {
		return
	}
	msg := events.RecordingStatusMessage{Recording: recording}
	if err := c.pub.Publish(events.RecordingStatusQueue, msg); err != nil {
		log.Printf("[Recording] status publish failed: %v", err)
	}
}
