// Package pipeline is the frame pump: it reads the camera's framed-JPEG TLS
// stream and pushes every frame through mirror publish, detection routing,
// score publish and the recording controller, one frame in flight at a time.
package pipeline

import (
	"context"
	"encoding/base64"
	"log"
	"time"

	"github.com/technosupport/guardcar/internal/camera"
	"github.com/technosupport/guardcar/internal/detect"
	"github.com/technosupport/guardcar/internal/events"
	"github.com/technosupport/guardcar/internal/metrics"
	"github.com/technosupport/guardcar/internal/recording"
	"github.com/technosupport/guardcar/internal/router"
)

// Bus is the slice of the event fabric the pump publishes through. Frame and
// score messages go out non-blocking; stale ones are dropped.
type Bus interface {
	TryPublish(queue string, v any)
}

const redialWait = 2 * time.Second

// Pump owns the camera session loop. One Pump per edge process.
type Pump struct {
	addr     string
	router   *router.Router
	recorder *recording.Controller
	bus      Bus
	dial     func(addr string, timeout time.Duration) (*camera.VideoStream, error)
	frameID  uint64
	deadline time.Duration
}

func NewPump(addr string, r *router.Router, rec *recording.Controller, bus Bus) *Pump {
	return &Pump{
		addr:     addr,
		router:   r,
		recorder: rec,
		bus:      bus,
		dial:     camera.DialVideo,
		deadline: time.Second,
	}
}

// Run dials the camera and processes frames until ctx is cancelled. A read
// error ends the session and the loop redials; nothing inside a session ever
// escapes the per-frame handling.
func (p *Pump) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		stream, err := p.dial(p.addr, 5*time.Second)
		if err != nil {
			log.Printf("[Pump] camera dial failed: %v, retrying in %s", err, redialWait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(redialWait):
			}
			continue
		}

		log.Printf("[Pump] camera session open: %s", p.addr)
		p.session(ctx, stream)
		stream.Close()
		log.Printf("[Pump] camera session ended")
	}
}

func (p *Pump) session(ctx context.Context, stream *camera.VideoStream) {
	// Close the socket when ctx dies so ReadFrame unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
		case <-done:
		}
	}()

	for {
		jpeg, err := stream.ReadFrame()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[Pump] read: %v", err)
			}
			return
		}
		metrics.FramesReceivedTotal.Inc()
		p.handleFrame(ctx, jpeg)
	}
}

// handleFrame runs the per-frame pipeline. Any failure after the mirror
// publish logs and skips to the next frame.
func (p *Pump) handleFrame(ctx context.Context, jpegBytes []byte) {
	p.frameID++
	frame := &detect.Frame{
		ID:         p.frameID,
		JPEG:       jpegBytes,
		CapturedAt: time.Now(),
	}

	// Mirror first so the UI sees the frame even when detection chokes on it.
	p.bus.TryPublish(events.FrameQueue, events.FrameMessage{
		JPEGBytes: base64.StdEncoding.EncodeToString(jpegBytes),
	})

	if _, err := frame.DecodeImage(); err != nil {
		log.Printf("[Pump] frame %d: bad JPEG: %v", frame.ID, err)
		metrics.FramesSkippedTotal.Inc()
		return
	}

	frameCtx, cancel := context.WithTimeout(ctx, p.deadline)
	score, _, err := p.router.Process(frameCtx, frame)
	cancel()
	if err != nil {
		log.Printf("[Pump] frame %d: %v", frame.ID, err)
		metrics.FramesSkippedTotal.Inc()
		return
	}

	metrics.FramesProcessedTotal.Inc()
	metrics.SuspicionScore.Set(score)
	metrics.SetBreakerState(int(p.router.Breaker().State()))

	p.bus.TryPublish(events.SuspicionFrameQueue, events.SuspicionFrameMessage{
		SuspicionScore: score,
	})
	p.recorder.Observe(ctx, score)
}
