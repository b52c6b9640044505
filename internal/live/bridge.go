package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"

	"github.com/technosupport/guardcar/internal/data"
	"github.com/technosupport/guardcar/internal/events"
)

// Consumer is the slice of the event fabric the bridge attaches to.
type Consumer interface {
	Consume(queue, durable string, handler func(data []byte)) error
}

// Bridge decodes the four edge-to-backend queues and drives the hubs, the
// state cache and the history store. History is optional (nil when the
// backend runs without Postgres).
type Bridge struct {
	sse     *SSEHub
	frames  *FrameHub
	state   *StateCache
	history data.EventStore
}

func NewBridge(sse *SSEHub, frames *FrameHub, state *StateCache, history data.EventStore) *Bridge {
	return &Bridge{sse: sse, frames: frames, state: state, history: history}
}

// Attach wires one durable consumer per queue. The durable prefix keeps this
// backend's cursor across restarts.
func (b *Bridge) Attach(c Consumer) error {
	type binding struct {
		queue   string
		handler func(data []byte)
	}
	bindings := []binding{
		{events.SuspicionFrameQueue, b.onSuspicion},
		{events.RecordingStatusQueue, b.onRecording},
		{events.ResponseQueue, b.onResponse},
		{events.FrameQueue, b.onFrame},
	}
	for _, bind := range bindings {
		if err := c.Consume(bind.queue, "backend-"+events.Subject(bind.queue), bind.handler); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bridge) onSuspicion(raw []byte) {
	var msg events.SuspicionFrameMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("[Bridge] bad suspicion message: %v", err)
		return
	}
	ctx := context.Background()
	if b.state != nil {
		if err := b.state.SetScore(ctx, msg.SuspicionScore); err != nil {
			log.Printf("[Bridge] state cache: %v", err)
		}
	}
	if b.history != nil {
		if err := b.history.InsertSuspicion(ctx, msg.SuspicionScore); err != nil {
			log.Printf("[Bridge] suspicion history: %v", err)
		}
	}
	b.sse.Broadcast(EventSuspicion, msg)
}

func (b *Bridge) onRecording(raw []byte) {
	var msg events.RecordingStatusMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("[Bridge] bad recording message: %v", err)
		return
	}
	ctx := context.Background()
	if b.state != nil {
		if err := b.state.SetRecording(ctx, msg.Recording); err != nil {
			log.Printf("[Bridge] state cache: %v", err)
		}
	}
	if b.history != nil {
		if err := b.history.InsertRecording(ctx, msg.Recording); err != nil {
			log.Printf("[Bridge] recording history: %v", err)
		}
	}
	b.sse.Broadcast(EventRecording, msg)
}

func (b *Bridge) onResponse(raw []byte) {
	var msg events.ResponseMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("[Bridge] bad response message: %v", err)
		return
	}
	ctx := context.Background()
	if b.state != nil {
		if err := b.state.SetResponse(ctx, msg.Message); err != nil {
			log.Printf("[Bridge] state cache: %v", err)
		}
	}
	if b.history != nil {
		if err := b.history.InsertResponse(ctx, msg.Success, msg.Message, msg.RelatedTo); err != nil {
			log.Printf("[Bridge] response history: %v", err)
		}
	}
	kind := EventFailure
	if msg.Success {
		kind = EventSuccess
	}
	b.sse.Broadcast(kind, msg)
}

func (b *Bridge) onFrame(raw []byte) {
	var msg events.FrameMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("[Bridge] bad frame message: %v", err)
		return
	}
	jpeg, err := base64.StdEncoding.DecodeString(msg.JPEGBytes)
	if err != nil {
		log.Printf("[Bridge] bad frame payload: %v", err)
		return
	}
	b.frames.Publish(jpeg)
}
