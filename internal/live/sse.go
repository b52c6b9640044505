// Package live is the backend's fan-out layer: broker events to SSE
// subscribers, mirrored camera frames to WebSocket viewers, and the latest
// pipeline state in Redis for the status endpoint.
package live

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/technosupport/guardcar/internal/metrics"
)

// Event kinds on the SSE stream.
const (
	EventSuspicion = "suspicion"
	EventRecording = "recording"
	EventSuccess   = "success"
	EventFailure   = "failure"
)

// Event is one SSE payload: kind plus the JSON-encoded body.
type Event struct {
	Kind string
	Data []byte
}

// subscriberDepth bounds each subscriber's queue; a slow client loses the
// oldest events rather than stalling the hub.
const subscriberDepth = 1000

// SSEHub fans broker events out to every connected SSE client.
type SSEHub struct {
	mu   sync.Mutex
	subs map[uuid.UUID]chan Event
}

func NewSSEHub() *SSEHub {
	return &SSEHub{subs: make(map[uuid.UUID]chan Event)}
}

// Broadcast encodes payload and queues it for every subscriber, dropping the
// oldest pending event per subscriber on overflow.
func (h *SSEHub) Broadcast(kind string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[SSE] marshal %s event: %v", kind, err)
		return
	}
	ev := Event{Kind: kind, Data: data}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		for {
			select {
			case ch <- ev:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Subscribe registers a new client and returns its event channel plus the
// unsubscribe func.
func (h *SSEHub) Subscribe() (<-chan Event, func()) {
	id := uuid.New()
	ch := make(chan Event, subscriberDepth)

	h.mu.Lock()
	h.subs[id] = ch
	n := len(h.subs)
	h.mu.Unlock()
	metrics.SSEClients.Set(float64(n))

	return ch, func() {
		h.mu.Lock()
		delete(h.subs, id)
		n := len(h.subs)
		h.mu.Unlock()
		metrics.SSEClients.Set(float64(n))
	}
}

// Subscribers reports the connected client count.
func (h *SSEHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
