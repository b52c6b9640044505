package live

import (
	"sync"

	"github.com/google/uuid"
)

// FrameHub broadcasts the latest mirrored camera frame to WebSocket viewers.
// Each subscriber holds a slot of one: a viewer that falls behind sees only
// the newest frame, never a backlog.
type FrameHub struct {
	mu   sync.Mutex
	subs map[uuid.UUID]chan []byte
}

func NewFrameHub() *FrameHub {
	return &FrameHub{subs: make(map[uuid.UUID]chan []byte)}
}

// Publish replaces each subscriber's pending frame with the new one.
func (h *FrameHub) Publish(jpeg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- jpeg:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- jpeg:
		default:
		}
	}
}

// Subscribe registers a viewer and returns its frame channel plus the
// unsubscribe func.
func (h *FrameHub) Subscribe() (<-chan []byte, func()) {
	id := uuid.New()
	ch := make(chan []byte, 1)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// Subscribers reports the connected viewer count.
func (h *FrameHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
