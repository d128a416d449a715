package engine

import "sync"

// Hub fans out room change notifications to in-process subscribers. Each
// subscriber holds at most one pending version; a slow reader only ever
// sees the latest.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan int64]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: map[string]map[chan int64]struct{}{}}
}

// Subscribe returns a channel receiving the version of every write to the
// room, and a cancel func that closes it. A deleted room publishes 0.
func (h *Hub) Subscribe(roomID string) (<-chan int64, func()) {
	ch := make(chan int64, 1)
	h.mu.Lock()
	if h.subs[roomID] == nil {
		h.subs[roomID] = map[chan int64]struct{}{}
	}
	h.subs[roomID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[roomID], ch)
			if len(h.subs[roomID]) == 0 {
				delete(h.subs, roomID)
			}
			close(ch)
		})
	}
}

// Publish notifies every subscriber of roomID.
func (h *Hub) Publish(roomID string, version int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[roomID] {
		select {
		case <-ch:
		default:
		}
		ch <- version
	}
}

// Subscribers returns how many watchers a room has.
func (h *Hub) Subscribers(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[roomID])
}
