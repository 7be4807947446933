package emit

import (
	"context"
	"sync"

	"github.com/pcmlabs/alertwatch/internal/alert"
)

// Hub fans change events out to in-process subscribers on a
// best-effort basis; publish never blocks. It is a side channel next to
// the synchronous sinks, never the only path an event travels.
type Hub struct {
	mu          sync.RWMutex
	nextID      int64
	subscribers map[int64]chan alert.Event
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[int64]chan alert.Event),
	}
}

// Subscribe registers a buffered channel and returns it together with
// an unsubscribe func. Unsubscribing closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan alert.Event, func()) {
	if h == nil {
		ch := make(chan alert.Event)
		close(ch)
		return ch, func() {}
	}
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan alert.Event, buffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subscribers[id] = ch
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		current, ok := h.subscribers[id]
		if ok {
			delete(h.subscribers, id)
		}
		h.mu.Unlock()
		if ok {
			close(current)
		}
	}
	return ch, unsubscribe
}

// Emit publishes the event to every subscriber, dropping it for any
// subscriber whose buffer is full.
func (h *Hub) Emit(_ context.Context, event alert.Event) error {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subscribers {
		select {
		case sub <- event:
		default:
			// Slow subscriber; it will catch up on the next event.
		}
	}
	return nil
}
