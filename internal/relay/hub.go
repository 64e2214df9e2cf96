package relay

import (
	"context"
	"errors"
	"sync"
)

// subscriberBufferSize is the channel buffer for each hub subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// ErrUnknownToken is returned by Hub.Publish for a token with no subscriber.
var ErrUnknownToken = errors.New("unknown subscriber token")

// Hub is an in-process Publisher that plays the relay's role for clients
// connected directly to this server. It is safe for concurrent use.
type Hub struct {
	mu   sync.Mutex
	subs map[string]chan Event
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]chan Event),
	}
}

// Subscribe returns the channel that receives events addressed to token and
// an unsubscribe function. The channel is closed when the stream-end event
// is published to token.
func (h *Hub) Subscribe(token string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, subscriberBufferSize)
	h.subs[token] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if cur, ok := h.subs[token]; ok && cur == ch {
			delete(h.subs, token)
		}
	}
}

// Publish delivers ev to token's subscriber. A stream-end event closes the
// subscriber channel instead of being queued.
func (h *Hub) Publish(_ context.Context, token string, ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.subs[token]
	if !ok {
		return ErrUnknownToken
	}

	if ev.Name == EventStreamEnd {
		delete(h.subs, token)
		close(ch)
		return nil
	}

	select {
	case ch <- ev:
	default:
		// Drop for slow subscribers rather than block the sender.
		hubDropped.Inc()
	}
	return nil
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
