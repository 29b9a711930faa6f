// Package notify delivers per-address events: a durable mailbox of pending
// notifications and a live fan-out to connected clients.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

const subscriberBuffer = 16

type Event struct {
	Kind    string          `json:"kind"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SSE encodes the event as a server-sent event frame.
func (e Event) SSE() []byte {
	data, _ := json.Marshal(e)
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", e.Kind, data))
}

type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe streams events for address until ctx is done, then closes the
// returned channel.
func (h *Hub) Subscribe(ctx context.Context, address string) <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	if _, ok := h.subs[address]; !ok {
		h.subs[address] = make(map[chan Event]struct{})
	}
	h.subs[address][ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		if subscribers, ok := h.subs[address]; ok {
			delete(subscribers, ch)
			if len(subscribers) == 0 {
				delete(h.subs, address)
			}
		}
		h.mu.Unlock()
		close(ch)
	}()
	return ch
}

// Publish delivers event to every subscriber of each address. Slow
// subscribers drop events rather than block the publisher.
func (h *Hub) Publish(addresses []string, event Event) {
	if len(addresses) == 0 {
		return
	}
	unique := map[string]struct{}{}
	for _, address := range addresses {
		if address == "" {
			continue
		}
		unique[address] = struct{}{}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for address := range unique {
		for ch := range h.subs[address] {
			select {
			case ch <- event:
			default:
			}
		}
	}
}

func (h *Hub) Subscribers(address string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[address])
}
