package realtime

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/authority"
)

// Hub fans session events out to connected admin clients. It satisfies
// authority.EventSink.
//
// Publish never blocks: a subscriber whose queue is full misses the event.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client

	dropped atomic.Uint64
}

var _ authority.EventSink = (*Hub)(nil)

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		clients: make(map[string]*Client),
	}
}

func (h *Hub) Subscribe(c *Client) {
	if h == nil || c == nil || c.ID == "" {
		return
	}
	h.mu.Lock()
	h.clients[c.ID] = c
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Info("realtime.subscriber.join", "client_id", c.ID, "account_id", c.AccountID, "subscribers", n)
}

// Unsubscribe removes the client before closing it, so no publisher still
// holds it once its goroutines begin tearing down.
func (h *Hub) Unsubscribe(id string) {
	if h == nil || id == "" {
		return
	}
	h.mu.Lock()
	c := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()

	if c != nil {
		c.Close()
		h.log.Info("realtime.subscriber.leave", "client_id", id, "account_id", c.AccountID)
	}
}

func (h *Hub) Publish(e authority.Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		select {
		case <-c.Done():
			continue
		default:
		}

		select {
		case c.Send <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers reports how many clients are connected.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped reports how many deliveries were skipped because a queue was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
