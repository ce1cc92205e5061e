// Package hub implements the status push channel: one fan-out point per
// task or batch ID, arbitrarily many websocket subscribers, near-zero cost
// while idle, and an explicit broadcast entry point.
package hub

import (
	"log/slog"
	"sync"
)

// Hub is a registry of per-ID topics. A topic with no connections is
// removed from the registry, so idle IDs cost nothing beyond map
// bookkeeping. There is no worker loop; broadcasts run on the caller's
// goroutine.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[*connection]struct{}
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[*connection]struct{}),
		logger: logger.With("component", "status_hub"),
	}
}

// attach registers a connection under the given ID.
func (h *Hub) attach(id string, conn *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[id]
	if !ok {
		subs = make(map[*connection]struct{})
		h.topics[id] = subs
	}
	subs[conn] = struct{}{}

	h.logger.Debug("connection attached", "id", id, "subscribers", len(subs))
}

// detach removes a connection and drops the topic when it empties.
func (h *Hub) detach(id string, conn *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[id]
	if !ok {
		return
	}
	delete(subs, conn)
	if len(subs) == 0 {
		delete(h.topics, id)
	}
}

// Broadcast delivers the payload to every connection attached under the
// given ID. A connection whose send fails is closed and dropped; there is
// no per-connection retry. Broadcasting to an ID with no subscribers is a
// no-op.
func (h *Hub) Broadcast(id string, payload any) {
	h.mu.Lock()
	subs := make([]*connection, 0, len(h.topics[id]))
	for conn := range h.topics[id] {
		subs = append(subs, conn)
	}
	h.mu.Unlock()

	for _, conn := range subs {
		if err := conn.send(payload); err != nil {
			h.logger.Debug("dropping subscriber after failed send",
				"id", id,
				"error", err)
			conn.close()
			h.detach(id, conn)
		}
	}
}

// Subscribers reports how many connections are attached under the ID.
func (h *Hub) Subscribers(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[id])
}
