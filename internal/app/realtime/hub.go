package realtime

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/metrics"
)

// Hub tracks the sockets attached to each project room and fans
// messages out to them.
type Hub struct {
	log zerolog.Logger

	mu    sync.RWMutex
	rooms map[string]*room
}

type room struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:   log.With().Str("component", "hub").Logger(),
		rooms: make(map[string]*room),
	}
}

// Join registers a client into the project's room, creating the room if
// absent.
func (h *Hub) Join(projectID string, c *Client) {
	h.mu.Lock()
	r, ok := h.rooms[projectID]
	if !ok {
		r = &room{clients: make(map[*Client]struct{})}
		h.rooms[projectID] = r
	}
	h.mu.Unlock()

	r.mu.Lock()
	r.clients[c] = struct{}{}
	r.mu.Unlock()
}

// Leave removes a client from its room. Empty rooms are retained; the
// per-room footprint is one map and the registry sweeper bounds the
// heavier project state.
func (h *Hub) Leave(projectID string, c *Client) {
	h.mu.RLock()
	r, ok := h.rooms[projectID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	r.mu.Lock()
	delete(r.clients, c)
	r.mu.Unlock()
}

// RoomSize returns the number of sockets in a project's room.
func (h *Hub) RoomSize(projectID string) int {
	h.mu.RLock()
	r, ok := h.rooms[projectID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Broadcast sends one serialized payload to every socket in the room,
// skipping except when non-nil. A failed or saturated socket is dropped
// individually and never aborts delivery to the rest of the room.
func (h *Hub) Broadcast(projectID string, payload []byte, except *Client) {
	h.mu.RLock()
	r, ok := h.rooms[projectID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	r.mu.RLock()
	targets := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		if c == except {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.trySend(payload) {
			delivered++
			continue
		}
		h.log.Warn().Str("project", projectID).Msg("dropping unresponsive client")
		c.close()
	}
	metrics.RecordBroadcast(delivered)
}
