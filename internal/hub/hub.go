package hub

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/zaliubovskiy/chatrelay/pkg/log"
)

// MembershipToken is the opaque handle returned by Join and consumed by
// the matching Leave. The zero value is not a membership.
type MembershipToken struct {
	roomID string
	id     string
}

// Registry tracks which live connections belong to which room and fans
// frames out to them. It is injected into every session; tests
// substitute a fake, and a pub/sub backend can be swapped in for
// multi-process deployments later.
type Registry interface {
	// Join registers a client under a room. Re-joining the same client
	// replaces its prior membership and returns a fresh token.
	Join(roomID string, client *Client) MembershipToken

	// Leave removes the membership. Safe to call any number of times;
	// an already-removed or zero token is a no-op.
	Leave(token MembershipToken)

	// Broadcast delivers the frame to every client currently joined to
	// the room, the originator included. Delivery is best-effort per
	// client: one stale handle never aborts the rest, and failures are
	// logged, never returned.
	Broadcast(roomID string, frame interface{})
}

// Hub is the in-process Registry. It is the only shared-mutable-state
// structure in the system; every method is safe under arbitrary
// concurrent invocation from independent sessions.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]*Client
	members map[*Client]MembershipToken
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[string]map[string]*Client),
		members: make(map[*Client]MembershipToken),
	}
}

// Join registers a client under a room and returns its membership token.
func (h *Hub) Join(roomID string, client *Client) MembershipToken {
	token := MembershipToken{roomID: roomID, id: uuid.New().String()}

	h.mu.Lock()
	if prior, ok := h.members[client]; ok {
		h.removeLocked(prior)
	}
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[string]*Client)
	}
	h.rooms[roomID][token.id] = client
	h.members[client] = token
	h.mu.Unlock()

	l := log.L()
	l.Info().Str(log.FieldClientID, client.ID).Str(log.FieldRoomID, roomID).Msg("client joined room")
	return token
}

// Leave removes a membership. Idempotent: a second call with the same
// token, or a zero token, does nothing.
func (h *Hub) Leave(token MembershipToken) {
	if token.id == "" {
		return
	}

	h.mu.Lock()
	removed := h.removeLocked(token)
	h.mu.Unlock()

	if removed {
		l := log.L()
		l.Info().Str(log.FieldRoomID, token.roomID).Msg("client left room")
	}
}

func (h *Hub) removeLocked(token MembershipToken) bool {
	clients, ok := h.rooms[token.roomID]
	if !ok {
		return false
	}
	client, ok := clients[token.id]
	if !ok {
		return false
	}
	delete(clients, token.id)
	if len(clients) == 0 {
		delete(h.rooms, token.roomID)
	}
	if h.members[client] == token {
		delete(h.members, client)
	}
	return true
}

// Broadcast fans the frame out to every client joined to the room.
func (h *Hub) Broadcast(roomID string, frame interface{}) {
	data, err := json.Marshal(frame)
	if err != nil {
		l := log.L()
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to marshal broadcast frame")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.rooms[roomID] {
		if err := client.enqueue(data); err != nil {
			// Stale or saturated handle; delivery is best-effort.
			l := log.L()
			l.Warn().Err(err).Str(log.FieldClientID, client.ID).Str(log.FieldRoomID, roomID).Msg("dropped broadcast to client")
		}
	}
}

// RoomSize reports how many clients are joined to a room.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
