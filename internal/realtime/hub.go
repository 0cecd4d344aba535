// Package realtime serves the live chat channels over websockets: an event
// socket with rooms (/socket) and a raw duplex channel (/ws/:client_id).
// Both answer questions through the same query pipeline as the REST API.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/tbourn/pdf-chat-backend/internal/events"
)

// Envelope is one frame on the event socket.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub tracks room membership of event socket clients.
//
// Rooms are free-form names chosen by clients. Domain events are delivered
// to the room named after their document id, and only to clients of the user
// the event belongs to.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*client]struct{})}
}

func (h *Hub) join(room string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[room]
	if members == nil {
		members = make(map[*client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leave(room string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(room, c)
}

// drop removes c from every room it joined.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range c.rooms {
		h.removeLocked(room, c)
	}
}

func (h *Hub) removeLocked(room string, c *client) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

// Size returns the number of members in room.
func (h *Hub) Size(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Publish implements events.Publisher. It never blocks on slow clients.
func (h *Hub) Publish(_ context.Context, e events.Event) error {
	if e.DocumentID == "" {
		return nil
	}
	data, err := json.Marshal(Envelope{Event: e.Type, Data: e})
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[e.DocumentID] {
		if c.userID == e.UserID {
			c.enqueue(data)
		}
	}
	return nil
}
