// Package relay implements the room-scoped signaling relay: every message a
// participant sends is forwarded to the other participants of its room.
package relay

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/1ureka/roomcall/internal/util"
)

const participantBuffer = 64 // per-participant outgoing message capacity

// participant is one connected WebSocket in a room.
type participant struct {
	id   string
	room string
	send chan []byte
}

// trySend enqueues data without blocking. Returns false if the buffer is full.
func (p *participant) trySend(data []byte) bool {
	select {
	case p.send <- data:
		return true
	default:
		return false
	}
}

// RoomInfo is the public view of a room.
type RoomInfo struct {
	Name         string `json:"name"`
	Participants int    `json:"participants"`
}

// Hub tracks rooms and their participants.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*participant
	log   util.Logger
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[string]*participant),
		log:   util.NewLogger("relay"),
	}
}

func (h *Hub) join(room string) *participant {
	p := &participant{
		id:   uuid.NewString(),
		room: room,
		send: make(chan []byte, participantBuffer),
	}

	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*participant)
		h.rooms[room] = members
	}
	members[p.id] = p
	n := len(members)
	h.mu.Unlock()

	h.log.With("room", room).With("participant", p.id).Info("joined (%d in room)", n)
	return p
}

// leave removes p from its room. An emptied room is deleted.
func (h *Hub) leave(p *participant) {
	h.mu.Lock()
	members, ok := h.rooms[p.room]
	if ok {
		delete(members, p.id)
		if len(members) == 0 {
			delete(h.rooms, p.room)
		}
	}
	h.mu.Unlock()

	if ok {
		h.log.With("room", p.room).With("participant", p.id).Info("left")
	}
}

// broadcast forwards data to every participant of from's room except from.
func (h *Hub) broadcast(from *participant, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, p := range h.rooms[from.room] {
		if id == from.id {
			continue
		}
		if !p.trySend(data) {
			h.log.With("room", p.room).With("participant", id).Warn("send buffer full, dropping message")
		}
	}
}

// Rooms lists the active rooms sorted by name.
func (h *Hub) Rooms() []RoomInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]RoomInfo, 0, len(h.rooms))
	for name, members := range h.rooms {
		out = append(out, RoomInfo{Name: name, Participants: len(members)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
