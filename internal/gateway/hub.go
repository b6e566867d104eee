package gateway

import (
	"encoding/json"
	"sync"

	"github.com/gofiber/websocket/v2"

	"marketplace_chat/internal/chat/domain"
	"marketplace_chat/pkg/logger"
)

// Client is one authenticated websocket connection. The write mutex
// prevents interleaved frames when room broadcasts and direct replies
// race.
type Client struct {
	conn *websocket.Conn

	UserID int64
	Role   domain.SenderType
	Name   string

	writeMu sync.Mutex
}

// Send writes one event envelope to the client.
func (c *Client) Send(event string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(domain.Envelope{Event: event, Data: raw})
}

// Hub tracks which clients are joined to which conversation rooms.
// Joins are idempotent so replayed join requests after a client
// reconnect are harmless.
type Hub struct {
	mu    sync.RWMutex
	rooms map[int64]map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[int64]map[*Client]struct{})}
}

// Join adds the client to a room.
func (h *Hub) Join(roomID int64, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]struct{})
	}
	h.rooms[roomID][c] = struct{}{}
}

// Leave removes the client from a room, pruning empty rooms.
func (h *Hub) Leave(roomID int64, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[roomID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// LeaveAll removes the client from every room it joined.
func (h *Hub) LeaveAll(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for roomID, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// Broadcast sends an event to every member of a room. except may be nil
// to include the originating client, which is how message echoes reach
// the sender.
func (h *Hub) Broadcast(roomID int64, event string, data interface{}, except *Client) {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		if c != except {
			members = append(members, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range members {
		if err := c.Send(event, data); err != nil {
			logger.Log.Warn("broadcast write failed: " + err.Error())
		}
	}
}
