package gateway

import "sync"

// Hub tracks which connections are currently subscribed to which room, so
// the Registry can broadcast by room-key without knowing about sockets
// (§3: "Session Gateway holds weak references to Rooms... and to
// per-connection membership"). It implements registry.Broadcaster and
// filestore.RoomNotifier, so it's constructed before them and handed in.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*connection // roomKey -> connId -> connection
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]*connection)}
}

func (h *Hub) subscribe(roomKey string, c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[roomKey]
	if !ok {
		members = make(map[string]*connection)
		h.rooms[roomKey] = members
	}
	members[c.id] = c
}

func (h *Hub) unsubscribe(roomKey string, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[roomKey]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, roomKey)
		}
	}
}

func (h *Hub) connectionsFor(roomKey string) []*connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.rooms[roomKey]
	out := make([]*connection, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// BroadcastToRoom implements registry.Broadcaster. `message` events must
// never be silently dropped, so they use the blocking enqueue; everything
// else uses the drop-oldest policy.
func (h *Hub) BroadcastToRoom(roomKey, event string, payload interface{}, excludeUserID string) {
	for _, c := range h.connectionsFor(roomKey) {
		_, userID, _ := c.binding()
		if excludeUserID != "" && userID == excludeUserID {
			continue
		}
		if event == "message" {
			c.enqueueBlocking(event, payload)
		} else {
			c.enqueue(event, payload)
		}
	}
}

// SendToUser implements registry.Broadcaster for single-recipient events
// (e.g. `roomLinkGenerated`, P2P signalling pass-through).
func (h *Hub) SendToUser(roomKey, userID, event string, payload interface{}) {
	for _, c := range h.connectionsFor(roomKey) {
		_, uid, _ := c.binding()
		if uid == userID {
			c.enqueue(event, payload)
		}
	}
}

// NotifyRoom implements filestore.RoomNotifier (`file_expired` on GC).
func (h *Hub) NotifyRoom(roomKey, systemKind string, payload interface{}) {
	h.BroadcastToRoom(roomKey, "systemMessage", map[string]interface{}{
		"kind": systemKind,
		"data": payload,
	}, "")
}
