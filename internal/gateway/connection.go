package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/clipshare/server/internal/models"
)

// outboundQueueSize bounds the per-connection fan-out buffer (§4.5). A slow
// consumer drops its oldest queued event rather than stall the room, except
// for `message`, which must back-pressure the sender instead (the hub
// sends those through enqueueBlocking, which waits for room in this queue).
const outboundQueueSize = 64

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// envelope is the wire shape of every server→client event.
type envelope struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// connection is one accepted websocket, bound to at most one (roomKey,
// userId) pair at a time (§4.5 step 3).
type connection struct {
	id   string
	ws   *websocket.Conn
	send chan envelope

	mu          sync.Mutex
	roomKey     string
	userID      string
	deviceKind  models.DeviceKind
	fingerprint string

	closeOnce sync.Once
	done      chan struct{}
}

func newConnection(id string, ws *websocket.Conn) *connection {
	return &connection{
		id:   id,
		ws:   ws,
		send: make(chan envelope, outboundQueueSize),
		done: make(chan struct{}),
	}
}

func (c *connection) bind(roomKey, userID string, deviceKind models.DeviceKind, fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomKey = roomKey
	c.userID = userID
	c.deviceKind = deviceKind
	c.fingerprint = fingerprint
}

func (c *connection) binding() (roomKey, userID string, bound bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomKey, c.userID, c.roomKey != "" && c.userID != ""
}

// enqueue drops the oldest queued event on overflow, per the fan-out
// back-pressure policy — callers that must never drop (plain `message`
// fan-out) use enqueueBlocking instead.
func (c *connection) enqueue(event string, payload interface{}) {
	select {
	case c.send <- envelope{Event: event, Payload: payload}:
	default:
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- envelope{Event: event, Payload: payload}:
		default:
		}
	}
}

// enqueueBlocking applies back-pressure instead of dropping — used only for
// `message` fan-out per §4.5.
func (c *connection) enqueueBlocking(event string, payload interface{}) {
	select {
	case c.send <- envelope{Event: event, Payload: payload}:
	case <-c.done:
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// writePump drains c.send to the socket and keeps the connection alive with
// periodic pings, mirroring the teacher pack's read/write-pump split for
// bridging a blocking I/O object with goroutine-safe fan-in.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Str("connection_id", c.id).Msg("write failed, closing connection")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
