// Package gateway is the Session Gateway (§4.5): terminates websocket
// connections, mediates between them and the Registry/File Store/Share-Link
// Service, and mounts the REST surface over the same HTTP listener.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hibiken/asynq"
	"github.com/mileusna/useragent"
	"github.com/rs/zerolog/log"

	"github.com/clipshare/server/internal/errors"
	"github.com/clipshare/server/internal/filestore"
	"github.com/clipshare/server/internal/middleware"
	"github.com/clipshare/server/internal/models"
	"github.com/clipshare/server/internal/registry"
	"github.com/clipshare/server/internal/shareservice"
	"github.com/clipshare/server/internal/validation"
)

const disconnectGracePeriod = 30 * time.Second

const taskTypeLeaveAfterGrace = "gateway:leave_after_grace"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin enforcement happens at the CORS layer in front of the REST
	// surface; the websocket upgrade itself accepts any origin since the
	// protocol carries no credentials beyond the room password.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Gateway wires the Registry, File Store, and Share-Link Service to the
// outside world.
type Gateway struct {
	hub      *Hub
	registry *registry.Registry
	files    *filestore.Store
	shares   *shareservice.Service
	limiter  *middleware.Limiter
	baseURL  string

	asynqClient *asynq.Client
}

// New wires a Gateway around a Hub the caller already constructed — the Hub
// has to exist before the Registry and File Store, since both depend on it
// as their Broadcaster/RoomNotifier.
func New(hub *Hub, reg *registry.Registry, files *filestore.Store, shares *shareservice.Service, limiter *middleware.Limiter, redisAddr, baseURL string) *Gateway {
	return &Gateway{
		hub:         hub,
		registry:    reg,
		files:       files,
		shares:      shares,
		limiter:     limiter,
		baseURL:     baseURL,
		asynqClient: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr}),
	}
}

// AsynqMux returns the handler registration for the grace-period worker,
// to be run by a separate asynq.Server in internal/server.
func (g *Gateway) AsynqMux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(taskTypeLeaveAfterGrace, g.handleLeaveAfterGrace)
	return mux
}

type leaveTaskPayload struct {
	RoomKey string `json:"roomKey"`
	UserID  string `json:"userId"`
}

func (g *Gateway) handleLeaveAfterGrace(_ context.Context, t *asynq.Task) error {
	var p leaveTaskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return err
	}
	if g.registry.IsStillOffline(p.RoomKey, p.UserID) {
		_ = g.registry.Leave(p.RoomKey, p.UserID)
	}
	return nil
}

func (g *Gateway) scheduleLeave(roomKey, userID string) {
	payload, _ := json.Marshal(leaveTaskPayload{RoomKey: roomKey, UserID: userID})
	task := asynq.NewTask(taskTypeLeaveAfterGrace, payload)
	if _, err := g.asynqClient.Enqueue(task, asynq.ProcessIn(disconnectGracePeriod)); err != nil {
		log.Error().Err(err).Str("room_key", roomKey).Str("user_id", userID).Msg("failed to schedule deferred leave")
	}
}

// HandleWebSocket upgrades the request and runs the connection's lifecycle
// (§4.5 steps 1-5).
func (g *Gateway) HandleWebSocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := newConnection(uuid.NewString(), ws)
	deviceKind := classifyDevice(c.Request.UserAgent())

	go conn.writePump()
	g.readLoop(conn, deviceKind)
}

func classifyDevice(uaString string) models.DeviceKind {
	ua := useragent.Parse(uaString)
	switch {
	case ua.Mobile:
		return models.DeviceMobile
	case ua.Tablet:
		return models.DeviceTablet
	case ua.Desktop:
		return models.DeviceDesktop
	default:
		return models.DeviceUnknown
	}
}

// readLoop is the connection's read pump: every inbound frame is decoded as
// a clientEvent and dispatched. Disconnection triggers the grace-period
// leave (§4.5 step 5).
func (g *Gateway) readLoop(conn *connection, deviceKind models.DeviceKind) {
	defer conn.close()
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var in clientEvent
		if err := conn.ws.ReadJSON(&in); err != nil {
			break
		}
		g.dispatch(conn, deviceKind, in)
	}

	roomKey, userID, bound := conn.binding()
	if bound {
		g.hub.unsubscribe(roomKey, conn.id)
		g.registry.MarkOffline(roomKey, userID)
		g.scheduleLeave(roomKey, userID)
	}
}

// clientEvent is the wire shape of every client→server frame.
type clientEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func (g *Gateway) dispatch(conn *connection, deviceKind models.DeviceKind, in clientEvent) {
	roomKey, userID, bound := conn.binding()

	if !bound && in.Event != "joinRoom" && in.Event != "joinRoomWithPassword" {
		conn.enqueue("error", errors.New(errors.CodeUserNotInRoom, "join a room before sending other events").ToAPIError())
		return
	}

	cat, ok := eventCategory[in.Event]
	if ok && !g.limiter.AllowFor(cat, conn.id) {
		conn.enqueue("error", errors.New(errors.CodeRateLimited, "rate limit exceeded for this event").ToAPIError())
		return
	}

	switch in.Event {
	case "joinRoom", "joinRoomWithPassword":
		g.handleJoin(conn, deviceKind, in.Payload)
	case "leaveRoom":
		g.handleLeave(conn, roomKey, userID)
	case "sendMessage":
		g.handleSendMessage(conn, roomKey, userID, in.Payload)
	case "requestUserList":
		g.handleUserList(conn, roomKey)
	case "setRoomPassword":
		g.handleSetPassword(conn, roomKey, userID, in.Payload)
	case "shareRoomLink":
		g.handleShareRoomLink(conn, roomKey, userID, in.Payload)
	case "recallMessage":
		g.handleRecallMessage(conn, roomKey, userID, in.Payload)
	case "pinRoom":
		g.handlePinRoom(conn, roomKey, userID, in.Payload)
	case "p2pOffer", "p2pAnswer", "p2pIceCandidate":
		g.handleP2PSignal(conn, roomKey, userID, in.Event, in.Payload)
	default:
		conn.enqueue("error", errors.New(errors.CodeInvalidPayload, "unrecognized event").ToAPIError())
	}
}

var eventCategory = map[string]middleware.Category{
	"joinRoom":             middleware.CategoryEventJoin,
	"joinRoomWithPassword": middleware.CategoryEventJoin,
	"leaveRoom":            middleware.CategoryEventLeave,
	"sendMessage":          middleware.CategoryEventMessage,
	"requestUserList":      middleware.CategoryEventUserList,
	"setRoomPassword":      middleware.CategoryEventPassword,
	"shareRoomLink":        middleware.CategoryEventShare,
}

func decodePayload(raw json.RawMessage, v validation.Validatable) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.New(errors.CodeInvalidPayload, "malformed payload")
	}
	if err := v.Validate(); err != nil {
		return errors.New(errors.CodeInvalidPayload, err.Error())
	}
	return nil
}
