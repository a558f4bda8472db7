package gateway

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/clipshare/server/internal/errors"
	"github.com/clipshare/server/internal/models"
	"github.com/clipshare/server/internal/registry"
	"github.com/clipshare/server/internal/validation"
)

func (g *Gateway) fail(conn *connection, err error) {
	apiErr, ok := errors.As(err)
	if !ok {
		log.Error().Err(err).Msg("unhandled internal error in gateway dispatch")
		apiErr = errors.Internal(err)
	}
	conn.enqueue("error", apiErr.ToAPIError())
}

func (g *Gateway) handleJoin(conn *connection, deviceKind models.DeviceKind, raw json.RawMessage) {
	var p validation.JoinRoomPayload
	if err := decodePayload(raw, &p); err != nil {
		g.fail(conn, err)
		return
	}

	result, err := g.registry.Join(p.RoomKey, p.Fingerprint, p.DisplayName, deviceKind, p.Password)
	if err != nil {
		g.fail(conn, err)
		return
	}

	conn.bind(p.RoomKey, result.Member.UserID, deviceKind, p.Fingerprint)
	g.hub.subscribe(p.RoomKey, conn)

	users, _ := g.registry.ListUsers(p.RoomKey)
	conn.enqueue("userList", users)
	conn.enqueue("messageHistory", result.RecentMessages)
}

func (g *Gateway) handleLeave(conn *connection, roomKey, userID string) {
	if err := g.registry.Leave(roomKey, userID); err != nil {
		g.fail(conn, err)
		return
	}
	g.hub.unsubscribe(roomKey, conn.id)
	conn.bind("", "", "", "")
}

func (g *Gateway) handleSendMessage(conn *connection, roomKey, userID string, raw json.RawMessage) {
	var p validation.SendMessagePayload
	if err := decodePayload(raw, &p); err != nil {
		g.fail(conn, err)
		return
	}

	kind := models.MessageText
	var file *models.FileInfo
	if p.FileID != "" {
		kind = models.MessageFile
		blob, err := g.files.Get(p.FileID)
		if err != nil {
			g.fail(conn, err)
			return
		}
		file = &models.FileInfo{
			FileID:       blob.FileID,
			Name:         blob.OriginalName,
			Size:         blob.Size,
			MimeType:     blob.MimeType,
			LastModified: blob.CreatedAt,
		}
	}

	if _, err := g.registry.PostMessage(roomKey, userID, kind, p.Text, file); err != nil {
		g.fail(conn, err)
	}
}

func (g *Gateway) handleUserList(conn *connection, roomKey string) {
	users, err := g.registry.ListUsers(roomKey)
	if err != nil {
		g.fail(conn, err)
		return
	}
	conn.enqueue("userList", users)
}

func (g *Gateway) handleSetPassword(conn *connection, roomKey, userID string, raw json.RawMessage) {
	var p validation.SetRoomPasswordPayload
	if err := decodePayload(raw, &p); err != nil {
		g.fail(conn, err)
		return
	}

	change := toPasswordChange(p)
	plaintext, err := g.registry.SetPassword(roomKey, userID, change)
	if err != nil {
		g.fail(conn, err)
		return
	}
	if plaintext != "" {
		conn.enqueue("roomPasswordSet", map[string]string{"password": plaintext})
	}
}

func toPasswordChange(p validation.SetRoomPasswordPayload) registry.PasswordChange {
	switch p.Mode {
	case "remove":
		return registry.PasswordChange{Kind: registry.PasswordRemove}
	case "generate":
		return registry.PasswordChange{Kind: registry.PasswordGenerate}
	default:
		return registry.PasswordChange{Kind: registry.PasswordSet, Plaintext: p.Plaintext}
	}
}

func (g *Gateway) handleShareRoomLink(conn *connection, roomKey, userID string, raw json.RawMessage) {
	var p validation.ShareRoomLinkPayload
	if err := decodePayload(raw, &p); err != nil {
		g.fail(conn, err)
		return
	}
	if _, err := g.registry.ShareRoomLink(roomKey, userID, g.baseURL, ""); err != nil {
		g.fail(conn, err)
	}
}

func (g *Gateway) handleRecallMessage(conn *connection, roomKey, userID string, raw json.RawMessage) {
	var p validation.RecallMessagePayload
	if err := decodePayload(raw, &p); err != nil {
		g.fail(conn, err)
		return
	}
	if err := g.registry.RecallMessage(roomKey, userID, p.MessageID); err != nil {
		g.fail(conn, err)
	}
}

func (g *Gateway) handlePinRoom(conn *connection, roomKey, userID string, raw json.RawMessage) {
	var p validation.PinRoomPayload
	if err := decodePayload(raw, &p); err != nil {
		g.fail(conn, err)
		return
	}
	if err := g.registry.PinRoom(roomKey, userID, p.Pinned); err != nil {
		g.fail(conn, err)
	}
}

// handleP2PSignal routes WebRTC negotiation payloads to a named recipient
// without inspecting them further (§4.5).
func (g *Gateway) handleP2PSignal(conn *connection, roomKey, userID, event string, raw json.RawMessage) {
	var p validation.P2PSignalPayload
	if err := decodePayload(raw, &p); err != nil {
		g.fail(conn, err)
		return
	}
	if !g.registry.IsMember(roomKey, p.ToUserID) {
		g.fail(conn, errors.New(errors.CodeUserNotInRoom, "recipient is not a member of this room"))
		return
	}
	g.hub.SendToUser(roomKey, p.ToUserID, event, map[string]interface{}{
		"fromUserId": userID,
		"signal":     p.Signal,
	})
}
