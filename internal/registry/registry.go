package registry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/clipshare/server/internal/errors"
	"github.com/clipshare/server/internal/models"
	"github.com/clipshare/server/internal/pwgen"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Broadcaster is the Session Gateway's fan-out surface. The Registry never
// touches a connection directly — it only ever describes, by room-key and
// event name, what other components must deliver (§4.5).
type Broadcaster interface {
	BroadcastToRoom(roomKey, event string, payload interface{}, excludeUserID string)
	SendToUser(roomKey, userID, event string, payload interface{})
}

// FileOwner lets the Registry check file ownership without importing the
// File Store package directly, keeping the dependency one-directional.
type FileOwner interface {
	OwnedByRoom(fileID, roomKey string) bool
}

// PasswordChangeKind is the closed sentinel resolving Open Question #2:
// the wire payload names one of three explicit modes instead of relying on
// "" / null / absent-field ambiguity.
type PasswordChangeKind int

const (
	PasswordNone PasswordChangeKind = iota
	PasswordRemove
	PasswordGenerate
	PasswordSet
)

// PasswordChange carries the actor's requested password mutation.
type PasswordChange struct {
	Kind      PasswordChangeKind
	Plaintext string // only meaningful when Kind == PasswordSet
}

// Registry is the authoritative in-memory room map (§3, §4.2).
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room

	broadcaster Broadcaster
	files       FileOwner
	serverSalt  string
	bcryptCost  int
}

func New(broadcaster Broadcaster, files FileOwner, serverSalt string, bcryptCost int) *Registry {
	return &Registry{
		rooms:       make(map[string]*room),
		broadcaster: broadcaster,
		files:       files,
		serverSalt:  serverSalt,
		bcryptCost:  bcryptCost,
	}
}

// getOrCreate returns the room for key, creating it if absent. Callers must
// not hold r.mu when calling methods on the returned room.
func (r *Registry) getOrCreate(key string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[key]
	if !ok {
		rm = newRoom(key)
		r.rooms[key] = rm
	}
	return rm
}

func (r *Registry) get(key string) (*room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[key]
	return rm, ok
}

// DeriveUserID computes the deterministic user-id for (fingerprintHash,
// roomKey) mixed with the server salt (§3), via uuid.NewSHA1 so the same
// triple always yields the same id without a lookup table.
func (r *Registry) DeriveUserID(fingerprintHash, roomKey string) string {
	name := fingerprintHash + "|" + roomKey + "|" + r.serverSalt
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))
	return id.String()
}

// JoinResult is what `join` hands back to the gateway (§4.2).
type JoinResult struct {
	Member         models.Member
	RoomState      models.RoomState
	RecentMessages []models.Message
}

// Join implements the `join` operation (§4.2).
func (r *Registry) Join(roomKey, fingerprintHash, displayName string, deviceKind models.DeviceKind, providedPassword string) (*JoinResult, error) {
	rm := r.getOrCreate(roomKey)

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.state != models.RoomActive {
		return nil, errors.New(errors.CodeRoomNotFound, "room is gone")
	}

	if rm.passwordHash != "" {
		if providedPassword == "" {
			return nil, errors.New(errors.CodePasswordRequired, "this room requires a password")
		}
		if bcrypt.CompareHashAndPassword([]byte(rm.passwordHash), []byte(providedPassword)) != nil {
			return nil, errors.New(errors.CodeInvalidPassword, "incorrect room password")
		}
	}

	userID := r.DeriveUserID(fingerprintHash, roomKey)

	member, existed := rm.members[userID]
	if existed {
		member.DisplayName = displayName
		member.DeviceKind = deviceKind
		member.Online = true
		member.LastSeen = time.Now()
	} else {
		member = &models.Member{
			UserID:          userID,
			RoomKey:         roomKey,
			DisplayName:     displayName,
			DeviceKind:      deviceKind,
			FingerprintHash: fingerprintHash,
			Online:          true,
			LastSeen:        time.Now(),
		}
		rm.members[userID] = member
	}
	rm.touch()

	result := &JoinResult{
		Member:         member.Snapshot(),
		RoomState:      rm.state,
		RecentMessages: rm.recentMessages(),
	}

	if !existed {
		r.broadcaster.BroadcastToRoom(roomKey, "userJoined", member.Snapshot(), userID)
	}
	return result, nil
}

// Leave implements the `leave` operation (§4.2).
func (r *Registry) Leave(roomKey, userID string) error {
	rm, ok := r.get(roomKey)
	if !ok {
		return errors.New(errors.CodeRoomNotFound, "room not found")
	}

	rm.mu.Lock()
	_, existed := rm.members[userID]
	delete(rm.members, userID)
	rm.touch()
	rm.mu.Unlock()

	if existed {
		r.broadcaster.BroadcastToRoom(roomKey, "userLeft", map[string]string{"userId": userID}, "")
	}
	return nil
}

// PostMessage implements `postMessage` (§4.2).
func (r *Registry) PostMessage(roomKey, senderUserID string, kind models.MessageKind, text string, file *models.FileInfo) (*models.Message, error) {
	rm, ok := r.get(roomKey)
	if !ok {
		return nil, errors.New(errors.CodeRoomNotFound, "room not found")
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	sender, ok := rm.members[senderUserID]
	if !ok {
		return nil, errors.New(errors.CodeUserNotInRoom, "sender is not a member of this room")
	}

	if kind == models.MessageFile {
		if file == nil || r.files == nil || !r.files.OwnedByRoom(file.FileID, roomKey) {
			return nil, errors.New(errors.CodeInvalidFileReference, "file does not belong to this room")
		}
	}

	msg := models.Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		Sender:    sender.Snapshot(),
		Timestamp: time.Now(),
		RoomKey:   roomKey,
		Text:      text,
		File:      file,
	}
	rm.appendMessage(msg)
	rm.touch()

	r.broadcaster.BroadcastToRoom(roomKey, "message", msg, "")
	return &msg, nil
}

// SetPassword implements `setPassword` (§4.2), resolving Open Question #2
// via the PasswordChange sentinel.
func (r *Registry) SetPassword(roomKey, actorUserID string, change PasswordChange) (plaintext string, err error) {
	rm, ok := r.get(roomKey)
	if !ok {
		return "", errors.New(errors.CodeRoomNotFound, "room not found")
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, ok := rm.members[actorUserID]; !ok {
		return "", errors.New(errors.CodeUserNotInRoom, "only a member may change the room password")
	}

	switch change.Kind {
	case PasswordRemove:
		rm.passwordHash = ""
	case PasswordGenerate, PasswordSet:
		pw := change.Plaintext
		if change.Kind == PasswordGenerate {
			generated, genErr := pwgen.Generate(6)
			if genErr != nil {
				return "", errors.Internal(genErr)
			}
			pw = generated
		}
		hash, hashErr := bcrypt.GenerateFromPassword([]byte(pw), r.bcryptCost)
		if hashErr != nil {
			return "", errors.Internal(hashErr)
		}
		rm.passwordHash = string(hash)
		plaintext = pw
	default:
		return "", errors.New(errors.CodeInvalidPayload, "unrecognized password change mode")
	}
	rm.touch()

	r.broadcaster.BroadcastToRoom(roomKey, "roomPasswordSet", map[string]bool{"hasPassword": rm.passwordHash != ""}, "")
	return plaintext, nil
}

// ShareLinkResult is the reply to `shareRoomLink`.
type ShareLinkResult struct {
	URL         string
	HasPassword bool
}

// ShareRoomLink implements `shareRoomLink` (§4.2). It never stores the
// plaintext password: the URL carries plaintextPassword as a query
// parameter only when the room currently has a password and
// plaintextPassword is non-empty, and it is sent only to the requesting
// actor. plaintextPassword is not checked against the stored hash.
func (r *Registry) ShareRoomLink(roomKey, actorUserID, baseURL, plaintextPassword string) (*ShareLinkResult, error) {
	rm, ok := r.get(roomKey)
	if !ok {
		return nil, errors.New(errors.CodeRoomNotFound, "room not found")
	}

	rm.mu.Lock()
	_, isMember := rm.members[actorUserID]
	hasPassword := rm.passwordHash != ""
	rm.mu.Unlock()

	if !isMember {
		return nil, errors.New(errors.CodeUserNotInRoom, "only a member may generate a room link")
	}

	url := fmt.Sprintf("%s/rooms/%s", strings.TrimSuffix(baseURL, "/"), roomKey)
	if hasPassword && plaintextPassword != "" {
		url = fmt.Sprintf("%s?password=%s", url, plaintextPassword)
	}

	result := &ShareLinkResult{URL: url, HasPassword: hasPassword}
	r.broadcaster.SendToUser(roomKey, actorUserID, "roomLinkGenerated", result)
	return result, nil
}

// PinRoom implements `pinRoom` (§4.2).
func (r *Registry) PinRoom(roomKey, actorUserID string, pinned bool) error {
	rm, ok := r.get(roomKey)
	if !ok {
		return errors.New(errors.CodeRoomNotFound, "room not found")
	}

	rm.mu.Lock()
	_, isMember := rm.members[actorUserID]
	if isMember {
		rm.pinned = pinned
		rm.touch()
	}
	rm.mu.Unlock()

	if !isMember {
		return errors.New(errors.CodeUserNotInRoom, "only a member may pin a room")
	}

	r.broadcaster.BroadcastToRoom(roomKey, "roomPinned", map[string]bool{"pinned": pinned}, "")
	return nil
}

// IsMember implements shareservice.RoomMembership: used to authorize share
// creation against the room that owns the referenced file.
func (r *Registry) IsMember(roomKey, userID string) bool {
	rm, ok := r.get(roomKey)
	if !ok {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	_, found := rm.members[userID]
	return found
}

// RecallMessage implements `recallMessage` (§4.2).
func (r *Registry) RecallMessage(roomKey, actorUserID, messageID string) error {
	rm, ok := r.get(roomKey)
	if !ok {
		return errors.New(errors.CodeRoomNotFound, "room not found")
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	idx := -1
	for i, m := range rm.messages {
		if m.ID == messageID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return errors.New(errors.CodeMessageNotFound, "message not found")
	}
	if rm.messages[idx].Sender.UserID != actorUserID {
		return errors.New(errors.CodeNotYourMessage, "only the sender may recall this message")
	}

	rm.messages = append(rm.messages[:idx], rm.messages[idx+1:]...)
	rm.touch()

	r.broadcaster.BroadcastToRoom(roomKey, "messageRecalled", map[string]string{"messageId": messageID}, "")
	return nil
}

// ListUsers implements `listUsers` (§4.2).
func (r *Registry) ListUsers(roomKey string) ([]models.Member, error) {
	rm, ok := r.get(roomKey)
	if !ok {
		return nil, errors.New(errors.CodeRoomNotFound, "room not found")
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.snapshotUsers(), nil
}

// RecentMessages returns up to limit of the most recent messages in
// roomKey (newest last), for the REST fallback path named in Open
// Question #1 (§9).
func (r *Registry) RecentMessages(roomKey string, limit int) ([]models.Message, error) {
	rm, ok := r.get(roomKey)
	if !ok {
		return nil, errors.New(errors.CodeRoomNotFound, "room not found")
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	all := rm.recentMessages()
	if limit <= 0 || limit > len(all) {
		return all, nil
	}
	return all[len(all)-limit:], nil
}

// RoomExists reports whether roomKey is currently registered.
func (r *Registry) RoomExists(roomKey string) bool {
	_, ok := r.get(roomKey)
	return ok
}

// ValidateUser implements `validateUser` (§4.2): an idempotent existence
// check used by clients reconnecting across restarts.
func (r *Registry) ValidateUser(roomKey, fingerprintHash string) bool {
	rm, ok := r.get(roomKey)
	if !ok {
		return false
	}
	userID := r.DeriveUserID(fingerprintHash, roomKey)
	rm.mu.Lock()
	defer rm.mu.Unlock()
	_, found := rm.members[userID]
	return found
}

// MarkOffline flips a member's online flag without removing it, used by the
// gateway immediately on disconnect, ahead of the grace-period Leave.
func (r *Registry) MarkOffline(roomKey, userID string) {
	rm, ok := r.get(roomKey)
	if !ok {
		return
	}
	rm.mu.Lock()
	if m, ok := rm.members[userID]; ok {
		m.Online = false
		m.LastSeen = time.Now()
	}
	rm.mu.Unlock()
}

// IsStillOffline reports whether userID remains absent or offline — used by
// the gateway's 30s-grace-period callback to decide whether a reconnect
// already rebound the member before invoking Leave.
func (r *Registry) IsStillOffline(roomKey, userID string) bool {
	rm, ok := r.get(roomKey)
	if !ok {
		return true
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	m, ok := rm.members[userID]
	return !ok || !m.Online
}
