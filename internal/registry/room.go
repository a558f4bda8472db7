// Package registry is the Room Registry (§4.2): the authoritative in-memory
// map of rooms, each owning its members and bounded message ring. This
// mirrors the teacher's service-per-entity layout, but a Registry holds its
// own state directly instead of delegating to a database.
package registry

import (
	"sync"
	"time"

	"github.com/clipshare/server/internal/models"
)

const (
	maxMessages = 100
	roomIdleTTL = 24 * time.Hour
)

// room is the registry's internal, mutable representation. Every exported
// Registry method that touches a room's fields takes its mutex first and
// never holds the registry-level map lock while doing so.
type room struct {
	mu sync.Mutex

	key          string
	createdAt    time.Time
	lastActivity time.Time
	passwordHash string
	pinned       bool
	state        models.RoomState

	members  map[string]*models.Member
	messages []models.Message

	shareAlias string
}

func newRoom(key string) *room {
	now := time.Now()
	return &room{
		key:          key,
		createdAt:    now,
		lastActivity: now,
		state:        models.RoomActive,
		members:      make(map[string]*models.Member),
	}
}

func (r *room) touch() { r.lastActivity = time.Now() }

// snapshotUsers returns a copy of all current members, safe to hand out.
func (r *room) snapshotUsers() []models.Member {
	out := make([]models.Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.Snapshot())
	}
	return out
}

// recentMessages returns up to the last maxMessages entries, oldest first.
func (r *room) recentMessages() []models.Message {
	out := make([]models.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

func (r *room) appendMessage(msg models.Message) {
	r.messages = append(r.messages, msg)
	if len(r.messages) > maxMessages {
		r.messages = r.messages[len(r.messages)-maxMessages:]
	}
}

// isDestroyCandidate reports the Janitor's eligibility test (§4.2): not
// pinned, no members, and idle past the TTL.
func (r *room) isDestroyCandidate(now time.Time) bool {
	return r.state == models.RoomActive &&
		!r.pinned &&
		len(r.members) == 0 &&
		now.Sub(r.lastActivity) > roomIdleTTL
}
