package registry

import (
	"time"

	"github.com/clipshare/server/internal/models"
)

// RoomDestroyer is implemented by components that own resources scoped to a
// room and must be told when the room is gone (§4.2 destruction cascade).
type RoomDestroyer interface {
	// RevokeOwnedShares revokes every share-link created from files in
	// roomKey. Revocation is best-effort and never blocks room destruction.
	RevokeOwnedShares(roomKey string)
	// DeleteOwnedFiles deletes every file blob owned by roomKey and
	// returns their file-ids, for the roomDestroyed event payload.
	DeleteOwnedFiles(roomKey string) []string
}

// Sweep runs one Janitor pass (§4.2): destroy any room that is not pinned,
// has no members, and has been idle for more than 24h. Intended to be
// invoked every 60s by the cron scheduler.
func (r *Registry) Sweep(destroyer RoomDestroyer) {
	now := time.Now()

	r.mu.Lock()
	all := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		all = append(all, rm)
	}
	r.mu.Unlock()

	candidates := make([]*room, 0)
	for _, rm := range all {
		rm.mu.Lock()
		eligible := rm.isDestroyCandidate(now)
		if eligible {
			rm.state = models.RoomDestroying
			candidates = append(candidates, rm)
		}
		rm.mu.Unlock()
	}

	for _, rm := range candidates {
		r.destroy(rm, destroyer)
	}
}

// destroy runs the cascade ordering from §4.2: revoke shares, delete files,
// notify subscribers, then remove the room from the registry.
func (r *Registry) destroy(rm *room, destroyer RoomDestroyer) {
	roomKey := rm.key

	if destroyer != nil {
		destroyer.RevokeOwnedShares(roomKey)
	}

	var deletedFileIDs []string
	if destroyer != nil {
		deletedFileIDs = destroyer.DeleteOwnedFiles(roomKey)
	}

	r.broadcaster.BroadcastToRoom(roomKey, "roomDestroyed", map[string]interface{}{
		"roomKey":        roomKey,
		"deletedFileIds": deletedFileIDs,
	}, "")

	rm.mu.Lock()
	rm.state = models.RoomGone
	rm.mu.Unlock()

	r.mu.Lock()
	delete(r.rooms, roomKey)
	r.mu.Unlock()
}
