package fanout

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
)

// Room key builders. Keys follow the channel group names of the chat
// backend: one group per chat room plus one per-user notifications group.
func GroupRoomKey(chatID uint) string {
	return fmt.Sprintf("chat_%d", chatID)
}

// PrivateRoomKey returns the room key of a private chat.
func PrivateRoomKey(chatID uint) string {
	return fmt.Sprintf("private_chat_%d", chatID)
}

// NotificationsRoomKey returns the per-user notifications room key.
func NotificationsRoomKey(userID uint) string {
	return fmt.Sprintf("notifications_%d", userID)
}

// shardCount spreads rooms across independent locks so broadcasts in one
// room never contend with registrations in another.
const shardCount = 16

// Registration is the handle returned by Register and consumed by
// Deregister.
type Registration struct {
	roomKey string
	session *Session
}

// Session returns the registered session.
func (r *Registration) Session() *Session {
	return r.session
}

// Registry maps room keys to the sessions currently connected to them. It
// is a liveness index only: absence of a room here never implies the room
// does not exist in the store.
type Registry struct {
	shards [shardCount]*registryShard
	logger *slog.Logger
}

type registryShard struct {
	mu    sync.RWMutex
	rooms map[string]map[*Session]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{logger: slog.Default()}
	for i := range r.shards {
		r.shards[i] = &registryShard{rooms: make(map[string]map[*Session]struct{})}
	}
	return r
}

func (r *Registry) shardFor(roomKey string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(roomKey))
	return r.shards[h.Sum32()%shardCount]
}

// Register subscribes an authenticated session to a room, creating the room
// entry lazily. It reports false when the session is not in the
// Authenticated state.
func (r *Registry) Register(roomKey string, session *Session) (*Registration, bool) {
	shard := r.shardFor(roomKey)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if !session.subscribe(roomKey) {
		return nil, false
	}

	if shard.rooms[roomKey] == nil {
		shard.rooms[roomKey] = make(map[*Session]struct{})
	}
	shard.rooms[roomKey][session] = struct{}{}
	return &Registration{roomKey: roomKey, session: session}, true
}

// Deregister removes a session from its room and garbage-collects the room
// entry when it becomes empty. Idempotent, and safe to call concurrently
// with a broadcast targeting the same session.
func (r *Registry) Deregister(reg *Registration) {
	if reg == nil {
		return
	}

	shard := r.shardFor(reg.roomKey)
	shard.mu.Lock()
	sessions, ok := shard.rooms[reg.roomKey]
	if ok {
		delete(sessions, reg.session)
		if len(sessions) == 0 {
			delete(shard.rooms, reg.roomKey)
		}
	}
	shard.mu.Unlock()

	reg.session.Close()
}

// Broadcast delivers a payload to every session currently registered in the
// room and returns the delivered count. Delivery to a session that
// disconnects mid-iteration is a no-op; it never aborts delivery to the
// remaining sessions.
func (r *Registry) Broadcast(roomKey string, payload []byte) int {
	shard := r.shardFor(roomKey)

	shard.mu.RLock()
	sessions := make([]*Session, 0, len(shard.rooms[roomKey]))
	for session := range shard.rooms[roomKey] {
		sessions = append(sessions, session)
	}
	shard.mu.RUnlock()

	delivered := 0
	for _, session := range sessions {
		if session.Enqueue(payload) {
			delivered++
		} else {
			r.logger.Debug("skipped delivery to session",
				"sessionID", session.ID(),
				"room", roomKey,
				"state", session.State().String())
		}
	}
	return delivered
}

// RoomCount returns the number of sessions registered in a room.
func (r *Registry) RoomCount(roomKey string) int {
	shard := r.shardFor(roomKey)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	return len(shard.rooms[roomKey])
}

// Rooms returns the total number of rooms with at least one session.
func (r *Registry) Rooms() int {
	total := 0
	for _, shard := range r.shards {
		shard.mu.RLock()
		total += len(shard.rooms)
		shard.mu.RUnlock()
	}
	return total
}

// SessionCount returns the total number of registered sessions.
func (r *Registry) SessionCount() int {
	total := 0
	for _, shard := range r.shards {
		shard.mu.RLock()
		for _, sessions := range shard.rooms {
			total += len(sessions)
		}
		shard.mu.RUnlock()
	}
	return total
}
