// Package invalidation evicts derived cache entries in response to store
// mutations. Evictions run synchronously on the mutation's commit path, so
// the dependency between a mutation and the views it makes stale is explicit
// in the registration table rather than hidden in implicit pub/sub hooks.
package invalidation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/example/chat-fanout-demo/domain/chat"
	"github.com/example/chat-fanout-demo/modules/cache"
)

// KeyDeleter is the subset of the cache used by the coordinator.
type KeyDeleter interface {
	Delete(ctx context.Context, keys ...string) error
}

// EvictionFunc maps a mutation to the cache keys it makes stale.
type EvictionFunc func(m chat.Mutation) []string

// Coordinator is the only writer allowed to evict derived cache entries
// outside of TTL expiry. It implements chat.MutationSink.
type Coordinator struct {
	mu            sync.RWMutex
	registrations map[chat.MutationKind][]EvictionFunc
	cache         KeyDeleter
	logger        *slog.Logger
}

var _ chat.MutationSink = (*Coordinator)(nil)

// NewCoordinator creates a coordinator with the default eviction table
// installed. deleter may be nil (no cache configured), in which case
// dispatches are no-ops.
func NewCoordinator(deleter KeyDeleter) *Coordinator {
	c := &Coordinator{
		registrations: make(map[chat.MutationKind][]EvictionFunc),
		cache:         deleter,
		logger:        slog.Default(),
	}
	c.installDefaults()
	return c
}

// SetCache sets the eviction target. Intended for wiring at startup,
// before mutations flow.
func (c *Coordinator) SetCache(deleter KeyDeleter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = deleter
}

// Register adds an eviction function for a mutation kind.
func (c *Coordinator) Register(kind chat.MutationKind, fn EvictionFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registrations[kind] = append(c.registrations[kind], fn)
}

// Dispatch evicts every key registered for the mutation. Cache errors are
// logged and swallowed: a missed eviction bounds staleness to the
// read-through TTL, it never fails the mutation.
func (c *Coordinator) Dispatch(ctx context.Context, m chat.Mutation) {
	c.mu.RLock()
	deleter := c.cache
	fns := c.registrations[m.Kind]
	c.mu.RUnlock()

	if deleter == nil {
		return
	}

	var keys []string
	for _, fn := range fns {
		keys = append(keys, fn(m)...)
	}
	if len(keys) == 0 {
		return
	}

	if err := deleter.Delete(ctx, keys...); err != nil {
		c.logger.Warn("cache eviction failed",
			"mutation", m.Kind.String(),
			"keys", keys,
			"error", err)
	}
}

// installDefaults wires the mutation kinds to the derived views they
// invalidate.
func (c *Coordinator) installDefaults() {
	profileKeys := func(m chat.Mutation) []string {
		keys := make([]string, 0, len(m.UserIDs))
		for _, uid := range m.UserIDs {
			keys = append(keys, cache.ProfileKey(uid))
		}
		return keys
	}
	c.Register(chat.MutationProfileSaved, profileKeys)
	c.Register(chat.MutationProfileDeleted, profileKeys)
	c.Register(chat.MutationPresenceTouched, profileKeys)

	contactKeys := func(m chat.Mutation) []string {
		keys := make([]string, 0, len(m.UserIDs))
		for _, uid := range m.UserIDs {
			keys = append(keys, cache.ConfirmedContactsKey(uid))
		}
		return keys
	}
	c.Register(chat.MutationConnectionSaved, contactKeys)
	c.Register(chat.MutationConnectionDeleted, contactKeys)

	participantKeys := func(m chat.Mutation) []string {
		keys := []string{cache.ChatParticipantsKey(m.ChatID)}
		for _, uid := range m.UserIDs {
			keys = append(keys, cache.UserChatsKey(uid), cache.AllChatsKey(uid))
		}
		return keys
	}
	c.Register(chat.MutationParticipantAdded, participantKeys)
	c.Register(chat.MutationParticipantRemoved, participantKeys)

	chatKeys := func(m chat.Mutation) []string {
		keys := []string{cache.AllGroupsKey}
		if m.GroupID != 0 {
			keys = append(keys, cache.GroupKey(m.GroupID))
		}
		if m.ChatID != 0 {
			keys = append(keys, cache.ChatParticipantsKey(m.ChatID))
		}
		for _, uid := range m.UserIDs {
			keys = append(keys, cache.UserChatsKey(uid), cache.AllChatsKey(uid))
		}
		return keys
	}
	c.Register(chat.MutationChatSaved, chatKeys)
	c.Register(chat.MutationChatDeleted, chatKeys)
}
