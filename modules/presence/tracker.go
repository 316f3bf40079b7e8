package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-monolith/mono"
	"golang.org/x/sync/singleflight"

	"github.com/example/chat-fanout-demo/domain/chat"
	"github.com/example/chat-fanout-demo/events"
	"github.com/example/chat-fanout-demo/modules/cache"
)

// OnlineWindow is how recently a user must have been seen to count as
// online. A last-seen timestamp exactly this old counts as offline.
const OnlineWindow = 5 * time.Minute

const (
	defaultQueueSize   = 1024
	defaultWorkerCount = 4
)

// Store is the persistence surface the tracker needs.
type Store interface {
	TouchPresence(ctx context.Context, userID uint, at time.Time) error
	GetProfile(ctx context.Context, userID uint) (*chat.Profile, error)
}

// ProfileCache is the cache surface the tracker needs.
type ProfileCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
}

// Status is a point-in-time presence answer for one user.
type Status struct {
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type cachedProfile struct {
	UserID        uint       `json:"user_id"`
	StatusMessage string     `json:"status_message"`
	LastSeen      *time.Time `json:"last_seen"`
}

// Tracker records activity touches and answers presence queries. Touches
// are absorbed through a bounded queue drained by a fixed worker pool, so
// the socket read loop never blocks on the database. When the queue is
// full the touch is dropped; the next touch from the same user repairs
// the staleness.
type Tracker struct {
	store    Store
	cache    ProfileCache
	eventBus mono.EventBus
	group    singleflight.Group
	logger   *slog.Logger
	now      func() time.Time
	touches  chan touch
	workers  int
	dropped  atomic.Uint64
	wg       sync.WaitGroup
	once     sync.Once
}

type touch struct {
	userID uint
	at     time.Time
}

// NewTracker creates a tracker with the default queue and worker sizes.
func NewTracker(store Store, profileCache ProfileCache) *Tracker {
	return &Tracker{
		store:   store,
		cache:   profileCache,
		logger:  slog.Default(),
		now:     time.Now,
		touches: make(chan touch, defaultQueueSize),
		workers: defaultWorkerCount,
	}
}

// SetEventBus sets the bus PresenceTouched events are published on.
// Optional.
func (t *Tracker) SetEventBus(bus mono.EventBus) {
	t.eventBus = bus
}

// Start launches the touch workers.
func (t *Tracker) Start() {
	for i := 0; i < t.workers; i++ {
		t.wg.Add(1)
		go t.worker()
	}
}

// Stop closes the queue and waits for the workers to drain it.
func (t *Tracker) Stop() {
	t.once.Do(func() {
		close(t.touches)
	})
	t.wg.Wait()
}

// Touch records activity for a user. Never blocks: if the queue is full
// the touch is counted as dropped and discarded.
func (t *Tracker) Touch(userID uint) {
	select {
	case t.touches <- touch{userID: userID, at: t.now()}:
	default:
		t.dropped.Add(1)
	}
}

// Dropped returns the number of touches discarded on a full queue.
func (t *Tracker) Dropped() uint64 {
	return t.dropped.Load()
}

// QueueDepth returns the number of touches waiting for a worker.
func (t *Tracker) QueueDepth() int {
	return len(t.touches)
}

func (t *Tracker) worker() {
	defer t.wg.Done()
	for tc := range t.touches {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := t.store.TouchPresence(ctx, tc.userID, tc.at); err != nil {
			t.logger.Error("failed to record presence touch", "userID", tc.userID, "error", err)
			cancel()
			continue
		}
		cancel()

		if t.eventBus != nil {
			event := events.PresenceTouchedEvent{UserID: tc.userID, Timestamp: tc.at}
			if err := events.PresenceTouchedV1.Publish(t.eventBus, event, nil); err != nil {
				t.logger.Warn("failed to publish PresenceTouched event", "userID", tc.userID, "error", err)
			}
		}
	}
}

// Status answers whether a user is currently online. Reads through the
// profile cache; on a cache error or miss it falls back to the store and
// repopulates the cache. Concurrent lookups for the same user are
// collapsed into one store read.
func (t *Tracker) Status(ctx context.Context, userID uint) (Status, error) {
	key := cache.ProfileKey(userID)

	if t.cache != nil {
		var cached cachedProfile
		found, err := t.cache.Get(ctx, key, &cached)
		if err != nil {
			t.logger.Warn("profile cache read failed, falling back to store", "userID", userID, "error", err)
		} else if found {
			return t.statusFrom(cached.LastSeen), nil
		}
	}

	result, err, _ := t.group.Do(key, func() (any, error) {
		profile, err := t.store.GetProfile(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load profile: %w", err)
		}
		var cached cachedProfile
		cached.UserID = userID
		if profile != nil {
			cached.StatusMessage = profile.StatusMessage
			cached.LastSeen = profile.LastSeen
		}
		if t.cache != nil {
			if err := t.cache.Set(ctx, key, cached); err != nil {
				t.logger.Warn("profile cache write failed", "userID", userID, "error", err)
			}
		}
		return cached, nil
	})
	if err != nil {
		return Status{}, err
	}

	return t.statusFrom(result.(cachedProfile).LastSeen), nil
}

func (t *Tracker) statusFrom(lastSeen *time.Time) Status {
	if lastSeen == nil {
		return Status{Online: false}
	}
	seen := *lastSeen
	return Status{
		Online:   t.now().Sub(seen) < OnlineWindow,
		LastSeen: &seen,
	}
}
