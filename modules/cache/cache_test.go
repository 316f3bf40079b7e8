package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// TestConfig for unit tests - requires Redis running on localhost:6379
const testRedisAddr = "localhost:6379"

// setupTestCache creates a cache instance for testing.
// Returns the cache and a cleanup function.
func setupTestCache(t *testing.T, prefix string) (*Cache, func()) {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: testRedisAddr,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}

	cleanupKeys(ctx, client, prefix+"*")

	cache := New(client, prefix, 5*time.Minute)

	cleanup := func() {
		cleanupKeys(ctx, client, prefix+"*")
		client.Close()
	}

	return cache, cleanup
}

// cleanupKeys removes all keys matching the pattern.
func cleanupKeys(ctx context.Context, client *redis.Client, pattern string) {
	var cursor uint64
	for {
		keys, nextCursor, err := client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return
		}
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
}

type testProfile struct {
	UserID   uint       `json:"user_id"`
	LastSeen *time.Time `json:"last_seen"`
}

func TestCache_SetGet(t *testing.T) {
	cache, cleanup := setupTestCache(t, "test:fanout:")
	defer cleanup()
	ctx := context.Background()

	seen := time.Now().UTC().Truncate(time.Second)
	stored := testProfile{UserID: 7, LastSeen: &seen}
	if err := cache.Set(ctx, ProfileKey(7), stored); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	var got testProfile
	found, err := cache.Get(ctx, ProfileKey(7), &got)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !found {
		t.Fatal("Get() missed a key that was just set")
	}
	if got.UserID != 7 || got.LastSeen == nil || !got.LastSeen.Equal(seen) {
		t.Errorf("Get() = %+v, want %+v", got, stored)
	}
}

func TestCache_GetMiss(t *testing.T) {
	cache, cleanup := setupTestCache(t, "test:fanout:")
	defer cleanup()

	var got testProfile
	found, err := cache.Get(context.Background(), ProfileKey(404), &got)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if found {
		t.Error("Get() reported a hit for a missing key")
	}
}

func TestCache_Delete(t *testing.T) {
	cache, cleanup := setupTestCache(t, "test:fanout:")
	defer cleanup()
	ctx := context.Background()

	for _, key := range []string{ConfirmedContactsKey(3), ConfirmedContactsKey(9)} {
		if err := cache.Set(ctx, key, []uint{1}); err != nil {
			t.Fatalf("Set() failed: %v", err)
		}
	}

	if err := cache.Delete(ctx, ConfirmedContactsKey(3), ConfirmedContactsKey(9)); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	for _, key := range []string{ConfirmedContactsKey(3), ConfirmedContactsKey(9)} {
		exists, err := cache.Exists(ctx, key)
		if err != nil {
			t.Fatalf("Exists() failed: %v", err)
		}
		if exists {
			t.Errorf("key %q survived Delete()", key)
		}
	}
}

func TestCache_DeleteNoKeys(t *testing.T) {
	cache, cleanup := setupTestCache(t, "test:fanout:")
	defer cleanup()

	if err := cache.Delete(context.Background()); err != nil {
		t.Errorf("Delete() with no keys failed: %v", err)
	}
}

func TestCache_TTL(t *testing.T) {
	cache, cleanup := setupTestCache(t, "test:fanout:")
	defer cleanup()
	ctx := context.Background()

	if err := cache.SetWithTTL(ctx, "ephemeral", "v", 1*time.Second); err != nil {
		t.Fatalf("SetWithTTL() failed: %v", err)
	}

	exists, err := cache.Exists(ctx, "ephemeral")
	if err != nil || !exists {
		t.Fatalf("Exists() = (%v, %v) right after set, want (true, nil)", exists, err)
	}

	time.Sleep(1500 * time.Millisecond)

	exists, err = cache.Exists(ctx, "ephemeral")
	if err != nil {
		t.Fatalf("Exists() failed: %v", err)
	}
	if exists {
		t.Error("key survived past its TTL")
	}
}

func TestCache_Stats(t *testing.T) {
	cache, cleanup := setupTestCache(t, "test:fanout:")
	defer cleanup()
	ctx := context.Background()
	cache.ResetStats()

	var got string
	cache.Get(ctx, "missing", &got) // miss
	cache.Set(ctx, "present", "v")
	cache.Get(ctx, "present", &got) // hit

	stats := cache.GetStats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v, want 1 hit and 1 miss", stats)
	}
}

func TestKeys(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{ProfileKey(7), "profile_7"},
		{ConfirmedContactsKey(7), "confirmed_contacts_7"},
		{ChatParticipantsKey(5), "chat_participants_5"},
		{UserChatsKey(7), "user_chats_7"},
		{AllChatsKey(7), "all_chats_7"},
		{GroupKey(2), "group_2"},
		{AllGroupsKey, "all_groups"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("key = %q, want %q", tt.got, tt.want)
		}
	}
}
