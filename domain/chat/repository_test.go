package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// recordingSink captures dispatched mutations.
type recordingSink struct {
	mutations []Mutation
}

func (s *recordingSink) Dispatch(_ context.Context, m Mutation) {
	s.mutations = append(s.mutations, m)
}

func (s *recordingSink) last(t *testing.T) Mutation {
	t.Helper()
	if len(s.mutations) == 0 {
		t.Fatal("no mutation dispatched")
	}
	return s.mutations[len(s.mutations)-1]
}

func setupRepo(t *testing.T) (*Repository, *recordingSink) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sink := &recordingSink{}
	repo := NewRepository(db, sink)
	if err := repo.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return repo, sink
}

func TestRepository_GroupChatLifecycle(t *testing.T) {
	repo, sink := setupRepo(t)
	ctx := context.Background()

	gc := &GroupChat{Name: "general", GroupID: 2}
	if err := repo.CreateGroupChat(ctx, gc); err != nil {
		t.Fatalf("CreateGroupChat() failed: %v", err)
	}
	if gc.ID == 0 {
		t.Fatal("CreateGroupChat() did not assign an ID")
	}
	if m := sink.last(t); m.Kind != MutationChatSaved || m.ChatID != gc.ID || m.GroupID != 2 {
		t.Errorf("dispatched %+v, want ChatSaved for chat %d group 2", m, gc.ID)
	}

	got, err := repo.GetGroupChat(ctx, gc.ID)
	if err != nil {
		t.Fatalf("GetGroupChat() failed: %v", err)
	}
	if got == nil || got.Name != "general" {
		t.Errorf("GetGroupChat() = %+v, want name %q", got, "general")
	}

	if err := repo.AddParticipant(ctx, gc.ID, 7, ""); err != nil {
		t.Fatalf("AddParticipant() failed: %v", err)
	}
	if err := repo.AddParticipant(ctx, gc.ID, 8, RoleAdmin); err != nil {
		t.Fatalf("AddParticipant() failed: %v", err)
	}

	if err := repo.DeleteGroupChat(ctx, gc.ID); err != nil {
		t.Fatalf("DeleteGroupChat() failed: %v", err)
	}
	m := sink.last(t)
	if m.Kind != MutationChatDeleted || len(m.UserIDs) != 2 {
		t.Errorf("dispatched %+v, want ChatDeleted carrying both participants", m)
	}

	got, err = repo.GetGroupChat(ctx, gc.ID)
	if err != nil {
		t.Fatalf("GetGroupChat() after delete failed: %v", err)
	}
	if got != nil {
		t.Errorf("GetGroupChat() after delete = %+v, want nil", got)
	}
}

func TestRepository_GetMissingReturnsNilNil(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	if got, err := repo.GetGroupChat(ctx, 404); err != nil || got != nil {
		t.Errorf("GetGroupChat(404) = (%+v, %v), want (nil, nil)", got, err)
	}
	if got, err := repo.GetPrivateChat(ctx, 404); err != nil || got != nil {
		t.Errorf("GetPrivateChat(404) = (%+v, %v), want (nil, nil)", got, err)
	}
	if got, err := repo.GetProfile(ctx, 404); err != nil || got != nil {
		t.Errorf("GetProfile(404) = (%+v, %v), want (nil, nil)", got, err)
	}
}

func TestRepository_Messages(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	gc := &GroupChat{Name: "general"}
	if err := repo.CreateGroupChat(ctx, gc); err != nil {
		t.Fatalf("CreateGroupChat() failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		msg := &Message{Content: "hi", SenderID: 7, GroupChatID: &gc.ID, CreatedAt: time.Now()}
		if err := repo.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("CreateMessage() failed: %v", err)
		}
	}

	messages, err := repo.ListMessages(ctx, gc.ID, 2)
	if err != nil {
		t.Fatalf("ListMessages() failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("ListMessages() returned %d, want 2", len(messages))
	}
	if messages[0].ID > messages[1].ID {
		t.Error("ListMessages() not in creation order")
	}
}

func TestRepository_ConfirmConnection(t *testing.T) {
	repo, sink := setupRepo(t)
	ctx := context.Background()

	conn := &Connection{FromUserID: 3, ToUserID: 9}
	if err := repo.CreateConnection(ctx, conn); err != nil {
		t.Fatalf("CreateConnection() failed: %v", err)
	}

	// Only the target of the edge may confirm it.
	if err := repo.ConfirmConnection(ctx, 3, 9, 3); !errors.Is(err, ErrNotConfirmable) {
		t.Errorf("ConfirmConnection() by sender error = %v, want ErrNotConfirmable", err)
	}
	if err := repo.ConfirmConnection(ctx, 3, 9, 5); !errors.Is(err, ErrNotConfirmable) {
		t.Errorf("ConfirmConnection() by stranger error = %v, want ErrNotConfirmable", err)
	}

	if err := repo.ConfirmConnection(ctx, 3, 9, 9); err != nil {
		t.Fatalf("ConfirmConnection() by target failed: %v", err)
	}
	m := sink.last(t)
	if m.Kind != MutationConnectionSaved || len(m.UserIDs) != 2 {
		t.Errorf("dispatched %+v, want ConnectionSaved with both endpoints", m)
	}

	// No such edge.
	if err := repo.ConfirmConnection(ctx, 9, 3, 3); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("ConfirmConnection() on missing edge error = %v, want ErrRecordNotFound", err)
	}
}

func TestRepository_ConfirmedContactsUnion(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	// 7 -> 3 confirmed, 9 -> 7 confirmed, 7 -> 5 pending.
	for _, c := range []*Connection{
		{FromUserID: 7, ToUserID: 3, IsConfirmed: true},
		{FromUserID: 9, ToUserID: 7, IsConfirmed: true},
		{FromUserID: 7, ToUserID: 5},
	} {
		if err := repo.CreateConnection(ctx, c); err != nil {
			t.Fatalf("CreateConnection() failed: %v", err)
		}
	}

	contacts, err := repo.ConfirmedContacts(ctx, 7)
	if err != nil {
		t.Fatalf("ConfirmedContacts() failed: %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("ConfirmedContacts() = %v, want both directions (2 entries)", contacts)
	}
	seen := map[uint]bool{}
	for _, id := range contacts {
		seen[id] = true
	}
	if !seen[3] || !seen[9] {
		t.Errorf("ConfirmedContacts() = %v, want {3, 9}", contacts)
	}
}

func TestRepository_DeleteConnection(t *testing.T) {
	repo, sink := setupRepo(t)
	ctx := context.Background()

	if err := repo.CreateConnection(ctx, &Connection{FromUserID: 3, ToUserID: 9}); err != nil {
		t.Fatalf("CreateConnection() failed: %v", err)
	}
	before := len(sink.mutations)

	if err := repo.DeleteConnection(ctx, 3, 9); err != nil {
		t.Fatalf("DeleteConnection() failed: %v", err)
	}
	if m := sink.last(t); m.Kind != MutationConnectionDeleted {
		t.Errorf("dispatched %+v, want ConnectionDeleted", m)
	}

	// Deleting a missing edge is a no-op with no dispatch.
	if err := repo.DeleteConnection(ctx, 3, 9); err != nil {
		t.Fatalf("DeleteConnection() on missing edge failed: %v", err)
	}
	if len(sink.mutations) != before+1 {
		t.Errorf("dispatched %d mutations, want %d", len(sink.mutations), before+1)
	}
}

func TestRepository_TouchPresence(t *testing.T) {
	repo, sink := setupRepo(t)
	ctx := context.Background()

	first := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.TouchPresence(ctx, 7, first); err != nil {
		t.Fatalf("TouchPresence() failed: %v", err)
	}
	if m := sink.last(t); m.Kind != MutationPresenceTouched {
		t.Errorf("dispatched %+v, want PresenceTouched", m)
	}

	profile, err := repo.GetProfile(ctx, 7)
	if err != nil {
		t.Fatalf("GetProfile() failed: %v", err)
	}
	if profile == nil || profile.LastSeen == nil || !profile.LastSeen.Equal(first) {
		t.Fatalf("profile after touch = %+v, want last seen %v", profile, first)
	}

	// A later touch updates the same row.
	second := first.Add(time.Minute)
	if err := repo.TouchPresence(ctx, 7, second); err != nil {
		t.Fatalf("TouchPresence() failed: %v", err)
	}
	profile, err = repo.GetProfile(ctx, 7)
	if err != nil {
		t.Fatalf("GetProfile() failed: %v", err)
	}
	if !profile.LastSeen.Equal(second) {
		t.Errorf("last seen = %v, want %v", profile.LastSeen, second)
	}

	exists, err := repo.UserExists(ctx, 7)
	if err != nil || !exists {
		t.Errorf("UserExists(7) = (%v, %v), want (true, nil)", exists, err)
	}
	exists, err = repo.UserExists(ctx, 404)
	if err != nil || exists {
		t.Errorf("UserExists(404) = (%v, %v), want (false, nil)", exists, err)
	}
}

func TestRepository_Notifications(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := repo.CreateNotification(ctx, &Notification{UserID: 7, Message: "hi"}); err != nil {
			t.Fatalf("CreateNotification() failed: %v", err)
		}
	}

	notifications, err := repo.ListNotifications(ctx, 7, 2)
	if err != nil {
		t.Fatalf("ListNotifications() failed: %v", err)
	}
	if len(notifications) != 2 {
		t.Fatalf("ListNotifications() returned %d, want 2", len(notifications))
	}
	if notifications[0].ID < notifications[1].ID {
		t.Error("ListNotifications() not newest first")
	}
}

func TestRepository_RemoveParticipant(t *testing.T) {
	repo, sink := setupRepo(t)
	ctx := context.Background()

	gc := &GroupChat{Name: "general"}
	if err := repo.CreateGroupChat(ctx, gc); err != nil {
		t.Fatalf("CreateGroupChat() failed: %v", err)
	}
	if err := repo.AddParticipant(ctx, gc.ID, 7, ""); err != nil {
		t.Fatalf("AddParticipant() failed: %v", err)
	}

	if err := repo.RemoveParticipant(ctx, gc.ID, 7); err != nil {
		t.Fatalf("RemoveParticipant() failed: %v", err)
	}
	if m := sink.last(t); m.Kind != MutationParticipantRemoved || m.ChatID != gc.ID {
		t.Errorf("dispatched %+v, want ParticipantRemoved for chat %d", m, gc.ID)
	}

	participants, err := repo.ListParticipants(ctx, gc.ID)
	if err != nil {
		t.Fatalf("ListParticipants() failed: %v", err)
	}
	if len(participants) != 0 {
		t.Errorf("ListParticipants() = %v, want empty", participants)
	}
}
