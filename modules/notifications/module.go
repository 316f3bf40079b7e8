package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"

	"github.com/example/chat-fanout-demo/domain/chat"
	"github.com/example/chat-fanout-demo/events"
	"github.com/example/chat-fanout-demo/modules/fanout"
)

// Store is the persistence surface the notifications module needs.
type Store interface {
	ListParticipants(ctx context.Context, chatID uint) ([]chat.ChatParticipant, error)
	GetPrivateChat(ctx context.Context, id uint) (*chat.PrivateChat, error)
	CreateNotification(ctx context.Context, n *chat.Notification) error
}

// frame is the payload pushed to a recipient's notification room.
type frame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	RoomID    uint   `json:"room_id"`
	RoomKind  string `json:"room_kind"`
	SenderID  uint   `json:"sender_id"`
	MessageID uint   `json:"message_id"`
}

// Module persists a notification for every chat participant other than the
// message sender and pushes it to their live notification room.
type Module struct {
	store    Store
	registry *fanout.Registry
	logger   *slog.Logger
}

// NewModule creates the notifications module.
func NewModule() *Module {
	return &Module{logger: slog.Default()}
}

// SetStore injects the persistence backend. Must be called before Init.
func (m *Module) SetStore(store Store) {
	m.store = store
}

// SetRegistry injects the room registry used for live pushes.
func (m *Module) SetRegistry(registry *fanout.Registry) {
	m.registry = registry
}

// Name returns the module name
func (m *Module) Name() string {
	return "notifications"
}

// Init validates the wiring
func (m *Module) Init(services mono.ServiceContainer) error {
	if m.store == nil {
		return fmt.Errorf("notifications module requires a store")
	}
	if m.registry == nil {
		return fmt.Errorf("notifications module requires a registry")
	}
	log.Printf("[notifications] Module initialized")
	return nil
}

// RegisterEventConsumers subscribes to message events
func (m *Module) RegisterEventConsumers(registry mono.EventRegistry) error {
	return helper.RegisterTypedEventConsumer(registry, events.MessageSentV1, m.handleMessageSent, m)
}

// Start starts the module
func (m *Module) Start(ctx context.Context) error {
	log.Printf("[notifications] Module started")
	return nil
}

// Stop stops the module
func (m *Module) Stop(ctx context.Context) error {
	log.Printf("[notifications] Module stopped")
	return nil
}

func (m *Module) handleMessageSent(ctx context.Context, ev events.MessageSentEvent, _ *mono.Msg) error {
	recipients, err := m.recipients(ctx, ev)
	if err != nil {
		return fmt.Errorf("failed to resolve notification recipients: %w", err)
	}

	text := fmt.Sprintf("New message from user %d", ev.SenderID)
	payload, err := json.Marshal(frame{
		Type:      "notification",
		Message:   text,
		RoomID:    ev.RoomID,
		RoomKind:  ev.RoomKind,
		SenderID:  ev.SenderID,
		MessageID: ev.MessageID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	for _, userID := range recipients {
		if userID == ev.SenderID {
			continue
		}
		if err := m.store.CreateNotification(ctx, &chat.Notification{
			UserID:  userID,
			Message: text,
		}); err != nil {
			m.logger.Error("failed to persist notification", "userID", userID, "error", err)
			continue
		}
		m.registry.Broadcast(fanout.NotificationsRoomKey(userID), payload)
	}
	return nil
}

func (m *Module) recipients(ctx context.Context, ev events.MessageSentEvent) ([]uint, error) {
	if ev.RoomKind == events.RoomKindPrivate {
		room, err := m.store.GetPrivateChat(ctx, ev.RoomID)
		if err != nil {
			return nil, err
		}
		if room == nil {
			return nil, nil
		}
		return []uint{room.User1ID, room.User2ID}, nil
	}

	participants, err := m.store.ListParticipants(ctx, ev.RoomID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.UserID)
	}
	return ids, nil
}
