package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/go-monolith/mono"

	"github.com/example/chat-fanout-demo/domain/chat"
	"github.com/example/chat-fanout-demo/events"
)

// MaxMessageLength bounds message content.
const MaxMessageLength = 5000

// Message submission errors. All of them are recoverable: the submitting
// session stays open and only the single message is rejected.
var (
	// ErrInvalidRoomReference is returned when a submission does not resolve
	// to exactly one existing room.
	ErrInvalidRoomReference = errors.New("invalid room reference")
	// ErrPersistenceFailure is returned when the message could not be
	// persisted. No broadcast happens for an unpersisted message.
	ErrPersistenceFailure = errors.New("message persistence failed")
	// ErrMessageEmpty is returned for empty content.
	ErrMessageEmpty = errors.New("message content cannot be empty")
	// ErrMessageTooLong is returned for content above MaxMessageLength.
	ErrMessageTooLong = errors.New("message exceeds maximum length")
	// ErrMessageInvalid is returned for content that is not valid UTF-8.
	ErrMessageInvalid = errors.New("message contains invalid characters")
)

// RoomRef identifies the target room of a submission. Exactly one of the
// two fields must be set.
type RoomRef struct {
	GroupChatID   uint
	PrivateChatID uint
}

// Kind returns the room kind of the reference.
func (ref RoomRef) Kind() string {
	if ref.PrivateChatID != 0 {
		return events.RoomKindPrivate
	}
	return events.RoomKindGroup
}

func (ref RoomRef) valid() bool {
	return (ref.GroupChatID != 0) != (ref.PrivateChatID != 0)
}

// RoomKey returns the registry key of the referenced room.
func (ref RoomRef) RoomKey() string {
	if ref.PrivateChatID != 0 {
		return PrivateRoomKey(ref.PrivateChatID)
	}
	return GroupRoomKey(ref.GroupChatID)
}

func (ref RoomRef) roomID() uint {
	if ref.PrivateChatID != 0 {
		return ref.PrivateChatID
	}
	return ref.GroupChatID
}

// Store is the persistence surface the broadcaster needs. The gorm
// repository implements it.
type Store interface {
	GetGroupChat(ctx context.Context, id uint) (*chat.GroupChat, error)
	GetPrivateChat(ctx context.Context, id uint) (*chat.PrivateChat, error)
	CreateMessage(ctx context.Context, msg *chat.Message) error
}

// Frame is the outbound wire format delivered to subscribed sessions.
type Frame struct {
	ID        uint      `json:"id"`
	Content   string    `json:"content"`
	Sender    uint      `json:"sender"`
	RoomID    uint      `json:"room_id"`
	RoomKind  string    `json:"room_kind"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidateContent validates message content.
func ValidateContent(content string) error {
	if content == "" {
		return ErrMessageEmpty
	}
	if len(content) > MaxMessageLength {
		return ErrMessageTooLong
	}
	if !utf8.ValidString(content) {
		return ErrMessageInvalid
	}
	return nil
}

// Broadcaster accepts inbound message submissions, persists them, and fans
// them out to the live sessions of the target room. Broadcast order equals
// persistence order: Submit holds no lock, but each call persists before it
// broadcasts, so messages from a single producer arrive in submission
// order.
type Broadcaster struct {
	store    Store
	registry *Registry
	eventBus mono.EventBus
	logger   *slog.Logger
}

// NewBroadcaster creates a broadcaster.
func NewBroadcaster(store Store, registry *Registry) *Broadcaster {
	return &Broadcaster{
		store:    store,
		registry: registry,
		logger:   slog.Default(),
	}
}

// SetEventBus sets the bus MessageSent events are published on. Optional.
func (b *Broadcaster) SetEventBus(bus mono.EventBus) {
	b.eventBus = bus
}

// Submit validates the room reference, persists the message, and broadcasts
// it to the room's registered sessions. No broadcast happens unless the
// persistence write succeeded.
func (b *Broadcaster) Submit(ctx context.Context, senderID uint, ref RoomRef, content string) (*chat.Message, error) {
	if err := ValidateContent(content); err != nil {
		return nil, err
	}
	if !ref.valid() {
		return nil, fmt.Errorf("%w: exactly one of group and private chat must be set", ErrInvalidRoomReference)
	}

	msg := &chat.Message{
		Content:   content,
		SenderID:  senderID,
		CreatedAt: time.Now(),
	}
	if ref.PrivateChatID != 0 {
		room, err := b.store.GetPrivateChat(ctx, ref.PrivateChatID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
		}
		if room == nil {
			return nil, fmt.Errorf("%w: private chat %d not found", ErrInvalidRoomReference, ref.PrivateChatID)
		}
		msg.PrivateChatID = &room.ID
	} else {
		room, err := b.store.GetGroupChat(ctx, ref.GroupChatID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
		}
		if room == nil {
			return nil, fmt.Errorf("%w: group chat %d not found", ErrInvalidRoomReference, ref.GroupChatID)
		}
		msg.GroupChatID = &room.ID
	}

	if err := b.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}

	frame := Frame{
		ID:        msg.ID,
		Content:   msg.Content,
		Sender:    msg.SenderID,
		RoomID:    ref.roomID(),
		RoomKind:  ref.Kind(),
		CreatedAt: msg.CreatedAt,
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		// The message is persisted; clients recover it through history.
		b.logger.Error("failed to marshal outbound frame", "messageID", msg.ID, "error", err)
		return msg, nil
	}

	delivered := b.registry.Broadcast(ref.RoomKey(), payload)
	b.logger.Debug("message broadcast",
		"messageID", msg.ID,
		"room", ref.RoomKey(),
		"delivered", delivered)

	b.publishMessageSent(msg, ref)
	return msg, nil
}

func (b *Broadcaster) publishMessageSent(msg *chat.Message, ref RoomRef) {
	if b.eventBus == nil {
		return
	}
	event := events.MessageSentEvent{
		MessageID: msg.ID,
		RoomID:    ref.roomID(),
		RoomKind:  ref.Kind(),
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
	if err := events.MessageSentV1.Publish(b.eventBus, event, nil); err != nil {
		b.logger.Warn("failed to publish MessageSent event", "messageID", msg.ID, "error", err)
	}
}
