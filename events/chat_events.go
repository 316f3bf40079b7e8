// Package events defines the typed event contracts published on the
// application event bus.
package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"
)

// RoomKind discriminates the two chat room flavors carried in events.
const (
	RoomKindGroup   = "group"
	RoomKindPrivate = "private"
)

// MessageSentEvent is emitted after a message has been persisted and fanned
// out to the live sessions of its room.
type MessageSentEvent struct {
	MessageID uint      `json:"message_id"`
	RoomID    uint      `json:"room_id"`
	RoomKind  string    `json:"room_kind"`
	SenderID  uint      `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// PresenceTouchedEvent is emitted when a user's last-activity timestamp has
// been advanced.
type PresenceTouchedEvent struct {
	UserID    uint      `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Event definitions for the fan-out engine.
var (
	MessageSentV1 = helper.EventDefinition[MessageSentEvent](
		"fanout",
		"MessageSent",
		"v1",
	)

	PresenceTouchedV1 = helper.EventDefinition[PresenceTouchedEvent](
		"presence",
		"PresenceTouched",
		"v1",
	)
)
