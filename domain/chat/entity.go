// Package chat defines the persistent entities of the chat backend and the
// gorm repository used by the fan-out engine.
package chat

import "time"

// Participant roles.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// GroupChat is a group chat room. GroupID links the chat to the group it
// belongs to in the external groups service; zero means a free-standing chat.
type GroupChat struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	Name      string    `json:"name"`
	GroupID   uint      `gorm:"index" json:"group_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PrivateChat is a one-to-one chat between two users. The user pair is
// unique, so a second chat between the same two users cannot be created.
type PrivateChat struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	User1ID   uint      `gorm:"uniqueIndex:idx_private_pair" json:"user1_id"`
	User2ID   uint      `gorm:"uniqueIndex:idx_private_pair" json:"user2_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is a chat message in either a group or a private chat. Exactly one
// of GroupChatID and PrivateChatID is set; messages are immutable once
// created.
type Message struct {
	ID            uint      `gorm:"primarykey" json:"id"`
	Content       string    `gorm:"not null" json:"content"`
	SenderID      uint      `gorm:"index;not null" json:"sender_id"`
	GroupChatID   *uint     `gorm:"index" json:"group_chat_id,omitempty"`
	PrivateChatID *uint     `gorm:"index" json:"private_chat_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ChatParticipant is a membership row of a group chat.
type ChatParticipant struct {
	ID       uint      `gorm:"primarykey" json:"id"`
	ChatID   uint      `gorm:"uniqueIndex:idx_chat_user" json:"chat_id"`
	UserID   uint      `gorm:"uniqueIndex:idx_chat_user" json:"user_id"`
	Role     string    `gorm:"default:member" json:"role"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

// Connection is a directed contact edge. The ordered pair is unique; the
// undirected confirmed-contacts view is the union of both directions.
type Connection struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	FromUserID  uint      `gorm:"uniqueIndex:idx_connection_pair" json:"from_user_id"`
	ToUserID    uint      `gorm:"uniqueIndex:idx_connection_pair" json:"to_user_id"`
	IsConfirmed bool      `json:"is_confirmed"`
	CreatedAt   time.Time `json:"created_at"`
}

// Profile carries the per-user presence record. LastSeen is nil until the
// user has been active at least once.
type Profile struct {
	ID            uint       `gorm:"primarykey" json:"id"`
	UserID        uint       `gorm:"uniqueIndex;not null" json:"user_id"`
	StatusMessage string     `json:"status_message,omitempty"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Notification is a stored notification for a user, created when a message
// is fanned out to chat participants.
type Notification struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}
