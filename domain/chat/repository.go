package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrNotConfirmable is returned when a connection confirmation is attempted
// by a user other than the target of the edge.
var ErrNotConfirmable = errors.New("connection can only be confirmed by its target user")

// Repository provides database operations for chats, messages, contacts and
// presence. Mutating methods dispatch the matching cache mutation to the
// sink on the same call path as the commit.
type Repository struct {
	db   *gorm.DB
	sink MutationSink
}

// NewRepository creates a new repository. sink may be nil, in which case
// mutations are committed without cache invalidation.
func NewRepository(db *gorm.DB, sink MutationSink) *Repository {
	return &Repository{db: db, sink: sink}
}

// Migrate creates or updates the database schema.
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(
		&GroupChat{},
		&PrivateChat{},
		&Message{},
		&ChatParticipant{},
		&Connection{},
		&Profile{},
		&Notification{},
	)
}

func (r *Repository) dispatch(ctx context.Context, m Mutation) {
	if r.sink != nil {
		r.sink.Dispatch(ctx, m)
	}
}

// CreateGroupChat creates a new group chat.
func (r *Repository) CreateGroupChat(ctx context.Context, chat *GroupChat) error {
	if err := r.db.WithContext(ctx).Create(chat).Error; err != nil {
		return fmt.Errorf("failed to create group chat: %w", err)
	}
	r.dispatch(ctx, Mutation{Kind: MutationChatSaved, ChatID: chat.ID, GroupID: chat.GroupID})
	return nil
}

// GetGroupChat retrieves a group chat by ID. Returns (nil, nil) when the
// chat does not exist.
func (r *Repository) GetGroupChat(ctx context.Context, id uint) (*GroupChat, error) {
	var chat GroupChat
	if err := r.db.WithContext(ctx).First(&chat, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get group chat: %w", err)
	}
	return &chat, nil
}

// DeleteGroupChat deletes a group chat and evicts every derived view that
// referenced it.
func (r *Repository) DeleteGroupChat(ctx context.Context, id uint) error {
	chat, err := r.GetGroupChat(ctx, id)
	if err != nil {
		return err
	}
	if chat == nil {
		return nil
	}

	userIDs, err := r.participantIDs(ctx, id)
	if err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Delete(&GroupChat{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete group chat: %w", err)
	}
	r.dispatch(ctx, Mutation{
		Kind:    MutationChatDeleted,
		ChatID:  id,
		GroupID: chat.GroupID,
		UserIDs: userIDs,
	})
	return nil
}

// CreatePrivateChat creates a private chat between two users.
func (r *Repository) CreatePrivateChat(ctx context.Context, chat *PrivateChat) error {
	if err := r.db.WithContext(ctx).Create(chat).Error; err != nil {
		return fmt.Errorf("failed to create private chat: %w", err)
	}
	r.dispatch(ctx, Mutation{
		Kind:    MutationChatSaved,
		ChatID:  chat.ID,
		UserIDs: []uint{chat.User1ID, chat.User2ID},
	})
	return nil
}

// GetPrivateChat retrieves a private chat by ID. Returns (nil, nil) when the
// chat does not exist.
func (r *Repository) GetPrivateChat(ctx context.Context, id uint) (*PrivateChat, error) {
	var chat PrivateChat
	if err := r.db.WithContext(ctx).First(&chat, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get private chat: %w", err)
	}
	return &chat, nil
}

// CreateMessage persists a message. Messages are immutable, so there is no
// update counterpart.
func (r *Repository) CreateMessage(ctx context.Context, msg *Message) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// ListMessages returns the most recent messages of a group chat in creation
// order (oldest first).
func (r *Repository) ListMessages(ctx context.Context, chatID uint, limit int) ([]Message, error) {
	var messages []Message
	query := r.db.WithContext(ctx).
		Where("group_chat_id = ?", chatID).
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// AddParticipant adds a user to a group chat.
func (r *Repository) AddParticipant(ctx context.Context, chatID, userID uint, role string) error {
	if role == "" {
		role = RoleMember
	}
	participant := ChatParticipant{ChatID: chatID, UserID: userID, Role: role}
	if err := r.db.WithContext(ctx).Create(&participant).Error; err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}
	r.dispatch(ctx, Mutation{
		Kind:    MutationParticipantAdded,
		ChatID:  chatID,
		UserIDs: []uint{userID},
	})
	return nil
}

// RemoveParticipant removes a user from a group chat.
func (r *Repository) RemoveParticipant(ctx context.Context, chatID, userID uint) error {
	result := r.db.WithContext(ctx).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Delete(&ChatParticipant{})
	if result.Error != nil {
		return fmt.Errorf("failed to remove participant: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil
	}
	r.dispatch(ctx, Mutation{
		Kind:    MutationParticipantRemoved,
		ChatID:  chatID,
		UserIDs: []uint{userID},
	})
	return nil
}

// ListParticipants returns the participants of a group chat.
func (r *Repository) ListParticipants(ctx context.Context, chatID uint) ([]ChatParticipant, error) {
	var participants []ChatParticipant
	if err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("id ASC").
		Find(&participants).Error; err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	return participants, nil
}

func (r *Repository) participantIDs(ctx context.Context, chatID uint) ([]uint, error) {
	participants, err := r.ListParticipants(ctx, chatID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.UserID)
	}
	return ids, nil
}

// CreateConnection creates a contact edge from one user to another.
func (r *Repository) CreateConnection(ctx context.Context, conn *Connection) error {
	if err := r.db.WithContext(ctx).Create(conn).Error; err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	r.dispatch(ctx, Mutation{
		Kind:    MutationConnectionSaved,
		UserIDs: []uint{conn.FromUserID, conn.ToUserID},
	})
	return nil
}

// ConfirmConnection marks the edge from fromUserID to toUserID as confirmed.
// Only the target user of the edge may confirm it.
func (r *Repository) ConfirmConnection(ctx context.Context, fromUserID, toUserID, byUserID uint) error {
	if byUserID != toUserID {
		return ErrNotConfirmable
	}
	result := r.db.WithContext(ctx).
		Model(&Connection{}).
		Where("from_user_id = ? AND to_user_id = ?", fromUserID, toUserID).
		Update("is_confirmed", true)
	if result.Error != nil {
		return fmt.Errorf("failed to confirm connection: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	r.dispatch(ctx, Mutation{
		Kind:    MutationConnectionSaved,
		UserIDs: []uint{fromUserID, toUserID},
	})
	return nil
}

// DeleteConnection removes the edge between two users.
func (r *Repository) DeleteConnection(ctx context.Context, fromUserID, toUserID uint) error {
	result := r.db.WithContext(ctx).
		Where("from_user_id = ? AND to_user_id = ?", fromUserID, toUserID).
		Delete(&Connection{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete connection: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil
	}
	r.dispatch(ctx, Mutation{
		Kind:    MutationConnectionDeleted,
		UserIDs: []uint{fromUserID, toUserID},
	})
	return nil
}

// ConfirmedContacts returns the user IDs connected to userID in either
// direction with a confirmed edge.
func (r *Repository) ConfirmedContacts(ctx context.Context, userID uint) ([]uint, error) {
	var connections []Connection
	if err := r.db.WithContext(ctx).
		Where("is_confirmed = ? AND (from_user_id = ? OR to_user_id = ?)", true, userID, userID).
		Find(&connections).Error; err != nil {
		return nil, fmt.Errorf("failed to list confirmed contacts: %w", err)
	}

	contacts := make([]uint, 0, len(connections))
	for _, c := range connections {
		if c.FromUserID == userID {
			contacts = append(contacts, c.ToUserID)
		} else {
			contacts = append(contacts, c.FromUserID)
		}
	}
	return contacts, nil
}

// SaveProfile creates or updates a user profile.
func (r *Repository) SaveProfile(ctx context.Context, profile *Profile) error {
	if err := r.db.WithContext(ctx).Save(profile).Error; err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	r.dispatch(ctx, Mutation{Kind: MutationProfileSaved, UserIDs: []uint{profile.UserID}})
	return nil
}

// GetProfile retrieves a profile by user ID. Returns (nil, nil) when the
// profile does not exist.
func (r *Repository) GetProfile(ctx context.Context, userID uint) (*Profile, error) {
	var profile Profile
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &profile, nil
}

// UserExists reports whether a profile row exists for the user. The token
// verifier uses it to reject bearers whose subject is gone.
func (r *Repository) UserExists(ctx context.Context, userID uint) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&Profile{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return count > 0, nil
}

// DeleteProfile removes a user profile.
func (r *Repository) DeleteProfile(ctx context.Context, userID uint) error {
	result := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&Profile{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete profile: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil
	}
	r.dispatch(ctx, Mutation{Kind: MutationProfileDeleted, UserIDs: []uint{userID}})
	return nil
}

// TouchPresence sets the user's last-activity time, creating the profile row
// if it does not exist yet. Last write wins under concurrent touches.
func (r *Repository) TouchPresence(ctx context.Context, userID uint, at time.Time) error {
	profile, err := r.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	if profile == nil {
		profile = &Profile{UserID: userID}
	}
	profile.LastSeen = &at
	if err := r.db.WithContext(ctx).Save(profile).Error; err != nil {
		return fmt.Errorf("failed to touch presence: %w", err)
	}
	r.dispatch(ctx, Mutation{Kind: MutationPresenceTouched, UserIDs: []uint{userID}})
	return nil
}

// CreateNotification persists a notification for a user.
func (r *Repository) CreateNotification(ctx context.Context, n *Notification) error {
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// ListNotifications returns notifications for a user, newest first.
func (r *Repository) ListNotifications(ctx context.Context, userID uint, limit int) ([]Notification, error) {
	var notifications []Notification
	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&notifications).Error; err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, nil
}
