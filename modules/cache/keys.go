package cache

import "fmt"

// AllGroupsKey caches the full group listing.
const AllGroupsKey = "all_groups"

// ProfileKey caches a user's profile, including the presence record.
func ProfileKey(userID uint) string {
	return fmt.Sprintf("profile_%d", userID)
}

// ConfirmedContactsKey caches the undirected confirmed-contacts view of a
// user.
func ConfirmedContactsKey(userID uint) string {
	return fmt.Sprintf("confirmed_contacts_%d", userID)
}

// ChatParticipantsKey caches the participant list of a group chat.
func ChatParticipantsKey(chatID uint) string {
	return fmt.Sprintf("chat_participants_%d", chatID)
}

// UserChatsKey caches the list of chats a user participates in.
func UserChatsKey(userID uint) string {
	return fmt.Sprintf("user_chats_%d", userID)
}

// AllChatsKey caches the combined group and private chat listing of a user.
func AllChatsKey(userID uint) string {
	return fmt.Sprintf("all_chats_%d", userID)
}

// GroupKey caches a single group view.
func GroupKey(groupID uint) string {
	return fmt.Sprintf("group_%d", groupID)
}
