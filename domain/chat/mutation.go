package chat

import "context"

// MutationKind identifies a store mutation that can make derived cache
// entries stale.
type MutationKind int

// Mutation kinds dispatched by the repository.
const (
	MutationProfileSaved MutationKind = iota
	MutationProfileDeleted
	MutationConnectionSaved
	MutationConnectionDeleted
	MutationParticipantAdded
	MutationParticipantRemoved
	MutationChatSaved
	MutationChatDeleted
	MutationPresenceTouched
)

// String returns a readable name for logging.
func (k MutationKind) String() string {
	switch k {
	case MutationProfileSaved:
		return "profile_saved"
	case MutationProfileDeleted:
		return "profile_deleted"
	case MutationConnectionSaved:
		return "connection_saved"
	case MutationConnectionDeleted:
		return "connection_deleted"
	case MutationParticipantAdded:
		return "participant_added"
	case MutationParticipantRemoved:
		return "participant_removed"
	case MutationChatSaved:
		return "chat_saved"
	case MutationChatDeleted:
		return "chat_deleted"
	case MutationPresenceTouched:
		return "presence_touched"
	default:
		return "unknown"
	}
}

// Mutation describes a single committed store mutation. UserIDs carries the
// users whose derived views are affected (both endpoints of a connection,
// the participant of a membership change, and so on).
type Mutation struct {
	Kind    MutationKind
	UserIDs []uint
	ChatID  uint
	GroupID uint
}

// MutationSink receives mutations synchronously on the commit path, before
// the mutating call returns. The cache invalidation coordinator implements
// this interface.
type MutationSink interface {
	Dispatch(ctx context.Context, m Mutation)
}
