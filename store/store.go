package store

import (
	"errors"

	"conversation-service/model"
)

var (
	ErrNotFound        = errors.New("store: not found")
	ErrNotAParticipant = errors.New("store: not a participant")
	ErrDuplicate       = errors.New("store: duplicate")
)

// Store is the persistence boundary of the realtime core. Conversations and
// participants are created by the REST layer; this core reads them, appends
// messages, advances watermarks and toggles reactions.
type Store interface {
	Conversation(id uint) (*model.Conversation, error)
	ConversationsFor(userID uint) ([]model.Conversation, error)
	Participants(conversationID uint) ([]model.Participant, error)
	IsParticipant(conversationID, userID uint) (bool, error)

	// ContactsOf returns the distinct ids of users sharing at least one
	// conversation with userID. Presence fan-out is scoped to this set.
	ContactsOf(userID uint) ([]uint, error)

	// AppendMessage assigns Seq strictly after the conversation's current
	// tail, persists the message and bumps the conversation's
	// LastMessageAt. Callers serialize appends per conversation.
	AppendMessage(m *model.Message) error
	Message(id uint) (*model.Message, error)
	MessageByToken(conversationID, senderID uint, token string) (*model.Message, error)
	Messages(conversationID uint, limit, offset int) ([]model.Message, error)
	SaveMessage(m *model.Message) error
	UnreadCount(conversationID, userID uint) (int64, error)

	// AdvanceWatermark moves the participant's read watermark to seq if and
	// only if seq is greater than the current value. Returns false when the
	// watermark was already at or past seq.
	AdvanceWatermark(conversationID, userID uint, seq uint64, messageID uint) (bool, error)

	// ToggleReaction adds the (message, user, emoji) reaction when absent
	// and removes it when present. Returns whether the reaction now exists.
	ToggleReaction(messageID, userID uint, emoji string) (bool, error)
	RemoveReaction(messageID, userID uint, emoji string) error

	SaveCallRecord(r *model.CallRecord) error

	Notifications(userID uint, limit int) ([]model.Notification, int64, error)
	SaveNotification(n *model.Notification) error
	MarkNotificationRead(id, userID uint) error
	MarkAllNotificationsRead(userID uint) error

	User(id uint) (*model.User, error)
}
