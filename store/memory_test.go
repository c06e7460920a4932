package store

import (
	"testing"

	"conversation-service/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seeded() *Memory {
	st := NewMemory()
	st.SeedUser(model.User{Model: gorm.Model{ID: 1}, Username: "alice"})
	st.SeedUser(model.User{Model: gorm.Model{ID: 2}, Username: "bob"})
	st.SeedConversation(model.Conversation{Model: gorm.Model{ID: 1}}, 1, 2)
	return st
}

func TestAppendMessageAssignsTailSeq(t *testing.T) {
	st := seeded()

	for want := uint64(1); want <= 3; want++ {
		m := &model.Message{ConversationID: 1, SenderID: 1, Content: "x"}
		require.NoError(t, st.AppendMessage(m))
		assert.Equal(t, want, m.Seq)
	}

	c, err := st.Conversation(1)
	require.NoError(t, err)
	assert.False(t, c.LastMessageAt.IsZero())
}

func TestAppendMessageUnknownConversation(t *testing.T) {
	st := seeded()
	err := st.AppendMessage(&model.Message{ConversationID: 99, SenderID: 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessageByToken(t *testing.T) {
	st := seeded()

	token := "tok"
	m := &model.Message{ConversationID: 1, SenderID: 1, ClientToken: &token}
	require.NoError(t, st.AppendMessage(m))

	found, err := st.MessageByToken(1, 1, "tok")
	require.NoError(t, err)
	assert.Equal(t, m.ID, found.ID)

	// Same token, different sender: distinct message space.
	_, err = st.MessageByToken(1, 2, "tok")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendMessageRejectsDuplicateToken(t *testing.T) {
	st := seeded()

	token := "tok"
	require.NoError(t, st.AppendMessage(&model.Message{ConversationID: 1, SenderID: 1, ClientToken: &token}))

	dup := "tok"
	err := st.AppendMessage(&model.Message{ConversationID: 1, SenderID: 1, ClientToken: &dup})
	assert.ErrorIs(t, err, ErrDuplicate)

	// A different sender may reuse the token.
	other := "tok"
	assert.NoError(t, st.AppendMessage(&model.Message{ConversationID: 1, SenderID: 2, ClientToken: &other}))
}

func TestMessagesPaginatesFromTail(t *testing.T) {
	st := seeded()
	for i := 0; i < 5; i++ {
		require.NoError(t, st.AppendMessage(&model.Message{ConversationID: 1, SenderID: 1}))
	}

	page, err := st.Messages(1, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(4), page[0].Seq)
	assert.Equal(t, uint64(5), page[1].Seq)

	page, err = st.Messages(1, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(2), page[0].Seq)
	assert.Equal(t, uint64(3), page[1].Seq)

	page, err = st.Messages(1, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestAdvanceWatermarkMonotonic(t *testing.T) {
	st := seeded()

	advanced, err := st.AdvanceWatermark(1, 2, 5, 50)
	require.NoError(t, err)
	assert.True(t, advanced)

	advanced, err = st.AdvanceWatermark(1, 2, 3, 30)
	require.NoError(t, err)
	assert.False(t, advanced, "stale seq must not move the watermark")

	advanced, err = st.AdvanceWatermark(1, 2, 5, 50)
	require.NoError(t, err)
	assert.False(t, advanced, "equal seq is a no-op")

	advanced, err = st.AdvanceWatermark(1, 2, 6, 60)
	require.NoError(t, err)
	assert.True(t, advanced)
}

func TestUnreadCountExcludesOwnAndDeleted(t *testing.T) {
	st := seeded()

	require.NoError(t, st.AppendMessage(&model.Message{ConversationID: 1, SenderID: 1}))
	require.NoError(t, st.AppendMessage(&model.Message{ConversationID: 1, SenderID: 2}))
	deleted := &model.Message{ConversationID: 1, SenderID: 1}
	require.NoError(t, st.AppendMessage(deleted))
	deleted.Deleted = true
	require.NoError(t, st.SaveMessage(deleted))

	unread, err := st.UnreadCount(1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)

	_, err = st.UnreadCount(1, 3)
	assert.ErrorIs(t, err, ErrNotAParticipant)
}

func TestContactsOf(t *testing.T) {
	st := seeded()
	st.SeedUser(model.User{Model: gorm.Model{ID: 3}, Username: "carol"})
	st.SeedConversation(model.Conversation{Model: gorm.Model{ID: 2}}, 1, 3)

	contacts, err := st.ContactsOf(1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{2, 3}, contacts)

	contacts, err = st.ContactsOf(2)
	require.NoError(t, err)
	assert.Equal(t, []uint{1}, contacts)
}

func TestNotificationsLifecycle(t *testing.T) {
	st := seeded()

	for i := 0; i < 3; i++ {
		require.NoError(t, st.SaveNotification(&model.Notification{UserID: 1, Kind: "message"}))
	}
	require.NoError(t, st.SaveNotification(&model.Notification{UserID: 2, Kind: "message"}))

	notifications, unread, err := st.Notifications(1, 50)
	require.NoError(t, err)
	assert.Len(t, notifications, 3)
	assert.Equal(t, int64(3), unread)

	require.NoError(t, st.MarkNotificationRead(notifications[0].ID, 1))
	_, unread, err = st.Notifications(1, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(2), unread)

	assert.ErrorIs(t, st.MarkNotificationRead(notifications[1].ID, 2), ErrNotFound)

	require.NoError(t, st.MarkAllNotificationsRead(1))
	_, unread, err = st.Notifications(1, 50)
	require.NoError(t, err)
	assert.Zero(t, unread)
}
