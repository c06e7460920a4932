package messenger

import (
	"sync"
	"testing"
	"time"

	"conversation-service/model"
	"conversation-service/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type emitted struct {
	scope   string
	target  string
	event   string
	payload any
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recordingEmitter) record(scope, target, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{scope: scope, target: target, event: event, payload: payload})
}

func (r *recordingEmitter) ToConversation(conversationID uint, event string, payload any) {
	r.record("conversation", "1", event, payload)
}

func (r *recordingEmitter) ToConversationExcept(conversationID uint, exceptConnID string, event string, payload any) {
	r.record("except:"+exceptConnID, "1", event, payload)
}

func (r *recordingEmitter) ToUser(userID uint, event string, payload any) {
	r.record("user", "", event, payload)
}

func (r *recordingEmitter) ToConn(connID string, event string, payload any) {
	r.record("conn", connID, event, payload)
}

func (r *recordingEmitter) byEvent(event string) []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []emitted{}
	for _, e := range r.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func newTestEngine(typingWindow time.Duration) (*Engine, *store.Memory, *recordingEmitter) {
	st := store.NewMemory()
	st.SeedUser(model.User{Model: gorm.Model{ID: 1}, Username: "alice"})
	st.SeedUser(model.User{Model: gorm.Model{ID: 2}, Username: "bob"})
	st.SeedUser(model.User{Model: gorm.Model{ID: 3}, Username: "carol"})
	st.SeedConversation(model.Conversation{Model: gorm.Model{ID: 1}, Kind: model.ConversationDirect}, 1, 2)

	emitter := &recordingEmitter{}
	return NewEngine(st, emitter, typingWindow), st, emitter
}

func TestSendAssignsContiguousSequence(t *testing.T) {
	engine, _, _ := newTestEngine(time.Second)
	origin := Origin{ConnID: "conn-a", UserID: 1}

	for i, want := range []uint64{1, 2, 3} {
		message, err := engine.Send(origin, 1, SendInput{Content: "hello"})
		require.NoError(t, err, "send %d", i)
		assert.Equal(t, want, message.Seq)
	}
}

func TestSendConcurrentTotalOrder(t *testing.T) {
	engine, st, _ := newTestEngine(time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			userID := uint(1 + n%2)
			_, err := engine.Send(Origin{ConnID: "conn", UserID: userID}, 1, SendInput{Content: "race"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	messages, err := st.Messages(1, 100, 0)
	require.NoError(t, err)
	require.Len(t, messages, 20)
	for i, m := range messages {
		assert.Equal(t, uint64(i+1), m.Seq, "sequence must be contiguous")
	}
}

func TestSendDeduplicatesClientToken(t *testing.T) {
	engine, st, emitter := newTestEngine(time.Second)
	origin := Origin{ConnID: "conn-a", UserID: 1}
	in := SendInput{Content: "once", ClientToken: "tok-1"}

	first, err := engine.Send(origin, 1, in)
	require.NoError(t, err)

	second, err := engine.Send(origin, 1, in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Seq, second.Seq)

	messages, err := st.Messages(1, 100, 0)
	require.NoError(t, err)
	assert.Len(t, messages, 1, "retry must not create a second message")

	// Broadcast happened once, the receipt twice.
	assert.Len(t, emitter.byEvent(EventMessageNew), 1)
	assert.Len(t, emitter.byEvent(EventMessageSent), 2)
}

// staleReadStore misses a configured number of token lookups, the way a node
// races another node's commit of the same token between its own lookup and
// append.
type staleReadStore struct {
	*store.Memory
	mu     sync.Mutex
	misses int
}

func (s *staleReadStore) MessageByToken(conversationID, senderID uint, token string) (*model.Message, error) {
	s.mu.Lock()
	if s.misses > 0 {
		s.misses--
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	s.mu.Unlock()
	return s.Memory.MessageByToken(conversationID, senderID, token)
}

func TestSendReconcilesTokenCommittedElsewhere(t *testing.T) {
	st := store.NewMemory()
	st.SeedUser(model.User{Model: gorm.Model{ID: 1}, Username: "alice"})
	st.SeedUser(model.User{Model: gorm.Model{ID: 2}, Username: "bob"})
	st.SeedConversation(model.Conversation{Model: gorm.Model{ID: 1}, Kind: model.ConversationDirect}, 1, 2)

	stale := &staleReadStore{Memory: st}
	emitter := &recordingEmitter{}
	engine := NewEngine(stale, emitter, time.Second)

	origin := Origin{ConnID: "conn-a", UserID: 1}
	in := SendInput{Content: "once", ClientToken: "tok-1"}

	first, err := engine.Send(origin, 1, in)
	require.NoError(t, err)

	// The retry's dedupe lookup does not see the committed row, so its
	// append collides with the unique token index. The send must resolve
	// to the existing message, not an error.
	stale.misses = 1
	second, err := engine.Send(origin, 1, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	messages, err := st.Messages(1, 100, 0)
	require.NoError(t, err)
	assert.Len(t, messages, 1)

	assert.Len(t, emitter.byEvent(EventMessageNew), 1)
	assert.Len(t, emitter.byEvent(EventMessageSent), 2)
}

func TestSendGeneratesTokenWhenOmitted(t *testing.T) {
	engine, _, _ := newTestEngine(time.Second)

	message, err := engine.Send(Origin{ConnID: "conn-a", UserID: 1}, 1, SendInput{Content: "no token"})
	require.NoError(t, err)
	require.NotNil(t, message.ClientToken)
	assert.NotEmpty(t, *message.ClientToken)
}

func TestSendRejectsNonParticipant(t *testing.T) {
	engine, _, emitter := newTestEngine(time.Second)

	_, err := engine.Send(Origin{ConnID: "conn-c", UserID: 3}, 1, SendInput{Content: "intruder"})
	assert.ErrorIs(t, err, store.ErrNotAParticipant)
	assert.Empty(t, emitter.byEvent(EventMessageNew))
}

func TestSendSkipsOriginConnection(t *testing.T) {
	engine, _, emitter := newTestEngine(time.Second)

	_, err := engine.Send(Origin{ConnID: "conn-a", UserID: 1}, 1, SendInput{Content: "hi"})
	require.NoError(t, err)

	broadcasts := emitter.byEvent(EventMessageNew)
	require.Len(t, broadcasts, 1)
	assert.Equal(t, "except:conn-a", broadcasts[0].scope)

	receipts := emitter.byEvent(EventMessageSent)
	require.Len(t, receipts, 1)
	assert.Equal(t, "conn-a", receipts[0].target)
}

func TestMarkReadAdvancesAndBroadcasts(t *testing.T) {
	engine, st, emitter := newTestEngine(time.Second)
	alice := Origin{ConnID: "conn-a", UserID: 1}
	bob := Origin{ConnID: "conn-b", UserID: 2}

	first, err := engine.Send(alice, 1, SendInput{Content: "one"})
	require.NoError(t, err)
	second, err := engine.Send(alice, 1, SendInput{Content: "two"})
	require.NoError(t, err)

	unread, err := st.UnreadCount(1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), unread)

	require.NoError(t, engine.MarkRead(bob, 1, second.ID))

	updates := emitter.byEvent(EventMessageReadUpdated)
	require.Len(t, updates, 1)
	update := updates[0].payload.(WatermarkUpdate)
	assert.Equal(t, uint(2), update.UserID)
	assert.Equal(t, second.Seq, update.Seq)

	unread, err = st.UnreadCount(1, 2)
	require.NoError(t, err)
	assert.Zero(t, unread)

	// A stale watermark is silently absorbed.
	require.NoError(t, engine.MarkRead(bob, 1, first.ID))
	assert.Len(t, emitter.byEvent(EventMessageReadUpdated), 1)

	unread, err = st.UnreadCount(1, 2)
	require.NoError(t, err)
	assert.Zero(t, unread, "watermark must not move backward")
}

func TestMarkReadWrongConversation(t *testing.T) {
	engine, st, _ := newTestEngine(time.Second)
	st.SeedConversation(model.Conversation{Model: gorm.Model{ID: 2}}, 1, 2)

	message, err := engine.Send(Origin{ConnID: "conn-a", UserID: 1}, 1, SendInput{Content: "here"})
	require.NoError(t, err)

	err = engine.MarkRead(Origin{ConnID: "conn-b", UserID: 2}, 2, message.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReactionToggle(t *testing.T) {
	engine, st, emitter := newTestEngine(time.Second)
	alice := Origin{ConnID: "conn-a", UserID: 1}
	bob := Origin{ConnID: "conn-b", UserID: 2}

	message, err := engine.Send(alice, 1, SendInput{Content: "react to me"})
	require.NoError(t, err)

	require.NoError(t, engine.React(bob, message.ID, "👍"))
	assert.Len(t, st.Reactions(message.ID), 1)
	assert.Len(t, emitter.byEvent(EventReactionAdded), 1)

	// The same reaction again toggles it off.
	require.NoError(t, engine.React(bob, message.ID, "👍"))
	assert.Empty(t, st.Reactions(message.ID))
	assert.Len(t, emitter.byEvent(EventReactionRemoved), 1)
}

func TestUnreactAbsentIsNoop(t *testing.T) {
	engine, _, _ := newTestEngine(time.Second)

	message, err := engine.Send(Origin{ConnID: "conn-a", UserID: 1}, 1, SendInput{Content: "x"})
	require.NoError(t, err)

	assert.NoError(t, engine.Unreact(Origin{ConnID: "conn-b", UserID: 2}, message.ID, "🔥"))
}

func TestEditOnlyBySender(t *testing.T) {
	engine, _, emitter := newTestEngine(time.Second)

	message, err := engine.Send(Origin{ConnID: "conn-a", UserID: 1}, 1, SendInput{Content: "tyop"})
	require.NoError(t, err)

	_, err = engine.Edit(Origin{ConnID: "conn-b", UserID: 2}, message.ID, "typo")
	assert.ErrorIs(t, err, ErrNotSender)

	edited, err := engine.Edit(Origin{ConnID: "conn-a", UserID: 1}, message.ID, "typo")
	require.NoError(t, err)
	assert.True(t, edited.Edited)
	assert.Equal(t, "typo", edited.Content)
	assert.Len(t, emitter.byEvent(EventMessageEdited), 1)
}

func TestDeleteSoftDeletes(t *testing.T) {
	engine, st, _ := newTestEngine(time.Second)
	alice := Origin{ConnID: "conn-a", UserID: 1}

	message, err := engine.Send(alice, 1, SendInput{Content: "remove me"})
	require.NoError(t, err)

	assert.ErrorIs(t, engine.Delete(Origin{ConnID: "conn-b", UserID: 2}, message.ID), ErrNotSender)
	require.NoError(t, engine.Delete(alice, message.ID))

	deleted, err := st.Message(message.ID)
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)
	assert.Empty(t, deleted.Content)

	// Deleted messages drop out of history and cannot be edited.
	messages, err := engine.History(1, 1, 50, 0)
	require.NoError(t, err)
	assert.Empty(t, messages)

	_, err = engine.Edit(alice, message.ID, "resurrect")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTypingExpiresWithoutStop(t *testing.T) {
	engine, _, emitter := newTestEngine(30 * time.Millisecond)
	alice := Origin{ConnID: "conn-a", UserID: 1}

	engine.Typing(alice, 1, true)

	updates := emitter.byEvent(EventTypingUpdated)
	require.Len(t, updates, 1)
	assert.True(t, updates[0].payload.(TypingUpdate).IsTyping)

	require.Eventually(t, func() bool {
		updates := emitter.byEvent(EventTypingUpdated)
		if len(updates) != 2 {
			return false
		}
		return !updates[1].payload.(TypingUpdate).IsTyping
	}, time.Second, 5*time.Millisecond, "typing must expire into a stop")
}

func TestTypingStopCancelsExpiry(t *testing.T) {
	engine, _, emitter := newTestEngine(30 * time.Millisecond)
	alice := Origin{ConnID: "conn-a", UserID: 1}

	engine.Typing(alice, 1, true)
	engine.Typing(alice, 1, false)

	time.Sleep(80 * time.Millisecond)
	assert.Len(t, emitter.byEvent(EventTypingUpdated), 2, "expiry timer must not fire after an explicit stop")
}

func TestConversationsCarryUnreadCounts(t *testing.T) {
	engine, _, _ := newTestEngine(time.Second)
	alice := Origin{ConnID: "conn-a", UserID: 1}

	for i := 0; i < 3; i++ {
		_, err := engine.Send(alice, 1, SendInput{Content: "ping"})
		require.NoError(t, err)
	}

	summaries, err := engine.Conversations(2)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, int64(3), summaries[0].UnreadCount)

	// The sender's own messages are not unread for the sender.
	summaries, err = engine.Conversations(1)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Zero(t, summaries[0].UnreadCount)
}

func TestConversationDetail(t *testing.T) {
	engine, _, _ := newTestEngine(time.Second)
	alice := Origin{ConnID: "conn-a", UserID: 1}

	_, err := engine.Send(alice, 1, SendInput{Content: "ping"})
	require.NoError(t, err)

	summary, err := engine.Conversation(2, 1)
	require.NoError(t, err)
	assert.Equal(t, uint(1), summary.ID)
	assert.Equal(t, int64(1), summary.UnreadCount)

	_, err = engine.Conversation(3, 1)
	assert.ErrorIs(t, err, store.ErrNotAParticipant)
}

func TestAuthorize(t *testing.T) {
	engine, _, _ := newTestEngine(time.Second)

	assert.NoError(t, engine.Authorize(1, 1))
	assert.ErrorIs(t, engine.Authorize(3, 1), store.ErrNotAParticipant)
}
