// Package messenger is the message delivery engine: it assigns durable
// ordering, deduplicates optimistic client sends, fans out to joined room
// members and tracks read-receipt watermarks.
package messenger

import (
	"errors"
	"sync"
	"time"

	"conversation-service/model"
	"conversation-service/store"

	"github.com/google/uuid"
)

// Wire events emitted by the engine.
const (
	EventMessageNew         = "message.new"
	EventMessageSent        = "message.sent"
	EventMessageReadUpdated = "message.read.updated"
	EventMessageEdited      = "message.edited"
	EventMessageDeleted     = "message.deleted"
	EventReactionAdded      = "reaction.added"
	EventReactionRemoved    = "reaction.removed"
	EventTypingUpdated      = "typing.updated"
	EventConversationUpdate = "conversation.updated"
)

var ErrNotSender = errors.New("messenger: only the original sender may modify a message")

// Origin identifies the connection that issued an intent. Fan-out never
// re-delivers a message to its origin; the origin receives only the
// reconciliation event.
type Origin struct {
	ConnID string
	UserID uint
}

// Emitter is the fan-out boundary. The socket layer implements it with
// socket.io rooms; tests implement it with a recorder.
type Emitter interface {
	ToConversation(conversationID uint, event string, payload any)
	ToConversationExcept(conversationID uint, exceptConnID string, event string, payload any)
	ToUser(userID uint, event string, payload any)
	ToConn(connID string, event string, payload any)
}

// SendInput is the payload of a message.send intent.
type SendInput struct {
	Type        string
	Content     string
	FileURL     string
	FileName    string
	FileSize    int64
	ReplyToID   uint
	ClientToken string
}

// Receipt reconciles the sender's optimistic copy with the authoritative
// message.
type Receipt struct {
	ID          uint      `json:"id"`
	Seq         uint64    `json:"seq"`
	ClientToken string    `json:"client_token,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// WatermarkUpdate is broadcast when a participant's read watermark advances.
type WatermarkUpdate struct {
	ConversationID uint   `json:"conversation_id"`
	UserID         uint   `json:"user_id"`
	MessageID      uint   `json:"message_id"`
	Seq            uint64 `json:"seq"`
}

// TypingUpdate is the fire-and-forget typing signal.
type TypingUpdate struct {
	ConversationID uint `json:"conversation_id"`
	UserID         uint `json:"user_id"`
	IsTyping       bool `json:"is_typing"`
}

// ReactionUpdate mirrors a reaction toggle to room members.
type ReactionUpdate struct {
	MessageID      uint   `json:"message_id"`
	ConversationID uint   `json:"conversation_id"`
	UserID         uint   `json:"user_id"`
	Emoji          string `json:"emoji"`
}

// ConversationSummary backs the conversation list with unread counts.
type ConversationSummary struct {
	model.Conversation
	UnreadCount int64 `json:"unread_count"`
}

type typingKey struct {
	conversationID uint
	userID         uint
}

// Engine serializes all ordering-state mutations for a conversation through
// a per-conversation lock, so every observer sees the same total order.
type Engine struct {
	store   store.Store
	emitter Emitter

	mu    sync.Mutex
	locks map[uint]*sync.Mutex

	typingWindow time.Duration
	typingMu     sync.Mutex
	typing       map[typingKey]*time.Timer
}

func NewEngine(st store.Store, emitter Emitter, typingWindow time.Duration) *Engine {
	return &Engine{
		store:        st,
		emitter:      emitter,
		locks:        map[uint]*sync.Mutex{},
		typingWindow: typingWindow,
		typing:       map[typingKey]*time.Timer{},
	}
}

func (e *Engine) conversationLock(conversationID uint) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[conversationID] = lock
	}
	return lock
}

// Send implements the delivery contract: participant check, idempotency-token
// reconciliation, tail-ordered append, fan-out to joined members except the
// origin connection.
func (e *Engine) Send(origin Origin, conversationID uint, in SendInput) (*model.Message, error) {
	ok, err := e.store.IsParticipant(conversationID, origin.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotAParticipant
	}

	lock := e.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	if in.ClientToken != "" {
		existing, err := e.store.MessageByToken(conversationID, origin.UserID, in.ClientToken)
		if err == nil {
			// Duplicate suppressed: re-acknowledge the origin, broadcast
			// nothing.
			e.emitter.ToConn(origin.ConnID, EventMessageSent, receiptFor(existing))
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	} else {
		// Clients that predate optimistic sends omit the token; assign one
		// so the receipt still reconciles.
		in.ClientToken = uuid.NewString()
	}

	message := &model.Message{
		ConversationID: conversationID,
		SenderID:       origin.UserID,
		Type:           in.Type,
		Content:        in.Content,
		FileURL:        in.FileURL,
		FileName:       in.FileName,
		FileSize:       in.FileSize,
		ReplyToID:      in.ReplyToID,
	}
	if in.ClientToken != "" {
		token := in.ClientToken
		message.ClientToken = &token
	}
	if message.Type == "" {
		message.Type = "text"
	}

	if err := e.store.AppendMessage(message); err != nil {
		// The token lookup and the append are not atomic across nodes: a
		// concurrent send on another node can commit the same token between
		// them and the unique index rejects ours. Reconcile to that row
		// instead of surfacing the collision.
		if existing, lookupErr := e.store.MessageByToken(conversationID, origin.UserID, in.ClientToken); lookupErr == nil {
			e.emitter.ToConn(origin.ConnID, EventMessageSent, receiptFor(existing))
			return existing, nil
		}
		return nil, err
	}
	if message.Sender.ID == 0 {
		if sender, err := e.store.User(origin.UserID); err == nil {
			message.Sender = *sender
		}
	}

	e.emitter.ToConversationExcept(conversationID, origin.ConnID, EventMessageNew, message)
	e.emitter.ToConn(origin.ConnID, EventMessageSent, receiptFor(message))
	e.notifyParticipants(conversationID, origin.UserID, message)
	return message, nil
}

// SendSystem appends a server-generated text message (call summaries) and
// fans it out to the whole room, origin included.
func (e *Engine) SendSystem(conversationID, senderID uint, content string) error {
	lock := e.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	message := &model.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Type:           "text",
		Content:        content,
	}
	if err := e.store.AppendMessage(message); err != nil {
		return err
	}
	if message.Sender.ID == 0 {
		if sender, err := e.store.User(senderID); err == nil {
			message.Sender = *sender
		}
	}
	e.emitter.ToConversation(conversationID, EventMessageNew, message)
	e.notifyParticipants(conversationID, senderID, message)
	return nil
}

func (e *Engine) notifyParticipants(conversationID, senderID uint, message *model.Message) {
	participants, err := e.store.Participants(conversationID)
	if err != nil {
		return
	}
	for _, p := range participants {
		if p.UserID == senderID {
			continue
		}
		e.emitter.ToUser(p.UserID, EventConversationUpdate, map[string]any{
			"conversation_id": conversationID,
			"message":         message,
		})
	}
}

// MarkRead advances the caller's watermark monotonically and broadcasts the
// new value to other room members. A stale watermark is a silent no-op.
func (e *Engine) MarkRead(origin Origin, conversationID, uptoMessageID uint) error {
	ok, err := e.store.IsParticipant(conversationID, origin.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotAParticipant
	}

	message, err := e.store.Message(uptoMessageID)
	if err != nil {
		return err
	}
	if message.ConversationID != conversationID {
		return store.ErrNotFound
	}

	advanced, err := e.store.AdvanceWatermark(conversationID, origin.UserID, message.Seq, message.ID)
	if err != nil || !advanced {
		return err
	}

	e.emitter.ToConversationExcept(conversationID, origin.ConnID, EventMessageReadUpdated, WatermarkUpdate{
		ConversationID: conversationID,
		UserID:         origin.UserID,
		MessageID:      message.ID,
		Seq:            message.Seq,
	})
	return nil
}

// Typing relays the indicator to other room members. A start arms an expiry
// timer that re-sends a stop when the client goes silent, so a crashed
// client cannot leave a permanent "is typing" state.
func (e *Engine) Typing(origin Origin, conversationID uint, isTyping bool) {
	key := typingKey{conversationID: conversationID, userID: origin.UserID}

	e.typingMu.Lock()
	if timer, ok := e.typing[key]; ok {
		timer.Stop()
		delete(e.typing, key)
	}
	if isTyping {
		e.typing[key] = time.AfterFunc(e.typingWindow, func() {
			e.typingMu.Lock()
			delete(e.typing, key)
			e.typingMu.Unlock()
			e.emitter.ToConversationExcept(conversationID, origin.ConnID, EventTypingUpdated, TypingUpdate{
				ConversationID: conversationID,
				UserID:         origin.UserID,
				IsTyping:       false,
			})
		})
	}
	e.typingMu.Unlock()

	e.emitter.ToConversationExcept(conversationID, origin.ConnID, EventTypingUpdated, TypingUpdate{
		ConversationID: conversationID,
		UserID:         origin.UserID,
		IsTyping:       isTyping,
	})
}

// React toggles the (message, user, emoji) reaction: a repeat of an existing
// reaction removes it.
func (e *Engine) React(origin Origin, messageID uint, emoji string) error {
	message, conversationID, err := e.authorizedMessage(origin.UserID, messageID)
	if err != nil {
		return err
	}

	added, err := e.store.ToggleReaction(message.ID, origin.UserID, emoji)
	if err != nil {
		return err
	}

	event := EventReactionAdded
	if !added {
		event = EventReactionRemoved
	}
	e.emitter.ToConversation(conversationID, event, ReactionUpdate{
		MessageID:      message.ID,
		ConversationID: conversationID,
		UserID:         origin.UserID,
		Emoji:          emoji,
	})
	return nil
}

// Unreact removes the reaction explicitly; removing an absent reaction is a
// no-op that still mirrors the removal.
func (e *Engine) Unreact(origin Origin, messageID uint, emoji string) error {
	message, conversationID, err := e.authorizedMessage(origin.UserID, messageID)
	if err != nil {
		return err
	}
	if err := e.store.RemoveReaction(message.ID, origin.UserID, emoji); err != nil {
		return err
	}
	e.emitter.ToConversation(conversationID, EventReactionRemoved, ReactionUpdate{
		MessageID:      message.ID,
		ConversationID: conversationID,
		UserID:         origin.UserID,
		Emoji:          emoji,
	})
	return nil
}

// Edit replaces the content of the caller's own message and re-broadcasts it.
func (e *Engine) Edit(origin Origin, messageID uint, content string) (*model.Message, error) {
	message, err := e.store.Message(messageID)
	if err != nil {
		return nil, err
	}
	if message.SenderID != origin.UserID {
		return nil, ErrNotSender
	}
	if message.Deleted {
		return nil, store.ErrNotFound
	}

	message.Content = content
	message.Edited = true
	if err := e.store.SaveMessage(message); err != nil {
		return nil, err
	}

	e.emitter.ToConversation(message.ConversationID, EventMessageEdited, message)
	return message, nil
}

// Delete soft-deletes the caller's own message.
func (e *Engine) Delete(origin Origin, messageID uint) error {
	message, err := e.store.Message(messageID)
	if err != nil {
		return err
	}
	if message.SenderID != origin.UserID {
		return ErrNotSender
	}

	message.Deleted = true
	message.Content = ""
	if err := e.store.SaveMessage(message); err != nil {
		return err
	}

	e.emitter.ToConversation(message.ConversationID, EventMessageDeleted, map[string]any{
		"message_id":      message.ID,
		"conversation_id": message.ConversationID,
	})
	return nil
}

// History is the catch-up path for participants who were not joined to the
// live room.
func (e *Engine) History(userID, conversationID uint, limit, offset int) ([]model.Message, error) {
	ok, err := e.store.IsParticipant(conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotAParticipant
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return e.store.Messages(conversationID, limit, offset)
}

// Conversations lists the user's conversations with unread counts derived
// from the watermark.
func (e *Engine) Conversations(userID uint) ([]ConversationSummary, error) {
	conversations, err := e.store.ConversationsFor(userID)
	if err != nil {
		return nil, err
	}
	out := make([]ConversationSummary, 0, len(conversations))
	for _, c := range conversations {
		unread, err := e.store.UnreadCount(c.ID, userID)
		if err != nil {
			unread = 0
		}
		out = append(out, ConversationSummary{Conversation: c, UnreadCount: unread})
	}
	return out, nil
}

// Conversation returns a single conversation with the caller's unread count;
// non-participants get ErrNotAParticipant.
func (e *Engine) Conversation(userID, conversationID uint) (*ConversationSummary, error) {
	if err := e.Authorize(userID, conversationID); err != nil {
		return nil, err
	}
	c, err := e.store.Conversation(conversationID)
	if err != nil {
		return nil, err
	}
	unread, err := e.store.UnreadCount(conversationID, userID)
	if err != nil {
		unread = 0
	}
	return &ConversationSummary{Conversation: *c, UnreadCount: unread}, nil
}

// Contacts lists the users sharing at least one conversation with the user.
func (e *Engine) Contacts(userID uint) ([]uint, error) {
	return e.store.ContactsOf(userID)
}

// Authorize reports whether the user may join the conversation's room.
func (e *Engine) Authorize(userID, conversationID uint) error {
	ok, err := e.store.IsParticipant(conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotAParticipant
	}
	return nil
}

func (e *Engine) authorizedMessage(userID, messageID uint) (*model.Message, uint, error) {
	message, err := e.store.Message(messageID)
	if err != nil {
		return nil, 0, err
	}
	ok, err := e.store.IsParticipant(message.ConversationID, userID)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, store.ErrNotAParticipant
	}
	return message, message.ConversationID, nil
}

func receiptFor(m *model.Message) Receipt {
	receipt := Receipt{ID: m.ID, Seq: m.Seq, CreatedAt: m.CreatedAt}
	if m.ClientToken != nil {
		receipt.ClientToken = *m.ClientToken
	}
	return receipt
}
