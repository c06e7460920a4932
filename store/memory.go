package store

import (
	"sort"
	"sync"
	"time"

	"conversation-service/model"
)

// Memory is an in-process Store used by tests and local development.
type Memory struct {
	mu            sync.Mutex
	conversations map[uint]*model.Conversation
	participants  []*model.Participant
	messages      map[uint]*model.Message
	reactions     []*model.Reaction
	notifications map[uint]*model.Notification
	callRecords   []*model.CallRecord
	users         map[uint]*model.User

	nextMessageID      uint
	nextNotificationID uint
}

func NewMemory() *Memory {
	return &Memory{
		conversations: map[uint]*model.Conversation{},
		messages:      map[uint]*model.Message{},
		notifications: map[uint]*model.Notification{},
		users:         map[uint]*model.User{},
	}
}

// SeedConversation installs a conversation with the given participants,
// standing in for the REST layer that owns conversation creation.
func (s *Memory) SeedConversation(c model.Conversation, userIDs ...uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conversation := c
	s.conversations[conversation.ID] = &conversation
	for _, id := range userIDs {
		s.participants = append(s.participants, &model.Participant{
			ConversationID: conversation.ID,
			UserID:         id,
			Role:           "member",
		})
	}
}

func (s *Memory) SeedUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := u
	s.users[user.ID] = &user
}

func (s *Memory) Conversation(id uint) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (s *Memory) ConversationsFor(userID uint) ([]model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Conversation{}
	for _, p := range s.participants {
		if p.UserID != userID {
			continue
		}
		if c, ok := s.conversations[p.ConversationID]; ok {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

func (s *Memory) Participants(conversationID uint) ([]model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Participant{}
	for _, p := range s.participants {
		if p.ConversationID == conversationID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *Memory) IsParticipant(conversationID, userID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participant(conversationID, userID) != nil, nil
}

func (s *Memory) participant(conversationID, userID uint) *model.Participant {
	for _, p := range s.participants {
		if p.ConversationID == conversationID && p.UserID == userID {
			return p
		}
	}
	return nil
}

func (s *Memory) ContactsOf(userID uint) ([]uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mine := map[uint]struct{}{}
	for _, p := range s.participants {
		if p.UserID == userID {
			mine[p.ConversationID] = struct{}{}
		}
	}
	seen := map[uint]struct{}{}
	out := []uint{}
	for _, p := range s.participants {
		if _, ok := mine[p.ConversationID]; !ok || p.UserID == userID {
			continue
		}
		if _, ok := seen[p.UserID]; ok {
			continue
		}
		seen[p.UserID] = struct{}{}
		out = append(out, p.UserID)
	}
	return out, nil
}

func (s *Memory) AppendMessage(m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[m.ConversationID]
	if !ok {
		return ErrNotFound
	}
	// Mirrors the ux_message_token unique index.
	if m.ClientToken != nil {
		for _, existing := range s.messages {
			if existing.ConversationID == m.ConversationID && existing.SenderID == m.SenderID &&
				existing.ClientToken != nil && *existing.ClientToken == *m.ClientToken {
				return ErrDuplicate
			}
		}
	}
	var tail uint64
	for _, existing := range s.messages {
		if existing.ConversationID == m.ConversationID && existing.Seq > tail {
			tail = existing.Seq
		}
	}
	s.nextMessageID++
	m.ID = s.nextMessageID
	m.Seq = tail + 1
	m.CreatedAt = time.Now()
	if sender, ok := s.users[m.SenderID]; ok {
		m.Sender = *sender
	}
	copied := *m
	s.messages[m.ID] = &copied
	c.LastMessageAt = m.CreatedAt
	return nil
}

func (s *Memory) Message(id uint) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *m
	return &copied, nil
}

func (s *Memory) MessageByToken(conversationID, senderID uint, token string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ConversationID == conversationID && m.SenderID == senderID &&
			m.ClientToken != nil && *m.ClientToken == token {
			copied := *m
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *Memory) Messages(conversationID uint, limit, offset int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := []model.Message{}
	for _, m := range s.messages {
		if m.ConversationID == conversationID && !m.Deleted {
			all = append(all, *m)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Seq < all[j].Seq })
	if offset >= len(all) {
		return []model.Message{}, nil
	}
	start := len(all) - offset - limit
	if start < 0 {
		start = 0
	}
	return all[start : len(all)-offset], nil
}

func (s *Memory) SaveMessage(m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; !ok {
		return ErrNotFound
	}
	copied := *m
	s.messages[m.ID] = &copied
	return nil
}

func (s *Memory) UnreadCount(conversationID, userID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.participant(conversationID, userID)
	if p == nil {
		return 0, ErrNotAParticipant
	}
	var count int64
	for _, m := range s.messages {
		if m.ConversationID == conversationID && m.Seq > p.LastReadSeq &&
			m.SenderID != userID && !m.Deleted {
			count++
		}
	}
	return count, nil
}

func (s *Memory) AdvanceWatermark(conversationID, userID uint, seq uint64, messageID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.participant(conversationID, userID)
	if p == nil {
		return false, nil
	}
	if p.LastReadSeq >= seq {
		return false, nil
	}
	p.LastReadSeq = seq
	p.LastReadID = messageID
	return true, nil
}

func (s *Memory) ToggleReaction(messageID, userID uint, emoji string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.reactions {
		if r.MessageID == messageID && r.UserID == userID && r.Emoji == emoji {
			s.reactions = append(s.reactions[:i], s.reactions[i+1:]...)
			return false, nil
		}
	}
	s.reactions = append(s.reactions, &model.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji})
	return true, nil
}

func (s *Memory) RemoveReaction(messageID, userID uint, emoji string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.reactions {
		if r.MessageID == messageID && r.UserID == userID && r.Emoji == emoji {
			s.reactions = append(s.reactions[:i], s.reactions[i+1:]...)
			return nil
		}
	}
	return nil
}

// Reactions reports the reactions on a message, for tests.
func (s *Memory) Reactions(messageID uint) []model.Reaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Reaction{}
	for _, r := range s.reactions {
		if r.MessageID == messageID {
			out = append(out, *r)
		}
	}
	return out
}

func (s *Memory) SaveCallRecord(r *model.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *r
	s.callRecords = append(s.callRecords, &copied)
	return nil
}

// CallRecords reports saved call records, for tests.
func (s *Memory) CallRecords() []model.CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.CallRecord{}
	for _, r := range s.callRecords {
		out = append(out, *r)
	}
	return out
}

func (s *Memory) Notifications(userID uint, limit int) ([]model.Notification, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := []model.Notification{}
	var unread int64
	for _, n := range s.notifications {
		if n.UserID != userID {
			continue
		}
		all = append(all, *n)
		if !n.Read {
			unread++
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, unread, nil
}

func (s *Memory) SaveNotification(n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextNotificationID++
	n.ID = s.nextNotificationID
	n.CreatedAt = time.Now()
	copied := *n
	s.notifications[n.ID] = &copied
	return nil
}

func (s *Memory) MarkNotificationRead(id, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	n.Read = true
	return nil
}

func (s *Memory) MarkAllNotificationsRead(userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notifications {
		if n.UserID == userID {
			n.Read = true
		}
	}
	return nil
}

func (s *Memory) User(id uint) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *u
	return &copied, nil
}
