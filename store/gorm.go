package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"conversation-service/model"
)

// Gorm is the Postgres-backed Store.
type Gorm struct {
	db *gorm.DB
}

func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

func (s *Gorm) Conversation(id uint) (*model.Conversation, error) {
	conversation := new(model.Conversation)
	if err := s.db.First(conversation, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return conversation, nil
}

func (s *Gorm) ConversationsFor(userID uint) ([]model.Conversation, error) {
	var ids []uint
	if err := s.db.Model(&model.Participant{}).
		Where(&model.Participant{UserID: userID}).
		Pluck("conversation_id", &ids).Error; err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []model.Conversation{}, nil
	}

	conversations := []model.Conversation{}
	if err := s.db.Where("id IN ?", ids).
		Order("last_message_at DESC").
		Find(&conversations).Error; err != nil {
		return nil, err
	}
	return conversations, nil
}

func (s *Gorm) Participants(conversationID uint) ([]model.Participant, error) {
	participants := []model.Participant{}
	err := s.db.Where(&model.Participant{ConversationID: conversationID}).Find(&participants).Error
	return participants, err
}

func (s *Gorm) IsParticipant(conversationID, userID uint) (bool, error) {
	var count int64
	err := s.db.Model(&model.Participant{}).
		Where(&model.Participant{ConversationID: conversationID, UserID: userID}).
		Count(&count).Error
	return count > 0, err
}

func (s *Gorm) ContactsOf(userID uint) ([]uint, error) {
	var ids []uint
	err := s.db.Model(&model.Participant{}).
		Distinct("user_id").
		Where("user_id <> ?", userID).
		Where("conversation_id IN (?)", s.db.Model(&model.Participant{}).
			Select("conversation_id").
			Where(&model.Participant{UserID: userID})).
		Pluck("user_id", &ids).Error
	return ids, err
}

func (s *Gorm) AppendMessage(m *model.Message) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		// The row lock on the conversation makes this the single ordering
		// authority across service instances.
		conversation := new(model.Conversation)
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(conversation, m.ConversationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		var tail uint64
		row := tx.Model(&model.Message{}).
			Where(&model.Message{ConversationID: m.ConversationID}).
			Select("COALESCE(MAX(seq), 0)").Row()
		if err := row.Scan(&tail); err != nil {
			return err
		}

		m.Seq = tail + 1
		if err := tx.Create(m).Error; err != nil {
			return err
		}

		return tx.Model(conversation).Update("last_message_at", time.Now()).Error
	})
}

func (s *Gorm) Message(id uint) (*model.Message, error) {
	message := new(model.Message)
	if err := s.db.Preload("Sender").First(message, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return message, nil
}

func (s *Gorm) MessageByToken(conversationID, senderID uint, token string) (*model.Message, error) {
	message := new(model.Message)
	err := s.db.Preload("Sender").
		Where("conversation_id = ? AND sender_id = ? AND client_token = ?", conversationID, senderID, token).
		First(message).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return message, nil
}

func (s *Gorm) Messages(conversationID uint, limit, offset int) ([]model.Message, error) {
	messages := []model.Message{}
	err := s.db.Preload("Sender").
		Where(&model.Message{ConversationID: conversationID}).
		Where("deleted = ?", false).
		Order("seq DESC").
		Limit(limit).Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	// Newest page, chronological order within it.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *Gorm) SaveMessage(m *model.Message) error {
	return s.db.Save(m).Error
}

func (s *Gorm) UnreadCount(conversationID, userID uint) (int64, error) {
	participant := new(model.Participant)
	err := s.db.Where(&model.Participant{ConversationID: conversationID, UserID: userID}).
		First(participant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrNotAParticipant
		}
		return 0, err
	}

	var count int64
	err = s.db.Model(&model.Message{}).
		Where(&model.Message{ConversationID: conversationID}).
		Where("seq > ? AND sender_id <> ? AND deleted = ?", participant.LastReadSeq, userID, false).
		Count(&count).Error
	return count, err
}

func (s *Gorm) AdvanceWatermark(conversationID, userID uint, seq uint64, messageID uint) (bool, error) {
	res := s.db.Model(&model.Participant{}).
		Where(&model.Participant{ConversationID: conversationID, UserID: userID}).
		Where("last_read_seq < ?", seq).
		Updates(map[string]any{"last_read_seq": seq, "last_read_id": messageID})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Gorm) ToggleReaction(messageID, userID uint, emoji string) (bool, error) {
	var added bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where(&model.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji}).
			Delete(&model.Reaction{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			added = false
			return nil
		}
		added = true
		return tx.Create(&model.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji}).Error
	})
	return added, err
}

func (s *Gorm) RemoveReaction(messageID, userID uint, emoji string) error {
	return s.db.Where(&model.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji}).
		Delete(&model.Reaction{}).Error
}

func (s *Gorm) SaveCallRecord(r *model.CallRecord) error {
	return s.db.Create(r).Error
}

func (s *Gorm) Notifications(userID uint, limit int) ([]model.Notification, int64, error) {
	notifications := []model.Notification{}
	err := s.db.Where(&model.Notification{UserID: userID}).
		Order("id DESC").
		Limit(limit).
		Find(&notifications).Error
	if err != nil {
		return nil, 0, err
	}

	var unread int64
	err = s.db.Model(&model.Notification{}).
		Where(&model.Notification{UserID: userID}).
		Where("read = ?", false).
		Count(&unread).Error
	return notifications, unread, err
}

func (s *Gorm) SaveNotification(n *model.Notification) error {
	return s.db.Create(n).Error
}

func (s *Gorm) MarkNotificationRead(id, userID uint) error {
	return s.db.Model(&model.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("read", true).Error
}

func (s *Gorm) MarkAllNotificationsRead(userID uint) error {
	return s.db.Model(&model.Notification{}).
		Where(&model.Notification{UserID: userID}).
		Where("read = ?", false).
		Update("read", true).Error
}

func (s *Gorm) User(id uint) (*model.User, error) {
	user := new(model.User)
	if err := s.db.First(user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return user, nil
}
