package model

import (
	"time"

	"gorm.io/gorm"
)

const (
	ConversationDirect = "direct"
	ConversationGroup  = "group"
)

// Conversation is created by the REST layer; this core only reads it and
// bumps LastMessageAt.
type Conversation struct {
	gorm.Model
	Kind          string    `gorm:"not null;default:direct" json:"kind"`
	Name          string    `json:"name"`
	CreatedBy     uint      `json:"created_by"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// Participant ties a user to a conversation. LastReadSeq is the read-receipt
// watermark and is the only field this core mutates; it never moves backward.
type Participant struct {
	gorm.Model
	ConversationID uint   `gorm:"not null;uniqueIndex:ux_participant,priority:1" json:"conversation_id"`
	UserID         uint   `gorm:"not null;uniqueIndex:ux_participant,priority:2" json:"user_id"`
	Role           string `gorm:"not null;default:member" json:"role"`
	LastReadSeq    uint64 `gorm:"not null;default:0" json:"last_read_seq"`
	LastReadID     uint   `gorm:"not null;default:0" json:"last_read_id"`
}

// Message is append-mostly. Seq is assigned by the server strictly after the
// conversation's current tail and defines the total order within a
// conversation. ClientToken deduplicates retries and optimistic-UI
// reconciliation: at most one message per (conversation, sender, token).
type Message struct {
	gorm.Model
	ConversationID uint    `gorm:"not null;uniqueIndex:ux_message_seq,priority:1;uniqueIndex:ux_message_token,priority:1" json:"conversation_id"`
	Seq            uint64  `gorm:"not null;uniqueIndex:ux_message_seq,priority:2" json:"seq"`
	SenderID       uint    `gorm:"not null;index;uniqueIndex:ux_message_token,priority:2" json:"sender_id"`
	ClientToken    *string `gorm:"uniqueIndex:ux_message_token,priority:3" json:"client_token,omitempty"`
	Type           string  `gorm:"not null;default:text" json:"type"`
	Content        string  `json:"content"`
	FileURL        string  `json:"file_url,omitempty"`
	FileName       string  `json:"file_name,omitempty"`
	FileSize       int64   `json:"file_size,omitempty"`
	ReplyToID      uint    `gorm:"not null;default:0" json:"reply_to_id,omitempty"`
	Edited         bool    `gorm:"not null;default:false" json:"is_edited"`
	Deleted        bool    `gorm:"not null;default:false" json:"is_deleted"`
	Sender         User    `gorm:"foreignKey:SenderID" json:"sender"`
}

// Reaction holds at most one row per (message, user, emoji); a repeated add is
// interpreted as a toggle and removes the row.
type Reaction struct {
	gorm.Model
	MessageID uint   `gorm:"not null;uniqueIndex:ux_reaction,priority:1" json:"message_id"`
	UserID    uint   `gorm:"not null;uniqueIndex:ux_reaction,priority:2" json:"user_id"`
	Emoji     string `gorm:"not null;uniqueIndex:ux_reaction,priority:3" json:"emoji"`
}
