package model

import (
	"time"

	"gorm.io/gorm"
)

// CallRecord is the post-hoc durable trace of a call attempt. The live
// negotiation state lives only in the call arena and is destroyed on the
// terminal transition.
type CallRecord struct {
	gorm.Model
	ConversationID uint      `gorm:"not null;index" json:"conversation_id"`
	CallerID       uint      `gorm:"not null" json:"caller_id"`
	Kind           string    `gorm:"not null" json:"kind"`
	Reason         string    `gorm:"not null" json:"reason"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
	Duration       int       `json:"duration"`
}
