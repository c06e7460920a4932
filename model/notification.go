package model

import "gorm.io/gorm"

// Notification is created by external collaborators (likes, follows,
// mentions); this core only delivers it over the per-user stream and flips
// the read flag.
type Notification struct {
	gorm.Model
	UserID        uint   `gorm:"not null;index" json:"user_id"`
	Kind          string `gorm:"not null" json:"kind"`
	Content       string `gorm:"not null" json:"content"`
	RelatedUserID uint   `gorm:"not null;default:0" json:"related_user_id,omitempty"`
	PostID        uint   `gorm:"not null;default:0" json:"post_id,omitempty"`
	Read          bool   `gorm:"not null;default:false" json:"is_read"`
}
