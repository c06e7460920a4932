package model

import "gorm.io/gorm"

// User rows are owned by the external auth/profile service. This core only
// reads them to decorate outgoing events with sender info.
type User struct {
	gorm.Model
	Username  string `gorm:"uniqueIndex;not null" json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	AvatarURL string `json:"avatar_url"`
}
