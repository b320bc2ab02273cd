// Package models contains data structures for the chat domain.
package models

import "time"

// User is the identity referenced by participants, messages and blocks.
type User struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Username    string     `gorm:"size:64;uniqueIndex;not null" json:"username"`
	Email       string     `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Password    string     `gorm:"size:255" json:"-"`
	DisplayName string     `gorm:"size:128" json:"display_name"`
	AvatarURL   string     `gorm:"size:512" json:"avatar_url,omitempty"`
	IsOnline    bool       `gorm:"not null;default:false" json:"is_online"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (User) TableName() string {
	return "users"
}

// UserBlock records that BlockerID does not want contact from BlockedID.
type UserBlock struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	BlockerID uint      `gorm:"not null;uniqueIndex:idx_user_blocks_pair" json:"blocker_id"`
	BlockedID uint      `gorm:"not null;uniqueIndex:idx_user_blocks_pair;index" json:"blocked_id"`
	Reason    string    `gorm:"type:text;default:''" json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM.
func (UserBlock) TableName() string {
	return "user_blocks"
}
