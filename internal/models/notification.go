package models

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationType categorises user-facing alerts.
type NotificationType string

const (
	NotificationMessage        NotificationType = "message"
	NotificationGroupInvite    NotificationType = "group_invite"
	NotificationContactRequest NotificationType = "contact_request"
	NotificationSystemAlert    NotificationType = "system_alert"
	NotificationMention        NotificationType = "mention"
)

// Notification is a persisted alert delivered to a single user.
type Notification struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	UserID    uint              `gorm:"not null;index" json:"user_id"`
	Type      NotificationType  `gorm:"size:32;not null" json:"type"`
	Title     string            `gorm:"size:255;not null" json:"title"`
	Body      string            `gorm:"type:text" json:"body"`
	Data      datatypes.JSONMap `json:"data,omitempty"`
	IsRead    bool              `gorm:"not null;default:false" json:"is_read"`
	CreatedAt time.Time         `json:"created_at"`
}

// TableName specifies the table name for GORM.
func (Notification) TableName() string {
	return "notifications"
}
