package models

import (
	"strings"
	"time"
)

// MessageType classifies message content.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageVideo    MessageType = "video"
	MessageAudio    MessageType = "audio"
	MessageDocument MessageType = "document"
	MessageLocation MessageType = "location"
	MessageContact  MessageType = "contact"
	MessageSticker  MessageType = "sticker"
	MessageGif      MessageType = "gif"
	MessageSystem   MessageType = "system"
)

var validMessageTypes = map[MessageType]struct{}{
	MessageText: {}, MessageImage: {}, MessageVideo: {}, MessageAudio: {}, MessageDocument: {},
	MessageLocation: {}, MessageContact: {}, MessageSticker: {}, MessageGif: {}, MessageSystem: {},
}

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	_, ok := validMessageTypes[t]
	return ok
}

// MessageStatus is the delivery state of a message or of a per-recipient tracker.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

var statusTransitions = map[MessageStatus][]MessageStatus{
	StatusSending:   {StatusSent, StatusFailed},
	StatusSent:      {StatusDelivered, StatusRead},
	StatusDelivered: {StatusRead},
}

// CanTransition reports whether a status may move from s to next.
// Failed and Read are terminal.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AttachmentType is the media kind of an uploaded file.
type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentVideo    AttachmentType = "video"
	AttachmentAudio    AttachmentType = "audio"
	AttachmentDocument AttachmentType = "document"
)

// MessageType maps the media kind onto the matching message type.
func (a AttachmentType) MessageType() MessageType {
	switch a {
	case AttachmentImage:
		return MessageImage
	case AttachmentVideo:
		return MessageVideo
	case AttachmentAudio:
		return MessageAudio
	default:
		return MessageDocument
	}
}

// AttachmentTypeFor maps a MIME content type to its media kind.
func AttachmentTypeFor(contentType string) AttachmentType {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return AttachmentImage
	case strings.HasPrefix(contentType, "video/"):
		return AttachmentVideo
	case strings.HasPrefix(contentType, "audio/"):
		return AttachmentAudio
	default:
		return AttachmentDocument
	}
}

// Message is a single chat message. ReplyToID and OriginalMessageID are plain
// id references resolved through the store when needed.
type Message struct {
	ID                 uint          `gorm:"primaryKey" json:"id"`
	ConversationID     uint          `gorm:"not null;index:idx_messages_conv_created" json:"conversation_id"`
	SenderID           uint          `gorm:"not null;index" json:"sender_id"`
	Content            *string       `gorm:"type:text" json:"content"`
	Type               MessageType   `gorm:"size:16;not null" json:"type"`
	Status             MessageStatus `gorm:"size:16;not null" json:"status"`
	ReplyToID          *uint         `gorm:"index" json:"reply_to_id,omitempty"`
	IsForwarded        bool          `gorm:"not null;default:false" json:"is_forwarded"`
	OriginalMessageID  *uint         `json:"original_message_id,omitempty"`
	IsEdited           bool          `gorm:"not null;default:false" json:"is_edited"`
	EditedAt           *time.Time    `json:"edited_at,omitempty"`
	OriginalContent    *string       `gorm:"type:text" json:"-"`
	IsDeleted          bool          `gorm:"not null;default:false;index" json:"is_deleted"`
	DeletedAt          *time.Time    `json:"deleted_at,omitempty"`
	DeletedForEveryone bool          `gorm:"not null;default:false" json:"deleted_for_everyone"`
	CreatedAt          time.Time     `gorm:"index:idx_messages_conv_created" json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`

	Sender      *User        `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	Attachments []Attachment `gorm:"foreignKey:MessageID" json:"attachments,omitempty"`
	Reactions   []Reaction   `gorm:"foreignKey:MessageID" json:"reactions,omitempty"`
}

// TableName specifies the table name for GORM.
func (Message) TableName() string {
	return "messages"
}

// Text returns the message content or "" when it has none.
func (m *Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// Attachment is a file owned by exactly one message. Immutable after send.
type Attachment struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	MessageID    uint           `gorm:"not null;index" json:"message_id"`
	FileName     string         `gorm:"size:255;not null" json:"file_name"`
	FileURL      string         `gorm:"size:1024;not null" json:"file_url"`
	ContentType  string         `gorm:"size:128" json:"content_type"`
	FileSize     int64          `gorm:"not null" json:"file_size"`
	MediaType    AttachmentType `gorm:"size:16;not null" json:"media_type"`
	ThumbnailURL string         `gorm:"size:1024" json:"thumbnail_url,omitempty"`
	Width        *int           `json:"width,omitempty"`
	Height       *int           `json:"height,omitempty"`
	DurationSec  *int           `json:"duration_sec,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// TableName specifies the table name for GORM.
func (Attachment) TableName() string {
	return "message_attachments"
}

// Reaction holds one emoji per (message, user).
type Reaction struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MessageID uint      `gorm:"not null;uniqueIndex:idx_reactions_msg_user" json:"message_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_reactions_msg_user" json:"user_id"`
	Emoji     string    `gorm:"size:32;not null" json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (Reaction) TableName() string {
	return "message_reactions"
}

// ReadTracker is the per-recipient delivery state of a message.
type ReadTracker struct {
	ID          uint          `gorm:"primaryKey" json:"id"`
	MessageID   uint          `gorm:"not null;uniqueIndex:idx_read_trackers_msg_user" json:"message_id"`
	UserID      uint          `gorm:"not null;uniqueIndex:idx_read_trackers_msg_user;index" json:"user_id"`
	Status      MessageStatus `gorm:"size:16;not null" json:"status"`
	DeliveredAt *time.Time    `json:"delivered_at,omitempty"`
	ReadAt      *time.Time    `json:"read_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (ReadTracker) TableName() string {
	return "message_read_trackers"
}

// MessageVisibility hides a message from one user's view only.
type MessageVisibility struct {
	MessageID uint      `gorm:"primaryKey;autoIncrement:false" json:"message_id"`
	UserID    uint      `gorm:"primaryKey;autoIncrement:false;index" json:"user_id"`
	HiddenAt  time.Time `gorm:"not null" json:"hidden_at"`
}

// TableName specifies the table name for GORM.
func (MessageVisibility) TableName() string {
	return "message_visibility_exceptions"
}
