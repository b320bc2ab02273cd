package models

import (
	"fmt"
	"strings"
	"time"
)

// ConversationType distinguishes private chats from groups and channels.
type ConversationType string

const (
	ConversationPrivate ConversationType = "private"
	ConversationGroup   ConversationType = "group"
	ConversationChannel ConversationType = "channel"
)

// IsMultiParty reports whether the conversation has an owner and roles.
func (t ConversationType) IsMultiParty() bool {
	return t == ConversationGroup || t == ConversationChannel
}

// ParticipantRole is totally ordered: Member < Admin < Owner.
type ParticipantRole int

const (
	RoleMember ParticipantRole = iota
	RoleAdmin
	RoleOwner
)

// AtLeast reports whether r grants the privileges of required.
func (r ParticipantRole) AtLeast(required ParticipantRole) bool {
	return r >= required
}

// Valid reports whether r is one of the defined roles.
func (r ParticipantRole) Valid() bool {
	return r >= RoleMember && r <= RoleOwner
}

func (r ParticipantRole) String() string {
	switch r {
	case RoleMember:
		return "member"
	case RoleAdmin:
		return "admin"
	case RoleOwner:
		return "owner"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// MarshalText encodes the role by name.
func (r ParticipantRole) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid participant role %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText decodes a role name.
func (r *ParticipantRole) UnmarshalText(text []byte) error {
	parsed, err := ParseParticipantRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseParticipantRole parses a case-insensitive role name.
func ParseParticipantRole(s string) (ParticipantRole, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "member":
		return RoleMember, nil
	case "admin":
		return RoleAdmin, nil
	case "owner":
		return RoleOwner, nil
	}
	return RoleMember, fmt.Errorf("unknown participant role %q", s)
}

// Conversation is a private, group or channel context.
type Conversation struct {
	ID                   uint             `gorm:"primaryKey" json:"id"`
	Type                 ConversationType `gorm:"size:16;not null;index" json:"type"`
	Name                 string           `gorm:"size:128" json:"name,omitempty"`
	Description          string           `gorm:"type:text" json:"description,omitempty"`
	AvatarURL            string           `gorm:"size:512" json:"avatar_url,omitempty"`
	IsPublic             bool             `gorm:"not null;default:false" json:"is_public"`
	InviteLink           *string          `gorm:"size:64;uniqueIndex" json:"invite_link,omitempty"`
	PairKey              *string          `gorm:"size:64;uniqueIndex" json:"-"`
	MaxParticipants      *int             `json:"max_participants,omitempty"`
	OnlyAdminsCanMessage bool             `gorm:"not null;default:false" json:"only_admins_can_message"`
	LastMessageID        *uint            `gorm:"index" json:"last_message_id,omitempty"`
	IsActive             bool             `gorm:"not null" json:"is_active"`
	IsDeleted            bool             `gorm:"not null;default:false;index" json:"-"`
	DeletedAt            *time.Time       `json:"-"`
	CreatedBy            uint             `gorm:"not null;index" json:"created_by"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`

	Participants []Participant `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`

	// Per-caller view, populated by listing queries.
	LastMessage *Message     `gorm:"-" json:"last_message,omitempty"`
	UnreadCount int64        `gorm:"-" json:"unread_count"`
	Membership  *Participant `gorm:"-" json:"membership,omitempty"`
}

// TableName specifies the table name for GORM.
func (Conversation) TableName() string {
	return "conversations"
}

// PrivatePairKey is the order-independent key that makes at most one live
// private conversation exist per pair of users.
func PrivatePairKey(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// Participant is a user's membership row within a conversation. Rows are never
// hard-deleted; leaving sets HasLeft.
type Participant struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	ConversationID    uint            `gorm:"not null;uniqueIndex:idx_participants_conv_user" json:"conversation_id"`
	UserID            uint            `gorm:"not null;uniqueIndex:idx_participants_conv_user;index" json:"user_id"`
	Role              ParticipantRole `gorm:"not null;default:0" json:"role"`
	Nickname          string          `gorm:"size:64" json:"nickname,omitempty"`
	JoinedAt          time.Time       `gorm:"not null" json:"joined_at"`
	HasLeft           bool            `gorm:"not null;default:false" json:"has_left"`
	LeftAt            *time.Time      `json:"left_at,omitempty"`
	IsMuted           bool            `gorm:"not null;default:false" json:"is_muted"`
	MutedUntil        *time.Time      `json:"muted_until,omitempty"`
	IsArchived        bool            `gorm:"not null;default:false" json:"is_archived"`
	IsPinned          bool            `gorm:"not null;default:false" json:"is_pinned"`
	LastReadAt        *time.Time      `json:"last_read_at,omitempty"`
	LastReadMessageID *uint           `json:"last_read_message_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// TableName specifies the table name for GORM.
func (Participant) TableName() string {
	return "conversation_participants"
}

// Active reports whether the participant is a current member.
func (p *Participant) Active() bool {
	return p != nil && !p.HasLeft
}

// MutedAt reports whether notifications are suppressed at the given instant.
// A mute with an expiry in the past no longer applies.
func (p *Participant) MutedAt(now time.Time) bool {
	if !p.IsMuted {
		return false
	}
	return p.MutedUntil == nil || p.MutedUntil.After(now)
}
