package notifications

import (
	"strconv"
	"time"
)

// EventName identifies a realtime event on the wire.
type EventName string

const (
	EventNewMessage          EventName = "NewMessage"
	EventMessageEdited       EventName = "MessageEdited"
	EventMessageDeleted      EventName = "MessageDeleted"
	EventMessageReaction     EventName = "MessageReaction"
	EventReactionRemoved     EventName = "ReactionRemoved"
	EventMessagesRead        EventName = "MessagesRead"
	EventUserOnline          EventName = "UserOnline"
	EventUserOffline         EventName = "UserOffline"
	EventUserTyping          EventName = "UserTyping"
	EventNewNotification     EventName = "NewNotification"
	EventParticipantJoined   EventName = "ParticipantJoined"
	EventParticipantLeft     EventName = "ParticipantLeft"
	EventParticipantRole     EventName = "ParticipantRoleChanged"
	EventConversationUpdated EventName = "ConversationUpdated"
	EventConversationDeleted EventName = "ConversationDeleted"
	EventConnectedUsers      EventName = "ConnectedUsers"
	EventMessagesDropped     EventName = "MessagesDropped"
	EventError               EventName = "Error"
	EventJoinedConversation  EventName = "JoinedConversation"
)

// Event is the envelope written to live connections.
type Event struct {
	Name    EventName   `json:"event"`
	Payload interface{} `json:"payload"`
}

// MessageDeletedPayload accompanies EventMessageDeleted.
type MessageDeletedPayload struct {
	ConversationID     uint `json:"conversation_id"`
	MessageID          uint `json:"message_id"`
	DeletedForEveryone bool `json:"deleted_for_everyone"`
}

// ReactionPayload accompanies EventMessageReaction and EventReactionRemoved.
type ReactionPayload struct {
	ConversationID uint   `json:"conversation_id"`
	MessageID      uint   `json:"message_id"`
	UserID         uint   `json:"user_id"`
	Emoji          string `json:"emoji,omitempty"`
}

// MessagesReadPayload accompanies EventMessagesRead.
type MessagesReadPayload struct {
	ConversationID uint      `json:"conversation_id"`
	UserID         uint      `json:"user_id"`
	ReadAt         time.Time `json:"read_at"`
}

// PresencePayload accompanies EventUserOnline and EventUserOffline.
type PresencePayload struct {
	UserID uint       `json:"user_id"`
	At     *time.Time `json:"at,omitempty"`
}

// TypingPayload accompanies EventUserTyping.
type TypingPayload struct {
	UserID         uint `json:"user_id"`
	ConversationID uint `json:"conversation_id"`
	IsTyping       bool `json:"is_typing"`
}

// MembershipPayload accompanies participant events.
type MembershipPayload struct {
	ConversationID uint   `json:"conversation_id"`
	UserID         uint   `json:"user_id"`
	ActorID        uint   `json:"actor_id,omitempty"`
	Role           string `json:"role,omitempty"`
}

// ConnectedUsersPayload is the presence snapshot sent to a new connection.
type ConnectedUsersPayload struct {
	UserIDs []uint `json:"user_ids"`
}

// ErrorPayload accompanies EventError, answering a rejected client frame.
type ErrorPayload struct {
	Frame   string `json:"frame,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

const (
	conversationGroupPrefix = "conversation_"
	userGroupPrefix         = "user_"
)

// ConversationGroup names the group of connections following a conversation.
func ConversationGroup(conversationID uint) string {
	return conversationGroupPrefix + strconv.FormatUint(uint64(conversationID), 10)
}

// UserGroup names the group of all connections owned by a user.
func UserGroup(userID uint) string {
	return userGroupPrefix + strconv.FormatUint(uint64(userID), 10)
}
