package notifications

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"parley/internal/observability"

	"github.com/google/uuid"
)

const publishTimeout = 2 * time.Second

// EventBus delivers events to conversation groups, user groups or every
// connection. Local connections are served directly. When a Notifier is
// configured the event is also relayed to other instances.
type EventBus struct {
	registry *Registry
	notifier *Notifier
	origin   string
}

// NewEventBus creates an EventBus. notifier may be nil for single-instance use.
func NewEventBus(registry *Registry, notifier *Notifier) *EventBus {
	return &EventBus{
		registry: registry,
		notifier: notifier,
		origin:   uuid.NewString(),
	}
}

// Start subscribes to events relayed by other instances.
func (b *EventBus) Start(ctx context.Context) error {
	return b.notifier.subscribe(ctx, b.handleRemote)
}

// ToConversation delivers event to every connection subscribed to the
// conversation, except those owned by exclude.
func (b *EventBus) ToConversation(ctx context.Context, conversationID uint, event Event, exclude ...uint) {
	b.emit(ctx, "conversation", ConversationChannel(conversationID), ConversationGroup(conversationID), event, exclude)
}

// ToUser delivers event to every connection owned by userID.
func (b *EventBus) ToUser(ctx context.Context, userID uint, event Event) {
	b.emit(ctx, "user", UserChannel(userID), UserGroup(userID), event, nil)
}

// ToEveryone delivers event to every live connection except those owned by exclude.
func (b *EventBus) ToEveryone(ctx context.Context, event Event, exclude ...uint) {
	b.emit(ctx, "all", broadcastChannel, "", event, exclude)
}

// JoinConversationGroup subscribes userID's connections to the conversation.
func (b *EventBus) JoinConversationGroup(ctx context.Context, userID, conversationID uint) {
	b.registry.JoinGroup(userID, ConversationGroup(conversationID))
	b.relayMembership(ctx, membershipJoin, userID, conversationID)
}

// LeaveConversationGroup unsubscribes userID's connections from the conversation.
func (b *EventBus) LeaveConversationGroup(ctx context.Context, userID, conversationID uint) {
	b.registry.LeaveGroup(userID, ConversationGroup(conversationID))
	b.relayMembership(ctx, membershipLeave, userID, conversationID)
}

func (b *EventBus) emit(ctx context.Context, scope, channel, group string, event Event, exclude []uint) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode event", slog.String("event", string(event.Name)), slog.String("error", err.Error()))
		return
	}
	observability.EventsBroadcast.WithLabelValues(string(event.Name), scope).Inc()
	b.deliverLocal(group, data, exclude)

	if !b.notifier.Enabled() {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	env := envelope{Origin: b.origin, Group: group, Exclude: exclude, Event: data}
	if err := b.notifier.publish(pubCtx, channel, env); err != nil {
		slog.WarnContext(ctx, "failed to relay event", slog.String("event", string(event.Name)), slog.String("channel", channel), slog.String("error", err.Error()))
	}
}

func (b *EventBus) relayMembership(ctx context.Context, op string, userID, conversationID uint) {
	if !b.notifier.Enabled() {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	env := envelope{Origin: b.origin, Op: op, UserID: userID, ConversationID: conversationID}
	if err := b.notifier.publish(pubCtx, membershipChannel, env); err != nil {
		slog.WarnContext(ctx, "failed to relay membership change", slog.String("op", op), slog.String("error", err.Error()))
	}
}

func (b *EventBus) deliverLocal(group string, data []byte, exclude []uint) {
	if group == "" {
		b.registry.DeliverAll(data, exclude)
		return
	}
	b.registry.Deliver(group, data, exclude)
}

func (b *EventBus) handleRemote(_ string, env envelope) {
	if env.Origin == b.origin {
		return
	}
	switch env.Op {
	case membershipJoin:
		b.registry.JoinGroup(env.UserID, ConversationGroup(env.ConversationID))
	case membershipLeave:
		b.registry.LeaveGroup(env.UserID, ConversationGroup(env.ConversationID))
	default:
		if len(env.Event) > 0 {
			b.deliverLocal(env.Group, env.Event, env.Exclude)
		}
	}
}
