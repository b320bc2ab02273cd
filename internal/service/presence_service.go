package service

import (
	"context"
	"log/slog"
	"time"

	"parley/internal/models"
	"parley/internal/notifications"
	"parley/internal/repository"
)

const presenceTaskName = "presence.persist"

// TypingLimiter reports whether userID may emit another typing event now.
type TypingLimiter func(ctx context.Context, userID uint) bool

// PresenceService connects live clients to the registry, persists online and
// offline transitions and relays typing indicators.
type PresenceService struct {
	store    repository.Store
	registry *notifications.Registry
	events   EventBroadcaster
	tasks    TaskSubmitter
	limiter  TypingLimiter
}

// NewPresenceService wires the registry's presence transitions to s.
func NewPresenceService(store repository.Store, registry *notifications.Registry, events EventBroadcaster, tasks TaskSubmitter) *PresenceService {
	s := &PresenceService{
		store:    store,
		registry: registry,
		events:   orNoop(events),
		tasks:    tasks,
	}
	registry.Presence().SetCallbacks(s.userOnline, s.userOffline)
	return s
}

// SetTypingLimiter installs a rate limit for SendTyping.
func (s *PresenceService) SetTypingLimiter(l TypingLimiter) {
	s.limiter = l
}

// Connect registers client and subscribes it to every conversation its user
// is an active participant of.
func (s *PresenceService) Connect(ctx context.Context, client *notifications.Client) error {
	ids, err := s.store.Conversations().ActiveConversationIDs(ctx, client.UserID)
	if err != nil {
		return err
	}
	client.OnActivity = s.registry.Touch
	return s.registry.Connect(ctx, client, ids)
}

// Disconnect drops client from the registry.
func (s *PresenceService) Disconnect(client *notifications.Client) {
	s.registry.UnregisterClient(client)
}

// OnlineUsers lists users connected to any instance.
func (s *PresenceService) OnlineUsers(ctx context.Context) []uint {
	return s.registry.Presence().GetOnlineUserIDs(ctx)
}

// SendTyping relays a typing indicator to the other members of the
// conversation. Nothing is persisted.
func (s *PresenceService) SendTyping(ctx context.Context, userID, convID uint, isTyping bool) error {
	if _, err := requireParticipant(ctx, s.store.Conversations(), convID, userID); err != nil {
		return err
	}
	if s.limiter != nil && !s.limiter(ctx, userID) {
		return nil
	}
	s.events.ToConversation(ctx, convID, notifications.Event{
		Name:    notifications.EventUserTyping,
		Payload: notifications.TypingPayload{UserID: userID, ConversationID: convID, IsTyping: isTyping},
	}, userID)
	return nil
}

// JoinConversationGroup subscribes the user's connections to a conversation
// they belong to, without reconnecting.
func (s *PresenceService) JoinConversationGroup(ctx context.Context, userID, convID uint) error {
	if _, err := s.store.Conversations().GetByID(ctx, convID); err != nil {
		return err
	}
	if _, err := requireParticipant(ctx, s.store.Conversations(), convID, userID); err != nil {
		return err
	}
	s.events.JoinConversationGroup(ctx, userID, convID)
	return nil
}

// LeaveConversationGroup stops live delivery of a conversation to the user.
func (s *PresenceService) LeaveConversationGroup(ctx context.Context, userID, convID uint) {
	s.events.LeaveConversationGroup(ctx, userID, convID)
}

func (s *PresenceService) userOnline(userID uint, at time.Time) {
	ctx := context.Background()
	s.persist(ctx, userID, true, at)
	s.events.ToEveryone(ctx, notifications.Event{
		Name:    notifications.EventUserOnline,
		Payload: notifications.PresencePayload{UserID: userID},
	}, userID)
}

func (s *PresenceService) userOffline(userID uint, at time.Time) {
	ctx := context.Background()
	s.persist(ctx, userID, false, at)
	s.events.ToEveryone(ctx, notifications.Event{
		Name:    notifications.EventUserOffline,
		Payload: notifications.PresencePayload{UserID: userID, At: &at},
	}, userID)
}

func (s *PresenceService) persist(ctx context.Context, userID uint, online bool, at time.Time) {
	write := func(ctx context.Context) error {
		return s.store.Users().UpdatePresence(ctx, userID, online, at)
	}
	if s.tasks != nil && s.tasks.Submit(ctx, presenceTaskName, write) {
		return
	}
	if err := write(ctx); err != nil && !models.IsNotFound(err) {
		slog.Warn("failed to persist presence", slog.Uint64("user_id", uint64(userID)), slog.Bool("online", online), slog.String("error", err.Error()))
	}
}
