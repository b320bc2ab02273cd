package service

import (
	"context"

	"parley/internal/models"
	"parley/internal/notifications"
	"parley/internal/repository"

	"gorm.io/datatypes"
)

// NotificationService persists per-user alerts and pushes them to the user's
// live connections.
type NotificationService struct {
	store  repository.Store
	events EventBroadcaster
}

// NotifyInput describes one alert for one user.
type NotifyInput struct {
	UserID uint                    `validate:"required"`
	Type   models.NotificationType `validate:"required"`
	Title  string                  `validate:"notblank,max=255"`
	Body   string
	Data   map[string]interface{}
}

// NewNotificationService returns a NotificationService.
func NewNotificationService(store repository.Store, events EventBroadcaster) *NotificationService {
	return &NotificationService{store: store, events: orNoop(events)}
}

// Notify stores the alert and emits NewNotification to the user group.
func (s *NotificationService) Notify(ctx context.Context, in NotifyInput) (*models.Notification, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	n := &models.Notification{
		UserID: in.UserID,
		Type:   in.Type,
		Title:  in.Title,
		Body:   in.Body,
	}
	if len(in.Data) > 0 {
		n.Data = datatypes.JSONMap(in.Data)
	}
	if err := s.store.Notifications().Create(ctx, n); err != nil {
		return nil, err
	}
	s.events.ToUser(afterCommit(ctx), in.UserID, notifications.Event{Name: notifications.EventNewNotification, Payload: n})
	return n, nil
}

// List pages the user's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID uint, unreadOnly bool, page, pageSize int) ([]models.Notification, error) {
	return s.store.Notifications().ListForUser(ctx, userID, unreadOnly, page, pageSize)
}

// MarkRead marks the given notifications read, or all of them when ids is empty.
func (s *NotificationService) MarkRead(ctx context.Context, userID uint, ids []uint) (int64, error) {
	return s.store.Notifications().MarkRead(ctx, userID, ids)
}

// MarkAllRead marks every unread notification of the user read.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	return s.MarkRead(ctx, userID, nil)
}

// UnreadCount returns how many of the user's notifications are unread.
func (s *NotificationService) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	return s.store.Notifications().CountUnread(ctx, userID)
}

// Delete removes one notification. Another user's notification is reported as
// missing.
func (s *NotificationService) Delete(ctx context.Context, userID, id uint) error {
	removed, err := s.store.Notifications().Delete(ctx, userID, id)
	if err != nil {
		return err
	}
	if !removed {
		return models.NewNotFoundError("Notification", id)
	}
	return nil
}
