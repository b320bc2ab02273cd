package repository

import (
	"context"

	"parley/internal/models"

	"gorm.io/gorm"
)

// NotificationRepository persists per-user alerts.
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	ListForUser(ctx context.Context, userID uint, unreadOnly bool, page, pageSize int) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID uint, ids []uint) (int64, error)
	CountUnread(ctx context.Context, userID uint) (int64, error)
	// Delete removes one of the user's notifications and reports whether it
	// existed.
	Delete(ctx context.Context, userID, id uint) (bool, error)
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, n *models.Notification) error {
	return storeError(r.db.WithContext(ctx).Create(n).Error)
}

func (r *notificationRepository) ListForUser(ctx context.Context, userID uint, unreadOnly bool, page, pageSize int) ([]models.Notification, error) {
	var out []models.Notification
	q := readDB(r.db).WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	err := q.Scopes(Paginate(page, pageSize)).
		Order("created_at DESC").
		Order("id DESC").
		Find(&out).Error
	return out, storeError(err)
}

func (r *notificationRepository) MarkRead(ctx context.Context, userID uint, ids []uint) (int64, error) {
	q := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false)
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	res := q.Update("is_read", true)
	return res.RowsAffected, storeError(res.Error)
}

func (r *notificationRepository) CountUnread(ctx context.Context, userID uint) (int64, error) {
	var n int64
	err := readDB(r.db).WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&n).Error
	return n, storeError(err)
}

func (r *notificationRepository) Delete(ctx context.Context, userID, id uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.Notification{})
	if res.Error != nil {
		return false, storeError(res.Error)
	}
	return res.RowsAffected > 0, nil
}
