package repository

import (
	"context"
	"errors"
	"time"

	"parley/internal/cache"
	"parley/internal/models"
	"parley/internal/observability"

	"gorm.io/gorm"
)

// UserRepository defines persistence operations for users and block pairs.
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	// ExistingIDs returns the subset of ids that resolve to users.
	ExistingIDs(ctx context.Context, ids []uint) ([]uint, error)
	Create(ctx context.Context, user *models.User) error
	List(ctx context.Context, limit, offset int) ([]models.User, error)
	UpdatePresence(ctx context.Context, id uint, online bool, at time.Time) error

	// IsBlockedEither reports whether a blocked b or b blocked a.
	IsBlockedEither(ctx context.Context, a, b uint) (bool, error)
	CreateBlock(ctx context.Context, block *models.UserBlock) error
	DeleteBlock(ctx context.Context, blockerID, blockedID uint) (bool, error)
	// ListBlocked returns the users blockerID has blocked, most recent first.
	ListBlocked(ctx context.Context, blockerID uint) ([]models.User, error)
}

type userRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewUserRepository returns a new UserRepository implementation.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db, log: observability.NewRepoLogger("users")}
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	key := cache.UserKey(id)

	err := cache.Aside(ctx, key, &user, cache.UserTTL, func() error {
		if err := readDB(r.db).WithContext(ctx).First(&user, id).Error; err != nil {
			return translateError(err, "User", id)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) ExistingIDs(ctx context.Context, ids []uint) ([]uint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var found []uint
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id IN ?", ids).
		Pluck("id", &found).Error
	return found, storeError(err)
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	err := r.db.WithContext(ctx).Create(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return models.NewConflictError("Username or email already taken")
	}
	if err != nil {
		r.log.LogError(ctx, err, "create")
	}
	return storeError(err)
}

func (r *userRepository) List(ctx context.Context, limit, offset int) ([]models.User, error) {
	var users []models.User
	err := readDB(r.db).WithContext(ctx).
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&users).Error
	return users, storeError(err)
}

func (r *userRepository) UpdatePresence(ctx context.Context, id uint, online bool, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_online":    online,
			"last_seen_at": at,
		}).Error
	if err != nil {
		r.log.LogError(ctx, err, "update_presence")
		return storeError(err)
	}
	cache.InvalidateUser(ctx, id)
	return nil
}

func (r *userRepository) IsBlockedEither(ctx context.Context, a, b uint) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.UserBlock{}).
		Where("(blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)", a, b, b, a).
		Count(&n).Error
	if err != nil {
		return false, storeError(err)
	}
	return n > 0, nil
}

func (r *userRepository) CreateBlock(ctx context.Context, block *models.UserBlock) error {
	var n int64
	if err := r.db.WithContext(ctx).
		Model(&models.UserBlock{}).
		Where("blocker_id = ? AND blocked_id = ?", block.BlockerID, block.BlockedID).
		Count(&n).Error; err != nil {
		return storeError(err)
	}
	if n > 0 {
		return models.NewConflictError("User is already blocked")
	}
	err := r.db.WithContext(ctx).Create(block).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return models.NewConflictError("User is already blocked")
	}
	return storeError(err)
}

func (r *userRepository) DeleteBlock(ctx context.Context, blockerID, blockedID uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Delete(&models.UserBlock{})
	if res.Error != nil {
		return false, storeError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *userRepository) ListBlocked(ctx context.Context, blockerID uint) ([]models.User, error) {
	var out []models.User
	err := readDB(r.db).WithContext(ctx).
		Joins("JOIN user_blocks ON user_blocks.blocked_id = users.id").
		Where("user_blocks.blocker_id = ?", blockerID).
		Order("user_blocks.id DESC").
		Find(&out).Error
	return out, storeError(err)
}
