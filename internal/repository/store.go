// Package repository implements the data access layer for the chat domain.
package repository

import (
	"context"
	"errors"

	"parley/internal/models"

	"gorm.io/gorm"
)

// Store groups the chat repositories over one database handle so that services
// can apply multi-table changes atomically.
type Store interface {
	Conversations() ConversationRepository
	Messages() MessageRepository
	Users() UserRepository
	Notifications() NotificationRepository

	// Transaction runs fn against a Store bound to a single database
	// transaction. Returning an error from fn rolls everything back.
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

type gormStore struct {
	db *gorm.DB
}

// NewStore returns a Store backed by db.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Conversations() ConversationRepository {
	return NewConversationRepository(s.db)
}

func (s *gormStore) Messages() MessageRepository {
	return NewMessageRepository(s.db)
}

func (s *gormStore) Users() UserRepository {
	return NewUserRepository(s.db)
}

func (s *gormStore) Notifications() NotificationRepository {
	return NewNotificationRepository(s.db)
}

func (s *gormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

// translateError maps gorm errors onto AppError kinds. Anything that is not a
// missing row or an existing AppError is a store failure.
func translateError(err error, resource string, id interface{}) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError(resource, id)
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return models.NewInternalError(err)
}

func storeError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return models.NewInternalError(err)
}
