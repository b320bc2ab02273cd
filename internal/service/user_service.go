package service

import (
	"context"
	"strings"

	"parley/internal/models"
	"parley/internal/repository"
)

type UserService struct {
	userRepo repository.UserRepository
}

func NewUserService(userRepo repository.UserRepository) *UserService {
	return &UserService{userRepo: userRepo}
}

func (s *UserService) ListUsers(ctx context.Context, limit, offset int) ([]models.User, error) {
	return s.userRepo.List(ctx, limit, offset)
}

func (s *UserService) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	return s.userRepo.GetByID(ctx, id)
}

// BlockUser stops blockedID from opening or messaging a private conversation
// with blockerID, and vice versa.
func (s *UserService) BlockUser(ctx context.Context, blockerID, blockedID uint, reason string) (*models.UserBlock, error) {
	if blockerID == blockedID {
		return nil, models.NewValidationError("You cannot block yourself")
	}
	const maxReasonLen = 500
	reason = strings.TrimSpace(reason)
	if len(reason) > maxReasonLen {
		return nil, models.NewValidationError("Reason too long (max 500 characters)")
	}
	if _, err := s.userRepo.GetByID(ctx, blockedID); err != nil {
		return nil, err
	}

	block := &models.UserBlock{BlockerID: blockerID, BlockedID: blockedID, Reason: reason}
	if err := s.userRepo.CreateBlock(ctx, block); err != nil {
		return nil, err
	}
	return block, nil
}

func (s *UserService) UnblockUser(ctx context.Context, blockerID, blockedID uint) error {
	removed, err := s.userRepo.DeleteBlock(ctx, blockerID, blockedID)
	if err != nil {
		return err
	}
	if !removed {
		return models.NewNotFoundError("Block", blockedID)
	}
	return nil
}

// GetBlockedUsers lists the users blockerID has blocked.
func (s *UserService) GetBlockedUsers(ctx context.Context, blockerID uint) ([]models.User, error) {
	return s.userRepo.ListBlocked(ctx, blockerID)
}
