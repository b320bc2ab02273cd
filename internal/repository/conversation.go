package repository

import (
	"context"
	"errors"
	"time"

	"parley/internal/models"
	"parley/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationRepository persists conversations and their participant rows.
type ConversationRepository interface {
	// Create inserts the conversation together with conv.Participants.
	Create(ctx context.Context, conv *models.Conversation) error
	GetByID(ctx context.Context, id uint) (*models.Conversation, error)
	// GetByIDForUpdate locks the conversation row for the rest of the
	// transaction so membership changes on one conversation serialize.
	GetByIDForUpdate(ctx context.Context, id uint) (*models.Conversation, error)
	GetByInviteLink(ctx context.Context, link string) (*models.Conversation, error)
	// FindPrivateBetween returns the live private conversation between a and b,
	// or nil when there is none.
	FindPrivateBetween(ctx context.Context, a, b uint) (*models.Conversation, error)
	Update(ctx context.Context, id uint, fields map[string]interface{}) error
	SoftDelete(ctx context.Context, id uint, at time.Time, deactivate bool) error
	ListForUser(ctx context.Context, userID uint) ([]*models.Conversation, error)
	ActiveConversationIDs(ctx context.Context, userID uint) ([]uint, error)

	// GetParticipant returns the membership row including left members.
	GetParticipant(ctx context.Context, convID, userID uint) (*models.Participant, error)
	// ListParticipants orders by tenure, longest first.
	ListParticipants(ctx context.Context, convID uint, activeOnly bool) ([]models.Participant, error)
	CountActiveParticipants(ctx context.Context, convID uint) (int64, error)
	AddParticipant(ctx context.Context, p *models.Participant) error
	UpdateParticipant(ctx context.Context, participantID uint, fields map[string]interface{}) error
}

type conversationRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db, log: observability.NewRepoLogger("conversations")}
}

func (r *conversationRepository) Create(ctx context.Context, conv *models.Conversation) error {
	if err := r.db.WithContext(ctx).Create(conv).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.NewConflictError("Conversation already exists")
		}
		r.log.LogError(ctx, err, "create")
		return storeError(err)
	}
	r.log.LogCreate(ctx, map[string]interface{}{
		"conversation_id": conv.ID,
		"type":            string(conv.Type),
		"participants":    len(conv.Participants),
	})
	return nil
}

func (r *conversationRepository) GetByID(ctx context.Context, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.WithContext(ctx).
		Scopes(NotDeleted("conversations")).
		First(&conv, id).Error
	if err != nil {
		return nil, translateError(err, "Conversation", id)
	}
	return &conv, nil
}

func (r *conversationRepository) GetByIDForUpdate(ctx context.Context, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Scopes(NotDeleted("conversations")).
		First(&conv, id).Error
	if err != nil {
		return nil, translateError(err, "Conversation", id)
	}
	return &conv, nil
}

func (r *conversationRepository) GetByInviteLink(ctx context.Context, link string) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.WithContext(ctx).
		Scopes(NotDeleted("conversations")).
		Where("invite_link = ?", link).
		First(&conv).Error
	if err != nil {
		return nil, translateError(err, "Invite link", link)
	}
	return &conv, nil
}

func (r *conversationRepository) FindPrivateBetween(ctx context.Context, a, b uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.WithContext(ctx).
		Where("pair_key = ? AND type = ?", models.PrivatePairKey(a, b), models.ConversationPrivate).
		Scopes(NotDeleted("conversations")).
		First(&conv).Error
	switch {
	case err == nil:
		return &conv, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	default:
		return nil, storeError(err)
	}
}

func (r *conversationRepository) Update(ctx context.Context, id uint, fields map[string]interface{}) error {
	res := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", id).
		Scopes(NotDeleted("conversations")).
		Updates(fields)
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "update")
		return storeError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Conversation", id)
	}
	return nil
}

func (r *conversationRepository) SoftDelete(ctx context.Context, id uint, at time.Time, deactivate bool) error {
	// pair_key is released so the same pair can open a new private chat.
	fields := map[string]interface{}{
		"is_deleted":  true,
		"deleted_at":  at,
		"pair_key":    nil,
		"invite_link": nil,
	}
	if deactivate {
		fields["is_active"] = false
	}
	if err := r.Update(ctx, id, fields); err != nil {
		return err
	}
	r.log.LogDelete(ctx, map[string]interface{}{"conversation_id": id, "deactivated": deactivate})
	return nil
}

func (r *conversationRepository) ListForUser(ctx context.Context, userID uint) ([]*models.Conversation, error) {
	var conversations []*models.Conversation
	err := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id").
		Where("cp.user_id = ? AND cp.has_left = ?", userID, false).
		Scopes(NotDeleted("conversations")).
		Preload("Participants", "has_left = ?", false).
		Preload("Participants.User").
		Order("conversations.updated_at DESC").
		Find(&conversations).Error
	if err != nil {
		return nil, storeError(err)
	}
	for _, conv := range conversations {
		for i := range conv.Participants {
			if conv.Participants[i].UserID == userID {
				conv.Membership = &conv.Participants[i]
				break
			}
		}
	}
	return conversations, nil
}

func (r *conversationRepository) ActiveConversationIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.Participant{}).
		Joins("JOIN conversations ON conversations.id = conversation_participants.conversation_id").
		Where("conversation_participants.user_id = ? AND conversation_participants.has_left = ?", userID, false).
		Scopes(NotDeleted("conversations")).
		Pluck("conversation_participants.conversation_id", &ids).Error
	return ids, storeError(err)
}

func (r *conversationRepository) GetParticipant(ctx context.Context, convID, userID uint) (*models.Participant, error) {
	var p models.Participant
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		First(&p).Error
	if err != nil {
		return nil, translateError(err, "Participant", userID)
	}
	return &p, nil
}

func (r *conversationRepository) ListParticipants(ctx context.Context, convID uint, activeOnly bool) ([]models.Participant, error) {
	var participants []models.Participant
	q := r.db.WithContext(ctx).Where("conversation_id = ?", convID)
	if activeOnly {
		q = q.Where("has_left = ?", false)
	}
	err := q.Order("joined_at ASC").Order("id ASC").Find(&participants).Error
	return participants, storeError(err)
}

func (r *conversationRepository) CountActiveParticipants(ctx context.Context, convID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Participant{}).
		Where("conversation_id = ? AND has_left = ?", convID, false).
		Count(&n).Error
	return n, storeError(err)
}

func (r *conversationRepository) AddParticipant(ctx context.Context, p *models.Participant) error {
	err := r.db.WithContext(ctx).Create(p).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return models.NewConflictError("User is already a participant")
	}
	return storeError(err)
}

func (r *conversationRepository) UpdateParticipant(ctx context.Context, participantID uint, fields map[string]interface{}) error {
	res := r.db.WithContext(ctx).
		Model(&models.Participant{}).
		Where("id = ?", participantID).
		Updates(fields)
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "update_participant")
		return storeError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Participant", participantID)
	}
	return nil
}
