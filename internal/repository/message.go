package repository

import (
	"context"
	"time"

	"parley/internal/models"
	"parley/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageRepository persists messages and the rows owned by them: attachments,
// reactions, read trackers and per-user visibility exceptions.
type MessageRepository interface {
	// Create inserts the message with msg.Attachments.
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id uint) (*models.Message, error)
	// GetByIDWithDeleted resolves thread references to tombstoned messages.
	GetByIDWithDeleted(ctx context.Context, id uint) (*models.Message, error)
	Update(ctx context.Context, id uint, fields map[string]interface{}) error
	// ListVisible pages a conversation newest-first as seen by userID,
	// tombstones included.
	ListVisible(ctx context.Context, convID, userID uint, page, pageSize int) ([]*models.Message, error)
	Search(ctx context.Context, convID, userID uint, term string, page, pageSize int) ([]*models.Message, int64, error)
	Latest(ctx context.Context, convID uint) (*models.Message, error)
	// LatestVisible returns the newest message of convID userID still sees,
	// tombstones included.
	LatestVisible(ctx context.Context, convID, userID uint) (*models.Message, error)
	Hide(ctx context.Context, messageID, userID uint, at time.Time) error
	// DeleteAttachments removes messageID's attachment rows and returns them.
	DeleteAttachments(ctx context.Context, messageID uint) ([]models.Attachment, error)
	// FileInUse reports whether any attachment row still points at url.
	// Forwarded copies share their source's files.
	FileInUse(ctx context.Context, url string) (bool, error)

	UpsertReaction(ctx context.Context, reaction *models.Reaction) error
	DeleteReaction(ctx context.Context, messageID, userID uint) (bool, error)
	ListReactions(ctx context.Context, messageID uint) ([]models.Reaction, error)

	// UnreadIDs lists messages in convID from other senders that userID has
	// no Read tracker for, oldest first.
	UnreadIDs(ctx context.Context, convID, userID uint) ([]uint, error)
	CountUnread(ctx context.Context, convID, userID uint) (int64, error)
	// VisibleIDs filters ids down to live messages userID may see in
	// conversations where userID is an active participant.
	VisibleIDs(ctx context.Context, userID uint, ids []uint) ([]uint, error)
	GetTrackers(ctx context.Context, userID uint, messageIDs []uint) (map[uint]*models.ReadTracker, error)
	CreateTrackers(ctx context.Context, trackers []*models.ReadTracker) error
	UpdateTracker(ctx context.Context, trackerID uint, fields map[string]interface{}) error
}

type messageRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db, log: observability.NewRepoLogger("messages")}
}

func (r *messageRepository) Create(ctx context.Context, msg *models.Message) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return storeError(err)
	}
	r.log.LogCreate(ctx, map[string]interface{}{
		"message_id":      msg.ID,
		"conversation_id": msg.ConversationID,
		"attachments":     len(msg.Attachments),
	})
	return nil
}

func (r *messageRepository) GetByID(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).
		Scopes(NotDeleted("messages")).
		Preload("Attachments").
		First(&msg, id).Error
	if err != nil {
		return nil, translateError(err, "Message", id)
	}
	return &msg, nil
}

func (r *messageRepository) GetByIDWithDeleted(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	if err := r.db.WithContext(ctx).First(&msg, id).Error; err != nil {
		return nil, translateError(err, "Message", id)
	}
	return &msg, nil
}

func (r *messageRepository) Update(ctx context.Context, id uint, fields map[string]interface{}) error {
	res := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ?", id).
		Scopes(NotDeleted("messages")).
		Updates(fields)
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "update")
		return storeError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Message", id)
	}
	return nil
}

func (r *messageRepository) ListVisible(ctx context.Context, convID, userID uint, page, pageSize int) ([]*models.Message, error) {
	var messages []*models.Message
	err := r.db.WithContext(ctx).
		Where("messages.conversation_id = ?", convID).
		Scopes(InThread(), VisibleTo(userID), Paginate(page, pageSize)).
		Preload("Sender").
		Preload("Attachments").
		Preload("Reactions").
		Order("messages.created_at DESC").
		Order("messages.id DESC").
		Find(&messages).Error
	return messages, storeError(err)
}

func (r *messageRepository) Search(ctx context.Context, convID, userID uint, term string, page, pageSize int) ([]*models.Message, int64, error) {
	base := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("messages.conversation_id = ?", convID).
		Where("messages.content IS NOT NULL").
		Where(`LOWER(messages.content) LIKE ? ESCAPE '\'`, containsPattern(term)).
		Scopes(NotDeleted("messages"), VisibleTo(userID))

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, storeError(err)
	}

	var messages []*models.Message
	err := base.Session(&gorm.Session{}).
		Scopes(Paginate(page, pageSize)).
		Preload("Sender").
		Order("messages.created_at DESC").
		Order("messages.id DESC").
		Find(&messages).Error
	if err != nil {
		return nil, 0, storeError(err)
	}
	return messages, total, nil
}

func (r *messageRepository) Latest(ctx context.Context, convID uint) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", convID).
		Scopes(NotDeleted("messages")).
		Order("created_at DESC").
		Order("id DESC").
		First(&msg).Error
	if err != nil {
		return nil, translateError(err, "Message", convID)
	}
	return &msg, nil
}

func (r *messageRepository) LatestVisible(ctx context.Context, convID, userID uint) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).
		Where("messages.conversation_id = ?", convID).
		Scopes(InThread(), VisibleTo(userID)).
		Order("messages.created_at DESC").
		Order("messages.id DESC").
		First(&msg).Error
	if err != nil {
		return nil, translateError(err, "Message", convID)
	}
	return &msg, nil
}

func (r *messageRepository) Hide(ctx context.Context, messageID, userID uint, at time.Time) error {
	row := models.MessageVisibility{MessageID: messageID, UserID: userID, HiddenAt: at}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	return storeError(err)
}

func (r *messageRepository) DeleteAttachments(ctx context.Context, messageID uint) ([]models.Attachment, error) {
	var removed []models.Attachment
	db := r.db.WithContext(ctx)
	if err := db.Where("message_id = ?", messageID).Find(&removed).Error; err != nil {
		return nil, storeError(err)
	}
	if len(removed) == 0 {
		return nil, nil
	}
	if err := db.Where("message_id = ?", messageID).Delete(&models.Attachment{}).Error; err != nil {
		r.log.LogError(ctx, err, "delete_attachments")
		return nil, storeError(err)
	}
	r.log.LogDelete(ctx, map[string]interface{}{"message_id": messageID, "attachments": len(removed)})
	return removed, nil
}

func (r *messageRepository) FileInUse(ctx context.Context, url string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Attachment{}).Where("file_url = ?", url).Count(&n).Error; err != nil {
		return false, storeError(err)
	}
	return n > 0, nil
}

func (r *messageRepository) UpsertReaction(ctx context.Context, reaction *models.Reaction) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"emoji", "updated_at"}),
		}).
		Create(reaction).Error
	return storeError(err)
}

func (r *messageRepository) DeleteReaction(ctx context.Context, messageID, userID uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ?", messageID, userID).
		Delete(&models.Reaction{})
	if res.Error != nil {
		return false, storeError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *messageRepository) ListReactions(ctx context.Context, messageID uint) ([]models.Reaction, error) {
	var reactions []models.Reaction
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("id ASC").
		Find(&reactions).Error
	return reactions, storeError(err)
}

func (r *messageRepository) unreadQuery(ctx context.Context, convID, userID uint) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("messages.conversation_id = ? AND messages.sender_id <> ?", convID, userID).
		Where(
			"NOT EXISTS (SELECT 1 FROM message_read_trackers rt WHERE rt.message_id = messages.id AND rt.user_id = ? AND rt.status = ?)",
			userID, models.StatusRead,
		).
		Scopes(NotDeleted("messages"), VisibleTo(userID))
}

func (r *messageRepository) UnreadIDs(ctx context.Context, convID, userID uint) ([]uint, error) {
	var ids []uint
	err := r.unreadQuery(ctx, convID, userID).
		Order("messages.created_at ASC").
		Order("messages.id ASC").
		Pluck("messages.id", &ids).Error
	return ids, storeError(err)
}

func (r *messageRepository) CountUnread(ctx context.Context, convID, userID uint) (int64, error) {
	var n int64
	err := r.unreadQuery(ctx, convID, userID).Count(&n).Error
	return n, storeError(err)
}

func (r *messageRepository) VisibleIDs(ctx context.Context, userID uint, ids []uint) ([]uint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var visible []uint
	err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Joins("JOIN conversation_participants cp ON cp.conversation_id = messages.conversation_id AND cp.user_id = ? AND cp.has_left = ?", userID, false).
		Where("messages.id IN ? AND messages.sender_id <> ?", ids, userID).
		Scopes(NotDeleted("messages"), VisibleTo(userID)).
		Pluck("messages.id", &visible).Error
	return visible, storeError(err)
}

func (r *messageRepository) GetTrackers(ctx context.Context, userID uint, messageIDs []uint) (map[uint]*models.ReadTracker, error) {
	out := make(map[uint]*models.ReadTracker, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}
	var trackers []*models.ReadTracker
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND message_id IN ?", userID, messageIDs).
		Find(&trackers).Error
	if err != nil {
		return nil, storeError(err)
	}
	for _, t := range trackers {
		out[t.MessageID] = t
	}
	return out, nil
}

func (r *messageRepository) CreateTrackers(ctx context.Context, trackers []*models.ReadTracker) error {
	if len(trackers) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(trackers, 200).Error
	return storeError(err)
}

func (r *messageRepository) UpdateTracker(ctx context.Context, trackerID uint, fields map[string]interface{}) error {
	err := r.db.WithContext(ctx).
		Model(&models.ReadTracker{}).
		Where("id = ?", trackerID).
		Updates(fields).Error
	return storeError(err)
}
