package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"parley/internal/models"
	"parley/internal/notifications"
	"parley/internal/observability"
	"parley/internal/repository"
	"parley/internal/storage"

	"go.opentelemetry.io/otel/attribute"
)

// DefaultEditWindow bounds how long after sending a text message may be edited.
const DefaultEditWindow = 15 * time.Minute

const (
	maxContentLen     = 5000
	previewLen        = 100
	notifyTaskName    = "message.notify_recipients"
	maxDeliveredBatch = 500
)

// MessageService owns messages and the rows hanging off them: attachments,
// reactions, read trackers and per-user visibility.
type MessageService struct {
	store         repository.Store
	conversations *ConversationService
	files         storage.FileStore
	events        EventBroadcaster
	tasks         TaskSubmitter
	notifier      *NotificationService
	editWindow    time.Duration
	now           func() time.Time
}

// SendMessageInput is the input for sending a message.
type SendMessageInput struct {
	SenderID       uint                  `json:"-"`
	ConversationID uint                  `json:"-"`
	Content        string                `json:"content" validate:"max=5000"`
	Type           models.MessageType    `json:"type"`
	ReplyToID      *uint                 `json:"reply_to_id" validate:"omitempty,gt=0"`
	Attachments    []storage.UploadInput `json:"-" validate:"max=10"`
}

// SearchResult is one page of search hits.
type SearchResult struct {
	Messages []*models.Message `json:"messages"`
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

// MessageServiceConfig wires MessageService collaborators.
type MessageServiceConfig struct {
	Store         repository.Store
	Conversations *ConversationService
	Files         storage.FileStore
	Events        EventBroadcaster
	Tasks         TaskSubmitter
	Notifications *NotificationService
	EditWindow    time.Duration
}

// NewMessageService returns a MessageService.
func NewMessageService(cfg MessageServiceConfig) *MessageService {
	window := cfg.EditWindow
	if window <= 0 {
		window = DefaultEditWindow
	}
	return &MessageService{
		store:         cfg.Store,
		conversations: cfg.Conversations,
		files:         cfg.Files,
		events:        orNoop(cfg.Events),
		tasks:         cfg.Tasks,
		notifier:      cfg.Notifications,
		editWindow:    window,
		now:           time.Now,
	}
}

// authorizeSend checks that userID may post into conv right now.
func (s *MessageService) authorizeSend(ctx context.Context, conv *models.Conversation, userID uint) error {
	p, err := requireParticipant(ctx, s.store.Conversations(), conv.ID, userID)
	if err != nil {
		return err
	}
	if conv.OnlyAdminsCanMessage && !p.Role.AtLeast(models.RoleAdmin) {
		return models.NewForbiddenError("Only admins can send messages in this conversation")
	}
	if conv.Type == models.ConversationPrivate {
		others, err := s.store.Conversations().ListParticipants(ctx, conv.ID, false)
		if err != nil {
			return err
		}
		for _, other := range others {
			if other.UserID == userID {
				continue
			}
			blocked, err := s.store.Users().IsBlockedEither(ctx, userID, other.UserID)
			if err != nil {
				return err
			}
			if blocked {
				return models.NewForbiddenError("Messaging is blocked between these users")
			}
		}
	}
	return nil
}

// SendMessage persists a message and broadcasts it to the conversation.
// Invalid attachments are skipped individually; a text message carrying
// attachments takes its type from the first stored one.
func (s *MessageService) SendMessage(ctx context.Context, in SendMessageInput) (msg *models.Message, err error) {
	done := observability.ObserveOperation("message.send")
	span, ctx := observability.StartOperation(ctx, "MessageService.SendMessage", in.SenderID,
		attribute.Int64("conversation.id", int64(in.ConversationID)), attribute.Int("attachments", len(in.Attachments)))
	defer func() { span.Finish(err); done(err) }()

	if err := validateInput(in); err != nil {
		return nil, err
	}
	if in.Type == "" {
		in.Type = models.MessageText
	}
	if !in.Type.Valid() || in.Type == models.MessageSystem {
		return nil, models.NewValidationError("Invalid message type")
	}

	conv, err := s.store.Conversations().GetByID(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeSend(ctx, conv, in.SenderID); err != nil {
		return nil, err
	}
	if in.ReplyToID != nil {
		parent, err := s.store.Messages().GetByIDWithDeleted(ctx, *in.ReplyToID)
		if err != nil {
			return nil, err
		}
		if parent.ConversationID != conv.ID {
			return nil, models.NewValidationError("Reply target belongs to another conversation")
		}
	}

	stored := s.storeAttachments(ctx, in.Attachments)
	content := strings.TrimSpace(in.Content)
	if content == "" && len(stored) == 0 {
		return nil, models.NewValidationError("Message must have content or a valid attachment")
	}

	msgType := in.Type
	if msgType == models.MessageText && len(stored) > 0 {
		msgType = stored[0].MediaType.MessageType()
	}
	msg = &models.Message{
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		Content:        optionalString(content),
		Type:           msgType,
		Status:         models.StatusSent,
		ReplyToID:      in.ReplyToID,
		Attachments:    attachmentRows(stored),
	}

	if err := s.persist(ctx, msg); err != nil {
		for _, f := range stored {
			s.deleteFile(ctx, f.URL)
		}
		return nil, err
	}

	s.published(ctx, conv, msg)
	return msg, nil
}

// storeAttachments uploads every acceptable file and skips the rest.
func (s *MessageService) storeAttachments(ctx context.Context, files []storage.UploadInput) []*storage.StoredFile {
	if len(files) == 0 {
		return nil
	}
	if s.files == nil {
		observability.AttachmentsRejected.WithLabelValues("no_storage").Add(float64(len(files)))
		return nil
	}
	stored := make([]*storage.StoredFile, 0, len(files))
	for _, f := range files {
		reason := ""
		if err := s.files.ValidateExtension(f.Filename); err != nil {
			reason = "extension"
		} else if err := s.files.ValidateSize(int64(len(f.Content))); err != nil {
			reason = "size"
		}
		if reason != "" {
			observability.AttachmentsRejected.WithLabelValues(reason).Inc()
			slog.InfoContext(ctx, "skipping attachment", slog.String("file", f.Filename), slog.String("reason", reason))
			continue
		}
		out, err := s.files.Upload(ctx, storage.FolderAttachments, f)
		if err != nil {
			observability.AttachmentsRejected.WithLabelValues("upload").Inc()
			slog.WarnContext(ctx, "attachment upload failed", slog.String("file", f.Filename), slog.String("error", err.Error()))
			continue
		}
		stored = append(stored, out)
	}
	return stored
}

func attachmentRows(stored []*storage.StoredFile) []models.Attachment {
	rows := make([]models.Attachment, 0, len(stored))
	for _, f := range stored {
		rows = append(rows, models.Attachment{
			FileName:     f.FileName,
			FileURL:      f.URL,
			ContentType:  f.ContentType,
			FileSize:     f.Size,
			MediaType:    f.MediaType,
			ThumbnailURL: f.ThumbnailURL,
			Width:        f.Width,
			Height:       f.Height,
		})
	}
	return rows
}

// persist writes the message and moves the conversation's last-message
// pointer in one transaction.
func (s *MessageService) persist(ctx context.Context, msg *models.Message) error {
	return s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Messages().Create(ctx, msg); err != nil {
			return err
		}
		return s.conversations.recordLastMessage(ctx, tx, msg.ConversationID, msg.ID)
	})
}

// published runs the post-commit side effects of a new message.
func (s *MessageService) published(ctx context.Context, conv *models.Conversation, msg *models.Message) {
	bctx := afterCommit(ctx)
	observability.MessagesSent.WithLabelValues(string(msg.Type)).Inc()

	if sender, err := s.store.Users().GetByID(bctx, msg.SenderID); err == nil {
		msg.Sender = sender
	}
	s.events.ToConversation(bctx, conv.ID, notifications.Event{Name: notifications.EventNewMessage, Payload: msg})

	if conv.Type == models.ConversationPrivate && s.tasks != nil && s.notifier != nil {
		snapshot := *msg
		s.tasks.Submit(bctx, notifyTaskName, func(taskCtx context.Context) error {
			return s.notifyRecipients(taskCtx, &snapshot)
		})
	}
}

// notifyRecipients alerts every active, unmuted participant other than the
// sender about msg.
func (s *MessageService) notifyRecipients(ctx context.Context, msg *models.Message) error {
	participants, err := s.store.Conversations().ListParticipants(ctx, msg.ConversationID, true)
	if err != nil {
		return err
	}
	title := "New message"
	if msg.Sender != nil {
		title = displayName(msg.Sender)
	}
	now := s.now()
	var errs []error
	for _, p := range participants {
		if p.UserID == msg.SenderID || p.MutedAt(now) {
			continue
		}
		_, err := s.notifier.Notify(ctx, NotifyInput{
			UserID: p.UserID,
			Type:   models.NotificationMessage,
			Title:  title,
			Body:   preview(msg),
			Data: map[string]interface{}{
				"conversation_id": msg.ConversationID,
				"message_id":      msg.ID,
				"sender_id":       msg.SenderID,
			},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("notify user %d: %w", p.UserID, err))
		}
	}
	return errors.Join(errs...)
}

func displayName(u *models.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

func preview(msg *models.Message) string {
	text := msg.Text()
	if text == "" {
		return fmt.Sprintf("Sent a %s", msg.Type)
	}
	runes := []rune(text)
	if len(runes) > previewLen {
		return string(runes[:previewLen]) + "..."
	}
	return text
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// GetMessages pages a conversation's history newest-first as the caller sees
// it. Reading history does not mark anything read.
func (s *MessageService) GetMessages(ctx context.Context, convID, userID uint, page, pageSize int) ([]*models.Message, error) {
	if _, err := s.store.Conversations().GetByID(ctx, convID); err != nil {
		return nil, err
	}
	if _, err := requireParticipant(ctx, s.store.Conversations(), convID, userID); err != nil {
		return nil, err
	}
	return s.store.Messages().ListVisible(ctx, convID, userID, page, pageSize)
}

// EditMessage replaces the content of the caller's own text message within
// the edit window, keeping the previous content.
func (s *MessageService) EditMessage(ctx context.Context, userID, messageID uint, content string) (msg *models.Message, err error) {
	done := observability.ObserveOperation("message.edit")
	span, ctx := observability.StartOperation(ctx, "MessageService.EditMessage", userID, attribute.Int64("message.id", int64(messageID)))
	defer func() { span.Finish(err); done(err) }()

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, models.NewValidationError("content is required")
	}
	if len([]rune(content)) > maxContentLen {
		return nil, models.NewValidationError(fmt.Sprintf("content must be at most %d", maxContentLen))
	}

	msg, err = s.store.Messages().GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, models.NewForbiddenError("You can only edit your own messages")
	}
	if msg.Type != models.MessageText {
		return nil, models.NewValidationError("Only text messages can be edited")
	}
	if s.now().Sub(msg.CreatedAt) > s.editWindow {
		return nil, models.NewConflictError("Edit window has expired")
	}
	if _, err := requireParticipant(ctx, s.store.Conversations(), msg.ConversationID, userID); err != nil {
		return nil, err
	}

	editedAt := s.now()
	if err := s.store.Messages().Update(ctx, msg.ID, map[string]interface{}{
		"content":          content,
		"original_content": msg.Content,
		"is_edited":        true,
		"edited_at":        editedAt,
	}); err != nil {
		return nil, err
	}
	msg.OriginalContent = msg.Content
	msg.Content = &content
	msg.IsEdited = true
	msg.EditedAt = &editedAt

	s.events.ToConversation(afterCommit(ctx), msg.ConversationID, notifications.Event{Name: notifications.EventMessageEdited, Payload: msg})
	return msg, nil
}

// DeleteMessage removes a message. For everyone, the sender or a conversation
// admin clears its content and leaves a tombstone in place; for me, the
// sender hides it from their own view only.
func (s *MessageService) DeleteMessage(ctx context.Context, userID, messageID uint, forEveryone bool) (err error) {
	done := observability.ObserveOperation("message.delete")
	span, ctx := observability.StartOperation(ctx, "MessageService.DeleteMessage", userID,
		attribute.Int64("message.id", int64(messageID)), attribute.Bool("for_everyone", forEveryone))
	defer func() { span.Finish(err); done(err) }()

	msg, err := s.store.Messages().GetByID(ctx, messageID)
	if err != nil {
		return err
	}

	if !forEveryone {
		if msg.SenderID != userID {
			return models.NewForbiddenError("You can only delete your own messages")
		}
		return s.store.Messages().Hide(ctx, msg.ID, userID, s.now())
	}

	if msg.SenderID != userID {
		_, err := requireRole(ctx, s.store.Conversations(), msg.ConversationID, userID, models.RoleAdmin)
		if models.IsForbidden(err) {
			return models.NewForbiddenError("Only the sender or an admin can delete this message for everyone")
		}
		if err != nil {
			return err
		}
	}
	var removed []models.Attachment
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Messages().Update(ctx, msg.ID, map[string]interface{}{
			"content":              nil,
			"is_deleted":           true,
			"deleted_at":           s.now(),
			"deleted_for_everyone": true,
		}); err != nil {
			return err
		}
		var err error
		removed, err = tx.Messages().DeleteAttachments(ctx, msg.ID)
		return err
	})
	if err != nil {
		return err
	}
	s.releaseFiles(afterCommit(ctx), removed)

	s.events.ToConversation(afterCommit(ctx), msg.ConversationID, notifications.Event{
		Name: notifications.EventMessageDeleted,
		Payload: notifications.MessageDeletedPayload{
			ConversationID:     msg.ConversationID,
			MessageID:          msg.ID,
			DeletedForEveryone: true,
		},
	})
	return nil
}

// ForwardMessage copies a message the caller can see into another
// conversation. Only attachments whose files still exist are copied.
func (s *MessageService) ForwardMessage(ctx context.Context, userID, messageID, targetConvID uint) (msg *models.Message, err error) {
	done := observability.ObserveOperation("message.forward")
	span, ctx := observability.StartOperation(ctx, "MessageService.ForwardMessage", userID,
		attribute.Int64("message.id", int64(messageID)), attribute.Int64("conversation.id", int64(targetConvID)))
	defer func() { span.Finish(err); done(err) }()

	src, err := s.store.Messages().GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := requireParticipant(ctx, s.store.Conversations(), src.ConversationID, userID); err != nil {
		return nil, err
	}
	target, err := s.store.Conversations().GetByID(ctx, targetConvID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeSend(ctx, target, userID); err != nil {
		return nil, err
	}

	var attachments []models.Attachment
	for _, a := range src.Attachments {
		if s.files != nil && !s.files.Exists(a.FileURL) {
			continue
		}
		a.ID = 0
		a.MessageID = 0
		a.CreatedAt = time.Time{}
		attachments = append(attachments, a)
	}
	if src.Content == nil && len(attachments) == 0 {
		return nil, models.NewValidationError("Nothing left to forward")
	}

	msgType := src.Type
	if len(src.Attachments) > 0 && len(attachments) == 0 {
		msgType = models.MessageText
	}
	original := src.ID
	if src.IsForwarded && src.OriginalMessageID != nil {
		original = *src.OriginalMessageID
	}
	msg = &models.Message{
		ConversationID:    target.ID,
		SenderID:          userID,
		Content:           src.Content,
		Type:              msgType,
		Status:            models.StatusSent,
		IsForwarded:       true,
		OriginalMessageID: &original,
		Attachments:       attachments,
	}
	if err := s.persist(ctx, msg); err != nil {
		return nil, err
	}

	s.published(ctx, target, msg)
	return msg, nil
}

// ReactToMessage sets the caller's reaction, replacing any previous emoji.
func (s *MessageService) ReactToMessage(ctx context.Context, userID, messageID uint, emoji string) (*models.Reaction, error) {
	emoji = strings.TrimSpace(emoji)
	if err := validate.Var(emoji, "required,max=32"); err != nil {
		return nil, models.NewValidationError("emoji is required and must be at most 32 characters")
	}
	msg, err := s.store.Messages().GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := requireParticipant(ctx, s.store.Conversations(), msg.ConversationID, userID); err != nil {
		return nil, err
	}

	reaction := &models.Reaction{MessageID: msg.ID, UserID: userID, Emoji: emoji}
	if err := s.store.Messages().UpsertReaction(ctx, reaction); err != nil {
		return nil, err
	}

	s.events.ToConversation(afterCommit(ctx), msg.ConversationID, notifications.Event{
		Name: notifications.EventMessageReaction,
		Payload: notifications.ReactionPayload{
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			UserID:         userID,
			Emoji:          emoji,
		},
	})
	return reaction, nil
}

// RemoveReaction deletes the caller's reaction.
func (s *MessageService) RemoveReaction(ctx context.Context, userID, messageID uint) error {
	msg, err := s.store.Messages().GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if _, err := requireParticipant(ctx, s.store.Conversations(), msg.ConversationID, userID); err != nil {
		return err
	}
	removed, err := s.store.Messages().DeleteReaction(ctx, msg.ID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return models.NewNotFoundError("Reaction", messageID)
	}

	s.events.ToConversation(afterCommit(ctx), msg.ConversationID, notifications.Event{
		Name: notifications.EventReactionRemoved,
		Payload: notifications.ReactionPayload{
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			UserID:         userID,
		},
	})
	return nil
}

// MarkAsRead marks every message from other senders in the conversation as
// read by the caller. It returns how many messages changed; a second call
// finds nothing to do.
func (s *MessageService) MarkAsRead(ctx context.Context, convID, userID uint) (marked int, err error) {
	done := observability.ObserveOperation("message.mark_read")
	span, ctx := observability.StartOperation(ctx, "MessageService.MarkAsRead", userID, attribute.Int64("conversation.id", int64(convID)))
	defer func() { span.Finish(err); done(err) }()

	if _, err := s.store.Conversations().GetByID(ctx, convID); err != nil {
		return 0, err
	}
	p, err := requireParticipant(ctx, s.store.Conversations(), convID, userID)
	if err != nil {
		return 0, err
	}

	readAt := s.now()
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		ids, err := tx.Messages().UnreadIDs(ctx, convID, userID)
		if err != nil || len(ids) == 0 {
			return err
		}
		existing, err := tx.Messages().GetTrackers(ctx, userID, ids)
		if err != nil {
			return err
		}
		var fresh []*models.ReadTracker
		for _, id := range ids {
			t, ok := existing[id]
			if !ok {
				fresh = append(fresh, &models.ReadTracker{MessageID: id, UserID: userID, Status: models.StatusRead, ReadAt: &readAt})
				continue
			}
			if !t.Status.CanTransition(models.StatusRead) {
				continue
			}
			if err := tx.Messages().UpdateTracker(ctx, t.ID, map[string]interface{}{"status": models.StatusRead, "read_at": readAt}); err != nil {
				return err
			}
		}
		if err := tx.Messages().CreateTrackers(ctx, fresh); err != nil {
			return err
		}
		marked = len(ids)
		return s.conversations.recordRead(ctx, tx, p.ID, readAt, ids[len(ids)-1])
	})
	if err != nil {
		return 0, err
	}

	if marked > 0 {
		s.events.ToConversation(afterCommit(ctx), convID, notifications.Event{
			Name:    notifications.EventMessagesRead,
			Payload: notifications.MessagesReadPayload{ConversationID: convID, UserID: userID, ReadAt: readAt},
		})
	}
	return marked, nil
}

// MarkDelivered records delivery of messages the caller can see. Messages
// that already have a tracker keep it; trackers never move backwards.
func (s *MessageService) MarkDelivered(ctx context.Context, userID uint, messageIDs []uint) (int, error) {
	if len(messageIDs) > maxDeliveredBatch {
		return 0, models.NewValidationError(fmt.Sprintf("At most %d message ids per call", maxDeliveredBatch))
	}
	ids, err := s.store.Messages().VisibleIDs(ctx, userID, dedupeIDs(messageIDs, 0))
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	existing, err := s.store.Messages().GetTrackers(ctx, userID, ids)
	if err != nil {
		return 0, err
	}
	at := s.now()
	var fresh []*models.ReadTracker
	for _, id := range ids {
		if _, ok := existing[id]; ok {
			continue
		}
		fresh = append(fresh, &models.ReadTracker{MessageID: id, UserID: userID, Status: models.StatusDelivered, DeliveredAt: &at})
	}
	if err := s.store.Messages().CreateTrackers(ctx, fresh); err != nil {
		return 0, err
	}
	return len(fresh), nil
}

// SearchMessages finds live messages whose content contains term.
func (s *MessageService) SearchMessages(ctx context.Context, convID, userID uint, term string, page, pageSize int) (*SearchResult, error) {
	term = strings.TrimSpace(term)
	if err := validate.Var(term, "required,max=200"); err != nil {
		return nil, models.NewValidationError("Search term is required and must be at most 200 characters")
	}
	if _, err := s.store.Conversations().GetByID(ctx, convID); err != nil {
		return nil, err
	}
	if _, err := requireParticipant(ctx, s.store.Conversations(), convID, userID); err != nil {
		return nil, err
	}
	messages, total, err := s.store.Messages().Search(ctx, convID, userID, term, page, pageSize)
	if err != nil {
		return nil, err
	}
	page, pageSize = repository.NormalizePage(page, pageSize)
	return &SearchResult{Messages: messages, Total: total, Page: page, PageSize: pageSize}, nil
}

// UnreadCount returns how many messages the caller has not read.
func (s *MessageService) UnreadCount(ctx context.Context, convID, userID uint) (int64, error) {
	if _, err := requireParticipant(ctx, s.store.Conversations(), convID, userID); err != nil {
		return 0, err
	}
	return s.store.Messages().CountUnread(ctx, convID, userID)
}

// releaseFiles deletes the stored files of removed attachments that no
// forwarded copy still references.
func (s *MessageService) releaseFiles(ctx context.Context, removed []models.Attachment) {
	if s.files == nil {
		return
	}
	for _, a := range removed {
		inUse, err := s.store.Messages().FileInUse(ctx, a.FileURL)
		if err != nil {
			slog.WarnContext(ctx, "failed to check stored file references", slog.String("url", a.FileURL), slog.String("error", err.Error()))
			continue
		}
		if !inUse {
			s.deleteFile(ctx, a.FileURL)
		}
	}
}

func (s *MessageService) deleteFile(ctx context.Context, url string) {
	if err := s.files.Delete(ctx, url); err != nil {
		slog.WarnContext(ctx, "failed to delete stored file", slog.String("url", url), slog.String("error", err.Error()))
	}
}
