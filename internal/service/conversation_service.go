package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"parley/internal/models"
	"parley/internal/notifications"
	"parley/internal/observability"
	"parley/internal/repository"
	"parley/internal/storage"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// ConversationService owns conversations and participant rows: creation,
// membership, roles, per-user view flags, invite links and deletion.
type ConversationService struct {
	store  repository.Store
	files  storage.FileStore
	events EventBroadcaster
	now    func() time.Time
}

// CreateGroupInput is the input for creating a group or channel.
type CreateGroupInput struct {
	CreatorID       uint   `json:"-"`
	Name            string `json:"name" validate:"notblank,max=100"`
	Description     string `json:"description" validate:"max=500"`
	ParticipantIDs  []uint `json:"participant_ids" validate:"required,min=1,max=500"`
	IsPublic        bool   `json:"is_public"`
	MaxParticipants *int   `json:"max_participants" validate:"omitempty,min=2"`
	Channel         bool   `json:"channel"`
}

// UpdateGroupInput carries a partial update; nil fields are left unchanged.
type UpdateGroupInput struct {
	ConversationID       uint    `json:"-"`
	ActorID              uint    `json:"-"`
	Name                 *string `json:"name" validate:"omitempty,notblank,max=100"`
	Description          *string `json:"description" validate:"omitempty,max=500"`
	IsPublic             *bool   `json:"is_public"`
	MaxParticipants      *int    `json:"max_participants" validate:"omitempty,min=2"`
	OnlyAdminsCanMessage *bool   `json:"only_admins_can_message"`
}

// NewConversationService returns a ConversationService. A nil broadcaster
// disables realtime events.
func NewConversationService(store repository.Store, files storage.FileStore, events EventBroadcaster) *ConversationService {
	return &ConversationService{
		store:  store,
		files:  files,
		events: orNoop(events),
		now:    time.Now,
	}
}

// CreatePrivate returns the private conversation between userID and targetID,
// creating it on first use. Repeated calls in either order resolve to the
// same conversation.
func (s *ConversationService) CreatePrivate(ctx context.Context, userID, targetID uint) (conv *models.Conversation, err error) {
	done := observability.ObserveOperation("conversation.create_private")
	span, ctx := observability.StartOperation(ctx, "ConversationService.CreatePrivate", userID, attribute.Int64("target.id", int64(targetID)))
	defer func() { span.Finish(err); done(err) }()

	if userID == targetID {
		return nil, models.NewValidationError("Cannot start a conversation with yourself")
	}
	if _, err := s.store.Users().GetByID(ctx, targetID); err != nil {
		return nil, err
	}
	blocked, err := s.store.Users().IsBlockedEither(ctx, userID, targetID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, models.NewForbiddenError("Cannot start a conversation with this user")
	}

	existing, err := s.store.Conversations().FindPrivateBetween(ctx, userID, targetID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.withParticipants(ctx, existing)
	}

	now := s.now()
	key := models.PrivatePairKey(userID, targetID)
	conv = &models.Conversation{
		Type:      models.ConversationPrivate,
		PairKey:   &key,
		IsActive:  true,
		CreatedBy: userID,
		Participants: []models.Participant{
			{UserID: userID, Role: models.RoleMember, JoinedAt: now},
			{UserID: targetID, Role: models.RoleMember, JoinedAt: now},
		},
	}
	err = s.store.Conversations().Create(ctx, conv)
	if models.IsConflict(err) {
		// lost the race against a concurrent create for the same pair
		existing, findErr := s.store.Conversations().FindPrivateBetween(ctx, userID, targetID)
		if findErr != nil {
			return nil, findErr
		}
		if existing != nil {
			return s.withParticipants(ctx, existing)
		}
	}
	if err != nil {
		return nil, err
	}

	bctx := afterCommit(ctx)
	s.events.JoinConversationGroup(bctx, userID, conv.ID)
	s.events.JoinConversationGroup(bctx, targetID, conv.ID)
	return conv, nil
}

// CreateGroup creates a group (or channel) owned by the creator. Unknown
// participant ids are dropped silently and duplicates collapse.
func (s *ConversationService) CreateGroup(ctx context.Context, in CreateGroupInput) (conv *models.Conversation, err error) {
	done := observability.ObserveOperation("conversation.create_group")
	span, ctx := observability.StartOperation(ctx, "ConversationService.CreateGroup", in.CreatorID)
	defer func() { span.Finish(err); done(err) }()

	if err := validateInput(in); err != nil {
		return nil, err
	}
	ids := dedupeIDs(in.ParticipantIDs, in.CreatorID)
	if len(ids) == 0 {
		return nil, models.NewValidationError("At least one other participant is required")
	}
	known, err := s.store.Users().ExistingIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	knownSet := make(map[uint]struct{}, len(known))
	for _, id := range known {
		knownSet[id] = struct{}{}
	}
	members := make([]uint, 0, len(known))
	for _, id := range ids {
		if _, ok := knownSet[id]; ok {
			members = append(members, id)
		}
	}
	if in.MaxParticipants != nil && len(members)+1 > *in.MaxParticipants {
		return nil, models.NewValidationError("Too many participants for max_participants")
	}

	convType := models.ConversationGroup
	if in.Channel {
		convType = models.ConversationChannel
	}
	now := s.now()
	conv = &models.Conversation{
		Type:            convType,
		Name:            strings.TrimSpace(in.Name),
		Description:     strings.TrimSpace(in.Description),
		IsPublic:        in.IsPublic,
		MaxParticipants: in.MaxParticipants,
		IsActive:        true,
		CreatedBy:       in.CreatorID,
		Participants:    []models.Participant{{UserID: in.CreatorID, Role: models.RoleOwner, JoinedAt: now}},
	}
	for _, id := range members {
		conv.Participants = append(conv.Participants, models.Participant{UserID: id, Role: models.RoleMember, JoinedAt: now})
	}
	if err := s.store.Conversations().Create(ctx, conv); err != nil {
		return nil, err
	}

	bctx := afterCommit(ctx)
	for _, p := range conv.Participants {
		s.events.JoinConversationGroup(bctx, p.UserID, conv.ID)
	}
	return conv, nil
}

// GetConversation returns the conversation with its active participants and
// the caller's view of it.
func (s *ConversationService) GetConversation(ctx context.Context, convID, userID uint) (*models.Conversation, error) {
	conv, err := s.store.Conversations().GetByID(ctx, convID)
	if err != nil {
		return nil, err
	}
	p, err := requireParticipant(ctx, s.store.Conversations(), convID, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.withParticipants(ctx, conv); err != nil {
		return nil, err
	}
	conv.Membership = p
	unread, err := s.store.Messages().CountUnread(ctx, convID, userID)
	if err != nil {
		return nil, err
	}
	conv.UnreadCount = unread
	return conv, nil
}

// GetUserConversations lists the caller's live conversations, pinned first and
// then by latest activity, each with the last message the caller can see and
// the unread count.
func (s *ConversationService) GetUserConversations(ctx context.Context, userID uint) ([]*models.Conversation, error) {
	convs, err := s.store.Conversations().ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, conv := range convs {
		if conv.LastMessageID != nil {
			last, err := s.store.Messages().LatestVisible(ctx, conv.ID, userID)
			switch {
			case err == nil:
				conv.LastMessage = last
			case !models.IsNotFound(err):
				return nil, err
			}
		}
		unread, err := s.store.Messages().CountUnread(ctx, conv.ID, userID)
		if err != nil {
			return nil, err
		}
		conv.UnreadCount = unread
	}

	sort.SliceStable(convs, func(i, j int) bool {
		pi, pj := convs[i].Membership != nil && convs[i].Membership.IsPinned, convs[j].Membership != nil && convs[j].Membership.IsPinned
		if pi != pj {
			return pi
		}
		return lastActivity(convs[i]).After(lastActivity(convs[j]))
	})
	return convs, nil
}

func lastActivity(conv *models.Conversation) time.Time {
	if conv.LastMessage != nil && conv.LastMessage.CreatedAt.After(conv.UpdatedAt) {
		return conv.LastMessage.CreatedAt
	}
	return conv.UpdatedAt
}

// AddParticipant adds targetID as a Member, reactivating a previous
// membership row if there is one. The actor needs admin privileges.
func (s *ConversationService) AddParticipant(ctx context.Context, convID, actorID, targetID uint) (err error) {
	done := observability.ObserveOperation("conversation.add_participant")
	span, ctx := observability.StartOperation(ctx, "ConversationService.AddParticipant", actorID,
		attribute.Int64("conversation.id", int64(convID)), attribute.Int64("target.id", int64(targetID)))
	defer func() { span.Finish(err); done(err) }()

	if _, err := s.store.Users().GetByID(ctx, targetID); err != nil {
		return err
	}

	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		conv, err := tx.Conversations().GetByIDForUpdate(ctx, convID)
		if err != nil {
			return err
		}
		if !conv.Type.IsMultiParty() {
			return models.NewValidationError("Private conversations cannot change membership")
		}
		if _, err := requireRole(ctx, tx.Conversations(), convID, actorID, models.RoleAdmin); err != nil {
			return err
		}
		return s.admit(ctx, tx, conv, targetID)
	})
	if err != nil {
		return err
	}

	bctx := afterCommit(ctx)
	s.events.JoinConversationGroup(bctx, targetID, convID)
	s.events.ToConversation(bctx, convID, notifications.Event{
		Name: notifications.EventParticipantJoined,
		Payload: notifications.MembershipPayload{
			ConversationID: convID,
			UserID:         targetID,
			ActorID:        actorID,
			Role:           models.RoleMember.String(),
		},
	})
	return nil
}

// admit inserts or reactivates userID as a Member. conv must have been
// loaded for update inside tx.
func (s *ConversationService) admit(ctx context.Context, tx repository.Store, conv *models.Conversation, userID uint) error {
	repo := tx.Conversations()
	existing, err := repo.GetParticipant(ctx, conv.ID, userID)
	if err != nil && !models.IsNotFound(err) {
		return err
	}
	if existing.Active() {
		return models.NewConflictError("User is already a participant")
	}
	if conv.MaxParticipants != nil {
		count, err := repo.CountActiveParticipants(ctx, conv.ID)
		if err != nil {
			return err
		}
		if count >= int64(*conv.MaxParticipants) {
			return models.NewConflictError("Conversation has reached its participant limit")
		}
	}

	now := s.now()
	if existing != nil {
		return repo.UpdateParticipant(ctx, existing.ID, map[string]interface{}{
			"has_left":    false,
			"left_at":     nil,
			"joined_at":   now,
			"role":        models.RoleMember,
			"is_muted":    false,
			"muted_until": nil,
			"is_archived": false,
			"is_pinned":   false,
		})
	}
	return repo.AddParticipant(ctx, &models.Participant{
		ConversationID: conv.ID,
		UserID:         userID,
		Role:           models.RoleMember,
		JoinedAt:       now,
	})
}

// RemoveParticipant marks targetID as having left. Admins may remove members
// and admins; only the owner may remove an owner.
func (s *ConversationService) RemoveParticipant(ctx context.Context, convID, actorID, targetID uint) (err error) {
	done := observability.ObserveOperation("conversation.remove_participant")
	span, ctx := observability.StartOperation(ctx, "ConversationService.RemoveParticipant", actorID,
		attribute.Int64("conversation.id", int64(convID)), attribute.Int64("target.id", int64(targetID)))
	defer func() { span.Finish(err); done(err) }()

	if actorID == targetID {
		return models.NewValidationError("Use leave to exit a conversation")
	}

	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		conv, err := tx.Conversations().GetByIDForUpdate(ctx, convID)
		if err != nil {
			return err
		}
		if !conv.Type.IsMultiParty() {
			return models.NewValidationError("Private conversations cannot change membership")
		}
		actor, err := requireRole(ctx, tx.Conversations(), convID, actorID, models.RoleAdmin)
		if err != nil {
			return err
		}
		target, err := tx.Conversations().GetParticipant(ctx, convID, targetID)
		if err != nil {
			return err
		}
		if !target.Active() {
			return models.NewNotFoundError("Participant", targetID)
		}
		if target.Role == models.RoleOwner && actor.Role != models.RoleOwner {
			return models.NewForbiddenError("Only the owner can remove an owner")
		}
		return s.markLeft(ctx, tx, target.ID)
	})
	if err != nil {
		return err
	}

	bctx := afterCommit(ctx)
	s.events.ToConversation(bctx, convID, notifications.Event{
		Name:    notifications.EventParticipantLeft,
		Payload: notifications.MembershipPayload{ConversationID: convID, UserID: targetID, ActorID: actorID},
	})
	s.events.LeaveConversationGroup(bctx, targetID, convID)
	return nil
}

func (s *ConversationService) markLeft(ctx context.Context, tx repository.Store, participantID uint) error {
	now := s.now()
	return tx.Conversations().UpdateParticipant(ctx, participantID, map[string]interface{}{
		"has_left": true,
		"left_at":  now,
		"role":     models.RoleMember,
	})
}

// LeaveGroup removes the caller from a group. An owner hands ownership to the
// longest-tenured admin, else the longest-tenured member; the last one out
// deactivates and soft-deletes the conversation.
func (s *ConversationService) LeaveGroup(ctx context.Context, convID, userID uint) (err error) {
	done := observability.ObserveOperation("conversation.leave")
	span, ctx := observability.StartOperation(ctx, "ConversationService.LeaveGroup", userID, attribute.Int64("conversation.id", int64(convID)))
	defer func() { span.Finish(err); done(err) }()

	var (
		newOwner *models.Participant
		emptied  bool
	)
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		repo := tx.Conversations()
		conv, err := repo.GetByIDForUpdate(ctx, convID)
		if err != nil {
			return err
		}
		if !conv.Type.IsMultiParty() {
			return models.NewValidationError("Cannot leave a private conversation")
		}
		self, err := requireParticipant(ctx, repo, convID, userID)
		if err != nil {
			return err
		}

		if self.Role == models.RoleOwner {
			active, err := repo.ListParticipants(ctx, convID, true)
			if err != nil {
				return err
			}
			newOwner = successor(active, userID)
			if newOwner == nil {
				emptied = true
				if err := repo.SoftDelete(ctx, convID, s.now(), true); err != nil {
					return err
				}
			} else if err := repo.UpdateParticipant(ctx, newOwner.ID, map[string]interface{}{"role": models.RoleOwner}); err != nil {
				return err
			}
		}
		return s.markLeft(ctx, tx, self.ID)
	})
	if err != nil {
		return err
	}

	bctx := afterCommit(ctx)
	s.events.ToConversation(bctx, convID, notifications.Event{
		Name:    notifications.EventParticipantLeft,
		Payload: notifications.MembershipPayload{ConversationID: convID, UserID: userID, ActorID: userID},
	})
	switch {
	case newOwner != nil:
		s.events.ToConversation(bctx, convID, notifications.Event{
			Name: notifications.EventParticipantRole,
			Payload: notifications.MembershipPayload{
				ConversationID: convID,
				UserID:         newOwner.UserID,
				ActorID:        userID,
				Role:           models.RoleOwner.String(),
			},
		})
	case emptied:
		s.events.ToUser(bctx, userID, notifications.Event{
			Name:    notifications.EventConversationDeleted,
			Payload: map[string]uint{"conversation_id": convID},
		})
	}
	s.events.LeaveConversationGroup(bctx, userID, convID)
	return nil
}

// successor picks the next owner from active participants ordered by tenure.
func successor(active []models.Participant, leaving uint) *models.Participant {
	var firstMember *models.Participant
	for i := range active {
		p := &active[i]
		if p.UserID == leaving {
			continue
		}
		if p.Role == models.RoleAdmin {
			return p
		}
		if firstMember == nil {
			firstMember = p
		}
	}
	return firstMember
}

// UpdateParticipantRole changes targetID's role. Only the owner may do this;
// granting Owner transfers ownership and demotes the actor to Admin.
func (s *ConversationService) UpdateParticipantRole(ctx context.Context, convID, actorID, targetID uint, role models.ParticipantRole) (err error) {
	done := observability.ObserveOperation("conversation.update_role")
	span, ctx := observability.StartOperation(ctx, "ConversationService.UpdateParticipantRole", actorID,
		attribute.Int64("conversation.id", int64(convID)), attribute.String("role", role.String()))
	defer func() { span.Finish(err); done(err) }()

	if !role.Valid() {
		return models.NewValidationError("Invalid role")
	}
	if actorID == targetID {
		return models.NewValidationError("Cannot change your own role")
	}

	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		repo := tx.Conversations()
		conv, err := repo.GetByIDForUpdate(ctx, convID)
		if err != nil {
			return err
		}
		if !conv.Type.IsMultiParty() {
			return models.NewValidationError("Private conversations have no roles")
		}
		actor, err := requireRole(ctx, repo, convID, actorID, models.RoleOwner)
		if err != nil {
			return err
		}
		target, err := repo.GetParticipant(ctx, convID, targetID)
		if err != nil {
			return err
		}
		if !target.Active() {
			return models.NewNotFoundError("Participant", targetID)
		}
		if role == models.RoleOwner {
			if err := repo.UpdateParticipant(ctx, actor.ID, map[string]interface{}{"role": models.RoleAdmin}); err != nil {
				return err
			}
		}
		return repo.UpdateParticipant(ctx, target.ID, map[string]interface{}{"role": role})
	})
	if err != nil {
		return err
	}

	bctx := afterCommit(ctx)
	s.events.ToConversation(bctx, convID, notifications.Event{
		Name:    notifications.EventParticipantRole,
		Payload: notifications.MembershipPayload{ConversationID: convID, UserID: targetID, ActorID: actorID, Role: role.String()},
	})
	if role == models.RoleOwner {
		s.events.ToConversation(bctx, convID, notifications.Event{
			Name:    notifications.EventParticipantRole,
			Payload: notifications.MembershipPayload{ConversationID: convID, UserID: actorID, ActorID: actorID, Role: models.RoleAdmin.String()},
		})
	}
	return nil
}

// MuteConversation silences notifications for the caller, until the given
// instant when one is provided.
func (s *ConversationService) MuteConversation(ctx context.Context, convID, userID uint, until *time.Time) (*models.Participant, error) {
	if until != nil && !until.After(s.now()) {
		return nil, models.NewValidationError("Mute expiry must be in the future")
	}
	return s.updateOwnView(ctx, convID, userID, func(*models.Participant) map[string]interface{} {
		return map[string]interface{}{"is_muted": true, "muted_until": until}
	})
}

// UnmuteConversation clears the caller's mute.
func (s *ConversationService) UnmuteConversation(ctx context.Context, convID, userID uint) (*models.Participant, error) {
	return s.updateOwnView(ctx, convID, userID, func(*models.Participant) map[string]interface{} {
		return map[string]interface{}{"is_muted": false, "muted_until": nil}
	})
}

// ArchiveConversation toggles the caller's archived flag.
func (s *ConversationService) ArchiveConversation(ctx context.Context, convID, userID uint) (*models.Participant, error) {
	return s.updateOwnView(ctx, convID, userID, func(p *models.Participant) map[string]interface{} {
		return map[string]interface{}{"is_archived": !p.IsArchived}
	})
}

// PinConversation toggles the caller's pinned flag.
func (s *ConversationService) PinConversation(ctx context.Context, convID, userID uint) (*models.Participant, error) {
	return s.updateOwnView(ctx, convID, userID, func(p *models.Participant) map[string]interface{} {
		return map[string]interface{}{"is_pinned": !p.IsPinned}
	})
}

// updateOwnView applies a change to the caller's own participant row and
// syncs it to the caller's other connections.
func (s *ConversationService) updateOwnView(ctx context.Context, convID, userID uint, change func(*models.Participant) map[string]interface{}) (*models.Participant, error) {
	repo := s.store.Conversations()
	if _, err := repo.GetByID(ctx, convID); err != nil {
		return nil, err
	}
	p, err := requireParticipant(ctx, repo, convID, userID)
	if err != nil {
		return nil, err
	}
	if err := repo.UpdateParticipant(ctx, p.ID, change(p)); err != nil {
		return nil, err
	}
	updated, err := repo.GetParticipant(ctx, convID, userID)
	if err != nil {
		return nil, err
	}
	s.events.ToUser(afterCommit(ctx), userID, notifications.Event{
		Name:    notifications.EventConversationUpdated,
		Payload: map[string]interface{}{"conversation_id": convID, "membership": updated},
	})
	return updated, nil
}

// UpdateGroup applies the provided fields of a group. Private conversations
// cannot be edited.
func (s *ConversationService) UpdateGroup(ctx context.Context, in UpdateGroupInput) (conv *models.Conversation, err error) {
	done := observability.ObserveOperation("conversation.update")
	span, ctx := observability.StartOperation(ctx, "ConversationService.UpdateGroup", in.ActorID, attribute.Int64("conversation.id", int64(in.ConversationID)))
	defer func() { span.Finish(err); done(err) }()

	if err := validateInput(in); err != nil {
		return nil, err
	}
	repo := s.store.Conversations()
	conv, err = repo.GetByID(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if _, err := requireParticipant(ctx, repo, conv.ID, in.ActorID); err != nil {
		return nil, err
	}
	if !conv.Type.IsMultiParty() {
		return nil, models.NewValidationError("Private conversations cannot be edited")
	}
	if _, err := requireRole(ctx, repo, conv.ID, in.ActorID, models.RoleAdmin); err != nil {
		return nil, err
	}

	fields := map[string]interface{}{}
	if in.Name != nil {
		fields["name"] = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		fields["description"] = strings.TrimSpace(*in.Description)
	}
	if in.IsPublic != nil {
		fields["is_public"] = *in.IsPublic
	}
	if in.OnlyAdminsCanMessage != nil {
		fields["only_admins_can_message"] = *in.OnlyAdminsCanMessage
	}
	if in.MaxParticipants != nil {
		count, err := repo.CountActiveParticipants(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		if int64(*in.MaxParticipants) < count {
			return nil, models.NewValidationError("max_participants is below the current participant count")
		}
		fields["max_participants"] = *in.MaxParticipants
	}
	if len(fields) == 0 {
		return conv, nil
	}
	if err := repo.Update(ctx, conv.ID, fields); err != nil {
		return nil, err
	}
	conv, err = repo.GetByID(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	s.events.ToConversation(afterCommit(ctx), conv.ID, notifications.Event{Name: notifications.EventConversationUpdated, Payload: conv})
	return conv, nil
}

// UploadGroupAvatar stores a new avatar image and deletes the previous one.
func (s *ConversationService) UploadGroupAvatar(ctx context.Context, convID, actorID uint, file storage.UploadInput) (conv *models.Conversation, err error) {
	done := observability.ObserveOperation("conversation.upload_avatar")
	span, ctx := observability.StartOperation(ctx, "ConversationService.UploadGroupAvatar", actorID, attribute.Int64("conversation.id", int64(convID)))
	defer func() { span.Finish(err); done(err) }()

	if s.files == nil {
		return nil, models.NewValidationError("File uploads are not configured")
	}
	repo := s.store.Conversations()
	conv, err = repo.GetByID(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.Type.IsMultiParty() {
		return nil, models.NewValidationError("Private conversations have no avatar")
	}
	if _, err := requireRole(ctx, repo, convID, actorID, models.RoleAdmin); err != nil {
		return nil, err
	}
	if err := s.files.ValidateExtension(file.Filename); err != nil {
		return nil, err
	}
	if err := s.files.ValidateSize(int64(len(file.Content))); err != nil {
		return nil, err
	}

	stored, err := s.files.Upload(ctx, storage.FolderAvatars, file)
	if err != nil {
		return nil, err
	}
	if stored.MediaType != models.AttachmentImage {
		s.deleteFile(ctx, stored.URL)
		return nil, models.NewValidationError("Avatar must be an image")
	}
	if err := repo.Update(ctx, convID, map[string]interface{}{"avatar_url": stored.URL}); err != nil {
		s.deleteFile(ctx, stored.URL)
		return nil, err
	}
	if conv.AvatarURL != "" {
		s.deleteFile(ctx, conv.AvatarURL)
	}
	conv.AvatarURL = stored.URL

	s.events.ToConversation(afterCommit(ctx), convID, notifications.Event{Name: notifications.EventConversationUpdated, Payload: conv})
	return conv, nil
}

func (s *ConversationService) deleteFile(ctx context.Context, url string) {
	if err := s.files.Delete(ctx, url); err != nil {
		slog.WarnContext(ctx, "failed to delete stored file", slog.String("url", url), slog.String("error", err.Error()))
	}
}

// DeleteConversation soft-deletes a conversation. Any participant may delete a
// private conversation; groups and channels need the owner.
func (s *ConversationService) DeleteConversation(ctx context.Context, convID, userID uint) (err error) {
	done := observability.ObserveOperation("conversation.delete")
	span, ctx := observability.StartOperation(ctx, "ConversationService.DeleteConversation", userID, attribute.Int64("conversation.id", int64(convID)))
	defer func() { span.Finish(err); done(err) }()

	var members []models.Participant
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		repo := tx.Conversations()
		conv, err := repo.GetByIDForUpdate(ctx, convID)
		if err != nil {
			return err
		}
		required := models.RoleMember
		if conv.Type.IsMultiParty() {
			required = models.RoleOwner
		}
		if _, err := requireRole(ctx, repo, convID, userID, required); err != nil {
			return err
		}
		members, err = repo.ListParticipants(ctx, convID, true)
		if err != nil {
			return err
		}
		return repo.SoftDelete(ctx, convID, s.now(), true)
	})
	if err != nil {
		return err
	}

	bctx := afterCommit(ctx)
	s.events.ToConversation(bctx, convID, notifications.Event{
		Name:    notifications.EventConversationDeleted,
		Payload: map[string]uint{"conversation_id": convID, "deleted_by": userID},
	})
	for _, p := range members {
		s.events.LeaveConversationGroup(bctx, p.UserID, convID)
	}
	return nil
}

// GenerateInviteLink issues a fresh invite token, replacing any previous one.
func (s *ConversationService) GenerateInviteLink(ctx context.Context, convID, actorID uint) (string, error) {
	repo := s.store.Conversations()
	conv, err := repo.GetByID(ctx, convID)
	if err != nil {
		return "", err
	}
	if !conv.Type.IsMultiParty() {
		return "", models.NewValidationError("Private conversations cannot have invite links")
	}
	if _, err := requireRole(ctx, repo, convID, actorID, models.RoleAdmin); err != nil {
		return "", err
	}
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := repo.Update(ctx, convID, map[string]interface{}{"invite_link": token}); err != nil {
		return "", err
	}
	return token, nil
}

// JoinByInviteLink redeems an invite token for userID.
func (s *ConversationService) JoinByInviteLink(ctx context.Context, userID uint, token string) (conv *models.Conversation, err error) {
	done := observability.ObserveOperation("conversation.join_invite")
	span, ctx := observability.StartOperation(ctx, "ConversationService.JoinByInviteLink", userID)
	defer func() { span.Finish(err); done(err) }()

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, models.NewValidationError("Invite link is required")
	}
	found, err := s.store.Conversations().GetByInviteLink(ctx, token)
	if err != nil {
		return nil, err
	}
	if !found.IsActive {
		return nil, models.NewNotFoundError("Invite link", token)
	}

	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		locked, err := tx.Conversations().GetByIDForUpdate(ctx, found.ID)
		if err != nil {
			return err
		}
		conv = locked
		return s.admit(ctx, tx, locked, userID)
	})
	if err != nil {
		return nil, err
	}

	bctx := afterCommit(ctx)
	s.events.JoinConversationGroup(bctx, userID, conv.ID)
	s.events.ToConversation(bctx, conv.ID, notifications.Event{
		Name: notifications.EventParticipantJoined,
		Payload: notifications.MembershipPayload{
			ConversationID: conv.ID,
			UserID:         userID,
			ActorID:        userID,
			Role:           models.RoleMember.String(),
		},
	})
	return conv, nil
}

// recordRead advances the caller's read pointer. Called by MessageService
// inside its read-receipt transaction.
func (s *ConversationService) recordRead(ctx context.Context, tx repository.Store, participantID uint, at time.Time, lastMessageID uint) error {
	return tx.Conversations().UpdateParticipant(ctx, participantID, map[string]interface{}{
		"last_read_at":         at,
		"last_read_message_id": lastMessageID,
	})
}

// recordLastMessage moves the conversation's last-message pointer.
func (s *ConversationService) recordLastMessage(ctx context.Context, tx repository.Store, convID, messageID uint) error {
	return tx.Conversations().Update(ctx, convID, map[string]interface{}{"last_message_id": messageID})
}

func (s *ConversationService) withParticipants(ctx context.Context, conv *models.Conversation) (*models.Conversation, error) {
	participants, err := s.store.Conversations().ListParticipants(ctx, conv.ID, true)
	if err != nil {
		return nil, err
	}
	conv.Participants = participants
	return conv, nil
}
