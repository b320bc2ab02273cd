package server

import (
	"context"
	"time"

	"parley/internal/models"
	"parley/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreatePrivateRequest is the body of POST /conversations/private.
type CreatePrivateRequest struct {
	UserID uint `json:"user_id"`
}

// UpdateRoleRequest is the body of PUT /conversations/:id/participants/:userId/role.
type UpdateRoleRequest struct {
	Role models.ParticipantRole `json:"role"`
}

// AddParticipantRequest is the body of POST /conversations/:id/participants.
type AddParticipantRequest struct {
	UserID uint `json:"user_id"`
}

// MuteRequest is the optional body of POST /conversations/:id/mute.
type MuteRequest struct {
	Until *time.Time `json:"until"`
}

// GetConversations lists the caller's conversations, pinned first.
func (s *Server) GetConversations(c *fiber.Ctx) error {
	convs, err := s.conversations.GetUserConversations(c.UserContext(), currentUser(c))
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.JSON(convs)
}

// GetConversation returns one conversation the caller belongs to.
func (s *Server) GetConversation(c *fiber.Ctx) error {
	convID, err := conversationParam(c)
	if err != nil {
		return nil
	}
	conv, err := s.conversations.GetConversation(c.UserContext(), convID, currentUser(c))
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.JSON(conv)
}

// CreatePrivateConversation returns the caller's private conversation with
// another user, creating it on first use.
func (s *Server) CreatePrivateConversation(c *fiber.Ctx) error {
	var req CreatePrivateRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	conv, err := s.conversations.CreatePrivate(c.UserContext(), currentUser(c), req.UserID)
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(conv)
}

// CreateGroupConversation creates a group or channel owned by the caller.
func (s *Server) CreateGroupConversation(c *fiber.Ctx) error {
	var in service.CreateGroupInput
	if err := parseBody(c, &in); err != nil {
		return nil
	}
	in.CreatorID = currentUser(c)
	conv, err := s.conversations.CreateGroup(c.UserContext(), in)
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(conv)
}

// UpdateConversation applies a partial update to group metadata and settings.
func (s *Server) UpdateConversation(c *fiber.Ctx) error {
	convID, err := conversationParam(c)
	if err != nil {
		return nil
	}
	var in service.UpdateGroupInput
	if err := parseBody(c, &in); err != nil {
		return nil
	}
	in.ConversationID = convID
	in.ActorID = currentUser(c)
	conv, err := s.conversations.UpdateGroup(c.UserContext(), in)
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.JSON(conv)
}

// DeleteConversation soft-deletes a conversation.
func (s *Server) DeleteConversation(c *fiber.Ctx) error {
	convID, err := conversationParam(c)
	if err != nil {
		return nil
	}
	if err := s.conversations.DeleteConversation(c.UserContext(), convID, currentUser(c)); err != nil {
		return RespondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AddParticipant adds a user to a group.
func (s *Server) AddParticipant(c *fiber.Ctx) error {
	convID, err := conversationParam(c)
	if err != nil {
		return nil
	}
	var req AddParticipantRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if err := s.conversations.AddParticipant(c.UserContext(), convID, currentUser(c), req.UserID); err != nil {
		return RespondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RemoveParticipant removes another member from a group.
func (s *Server) RemoveParticipant(c *fiber.Ctx) error {
	convID, err := conversationParam(c)
	if err != nil {
		return nil
	}
	targetID, err := parseID(c, "userId")
	if err != nil {
		return nil
	}
	if err := s.conversations.RemoveParticipant(c.UserContext(), convID, currentUser(c), targetID); err != nil {
		return RespondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UpdateParticipantRole changes a member's role.
func (s *Server) UpdateParticipantRole(c *fiber.Ctx) error {
	convID, err := conversationParam(c)
	if err != nil {
		return nil
	}
	targetID, err := parseID(c, "userId")
	if err != nil {
		return nil
	}
	var req UpdateRoleRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if err := s.conversations.UpdateParticipantRole(c.UserContext(), convID, currentUser(c), targetID, req.Role); err != nil {
		return RespondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// LeaveConversation removes the caller from a group.
func (s *Server) LeaveConversation(c *fiber.Ctx) error {
	convID, err := conversationParam(c)
	if err != nil {
		return nil
	}
	if err := s.conversations.LeaveGroup(c.UserContext(), convID, currentUser(c)); err != nil {
		return RespondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// MuteConversation mutes notifications, optionally until a time.
func (s *Server) MuteConversation(c *fiber.Ctx) error {
	convID, err := conversationParam(c)
	if err != nil {
		return nil
	}
	var req MuteRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return nil
		}
	}
	p, err := s.conversations.MuteConversation(c.UserContext(), convID, currentUser(c), req.Until)
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.JSON(p)
}

// UnmuteConversation clears the caller's mute.
func (s *Server) UnmuteConversation(c *fiber.Ctx) error {
	return s.ownView(c, s.conversations.UnmuteConversation)
}

// ArchiveConversation toggles the caller's archive flag.
func (s *Server) ArchiveConversation(c *fiber.Ctx) error {
	return s.ownView(c, s.conversations.ArchiveConversation)
}

// PinConversation toggles the caller's pin flag.
func (s *Server) PinConversation(c *fiber.Ctx) error {
	return s.ownView(c, s.conversations.PinConversation)
}

func (s *Server) ownView(c *fiber.Ctx, change func(ctx context.Context, convID, userID uint) (*models.Participant, error)) error {
	convID, err := conversationParam(c)
	if err != nil {
		return nil
	}
	p, err := change(c.UserContext(), convID, currentUser(c))
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.JSON(p)
}

// GenerateInviteLink issues a fresh invite token, revoking the previous one.
func (s *Server) GenerateInviteLink(c *fiber.Ctx) error {
	convID, err := conversationParam(c)
	if err != nil {
		return nil
	}
	link, err := s.conversations.GenerateInviteLink(c.UserContext(), convID, currentUser(c))
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.JSON(fiber.Map{"invite_link": link})
}

// JoinByInviteLink admits the caller to the group behind an invite token.
func (s *Server) JoinByInviteLink(c *fiber.Ctx) error {
	conv, err := s.conversations.JoinByInviteLink(c.UserContext(), currentUser(c), c.Params("token"))
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.JSON(conv)
}

// UploadGroupAvatar replaces a group's avatar from the "avatar" form file.
func (s *Server) UploadGroupAvatar(c *fiber.Ctx) error {
	convID, err := conversationParam(c)
	if err != nil {
		return nil
	}
	fh, err := c.FormFile("avatar")
	if err != nil {
		return RespondWithError(c, models.NewValidationError("avatar file is required"))
	}
	in, err := readUpload(fh)
	if err != nil {
		return RespondWithError(c, err)
	}
	conv, err := s.conversations.UploadGroupAvatar(c.UserContext(), convID, currentUser(c), in)
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.JSON(conv)
}
