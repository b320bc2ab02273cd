package server

import (
	"strconv"

	"parley/internal/models"
	"parley/internal/service"

	"github.com/gofiber/fiber/v2"
)

// EditMessageRequest is the body of PATCH /messages/:id.
type EditMessageRequest struct {
	Content string `json:"content"`
}

// ForwardRequest is the body of POST /messages/:id/forward.
type ForwardRequest struct {
	ConversationID uint `json:"conversation_id"`
}

// ReactionRequest is the body of PUT /messages/:id/reaction.
type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

// DeliveredRequest is the body of POST /messages/delivered.
type DeliveredRequest struct {
	MessageIDs []uint `json:"message_ids"`
}

// GetMessages returns one page of history, newest first.
func (s *Server) GetMessages(c *fiber.Ctx) error {
	convID, err := conversationParam(c)
	if err != nil {
		return nil
	}
	p := parsePagination(c, defaultPageSize)
	msgs, err := s.messages.GetMessages(c.UserContext(), convID, currentUser(c), p.Page, p.PageSize)
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.JSON(fiber.Map{
		"messages":  msgs,
		"page":      p.Page,
		"page_size": p.PageSize,
	})
}

// SendMessage posts a message. Multipart requests carry attachments in
// "files" and the text in "content".
func (s *Server) SendMessage(c *fiber.Ctx) error {
	convID, err := conversationParam(c)
	if err != nil {
		return nil
	}
	uploads, err := readUploads(c, "files")
	if err != nil {
		return RespondWithError(c, err)
	}
	var in service.SendMessageInput
	if uploads != nil {
		in.Content = c.FormValue("content")
		in.Type = models.MessageType(c.FormValue("type"))
		if raw := c.FormValue("reply_to_id"); raw != "" {
			id, perr := strconv.ParseUint(raw, 10, 64)
			if perr != nil {
				return RespondWithError(c, models.NewValidationError("Invalid reply_to_id"))
			}
			replyTo := uint(id)
			in.ReplyToID = &replyTo
		}
	} else if err := parseBody(c, &in); err != nil {
		return nil
	}
	in.SenderID = currentUser(c)
	in.ConversationID = convID
	in.Attachments = uploads

	msg, err := s.messages.SendMessage(c.UserContext(), in)
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// SearchMessages finds messages containing the "q" term.
func (s *Server) SearchMessages(c *fiber.Ctx) error {
	convID, err := conversationParam(c)
	if err != nil {
		return nil
	}
	p := parsePagination(c, defaultPageSize)
	res, err := s.messages.SearchMessages(c.UserContext(), convID, currentUser(c), c.Query("q"), p.Page, p.PageSize)
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.JSON(res)
}

// MarkAsRead marks everything the caller has not read in a conversation.
func (s *Server) MarkAsRead(c *fiber.Ctx) error {
	convID, err := conversationParam(c)
	if err != nil {
		return nil
	}
	n, err := s.messages.MarkAsRead(c.UserContext(), convID, currentUser(c))
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.JSON(fiber.Map{"marked": n})
}

// UnreadCount reports how many messages the caller has not read.
func (s *Server) UnreadCount(c *fiber.Ctx) error {
	convID, err := conversationParam(c)
	if err != nil {
		return nil
	}
	n, err := s.messages.UnreadCount(c.UserContext(), convID, currentUser(c))
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.JSON(fiber.Map{"unread_count": n})
}

// MarkDelivered records delivery receipts for a batch of messages.
func (s *Server) MarkDelivered(c *fiber.Ctx) error {
	var req DeliveredRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	n, err := s.messages.MarkDelivered(c.UserContext(), currentUser(c), req.MessageIDs)
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.JSON(fiber.Map{"marked": n})
}

// EditMessage replaces the text of the caller's own message.
func (s *Server) EditMessage(c *fiber.Ctx) error {
	msgID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	var req EditMessageRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	msg, err := s.messages.EditMessage(c.UserContext(), currentUser(c), msgID, req.Content)
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.JSON(msg)
}

// DeleteMessage deletes for everyone when ?for_everyone=true, otherwise
// only hides the message from the caller.
func (s *Server) DeleteMessage(c *fiber.Ctx) error {
	msgID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	forEveryone := c.QueryBool("for_everyone", false)
	if err := s.messages.DeleteMessage(c.UserContext(), currentUser(c), msgID, forEveryone); err != nil {
		return RespondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ForwardMessage copies a message into another conversation.
func (s *Server) ForwardMessage(c *fiber.Ctx) error {
	msgID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	var req ForwardRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if req.ConversationID == 0 {
		return RespondWithError(c, models.NewValidationError("conversation_id is required"))
	}
	msg, err := s.messages.ForwardMessage(c.UserContext(), currentUser(c), msgID, req.ConversationID)
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// ReactToMessage sets the caller's reaction, replacing any previous one.
func (s *Server) ReactToMessage(c *fiber.Ctx) error {
	msgID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	var req ReactionRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	reaction, err := s.messages.ReactToMessage(c.UserContext(), currentUser(c), msgID, req.Emoji)
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.JSON(reaction)
}

// RemoveReaction clears the caller's reaction.
func (s *Server) RemoveReaction(c *fiber.Ctx) error {
	msgID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.messages.RemoveReaction(c.UserContext(), currentUser(c), msgID); err != nil {
		return RespondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
