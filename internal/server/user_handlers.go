package server

import (
	"github.com/gofiber/fiber/v2"
)

// BlockRequest is the optional body of POST /users/:id/block.
type BlockRequest struct {
	Reason string `json:"reason"`
}

// MarkNotificationsReadRequest selects notifications to mark read. An empty
// list marks every notification.
type MarkNotificationsReadRequest struct {
	IDs []uint `json:"ids"`
}

// GetUsers lists users with limit/offset paging.
func (s *Server) GetUsers(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > maxPageSize {
		limit = 20
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}
	users, err := s.users.ListUsers(c.UserContext(), limit, offset)
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.JSON(users)
}

// GetUser returns one user.
func (s *Server) GetUser(c *fiber.Ctx) error {
	userID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	user, err := s.users.GetUserByID(c.UserContext(), userID)
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.JSON(user)
}

// GetOnlineUsers lists users connected to any instance.
func (s *Server) GetOnlineUsers(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"user_ids": s.presence.OnlineUsers(c.UserContext())})
}

// BlockUser blocks another user for the caller.
func (s *Server) BlockUser(c *fiber.Ctx) error {
	targetID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	var req BlockRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return nil
		}
	}
	block, err := s.users.BlockUser(c.UserContext(), currentUser(c), targetID, req.Reason)
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(block)
}

// GetBlockedUsers lists the users the caller has blocked.
func (s *Server) GetBlockedUsers(c *fiber.Ctx) error {
	users, err := s.users.GetBlockedUsers(c.UserContext(), currentUser(c))
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.JSON(users)
}

// UnblockUser removes the caller's block on another user.
func (s *Server) UnblockUser(c *fiber.Ctx) error {
	targetID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.users.UnblockUser(c.UserContext(), currentUser(c), targetID); err != nil {
		return RespondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetNotifications lists the caller's notifications, newest first.
func (s *Server) GetNotifications(c *fiber.Ctx) error {
	p := parsePagination(c, 20)
	list, err := s.notifications.List(c.UserContext(), currentUser(c), c.QueryBool("unread", false), p.Page, p.PageSize)
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.JSON(list)
}

// MarkNotificationsRead marks the caller's notifications read.
func (s *Server) MarkNotificationsRead(c *fiber.Ctx) error {
	var req MarkNotificationsReadRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return nil
		}
	}
	n, err := s.notifications.MarkRead(c.UserContext(), currentUser(c), req.IDs)
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.JSON(fiber.Map{"marked": n})
}

// MarkAllNotificationsRead marks every notification of the caller read.
func (s *Server) MarkAllNotificationsRead(c *fiber.Ctx) error {
	n, err := s.notifications.MarkAllRead(c.UserContext(), currentUser(c))
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.JSON(fiber.Map{"marked": n})
}

// GetUnreadNotificationCount returns how many of the caller's notifications are unread.
func (s *Server) GetUnreadNotificationCount(c *fiber.Ctx) error {
	n, err := s.notifications.UnreadCount(c.UserContext(), currentUser(c))
	if err != nil {
		return RespondWithError(c, err)
	}
	return c.JSON(fiber.Map{"count": n})
}

// DeleteNotification removes one of the caller's notifications.
func (s *Server) DeleteNotification(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.notifications.Delete(c.UserContext(), currentUser(c), id); err != nil {
		return RespondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
