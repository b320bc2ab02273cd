package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"parley/internal/middleware"
	"parley/internal/models"
	"parley/internal/notifications"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Frame types accepted from chat clients.
const (
	frameJoin      = "join"
	frameLeave     = "leave"
	frameTyping    = "typing"
	frameRead      = "read"
	frameDelivered = "delivered"
)

// wsFrame is one inbound client frame.
type wsFrame struct {
	Type           string `json:"type"`
	ConversationID uint   `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
	MessageIDs     []uint `json:"message_ids"`
}

// WebSocketUpgrade rejects plain HTTP requests to websocket routes.
func (s *Server) WebSocketUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// WebSocketChatHandler serves a live chat connection: it subscribes the
// caller to their conversations and user group, then dispatches inbound
// frames until the peer goes away.
func (s *Server) WebSocketChatHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, ok := conn.Locals(middleware.UserIDLocal).(uint)
		if !ok || userID == 0 {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"Error","payload":{"message":"unauthorized"}}`))
			_ = conn.Close()
			return
		}

		client := notifications.NewClient(nil, conn, userID)
		ctx := context.WithValue(context.Background(), middleware.UserIDKey, userID)
		ctx = middleware.WithConnectionID(ctx, client.ID)
		client.IncomingHandler = func(c *notifications.Client, raw []byte) {
			s.handleFrame(ctx, c, raw)
		}

		if err := s.presence.Connect(ctx, client); err != nil {
			middleware.Logger.WarnContext(ctx, "websocket connect rejected", slog.String("error", err.Error()))
			payload, _ := json.Marshal(notifications.Event{
				Name:    notifications.EventError,
				Payload: notifications.ErrorPayload{Message: err.Error()},
			})
			_ = conn.WriteMessage(websocket.TextMessage, payload)
			_ = conn.Close()
			return
		}

		go client.WritePump()
		client.ReadPump()
	})
}

// handleFrame dispatches one client frame. Failures are answered on the
// same connection with an Error event; the connection stays open.
func (s *Server) handleFrame(ctx context.Context, client *notifications.Client, raw []byte) {
	var frame wsFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.replyError(ctx, client, "", models.NewValidationError("Invalid frame"))
		return
	}

	if frame.ConversationID != 0 {
		ctx = middleware.WithConversationID(ctx, frame.ConversationID)
	}

	var err error
	switch frame.Type {
	case frameJoin:
		if err = s.presence.JoinConversationGroup(ctx, client.UserID, frame.ConversationID); err == nil {
			s.reply(client, notifications.Event{
				Name:    notifications.EventJoinedConversation,
				Payload: fiber.Map{"conversation_id": frame.ConversationID},
			})
		}
	case frameLeave:
		s.presence.LeaveConversationGroup(ctx, client.UserID, frame.ConversationID)
	case frameTyping:
		err = s.presence.SendTyping(ctx, client.UserID, frame.ConversationID, frame.IsTyping)
	case frameRead:
		_, err = s.messages.MarkAsRead(ctx, frame.ConversationID, client.UserID)
	case frameDelivered:
		_, err = s.messages.MarkDelivered(ctx, client.UserID, frame.MessageIDs)
	default:
		err = models.NewValidationError("Unknown frame type")
	}
	if err != nil {
		s.replyError(ctx, client, frame.Type, err)
	}
}

func (s *Server) replyError(ctx context.Context, client *notifications.Client, frameType string, err error) {
	payload := notifications.ErrorPayload{Frame: frameType, Code: models.CodeInternal, Message: "Internal server error"}
	var appErr *models.AppError
	if models.IsDomainError(err) && errors.As(err, &appErr) {
		payload.Code = appErr.Code
		payload.Message = appErr.Message
	} else {
		middleware.Logger.ErrorContext(ctx, "websocket frame failed",
			slog.String("frame", frameType),
			slog.String("error", err.Error()),
		)
	}
	s.reply(client, notifications.Event{Name: notifications.EventError, Payload: payload})
}

func (s *Server) reply(client *notifications.Client, event notifications.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	client.TrySend(data)
}
