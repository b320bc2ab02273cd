// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"log/slog"
	"time"

	"parley/internal/config"
	"parley/internal/middleware"
	"parley/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"gorm.io/gorm"
)

// Deps are the already-initialized collaborators a Server routes to.
type Deps struct {
	DB            *gorm.DB
	Redis         *redis.Client
	Conversations *service.ConversationService
	Messages      *service.MessageService
	Presence      *service.PresenceService
	Users         *service.UserService
	Notifications *service.NotificationService

	// Uploads serves stored files under UploadBaseURL when set.
	Uploads afero.Fs
}

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	uploads        afero.Fs

	conversations *service.ConversationService
	messages      *service.MessageService
	presence      *service.PresenceService
	users         *service.UserService
	notifications *service.NotificationService
}

// NewServer creates a Server using already-initialized dependencies.
func NewServer(cfg *config.Config, deps Deps) *Server {
	middleware.InitMiddleware(cfg)
	return &Server{
		config:         cfg,
		db:             deps.DB,
		redis:          deps.Redis,
		promMiddleware: middleware.NewMetrics("parley-api"),
		uploads:        deps.Uploads,
		conversations:  deps.Conversations,
		messages:       deps.Messages,
		presence:       deps.Presence,
		users:          deps.Users,
		notifications:  deps.Notifications,
	}
}

// App builds the Fiber application with middleware and routes installed.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}
	app := fiber.New(fiber.Config{
		AppName:   "Parley API",
		BodyLimit: int(s.config.MaxUploadMB+1) * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
			}
			return RespondWithError(c, err)
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.Tracing())
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
		app.Use(s.promMiddleware.Middleware)
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400,
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.uploads != nil {
		app.Use(s.config.UploadBaseURL, filesystem.New(filesystem.Config{
			Root: afero.NewHttpFs(s.uploads).Dir(s.config.UploadDir),
		}))
	}

	app.Get("/ws/chat", middleware.WebSocketAuthRequired, s.WebSocketUpgrade, s.WebSocketChatHandler())

	api := app.Group("/api", middleware.AuthRequired)

	conversations := api.Group("/conversations")
	conversations.Get("/", s.GetConversations)
	conversations.Post("/private", s.CreatePrivateConversation)
	conversations.Post("/group", s.CreateGroupConversation)
	// Specific /:id/:resource routes before the generic /:id routes
	conversations.Get("/:id/messages/search", s.SearchMessages)
	conversations.Get("/:id/messages", s.GetMessages)
	conversations.Post("/:id/messages", middleware.RateLimit(s.redis, 30, time.Minute, "send_message"), s.SendMessage)
	conversations.Post("/:id/read", s.MarkAsRead)
	conversations.Get("/:id/unread", s.UnreadCount)
	conversations.Post("/:id/participants", s.AddParticipant)
	conversations.Delete("/:id/participants/:userId", s.RemoveParticipant)
	conversations.Put("/:id/participants/:userId/role", s.UpdateParticipantRole)
	conversations.Post("/:id/leave", s.LeaveConversation)
	conversations.Post("/:id/mute", s.MuteConversation)
	conversations.Post("/:id/unmute", s.UnmuteConversation)
	conversations.Post("/:id/archive", s.ArchiveConversation)
	conversations.Post("/:id/pin", s.PinConversation)
	conversations.Post("/:id/invite-link", s.GenerateInviteLink)
	conversations.Post("/:id/avatar", s.UploadGroupAvatar)
	conversations.Get("/:id", s.GetConversation)
	conversations.Patch("/:id", s.UpdateConversation)
	conversations.Delete("/:id", s.DeleteConversation)

	api.Post("/invite/:token", s.JoinByInviteLink)

	messages := api.Group("/messages")
	messages.Post("/delivered", s.MarkDelivered)
	messages.Post("/:id/forward", s.ForwardMessage)
	messages.Put("/:id/reaction", s.ReactToMessage)
	messages.Delete("/:id/reaction", s.RemoveReaction)
	messages.Patch("/:id", s.EditMessage)
	messages.Delete("/:id", s.DeleteMessage)

	users := api.Group("/users")
	users.Get("/", s.GetUsers)
	users.Get("/online", s.GetOnlineUsers)
	users.Get("/blocked", s.GetBlockedUsers)
	users.Post("/:id/block", s.BlockUser)
	users.Delete("/:id/block", s.UnblockUser)
	users.Get("/:id", s.GetUser)

	notifications := api.Group("/notifications")
	notifications.Get("/", s.GetNotifications)
	notifications.Get("/unread-count", s.GetUnreadNotificationCount)
	notifications.Post("/read", s.MarkNotificationsRead)
	notifications.Post("/read-all", s.MarkAllNotificationsRead)
	notifications.Delete("/:id", s.DeleteNotification)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests. Redis is optional: without
// it presence and fan-out stay on this instance.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if s.db == nil {
		dbStatus = "unhealthy"
	} else if sqlDB, err := s.db.DB(); err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "disabled"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overall := "healthy"
	if dbStatus != "healthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overall = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// Start listens on the configured port until Shutdown.
func (s *Server) Start() error {
	app := s.App()
	middleware.Logger.Info("Server starting", slog.String("port", s.config.Port))
	return app.Listen(":" + s.config.Port)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.app == nil {
		return nil
	}
	return s.app.ShutdownWithContext(ctx)
}
