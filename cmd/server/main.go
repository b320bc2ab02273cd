// Command server runs the Parley chat API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parley/internal/bootstrap"
	"parley/internal/config"
	"parley/internal/database"
	"parley/internal/middleware"
	"parley/internal/notifications"
	"parley/internal/observability"
	"parley/internal/repository"
	"parley/internal/server"
	"parley/internal/service"
	"parley/internal/storage"
	"parley/internal/tasks"

	"github.com/spf13/afero"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		middleware.Logger.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "parley-api",
		ServiceVersion: version,
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingSamplerRatio,
	})
	if err != nil {
		return err
	}

	db, rdb, err := bootstrap.InitRuntime(cfg, bootstrap.Options{SeedDemo: cfg.SeedDemo})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := repository.NewStore(db)
	manager := notifications.NewConnectionManager(rdb, notifications.ConnectionManagerConfig{
		OfflineGracePeriod: cfg.PresenceOfflineGrace,
		LastSeenTTL:        cfg.PresenceLastSeenTTL,
	})
	registry := notifications.NewRegistry(manager)
	bus := notifications.NewEventBus(registry, notifications.NewNotifier(rdb))
	if err := bus.Start(ctx); err != nil {
		middleware.Logger.Warn("cross-instance events disabled", slog.String("error", err.Error()))
	}

	queue := tasks.NewQueue(cfg.TaskWorkers, 30*time.Second)
	uploads := afero.NewOsFs()
	files := storage.NewLocalStore(uploads, cfg)

	convs := service.NewConversationService(store, files, bus)
	notes := service.NewNotificationService(store, bus)
	messages := service.NewMessageService(service.MessageServiceConfig{
		Store:         store,
		Conversations: convs,
		Files:         files,
		Events:        bus,
		Tasks:         queue,
		Notifications: notes,
		EditWindow:    cfg.MessageEditWindow,
	})
	presence := service.NewPresenceService(store, registry, bus, queue)
	presence.SetTypingLimiter(middleware.TypingLimiter(rdb))

	srv := server.NewServer(cfg, server.Deps{
		DB:            db,
		Redis:         rdb,
		Conversations: convs,
		Messages:      messages,
		Presence:      presence,
		Users:         service.NewUserService(store.Users()),
		Notifications: notes,
		Uploads:       uploads,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	middleware.Logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		middleware.Logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	registry.Shutdown(shutdownCtx)
	manager.Stop()
	queue.Stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		middleware.Logger.Warn("tracing shutdown error", slog.String("error", err.Error()))
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	return database.Close()
}
