// Package bootstrap connects the runtime dependencies shared by the commands.
package bootstrap

import (
	"context"
	"fmt"
	"log"

	"parley/internal/cache"
	"parley/internal/config"
	"parley/internal/database"
	"parley/internal/models"
	"parley/internal/seed"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SeedDemo loads the built-in demo scenario into an empty development
	// database.
	SeedDemo bool
}

// InitRuntime connects to the database and Redis. The Redis client is nil
// when Redis is not configured or unreachable; callers run single-instance.
func InitRuntime(cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		cache.InitRedis(cfg.RedisURL)
		rdb = cache.GetClient()
	}

	if opts.SeedDemo {
		if err := seedDemo(cfg, db); err != nil {
			return nil, nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	return db, rdb, nil
}

func seedDemo(cfg *config.Config, db *gorm.DB) error {
	if cfg.IsProduction() {
		return nil
	}
	var users int64
	if err := db.Model(&models.User{}).Count(&users).Error; err != nil {
		return err
	}
	if users > 0 {
		return nil
	}
	log.Println("empty development database, loading demo scenario")
	_, err := seed.NewSeeder(db, seed.Options{}).Run(context.Background(), seed.DefaultScenario())
	return err
}
