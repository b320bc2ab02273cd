// Command seed populates the database with demo chat data.
package main

import (
	"context"
	"flag"
	"log"

	"parley/internal/config"
	"parley/internal/database"
	"parley/internal/seed"
)

func main() {
	scenarioPath := flag.String("scenario", "", "YAML scenario file (defaults to the built-in scenario)")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	fast := flag.Bool("fast", false, "Store plain passwords instead of bcrypt hashes")
	randomSeed := flag.Int64("seed", 0, "Random seed for reproducible data (0 picks one)")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Println("==================")

	scenario := seed.DefaultScenario()
	if *scenarioPath != "" {
		var err error
		if scenario, err = seed.LoadScenario(*scenarioPath); err != nil {
			log.Fatalf("❌ %v", err)
		}
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() { _ = database.Close() }()

	s := seed.NewSeeder(db, seed.Options{
		ShouldClean: *shouldClean,
		SkipBcrypt:  *fast,
		RandomSeed:  *randomSeed,
	})
	if _, err := s.Run(context.Background(), scenario); err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Println("✨ All done! Your database is now populated with test data.")
	log.Printf("📧 All test users have the password: %s", seed.DefaultPassword)
}
