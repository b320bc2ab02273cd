// Command migrate applies the chat schema to the configured database.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"parley/internal/config"
	"parley/internal/database"

	"gorm.io/gorm"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func usage() error {
	return fmt.Errorf("usage: go run ./cmd/migrate <up|status>")
}

func run() error {
	flag.Parse()
	if flag.NArg() < 1 {
		return usage()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Connect migrates on its own outside production.
	db, err := database.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() { _ = database.Close() }()

	switch strings.ToLower(strings.TrimSpace(flag.Arg(0))) {
	case "up":
		if err := database.Migrate(db); err != nil {
			return err
		}
		log.Println("schema applied")
	case "status":
		for _, line := range status(db) {
			log.Println(line)
		}
	default:
		return usage()
	}
	return nil
}

func status(db *gorm.DB) []string {
	migrator := db.Migrator()
	var out []string
	for _, m := range database.PersistentModels() {
		stmt := &gorm.Statement{DB: db}
		name := fmt.Sprintf("%T", m)
		if err := stmt.Parse(m); err == nil {
			name = stmt.Schema.Table
		}
		state := "missing"
		if migrator.HasTable(m) {
			state = "present"
		}
		out = append(out, fmt.Sprintf("%-32s %s", name, state))
	}
	return out
}
