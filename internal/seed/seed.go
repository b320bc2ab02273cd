package seed

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"parley/internal/repository"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// Options configure the seeder.
type Options struct {
	ShouldClean bool
	SkipBcrypt  bool
	MaxDays     int
	RandomSeed  int64
}

// GroupSpec describes one seeded group or channel.
type GroupSpec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Members     int    `yaml:"members"`
	Messages    int    `yaml:"messages"`
	Channel     bool   `yaml:"channel"`
	Public      bool   `yaml:"public"`
}

// Scenario is a seed plan, usually loaded from a YAML file.
type Scenario struct {
	Users              int         `yaml:"users"`
	NamedUsers         []string    `yaml:"named_users"`
	PrivateChats       int         `yaml:"private_chats"`
	MessagesPerPrivate int         `yaml:"messages_per_private"`
	ReactionRate       float64     `yaml:"reaction_rate"`
	Groups             []GroupSpec `yaml:"groups"`
}

// DefaultScenario is used when no scenario file is given.
func DefaultScenario() *Scenario {
	return &Scenario{
		Users:              25,
		NamedUsers:         []string{"alice", "bob", "carol"},
		PrivateChats:       20,
		MessagesPerPrivate: 15,
		ReactionRate:       0.2,
		Groups: []GroupSpec{
			{Name: "General", Members: 20, Messages: 60, Public: true},
			{Name: "Random", Members: 12, Messages: 40},
			{Name: "Announcements", Members: 25, Messages: 8, Channel: true, Public: true},
		},
	}
}

// LoadScenario reads a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(raw)
}

// ParseScenario decodes a YAML scenario and checks it is usable.
func ParseScenario(raw []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if s.Users < len(s.NamedUsers) {
		s.Users = len(s.NamedUsers)
	}
	if s.Users < 2 {
		return nil, fmt.Errorf("scenario needs at least 2 users, got %d", s.Users)
	}
	for i, g := range s.Groups {
		if g.Name == "" {
			return nil, fmt.Errorf("group %d has no name", i)
		}
	}
	return &s, nil
}

// Result counts what a seeding run created.
type Result struct {
	Users         int
	Conversations int
	Messages      int
}

// Seeder populates the database from a Scenario.
type Seeder struct {
	db   *gorm.DB
	opts Options
}

// NewSeeder creates a Seeder bound to db.
func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	return &Seeder{db: db, opts: opts}
}

// Run applies scenario inside one transaction.
func (s *Seeder) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	log.Printf("🌱 Seeding %d users, %d private chats and %d groups...", scenario.Users, scenario.PrivateChats, len(scenario.Groups))

	if s.opts.ShouldClean {
		if err := s.ClearAll(ctx); err != nil {
			return nil, fmt.Errorf("clear data: %w", err)
		}
	}

	res := &Result{}
	err := repository.NewStore(s.db).Transaction(ctx, func(tx repository.Store) error {
		f, err := NewFactory(tx, s.opts)
		if err != nil {
			return err
		}

		userIDs := make([]uint, 0, scenario.Users)
		for i := 0; i < scenario.Users; i++ {
			name := ""
			if i < len(scenario.NamedUsers) {
				name = scenario.NamedUsers[i]
			}
			u, err := f.CreateUser(ctx, name)
			if err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			userIDs = append(userIDs, u.ID)
		}
		res.Users = len(userIDs)
		log.Printf("✓ %d users created", res.Users)

		seen := make(map[[2]uint]struct{})
		for attempts := 0; len(seen) < scenario.PrivateChats && attempts < scenario.PrivateChats*4; attempts++ {
			pair := f.pick(userIDs, 2)
			a, b := pair[0], pair[1]
			if a > b {
				a, b = b, a
			}
			if _, dup := seen[[2]uint{a, b}]; dup {
				continue
			}
			seen[[2]uint{a, b}] = struct{}{}

			conv, err := f.CreatePrivate(ctx, a, b)
			if err != nil {
				return fmt.Errorf("create private chat: %w", err)
			}
			msgs, err := f.CreateThread(ctx, conv, []uint{a, b}, scenario.MessagesPerPrivate, scenario.ReactionRate)
			if err != nil {
				return fmt.Errorf("create private thread: %w", err)
			}
			res.Conversations++
			res.Messages += len(msgs)
		}
		log.Printf("✓ %d private chats created", len(seen))

		for _, g := range scenario.Groups {
			size := g.Members
			if size < 2 {
				size = 2
			}
			members := f.pick(userIDs, size)
			conv, err := f.CreateGroup(ctx, g, members[0], members[1:])
			if err != nil {
				return fmt.Errorf("create group %q: %w", g.Name, err)
			}
			senders := members
			if g.Channel {
				senders = members[:1]
			}
			msgs, err := f.CreateThread(ctx, conv, senders, g.Messages, scenario.ReactionRate)
			if err != nil {
				return fmt.Errorf("create group thread %q: %w", g.Name, err)
			}
			res.Conversations++
			res.Messages += len(msgs)
		}
		log.Printf("✓ %d groups created", len(scenario.Groups))
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("🎉 Seeding completed: %d conversations, %d messages", res.Conversations, res.Messages)
	return res, nil
}

// ClearAll removes every chat row.
func (s *Seeder) ClearAll(ctx context.Context) error {
	log.Println("🗑️  Clearing existing data...")
	tables := []string{
		"notifications", "message_visibility_exceptions", "message_read_trackers", "message_reactions",
		"message_attachments", "messages", "conversation_participants", "conversations", "user_blocks", "users",
	}
	db := s.db.WithContext(ctx)
	if db.Dialector.Name() == "postgres" {
		return db.Exec("TRUNCATE TABLE " + strings.Join(tables, ", ") + " RESTART IDENTITY CASCADE").Error
	}
	for _, t := range tables {
		if err := db.Exec("DELETE FROM " + t).Error; err != nil {
			return err
		}
	}
	return nil
}
