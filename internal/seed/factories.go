// Package seed provides helpers to create demo data for the chat database.
// These helpers are intended for development and testing only.
package seed

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"parley/internal/models"
	"parley/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
)

// DefaultPassword is the password every seeded user can log in with.
const DefaultPassword = "password123"

var reactionEmojis = []string{"👍", "❤️", "😂", "🎉", "👀", "🔥"}

// Factory builds chat entities and persists them through a repository.Store.
type Factory struct {
	store    repository.Store
	faker    *gofakeit.Faker
	rnd      *rand.Rand
	password string
	maxDays  int
}

// NewFactory creates a Factory. A zero seed picks one from the clock.
func NewFactory(store repository.Store, opts Options) (*Factory, error) {
	seed := opts.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	//nolint:gosec // Weak random number generator is fine for seeding
	rnd := rand.New(rand.NewSource(seed))
	f := &Factory{
		store:   store,
		faker:   gofakeit.New(seed),
		rnd:     rnd,
		maxDays: opts.MaxDays,
	}
	if f.maxDays <= 0 {
		f.maxDays = 30
	}

	if opts.SkipBcrypt {
		f.password = DefaultPassword
	} else {
		hashed, err := bcrypt.GenerateFromPassword([]byte(DefaultPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash seed password: %w", err)
		}
		f.password = string(hashed)
	}
	return f, nil
}

// CreateUser persists a fake user. A non-empty username is used as given.
func (f *Factory) CreateUser(ctx context.Context, username string) (*models.User, error) {
	first, last := f.faker.FirstName(), f.faker.LastName()
	if username == "" {
		username = strings.ToLower(fmt.Sprintf("%s.%s%d", first, last, f.faker.Number(100, 999)))
	}
	user := &models.User{
		Username:    username,
		Email:       username + "@example.com",
		Password:    f.password,
		DisplayName: first + " " + last,
		AvatarURL:   fmt.Sprintf("https://i.pravatar.cc/150?u=%s", username),
	}
	if err := f.store.Users().Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// CreatePrivate persists the private conversation between a and b, or
// returns the existing one.
func (f *Factory) CreatePrivate(ctx context.Context, a, b uint) (*models.Conversation, error) {
	existing, err := f.store.Conversations().FindPrivateBetween(ctx, a, b)
	if err != nil || existing != nil {
		return existing, err
	}
	now := time.Now()
	key := models.PrivatePairKey(a, b)
	conv := &models.Conversation{
		Type:      models.ConversationPrivate,
		PairKey:   &key,
		IsActive:  true,
		CreatedBy: a,
		Participants: []models.Participant{
			{UserID: a, Role: models.RoleMember, JoinedAt: now},
			{UserID: b, Role: models.RoleMember, JoinedAt: now},
		},
	}
	if err := f.store.Conversations().Create(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// CreateGroup persists a group owned by owner with members as Members.
func (f *Factory) CreateGroup(ctx context.Context, spec GroupSpec, owner uint, members []uint) (*models.Conversation, error) {
	now := time.Now()
	convType := models.ConversationGroup
	if spec.Channel {
		convType = models.ConversationChannel
	}
	description := spec.Description
	if description == "" {
		description = f.faker.Sentence(8)
	}
	conv := &models.Conversation{
		Type:                 convType,
		Name:                 spec.Name,
		Description:          description,
		AvatarURL:            fmt.Sprintf("https://i.pravatar.cc/150?u=%s", spec.Name),
		IsPublic:             spec.Public,
		OnlyAdminsCanMessage: spec.Channel,
		IsActive:             true,
		CreatedBy:            owner,
		Participants:         []models.Participant{{UserID: owner, Role: models.RoleOwner, JoinedAt: now}},
	}
	for _, id := range members {
		if id == owner {
			continue
		}
		conv.Participants = append(conv.Participants, models.Participant{UserID: id, Role: models.RoleMember, JoinedAt: now})
	}
	if err := f.store.Conversations().Create(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// CreateThread persists count text messages spread over the last maxDays,
// oldest first, and moves the conversation's last-message pointer.
func (f *Factory) CreateThread(ctx context.Context, conv *models.Conversation, senders []uint, count int, reactionRate float64) ([]*models.Message, error) {
	if count <= 0 || len(senders) == 0 {
		return nil, nil
	}
	span := time.Duration(f.maxDays) * 24 * time.Hour
	start := time.Now().Add(-span)
	step := span / time.Duration(count+1)

	messages := make([]*models.Message, 0, count)
	for i := 0; i < count; i++ {
		content := f.faker.Sentence(f.rnd.Intn(12) + 3)
		msg := &models.Message{
			ConversationID: conv.ID,
			SenderID:       senders[f.rnd.Intn(len(senders))],
			Content:        &content,
			Type:           models.MessageText,
			Status:         models.StatusSent,
			CreatedAt:      start.Add(step * time.Duration(i+1)),
		}
		if len(messages) > 0 && f.rnd.Float64() < 0.15 {
			parent := messages[f.rnd.Intn(len(messages))].ID
			msg.ReplyToID = &parent
		}
		if err := f.store.Messages().Create(ctx, msg); err != nil {
			return nil, err
		}
		messages = append(messages, msg)

		if f.rnd.Float64() < reactionRate {
			reactor := senders[f.rnd.Intn(len(senders))]
			if reactor != msg.SenderID {
				err := f.store.Messages().UpsertReaction(ctx, &models.Reaction{
					MessageID: msg.ID,
					UserID:    reactor,
					Emoji:     reactionEmojis[f.rnd.Intn(len(reactionEmojis))],
				})
				if err != nil {
					return nil, err
				}
			}
		}
	}

	last := messages[len(messages)-1].ID
	if err := f.store.Conversations().Update(ctx, conv.ID, map[string]interface{}{"last_message_id": last}); err != nil {
		return nil, err
	}
	return messages, nil
}

// pick returns up to n distinct ids from pool in random order.
func (f *Factory) pick(pool []uint, n int) []uint {
	shuffled := append([]uint(nil), pool...)
	f.rnd.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	if n > len(shuffled) {
		n = len(shuffled)
	}
	return shuffled[:n]
}
