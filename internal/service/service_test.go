package service

import (
	"context"
	"testing"
	"time"

	"parley/internal/models"
	"parley/internal/repository"
	"parley/internal/storage"
	"parley/internal/tasks"
	"parley/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	db     *gorm.DB
	store  repository.Store
	events *testutil.Recorder
	files  *storage.LocalStore
	clock  *testutil.Clock
	tasks  *tasks.Queue

	convs    *ConversationService
	messages *MessageService
	notes    *NotificationService
	users    *UserService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	store := repository.NewStore(db)
	events := &testutil.Recorder{}
	files := testutil.NewMemFileStore()
	clock := testutil.NewClock(time.Now())
	queue := tasks.NewQueue(2, 5*time.Second)
	t.Cleanup(queue.Stop)

	convs := NewConversationService(store, files, events)
	convs.now = clock.Now
	notes := NewNotificationService(store, events)
	messages := NewMessageService(MessageServiceConfig{
		Store:         store,
		Conversations: convs,
		Files:         files,
		Events:        events,
		Tasks:         queue,
		Notifications: notes,
	})
	messages.now = clock.Now

	return &fixture{
		t:        t,
		ctx:      context.Background(),
		db:       db,
		store:    store,
		events:   events,
		files:    files,
		clock:    clock,
		tasks:    queue,
		convs:    convs,
		messages: messages,
		notes:    notes,
		users:    NewUserService(store.Users()),
	}
}

func (f *fixture) user(name string) uint {
	return testutil.CreateUser(f.t, f.db, name).ID
}

// group creates a group owned by owner with members, in order.
func (f *fixture) group(owner uint, members ...uint) *models.Conversation {
	f.t.Helper()
	conv, err := f.convs.CreateGroup(f.ctx, CreateGroupInput{
		CreatorID:      owner,
		Name:           "team",
		ParticipantIDs: members,
	})
	require.NoError(f.t, err)
	return conv
}

func (f *fixture) participant(convID, userID uint) *models.Participant {
	f.t.Helper()
	p, err := f.store.Conversations().GetParticipant(f.ctx, convID, userID)
	require.NoError(f.t, err)
	return p
}

func (f *fixture) send(convID, sender uint, content string) *models.Message {
	f.t.Helper()
	msg, err := f.messages.SendMessage(f.ctx, SendMessageInput{
		SenderID:       sender,
		ConversationID: convID,
		Content:        content,
	})
	require.NoError(f.t, err)
	return msg
}

// drainTasks waits for every queued background task.
func (f *fixture) drainTasks() {
	f.tasks.Stop()
}

func TestValidateInput(t *testing.T) {
	err := validateInput(CreateGroupInput{Name: "  ", ParticipantIDs: []uint{2}})
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
	assert.Contains(t, err.Error(), "name is required")

	err = validateInput(CreateGroupInput{Name: "ok"})
	assert.True(t, models.IsValidation(err))
	assert.Contains(t, err.Error(), "participant_ids")

	tiny := 1
	err = validateInput(CreateGroupInput{Name: "ok", ParticipantIDs: []uint{2}, MaxParticipants: &tiny})
	assert.True(t, models.IsValidation(err))
	assert.Contains(t, err.Error(), "max_participants must be at least 2")

	assert.NoError(t, validateInput(CreateGroupInput{Name: "ok", ParticipantIDs: []uint{2}}))
}

func TestDedupeIDs(t *testing.T) {
	assert.Equal(t, []uint{3, 2, 5}, dedupeIDs([]uint{3, 0, 2, 3, 1, 5, 2}, 1))
	assert.Empty(t, dedupeIDs([]uint{1, 1}, 1))
}

func TestRequireRole(t *testing.T) {
	f := newFixture(t)
	owner, admin, member, outsider := f.user("owner"), f.user("admin"), f.user("member"), f.user("outsider")
	conv := f.group(owner, admin, member)
	require.NoError(t, f.convs.UpdateParticipantRole(f.ctx, conv.ID, owner, admin, models.RoleAdmin))

	repo := f.store.Conversations()
	_, err := requireRole(f.ctx, repo, conv.ID, admin, models.RoleAdmin)
	assert.NoError(t, err)
	_, err = requireRole(f.ctx, repo, conv.ID, owner, models.RoleAdmin)
	assert.NoError(t, err)

	_, err = requireRole(f.ctx, repo, conv.ID, member, models.RoleAdmin)
	assert.True(t, models.IsForbidden(err))
	_, err = requireRole(f.ctx, repo, conv.ID, admin, models.RoleOwner)
	assert.True(t, models.IsForbidden(err))
	_, err = requireRole(f.ctx, repo, conv.ID, outsider, models.RoleMember)
	assert.True(t, models.IsForbidden(err))
}
