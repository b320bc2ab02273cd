// Package testutil provides shared test doubles and fixtures for backend tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"parley/internal/config"
	"parley/internal/database"
	"parley/internal/models"
	"parley/internal/notifications"
	"parley/internal/storage"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

// NewTestDB opens a private in-memory SQLite database with the full schema.
// A single connection keeps every query on the same in-memory database.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:parley_test_%d?mode=memory&cache=private", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), database.GormConfig())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// CreateUser inserts a user whose names derive from name.
func CreateUser(t *testing.T, db *gorm.DB, name string) *models.User {
	t.Helper()
	u := &models.User{
		Username:    name,
		Email:       name + "@example.test",
		DisplayName: name,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

// NewMemFileStore returns a LocalStore on an in-memory filesystem accepting
// images, PDFs and MP4s up to 1 MB.
func NewMemFileStore() *storage.LocalStore {
	return storage.NewLocalStore(afero.NewMemMapFs(), &config.Config{
		UploadDir:         "/uploads",
		UploadBaseURL:     "/media",
		MaxUploadMB:       1,
		AllowedExtensions: ".png,.jpg,.gif,.pdf,.mp4",
	})
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock starting at start.
func NewClock(start time.Time) *Clock { return &Clock{now: start} }

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Broadcast is one event captured by Recorder.
type Broadcast struct {
	Scope   string
	Target  uint
	Event   notifications.Event
	Exclude []uint
}

// Membership is one group join or leave captured by Recorder.
type Membership struct {
	UserID         uint
	ConversationID uint
}

// Recorder captures broadcasts and group membership changes in order.
type Recorder struct {
	mu     sync.Mutex
	events []Broadcast
	joins  []Membership
	leaves []Membership
}

// ToConversation records a conversation broadcast.
func (r *Recorder) ToConversation(_ context.Context, conversationID uint, event notifications.Event, exclude ...uint) {
	r.record(Broadcast{Scope: "conversation", Target: conversationID, Event: event, Exclude: exclude})
}

// ToUser records a user broadcast.
func (r *Recorder) ToUser(_ context.Context, userID uint, event notifications.Event) {
	r.record(Broadcast{Scope: "user", Target: userID, Event: event})
}

// ToEveryone records a global broadcast.
func (r *Recorder) ToEveryone(_ context.Context, event notifications.Event, exclude ...uint) {
	r.record(Broadcast{Scope: "everyone", Event: event, Exclude: exclude})
}

// JoinConversationGroup records a group join.
func (r *Recorder) JoinConversationGroup(_ context.Context, userID, conversationID uint) {
	r.mu.Lock()
	r.joins = append(r.joins, Membership{userID, conversationID})
	r.mu.Unlock()
}

// LeaveConversationGroup records a group leave.
func (r *Recorder) LeaveConversationGroup(_ context.Context, userID, conversationID uint) {
	r.mu.Lock()
	r.leaves = append(r.leaves, Membership{userID, conversationID})
	r.mu.Unlock()
}

func (r *Recorder) record(b Broadcast) {
	r.mu.Lock()
	r.events = append(r.events, b)
	r.mu.Unlock()
}

// Events returns every recorded broadcast.
func (r *Recorder) Events() []Broadcast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Broadcast(nil), r.events...)
}

// Named returns the recorded broadcasts of one event type.
func (r *Recorder) Named(name notifications.EventName) []Broadcast {
	var out []Broadcast
	for _, b := range r.Events() {
		if b.Event.Name == name {
			out = append(out, b)
		}
	}
	return out
}

// Joins returns recorded group joins.
func (r *Recorder) Joins() []Membership {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Membership(nil), r.joins...)
}

// Leaves returns recorded group leaves.
func (r *Recorder) Leaves() []Membership {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Membership(nil), r.leaves...)
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events, r.joins, r.leaves = nil, nil, nil
	r.mu.Unlock()
}
