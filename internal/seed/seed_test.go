package seed

import (
	"context"
	"testing"

	"parley/internal/models"
	"parley/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const smallScenario = `
users: 6
named_users: [alice, bob]
private_chats: 3
messages_per_private: 4
reaction_rate: 0.5
groups:
  - name: General
    members: 5
    messages: 10
  - name: News
    members: 4
    messages: 3
    channel: true
`

func TestParseScenario(t *testing.T) {
	s, err := ParseScenario([]byte(smallScenario))
	require.NoError(t, err)
	assert.Equal(t, 6, s.Users)
	assert.Equal(t, []string{"alice", "bob"}, s.NamedUsers)
	require.Len(t, s.Groups, 2)
	assert.True(t, s.Groups[1].Channel)

	s, err = ParseScenario([]byte("named_users: [a, b, c]\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, s.Users, "named users raise the user count")

	_, err = ParseScenario([]byte("users: 1\n"))
	assert.Error(t, err)

	_, err = ParseScenario([]byte("users: 3\ngroups:\n  - members: 2\n"))
	assert.Error(t, err)

	_, err = ParseScenario([]byte("users: [oops"))
	assert.Error(t, err)
}

func TestSeederRun(t *testing.T) {
	db := testutil.NewTestDB(t)
	scenario, err := ParseScenario([]byte(smallScenario))
	require.NoError(t, err)

	res, err := NewSeeder(db, Options{SkipBcrypt: true, RandomSeed: 42, MaxDays: 7}).Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Users)
	assert.Equal(t, 5, res.Conversations)
	assert.Equal(t, 3*4+10+3, res.Messages)

	var alice models.User
	require.NoError(t, db.Where("username = ?", "alice").First(&alice).Error)
	assert.Equal(t, DefaultPassword, alice.Password)

	var privates []models.Conversation
	require.NoError(t, db.Where("type = ?", models.ConversationPrivate).Find(&privates).Error)
	require.Len(t, privates, 3)
	for _, c := range privates {
		require.NotNil(t, c.PairKey)
		require.NotNil(t, c.LastMessageID)
	}

	var news models.Conversation
	require.NoError(t, db.Where("name = ?", "News").First(&news).Error)
	assert.Equal(t, models.ConversationChannel, news.Type)
	assert.True(t, news.OnlyAdminsCanMessage)

	var owner models.Participant
	require.NoError(t, db.Where("conversation_id = ? AND role = ?", news.ID, models.RoleOwner).First(&owner).Error)
	var strangers int64
	require.NoError(t, db.Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ?", news.ID, owner.UserID).
		Count(&strangers).Error)
	assert.Zero(t, strangers, "only the channel owner posts in a channel")

	var members int64
	require.NoError(t, db.Model(&models.Participant{}).Where("conversation_id = ?", news.ID).Count(&members).Error)
	assert.EqualValues(t, 4, members)
}

func TestSeederClearAll(t *testing.T) {
	db := testutil.NewTestDB(t)
	scenario := &Scenario{Users: 3, PrivateChats: 1, MessagesPerPrivate: 2}
	s := NewSeeder(db, Options{SkipBcrypt: true, RandomSeed: 7})
	_, err := s.Run(context.Background(), scenario)
	require.NoError(t, err)

	s.opts.ShouldClean = true
	_, err = s.Run(context.Background(), scenario)
	require.NoError(t, err)

	var users, messages int64
	require.NoError(t, db.Model(&models.User{}).Count(&users).Error)
	require.NoError(t, db.Model(&models.Message{}).Count(&messages).Error)
	assert.EqualValues(t, 3, users)
	assert.EqualValues(t, 2, messages)
}
