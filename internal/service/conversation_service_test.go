package service

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"parley/internal/models"
	"parley/internal/notifications"
	"parley/internal/storage"
	"parley/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func owners(t *testing.T, f *fixture, convID uint) []uint {
	t.Helper()
	active, err := f.store.Conversations().ListParticipants(f.ctx, convID, true)
	require.NoError(t, err)
	var ids []uint
	for _, p := range active {
		if p.Role == models.RoleOwner {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

func isDeleted(t *testing.T, f *fixture, convID uint) (deleted, active bool) {
	t.Helper()
	var conv models.Conversation
	require.NoError(t, f.db.First(&conv, convID).Error)
	return conv.IsDeleted, conv.IsActive
}

func TestCreatePrivate(t *testing.T) {
	t.Run("idempotent in either order", func(t *testing.T) {
		f := newFixture(t)
		alice, bob := f.user("alice"), f.user("bob")

		first, err := f.convs.CreatePrivate(f.ctx, alice, bob)
		require.NoError(t, err)
		assert.Equal(t, models.ConversationPrivate, first.Type)
		assert.Len(t, first.Participants, 2)

		for i := 0; i < 3; i++ {
			again, err := f.convs.CreatePrivate(f.ctx, bob, alice)
			require.NoError(t, err)
			assert.Equal(t, first.ID, again.ID)
			again, err = f.convs.CreatePrivate(f.ctx, alice, bob)
			require.NoError(t, err)
			assert.Equal(t, first.ID, again.ID)
		}

		var count int64
		require.NoError(t, f.db.Model(&models.Conversation{}).Where("type = ?", models.ConversationPrivate).Count(&count).Error)
		assert.Equal(t, int64(1), count)

		assert.ElementsMatch(t, []uint{alice, bob}, []uint{f.events.Joins()[0].UserID, f.events.Joins()[1].UserID})
		assert.Len(t, f.events.Joins(), 2, "only the creating call joins groups")
	})

	t.Run("both members hold the member role", func(t *testing.T) {
		f := newFixture(t)
		alice, bob := f.user("alice"), f.user("bob")
		conv, err := f.convs.CreatePrivate(f.ctx, alice, bob)
		require.NoError(t, err)
		assert.Equal(t, models.RoleMember, f.participant(conv.ID, alice).Role)
		assert.Equal(t, models.RoleMember, f.participant(conv.ID, bob).Role)
	})

	t.Run("rejects self", func(t *testing.T) {
		f := newFixture(t)
		alice := f.user("alice")
		_, err := f.convs.CreatePrivate(f.ctx, alice, alice)
		assert.True(t, models.IsValidation(err))
	})

	t.Run("unknown target", func(t *testing.T) {
		f := newFixture(t)
		alice := f.user("alice")
		_, err := f.convs.CreatePrivate(f.ctx, alice, 999)
		assert.True(t, models.IsNotFound(err))
	})

	t.Run("blocked in either direction", func(t *testing.T) {
		f := newFixture(t)
		alice, bob := f.user("alice"), f.user("bob")
		_, err := f.users.BlockUser(f.ctx, bob, alice, "")
		require.NoError(t, err)

		_, err = f.convs.CreatePrivate(f.ctx, alice, bob)
		assert.True(t, models.IsForbidden(err))
		_, err = f.convs.CreatePrivate(f.ctx, bob, alice)
		assert.True(t, models.IsForbidden(err))
	})

	t.Run("a deleted chat frees the pair", func(t *testing.T) {
		f := newFixture(t)
		alice, bob := f.user("alice"), f.user("bob")
		first, err := f.convs.CreatePrivate(f.ctx, alice, bob)
		require.NoError(t, err)
		require.NoError(t, f.convs.DeleteConversation(f.ctx, first.ID, bob))

		second, err := f.convs.CreatePrivate(f.ctx, alice, bob)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
	})
}

func TestCreateGroup(t *testing.T) {
	t.Run("creator owns and duplicates collapse", func(t *testing.T) {
		f := newFixture(t)
		owner, a, b := f.user("owner"), f.user("a"), f.user("b")

		conv, err := f.convs.CreateGroup(f.ctx, CreateGroupInput{
			CreatorID:      owner,
			Name:           " Team ",
			ParticipantIDs: []uint{a, b, a, owner, 404},
		})
		require.NoError(t, err)
		assert.Equal(t, "Team", conv.Name)
		assert.Equal(t, models.ConversationGroup, conv.Type)
		require.Len(t, conv.Participants, 3)
		assert.Equal(t, []uint{owner}, owners(t, f, conv.ID))
		assert.Equal(t, models.RoleMember, f.participant(conv.ID, a).Role)
		assert.Len(t, f.events.Joins(), 3)
	})

	t.Run("only unknown ids", func(t *testing.T) {
		f := newFixture(t)
		owner := f.user("owner")
		conv, err := f.convs.CreateGroup(f.ctx, CreateGroupInput{CreatorID: owner, Name: "solo", ParticipantIDs: []uint{404}})
		require.NoError(t, err)
		assert.Len(t, conv.Participants, 1)
	})

	t.Run("needs another participant", func(t *testing.T) {
		f := newFixture(t)
		owner := f.user("owner")
		_, err := f.convs.CreateGroup(f.ctx, CreateGroupInput{CreatorID: owner, Name: "x", ParticipantIDs: []uint{owner}})
		assert.True(t, models.IsValidation(err))
	})

	t.Run("respects max participants", func(t *testing.T) {
		f := newFixture(t)
		owner, a, b := f.user("owner"), f.user("a"), f.user("b")
		max := 2
		_, err := f.convs.CreateGroup(f.ctx, CreateGroupInput{CreatorID: owner, Name: "x", ParticipantIDs: []uint{a, b}, MaxParticipants: &max})
		assert.True(t, models.IsValidation(err))
	})

	t.Run("channel", func(t *testing.T) {
		f := newFixture(t)
		owner, a := f.user("owner"), f.user("a")
		conv, err := f.convs.CreateGroup(f.ctx, CreateGroupInput{CreatorID: owner, Name: "news", ParticipantIDs: []uint{a}, Channel: true})
		require.NoError(t, err)
		assert.Equal(t, models.ConversationChannel, conv.Type)
	})
}

func TestAddParticipant(t *testing.T) {
	f := newFixture(t)
	owner, a, b, c := f.user("owner"), f.user("a"), f.user("b"), f.user("c")
	conv := f.group(owner, a)

	err := f.convs.AddParticipant(f.ctx, conv.ID, a, b)
	assert.True(t, models.IsForbidden(err), "members cannot add")

	require.NoError(t, f.convs.AddParticipant(f.ctx, conv.ID, owner, b))
	assert.True(t, f.participant(conv.ID, b).Active())
	joined := f.events.Named(notifications.EventParticipantJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, conv.ID, joined[0].Target)

	err = f.convs.AddParticipant(f.ctx, conv.ID, owner, b)
	assert.True(t, models.IsConflict(err))

	err = f.convs.AddParticipant(f.ctx, conv.ID, owner, 404)
	assert.True(t, models.IsNotFound(err))

	t.Run("rejoin reactivates the old row", func(t *testing.T) {
		require.NoError(t, f.convs.UpdateParticipantRole(f.ctx, conv.ID, owner, b, models.RoleAdmin))
		before := f.participant(conv.ID, b)
		require.NoError(t, f.convs.RemoveParticipant(f.ctx, conv.ID, owner, b))
		require.NoError(t, f.convs.AddParticipant(f.ctx, conv.ID, owner, b))

		after := f.participant(conv.ID, b)
		assert.Equal(t, before.ID, after.ID)
		assert.True(t, after.Active())
		assert.Equal(t, models.RoleMember, after.Role)
		assert.Nil(t, after.LeftAt)
	})

	t.Run("admins may add", func(t *testing.T) {
		require.NoError(t, f.convs.UpdateParticipantRole(f.ctx, conv.ID, owner, a, models.RoleAdmin))
		assert.NoError(t, f.convs.AddParticipant(f.ctx, conv.ID, a, c))
	})

	t.Run("private conversations are fixed", func(t *testing.T) {
		private, err := f.convs.CreatePrivate(f.ctx, owner, a)
		require.NoError(t, err)
		err = f.convs.AddParticipant(f.ctx, private.ID, owner, c)
		assert.True(t, models.IsValidation(err))
	})
}

func TestRemoveParticipant(t *testing.T) {
	f := newFixture(t)
	owner, admin, m1, m2 := f.user("owner"), f.user("admin"), f.user("m1"), f.user("m2")
	conv := f.group(owner, admin, m1, m2)
	require.NoError(t, f.convs.UpdateParticipantRole(f.ctx, conv.ID, owner, admin, models.RoleAdmin))

	assert.True(t, models.IsForbidden(f.convs.RemoveParticipant(f.ctx, conv.ID, m1, m2)))
	assert.True(t, models.IsForbidden(f.convs.RemoveParticipant(f.ctx, conv.ID, admin, owner)))
	assert.True(t, models.IsValidation(f.convs.RemoveParticipant(f.ctx, conv.ID, owner, owner)))

	require.NoError(t, f.convs.RemoveParticipant(f.ctx, conv.ID, admin, m1))
	removed := f.participant(conv.ID, m1)
	assert.True(t, removed.HasLeft)
	assert.NotNil(t, removed.LeftAt)
	assert.Contains(t, f.events.Leaves(), testutil.Membership{UserID: m1, ConversationID: conv.ID})

	assert.True(t, models.IsNotFound(f.convs.RemoveParticipant(f.ctx, conv.ID, admin, m1)))
	assert.NoError(t, f.convs.RemoveParticipant(f.ctx, conv.ID, owner, admin))
}

func TestLeaveGroupSuccession(t *testing.T) {
	t.Run("longest-tenured admin first", func(t *testing.T) {
		f := newFixture(t)
		owner, m1, a1, a2 := f.user("owner"), f.user("m1"), f.user("a1"), f.user("a2")
		conv := f.group(owner, m1)
		f.clock.Advance(time.Minute)
		require.NoError(t, f.convs.AddParticipant(f.ctx, conv.ID, owner, a1))
		f.clock.Advance(time.Minute)
		require.NoError(t, f.convs.AddParticipant(f.ctx, conv.ID, owner, a2))
		require.NoError(t, f.convs.UpdateParticipantRole(f.ctx, conv.ID, owner, a2, models.RoleAdmin))
		require.NoError(t, f.convs.UpdateParticipantRole(f.ctx, conv.ID, owner, a1, models.RoleAdmin))

		require.NoError(t, f.convs.LeaveGroup(f.ctx, conv.ID, owner))
		assert.Equal(t, []uint{a1}, owners(t, f, conv.ID))
		assert.True(t, f.participant(conv.ID, owner).HasLeft)

		roles := f.events.Named(notifications.EventParticipantRole)
		last := roles[len(roles)-1].Event.Payload.(notifications.MembershipPayload)
		assert.Equal(t, a1, last.UserID)
		assert.Equal(t, "owner", last.Role)
	})

	t.Run("longest-tenured member without admins", func(t *testing.T) {
		f := newFixture(t)
		owner, first, second := f.user("owner"), f.user("first"), f.user("second")
		conv := f.group(owner, first)
		f.clock.Advance(time.Minute)
		require.NoError(t, f.convs.AddParticipant(f.ctx, conv.ID, owner, second))

		require.NoError(t, f.convs.LeaveGroup(f.ctx, conv.ID, owner))
		assert.Equal(t, []uint{first}, owners(t, f, conv.ID))
	})

	t.Run("non-owner leaving keeps the owner", func(t *testing.T) {
		f := newFixture(t)
		owner, m := f.user("owner"), f.user("m")
		conv := f.group(owner, m)
		require.NoError(t, f.convs.LeaveGroup(f.ctx, conv.ID, m))
		assert.Equal(t, []uint{owner}, owners(t, f, conv.ID))
	})

	t.Run("last one out deletes", func(t *testing.T) {
		f := newFixture(t)
		owner, m := f.user("owner"), f.user("m")
		conv := f.group(owner, m)
		require.NoError(t, f.convs.LeaveGroup(f.ctx, conv.ID, m))
		require.NoError(t, f.convs.LeaveGroup(f.ctx, conv.ID, owner))

		deleted, active := isDeleted(t, f, conv.ID)
		assert.True(t, deleted)
		assert.False(t, active)
		_, err := f.convs.GetConversation(f.ctx, conv.ID, owner)
		assert.True(t, models.IsNotFound(err))
		assert.Len(t, f.events.Named(notifications.EventConversationDeleted), 1)
	})

	t.Run("outsiders cannot leave", func(t *testing.T) {
		f := newFixture(t)
		owner, m, outsider := f.user("owner"), f.user("m"), f.user("outsider")
		conv := f.group(owner, m)
		assert.True(t, models.IsForbidden(f.convs.LeaveGroup(f.ctx, conv.ID, outsider)))
	})
}

func TestUpdateParticipantRole(t *testing.T) {
	f := newFixture(t)
	owner, admin, m := f.user("owner"), f.user("admin"), f.user("m")
	conv := f.group(owner, admin, m)
	require.NoError(t, f.convs.UpdateParticipantRole(f.ctx, conv.ID, owner, admin, models.RoleAdmin))

	err := f.convs.UpdateParticipantRole(f.ctx, conv.ID, admin, m, models.RoleAdmin)
	assert.True(t, models.IsForbidden(err), "only the owner changes roles")
	assert.True(t, models.IsValidation(f.convs.UpdateParticipantRole(f.ctx, conv.ID, owner, m, models.ParticipantRole(9))))
	assert.True(t, models.IsValidation(f.convs.UpdateParticipantRole(f.ctx, conv.ID, owner, owner, models.RoleAdmin)))

	t.Run("granting owner transfers ownership", func(t *testing.T) {
		require.NoError(t, f.convs.UpdateParticipantRole(f.ctx, conv.ID, owner, m, models.RoleOwner))
		assert.Equal(t, []uint{m}, owners(t, f, conv.ID))
		assert.Equal(t, models.RoleAdmin, f.participant(conv.ID, owner).Role)
	})
}

func TestViewFlags(t *testing.T) {
	f := newFixture(t)
	owner, m := f.user("owner"), f.user("m")
	older := f.group(owner, m)
	f.clock.Advance(time.Second)
	newer := f.group(owner, m)
	f.send(newer.ID, m, "latest")

	t.Run("mute", func(t *testing.T) {
		past := f.clock.Now().Add(-time.Minute)
		_, err := f.convs.MuteConversation(f.ctx, older.ID, owner, &past)
		assert.True(t, models.IsValidation(err))

		until := f.clock.Now().Add(time.Hour)
		p, err := f.convs.MuteConversation(f.ctx, older.ID, owner, &until)
		require.NoError(t, err)
		assert.True(t, p.IsMuted)
		assert.True(t, p.MutedAt(f.clock.Now()))
		assert.False(t, p.MutedAt(until.Add(time.Second)))
		assert.False(t, f.participant(older.ID, m).IsMuted, "only the caller's row changes")

		p, err = f.convs.UnmuteConversation(f.ctx, older.ID, owner)
		require.NoError(t, err)
		assert.False(t, p.IsMuted)
		assert.Nil(t, p.MutedUntil)
	})

	t.Run("archive toggles", func(t *testing.T) {
		p, err := f.convs.ArchiveConversation(f.ctx, older.ID, owner)
		require.NoError(t, err)
		assert.True(t, p.IsArchived)
		p, err = f.convs.ArchiveConversation(f.ctx, older.ID, owner)
		require.NoError(t, err)
		assert.False(t, p.IsArchived)
	})

	t.Run("pinned sort first", func(t *testing.T) {
		list, err := f.convs.GetUserConversations(f.ctx, owner)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, newer.ID, list[0].ID)
		assert.Equal(t, int64(1), list[0].UnreadCount)
		require.NotNil(t, list[0].LastMessage)
		assert.Equal(t, "latest", list[0].LastMessage.Text())

		p, err := f.convs.PinConversation(f.ctx, older.ID, owner)
		require.NoError(t, err)
		assert.True(t, p.IsPinned)

		list, err = f.convs.GetUserConversations(f.ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, older.ID, list[0].ID)
	})

	t.Run("outsiders are rejected", func(t *testing.T) {
		outsider := f.user("outsider")
		_, err := f.convs.PinConversation(f.ctx, older.ID, outsider)
		assert.True(t, models.IsForbidden(err))
	})

	assert.NotEmpty(t, f.events.Named(notifications.EventConversationUpdated))
}

func TestUpdateGroup(t *testing.T) {
	f := newFixture(t)
	owner, m := f.user("owner"), f.user("m")
	conv := f.group(owner, m)

	name := "Renamed"
	_, err := f.convs.UpdateGroup(f.ctx, UpdateGroupInput{ConversationID: conv.ID, ActorID: m, Name: &name})
	assert.True(t, models.IsForbidden(err))

	adminsOnly := true
	updated, err := f.convs.UpdateGroup(f.ctx, UpdateGroupInput{ConversationID: conv.ID, ActorID: owner, Name: &name, OnlyAdminsCanMessage: &adminsOnly})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, "team", conv.Name)
	assert.True(t, updated.OnlyAdminsCanMessage)

	desc := "about"
	updated, err = f.convs.UpdateGroup(f.ctx, UpdateGroupInput{ConversationID: conv.ID, ActorID: owner, Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name, "unset fields are kept")
	assert.Equal(t, "about", updated.Description)

	tooSmall := 2
	third := f.user("third")
	require.NoError(t, f.convs.AddParticipant(f.ctx, conv.ID, owner, third))
	_, err = f.convs.UpdateGroup(f.ctx, UpdateGroupInput{ConversationID: conv.ID, ActorID: owner, MaxParticipants: &tooSmall})
	assert.True(t, models.IsValidation(err))

	blank := " "
	_, err = f.convs.UpdateGroup(f.ctx, UpdateGroupInput{ConversationID: conv.ID, ActorID: owner, Name: &blank})
	assert.True(t, models.IsValidation(err))

	private, err := f.convs.CreatePrivate(f.ctx, owner, m)
	require.NoError(t, err)
	_, err = f.convs.UpdateGroup(f.ctx, UpdateGroupInput{ConversationID: private.ID, ActorID: owner, Name: &name})
	assert.True(t, models.IsValidation(err))
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestUploadGroupAvatar(t *testing.T) {
	f := newFixture(t)
	owner, m := f.user("owner"), f.user("m")
	conv := f.group(owner, m)

	upload := storage.UploadInput{Filename: "face.png", ContentType: "image/png", Content: pngBytes(t)}
	_, err := f.convs.UploadGroupAvatar(f.ctx, conv.ID, m, upload)
	assert.True(t, models.IsForbidden(err))

	first, err := f.convs.UploadGroupAvatar(f.ctx, conv.ID, owner, upload)
	require.NoError(t, err)
	require.NotEmpty(t, first.AvatarURL)
	firstURL := first.AvatarURL
	assert.True(t, f.files.Exists(firstURL))

	second, err := f.convs.UploadGroupAvatar(f.ctx, conv.ID, owner, upload)
	require.NoError(t, err)
	assert.NotEqual(t, firstURL, second.AvatarURL)
	assert.False(t, f.files.Exists(firstURL), "the replaced avatar is removed")

	_, err = f.convs.UploadGroupAvatar(f.ctx, conv.ID, owner, storage.UploadInput{Filename: "doc.pdf", ContentType: "application/pdf", Content: []byte("%PDF-1.4")})
	assert.True(t, models.IsValidation(err))
	_, err = f.convs.UploadGroupAvatar(f.ctx, conv.ID, owner, storage.UploadInput{Filename: "run.exe", Content: []byte("MZ")})
	assert.True(t, models.IsValidation(err))
}

func TestDeleteConversation(t *testing.T) {
	f := newFixture(t)
	owner, m := f.user("owner"), f.user("m")
	conv := f.group(owner, m)

	assert.True(t, models.IsForbidden(f.convs.DeleteConversation(f.ctx, conv.ID, m)))
	require.NoError(t, f.convs.DeleteConversation(f.ctx, conv.ID, owner))

	deleted, _ := isDeleted(t, f, conv.ID)
	assert.True(t, deleted)
	assert.Len(t, f.events.Leaves(), 2)
	assert.True(t, models.IsNotFound(f.convs.DeleteConversation(f.ctx, conv.ID, owner)))

	list, err := f.convs.GetUserConversations(f.ctx, m)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestInviteLinks(t *testing.T) {
	f := newFixture(t)
	owner, m, guest := f.user("owner"), f.user("m"), f.user("guest")
	conv := f.group(owner, m)

	_, err := f.convs.GenerateInviteLink(f.ctx, conv.ID, m)
	assert.True(t, models.IsForbidden(err))

	old, err := f.convs.GenerateInviteLink(f.ctx, conv.ID, owner)
	require.NoError(t, err)
	link, err := f.convs.GenerateInviteLink(f.ctx, conv.ID, owner)
	require.NoError(t, err)
	assert.NotEqual(t, old, link)

	_, err = f.convs.JoinByInviteLink(f.ctx, guest, old)
	assert.True(t, models.IsNotFound(err), "regenerating revokes the old link")
	_, err = f.convs.JoinByInviteLink(f.ctx, guest, "  ")
	assert.True(t, models.IsValidation(err))

	joined, err := f.convs.JoinByInviteLink(f.ctx, guest, link)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, joined.ID)
	assert.True(t, f.participant(conv.ID, guest).Active())
	assert.Contains(t, f.events.Joins(), testutil.Membership{UserID: guest, ConversationID: conv.ID})

	_, err = f.convs.JoinByInviteLink(f.ctx, guest, link)
	assert.True(t, models.IsConflict(err))

	require.NoError(t, f.convs.LeaveGroup(f.ctx, conv.ID, guest))
	_, err = f.convs.JoinByInviteLink(f.ctx, guest, link)
	assert.NoError(t, err, "a left member may rejoin")

	t.Run("full group", func(t *testing.T) {
		max := 3
		_, err := f.convs.UpdateGroup(f.ctx, UpdateGroupInput{ConversationID: conv.ID, ActorID: owner, MaxParticipants: &max})
		require.NoError(t, err)
		late := f.user("late")
		_, err = f.convs.JoinByInviteLink(f.ctx, late, link)
		assert.True(t, models.IsConflict(err))
	})

	t.Run("deleted conversation", func(t *testing.T) {
		require.NoError(t, f.convs.DeleteConversation(f.ctx, conv.ID, owner))
		other := f.user("other")
		_, err := f.convs.JoinByInviteLink(f.ctx, other, link)
		assert.True(t, models.IsNotFound(err))
	})
}

func TestGroupLifecycleScenario(t *testing.T) {
	f := newFixture(t)
	o, a, b, c := f.user("o"), f.user("a"), f.user("b"), f.user("c")
	g := f.group(o, a, b, c)

	hi := f.send(g.ID, a, "hi")
	_, err := f.messages.ReactToMessage(f.ctx, b, hi.ID, "👍")
	require.NoError(t, err)

	require.NoError(t, f.convs.RemoveParticipant(f.ctx, g.ID, o, a))
	_, err = f.messages.SendMessage(f.ctx, SendMessageInput{SenderID: a, ConversationID: g.ID, Content: "again"})
	assert.True(t, models.IsForbidden(err))

	require.NoError(t, f.convs.LeaveGroup(f.ctx, g.ID, c))
	assert.Equal(t, []uint{o}, owners(t, f, g.ID), "owner unchanged while present")

	require.NoError(t, f.convs.LeaveGroup(f.ctx, g.ID, o))
	assert.Equal(t, []uint{b}, owners(t, f, g.ID), "last active member promoted")

	require.NoError(t, f.convs.LeaveGroup(f.ctx, g.ID, b))
	deleted, active := isDeleted(t, f, g.ID)
	assert.True(t, deleted)
	assert.False(t, active)
	assert.Empty(t, owners(t, f, g.ID))
}

func TestMaxParticipantsScenario(t *testing.T) {
	f := newFixture(t)
	owner, member, third := f.user("owner"), f.user("member"), f.user("third")
	max := 2
	conv, err := f.convs.CreateGroup(f.ctx, CreateGroupInput{CreatorID: owner, Name: "pair", ParticipantIDs: []uint{member}, MaxParticipants: &max})
	require.NoError(t, err)

	err = f.convs.AddParticipant(f.ctx, conv.ID, owner, third)
	assert.True(t, models.IsConflict(err))

	require.NoError(t, f.convs.RemoveParticipant(f.ctx, conv.ID, owner, member))
	assert.NoError(t, f.convs.AddParticipant(f.ctx, conv.ID, owner, third))
}

func TestConversationPreviewSkipsHiddenMessages(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user("alice"), f.user("bob")
	conv := f.group(alice, bob)

	f.send(conv.ID, alice, "earlier")
	latest := f.send(conv.ID, alice, "regret")
	require.NoError(t, f.messages.DeleteMessage(f.ctx, alice, latest.ID, false))

	mine, err := f.convs.GetUserConversations(f.ctx, alice)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.NotNil(t, mine[0].LastMessage)
	assert.Equal(t, "earlier", mine[0].LastMessage.Text())

	theirs, err := f.convs.GetUserConversations(f.ctx, bob)
	require.NoError(t, err)
	require.Len(t, theirs, 1)
	require.NotNil(t, theirs[0].LastMessage)
	assert.Equal(t, latest.ID, theirs[0].LastMessage.ID)

	require.NoError(t, f.messages.DeleteMessage(f.ctx, alice, mine[0].LastMessage.ID, false))
	mine, err = f.convs.GetUserConversations(f.ctx, alice)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Nil(t, mine[0].LastMessage, "nothing left to preview")
}
