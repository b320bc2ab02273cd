package notifications

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelNames(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "notifications:user:100", UserChannel(100))
	assert.Equal(t, "chat:conv:5", ConversationChannel(5))
	assert.Equal(t, "conversation_5", ConversationGroup(5))
	assert.Equal(t, "user_100", UserGroup(100))
}

func TestNotifier_NilRedisIsNoop(t *testing.T) {
	n := NewNotifier(nil)
	assert.False(t, n.Enabled())
	assert.NoError(t, n.publish(context.Background(), "x", envelope{}))
	assert.NoError(t, n.subscribe(context.Background(), func(string, envelope) {}))
}

func TestEventBus_LocalDelivery(t *testing.T) {
	reg := NewRegistry(nil)
	t.Cleanup(func() { reg.Shutdown(context.Background()) })
	bus := NewEventBus(reg, nil)
	ctx := context.Background()

	sender, peer, outsider := newTestClient(1), newTestClient(2), newTestClient(3)
	require.NoError(t, reg.Connect(ctx, sender, []uint{4}))
	require.NoError(t, reg.Connect(ctx, peer, []uint{4}))
	require.NoError(t, reg.Connect(ctx, outsider, nil))
	drain(sender)
	drain(peer)
	drain(outsider)

	bus.ToConversation(ctx, 4, Event{Name: EventUserTyping, Payload: TypingPayload{UserID: 1, ConversationID: 4, IsTyping: true}}, 1)
	ev := readEvent(t, peer)
	assert.Equal(t, EventUserTyping, ev.Event)
	var typing TypingPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &typing))
	assert.True(t, typing.IsTyping)
	assert.Empty(t, sender.Send)
	assert.Empty(t, outsider.Send)

	bus.ToUser(ctx, 3, Event{Name: EventNewNotification, Payload: map[string]string{"title": "hi"}})
	assert.Equal(t, EventNewNotification, readEvent(t, outsider).Event)
	assert.Empty(t, peer.Send)

	bus.JoinConversationGroup(ctx, 3, 4)
	bus.ToConversation(ctx, 4, Event{Name: EventMessageEdited})
	for _, c := range []*Client{sender, peer, outsider} {
		assert.Equal(t, EventMessageEdited, readEvent(t, c).Event)
	}

	bus.LeaveConversationGroup(ctx, 3, 4)
	bus.ToEveryone(ctx, Event{Name: EventUserOnline, Payload: PresencePayload{UserID: 2}}, 2)
	assert.Equal(t, EventUserOnline, readEvent(t, sender).Event)
	assert.Equal(t, EventUserOnline, readEvent(t, outsider).Event)
	assert.Empty(t, peer.Send)
}

func TestEventBus_RelaysAcrossInstances(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	regA, regB := NewRegistry(nil), NewRegistry(nil)
	t.Cleanup(func() {
		regA.Shutdown(context.Background())
		regB.Shutdown(context.Background())
	})
	busA := NewEventBus(regA, NewNotifier(rdb))
	busB := NewEventBus(regB, NewNotifier(rdb))
	require.NoError(t, busA.Start(ctx))
	require.NoError(t, busB.Start(ctx))

	local, remote := newTestClient(1), newTestClient(2)
	require.NoError(t, regA.Connect(ctx, local, []uint{9}))
	require.NoError(t, regB.Connect(ctx, remote, nil))
	drain(local)
	drain(remote)

	busA.JoinConversationGroup(ctx, 2, 9)
	assert.Eventually(t, func() bool {
		return regB.InGroup(2, ConversationGroup(9))
	}, testEventuallyTimeout, testPollInterval)

	busA.ToConversation(ctx, 9, Event{Name: EventNewMessage, Payload: map[string]uint{"id": 1}})
	assert.Equal(t, EventNewMessage, readEvent(t, remote).Event)
	assert.Equal(t, EventNewMessage, readEvent(t, local).Event)

	// the origin instance ignores its own relay
	assert.Never(t, func() bool { return len(local.Send) > 0 }, 10*testPollInterval, testPollInterval)

	busB.LeaveConversationGroup(ctx, 2, 9)
	assert.False(t, regB.InGroup(2, ConversationGroup(9)))

	busA.ToUser(ctx, 2, Event{Name: EventNewNotification})
	assert.Equal(t, EventNewNotification, readEvent(t, remote).Event)
}

func TestConnectionManager_RedisPresence(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	rec := &presenceRecorder{}
	m := NewConnectionManager(rdb, ConnectionManagerConfig{
		LastSeenTTL:        time.Minute,
		OfflineGracePeriod: 20 * time.Millisecond,
		ReaperInterval:     time.Hour,
		OnUserOnline:       rec.onOnline,
		OnUserOffline:      rec.onOffline,
	})
	defer m.Stop()
	ctx := context.Background()

	m.Register(ctx, 21)
	assert.True(t, mr.Exists(defaultPresenceLastSeenKeyNS+"21"))
	assert.ElementsMatch(t, []uint{21}, m.GetOnlineUserIDs(ctx))

	// another instance's user, known only through Redis
	m2 := NewConnectionManager(rdb, ConnectionManagerConfig{ReaperInterval: time.Hour})
	defer m2.Stop()
	m2.Touch(ctx, 22)
	assert.ElementsMatch(t, []uint{21, 22}, m.GetOnlineUserIDs(ctx))
	assert.True(t, m.IsOnline(ctx, 22))

	m.Unregister(ctx, 21)
	assert.Eventually(t, func() bool {
		_, offline := rec.counts()
		return offline == 1
	}, testEventuallyTimeout, testPollInterval)
	assert.False(t, m.IsOnline(ctx, 21))
}

func TestConnectionManager_ReapOnceEmitsOfflineForExpiredUsers(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	rec := &presenceRecorder{}
	m := NewConnectionManager(rdb, ConnectionManagerConfig{
		LastSeenTTL:    time.Second,
		ReaperInterval: time.Hour,
		OnUserOffline:  rec.onOffline,
	})
	defer m.Stop()
	ctx := context.Background()

	m.Touch(ctx, 30)
	mr.FastForward(2 * time.Second)
	m.reapOnce(ctx)

	_, offline := rec.counts()
	assert.Equal(t, 1, offline)
	members, err := rdb.SMembers(ctx, defaultPresenceOnlineSetKey).Result()
	require.NoError(t, err)
	assert.Empty(t, members)
}
