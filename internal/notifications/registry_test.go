package notifications

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEventuallyTimeout = time.Second
	testPollInterval      = 10 * time.Millisecond
)

type wireEvent struct {
	Event   EventName       `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func newTestClient(userID uint) *Client {
	return &Client{UserID: userID, Send: make(chan []byte, 10)}
}

func readEvent(t *testing.T, c *Client) wireEvent {
	t.Helper()
	select {
	case raw, ok := <-c.Send:
		require.True(t, ok, "send channel closed")
		var ev wireEvent
		require.NoError(t, json.Unmarshal(raw, &ev))
		return ev
	case <-time.After(testEventuallyTimeout):
		t.Fatalf("no event for user %d", c.UserID)
		return wireEvent{}
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.Send:
		default:
			return
		}
	}
}

type presenceRecorder struct {
	mu      sync.Mutex
	online  []uint
	offline []uint
}

func (p *presenceRecorder) onOnline(userID uint, _ time.Time) {
	p.mu.Lock()
	p.online = append(p.online, userID)
	p.mu.Unlock()
}

func (p *presenceRecorder) onOffline(userID uint, _ time.Time) {
	p.mu.Lock()
	p.offline = append(p.offline, userID)
	p.mu.Unlock()
}

func (p *presenceRecorder) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.online), len(p.offline)
}

func TestRegistry_ConnectSendsSnapshotAndSubscribesGroups(t *testing.T) {
	reg := NewRegistry(nil)
	t.Cleanup(func() { reg.Shutdown(context.Background()) })

	alice := newTestClient(1)
	require.NoError(t, reg.Connect(context.Background(), alice, []uint{7, 9}))
	ev := readEvent(t, alice)
	assert.Equal(t, EventConnectedUsers, ev.Event)

	bob := newTestClient(2)
	require.NoError(t, reg.Connect(context.Background(), bob, []uint{7}))
	ev = readEvent(t, bob)
	require.Equal(t, EventConnectedUsers, ev.Event)
	var snap ConnectedUsersPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &snap))
	assert.Equal(t, []uint{1}, snap.UserIDs)

	assert.True(t, reg.InGroup(1, ConversationGroup(7)))
	assert.True(t, reg.InGroup(1, ConversationGroup(9)))
	assert.True(t, reg.InGroup(1, UserGroup(1)))
	assert.False(t, reg.InGroup(2, ConversationGroup(9)))
	assert.Same(t, reg, alice.Hub)
}

func TestRegistry_DeliverHonorsGroupAndExclusion(t *testing.T) {
	reg := NewRegistry(nil)
	t.Cleanup(func() { reg.Shutdown(context.Background()) })

	alicePhone, aliceLaptop, bob, carol := newTestClient(1), newTestClient(1), newTestClient(2), newTestClient(3)
	ctx := context.Background()
	require.NoError(t, reg.Connect(ctx, alicePhone, []uint{5}))
	require.NoError(t, reg.Connect(ctx, aliceLaptop, []uint{5}))
	require.NoError(t, reg.Connect(ctx, bob, []uint{5}))
	require.NoError(t, reg.Connect(ctx, carol, nil))
	for _, c := range []*Client{alicePhone, aliceLaptop, bob, carol} {
		drain(c)
	}

	n := reg.Deliver(ConversationGroup(5), []byte(`{"event":"UserTyping"}`), []uint{2})
	assert.Equal(t, 2, n)
	assert.Len(t, alicePhone.Send, 1)
	assert.Len(t, aliceLaptop.Send, 1)
	assert.Empty(t, bob.Send)
	assert.Empty(t, carol.Send)

	assert.Equal(t, 2, reg.DeliverAll([]byte(`{}`), []uint{1}))
}

func TestRegistry_JoinAndLeaveGroup(t *testing.T) {
	reg := NewRegistry(nil)
	t.Cleanup(func() { reg.Shutdown(context.Background()) })

	assert.False(t, reg.JoinGroup(4, ConversationGroup(1)), "offline users are not subscribed")

	c := newTestClient(4)
	require.NoError(t, reg.Connect(context.Background(), c, nil))
	assert.True(t, reg.JoinGroup(4, ConversationGroup(1)))
	assert.True(t, reg.InGroup(4, ConversationGroup(1)))

	reg.LeaveGroup(4, ConversationGroup(1))
	assert.False(t, reg.InGroup(4, ConversationGroup(1)))
}

func TestRegistry_PerUserConnectionLimit(t *testing.T) {
	reg := NewRegistry(nil)
	t.Cleanup(func() { reg.Shutdown(context.Background()) })

	for i := 0; i < maxConnsPerUser; i++ {
		require.NoError(t, reg.Connect(context.Background(), newTestClient(8), nil))
	}
	err := reg.Connect(context.Background(), newTestClient(8), nil)
	assert.ErrorIs(t, err, ErrUserConnectionLimit)
}

func TestRegistry_UnregisterClosesClientAndDropsGroups(t *testing.T) {
	reg := NewRegistry(nil)
	t.Cleanup(func() { reg.Shutdown(context.Background()) })

	c := newTestClient(6)
	require.NoError(t, reg.Connect(context.Background(), c, []uint{2}))
	drain(c)

	reg.UnregisterClient(c)
	_, ok := <-c.Send
	assert.False(t, ok)
	assert.False(t, reg.IsConnected(6))
	assert.False(t, reg.InGroup(6, ConversationGroup(2)))

	// a second unregister is a no-op
	reg.UnregisterClient(c)
	assert.False(t, c.TrySend([]byte(`{}`)))
}

func TestRegistry_GracePeriodSuppressesOfflineOnRapidReconnect(t *testing.T) {
	rec := &presenceRecorder{}
	presence := NewConnectionManager(nil, ConnectionManagerConfig{
		OfflineGracePeriod: 40 * time.Millisecond,
		OnUserOnline:       rec.onOnline,
		OnUserOffline:      rec.onOffline,
	})
	reg := NewRegistry(presence)
	t.Cleanup(func() { reg.Shutdown(context.Background()) })

	first := newTestClient(10)
	require.NoError(t, reg.Connect(context.Background(), first, nil))
	reg.UnregisterClient(first)
	require.NoError(t, reg.Connect(context.Background(), newTestClient(10), nil))

	assert.Never(t, func() bool {
		_, offline := rec.counts()
		return offline > 0
	}, 10*testPollInterval, testPollInterval)
	online, _ := rec.counts()
	assert.Equal(t, 1, online)
}

func TestRegistry_LastDisconnectTriggersOfflineOnce(t *testing.T) {
	rec := &presenceRecorder{}
	presence := NewConnectionManager(nil, ConnectionManagerConfig{
		OfflineGracePeriod: 20 * time.Millisecond,
		OnUserOnline:       rec.onOnline,
		OnUserOffline:      rec.onOffline,
	})
	reg := NewRegistry(presence)
	t.Cleanup(func() { reg.Shutdown(context.Background()) })

	a, b := newTestClient(15), newTestClient(15)
	require.NoError(t, reg.Connect(context.Background(), a, nil))
	require.NoError(t, reg.Connect(context.Background(), b, nil))

	reg.UnregisterClient(a)
	assert.Never(t, func() bool {
		_, offline := rec.counts()
		return offline > 0
	}, 5*testPollInterval, testPollInterval)

	reg.UnregisterClient(b)
	assert.Eventually(t, func() bool {
		_, offline := rec.counts()
		return offline == 1
	}, testEventuallyTimeout, testPollInterval)
	online, _ := rec.counts()
	assert.Equal(t, 1, online)
}

func TestClient_TrySendDropsWhenFull(t *testing.T) {
	c := &Client{UserID: 1, Send: make(chan []byte, 2)}
	assert.True(t, c.TrySend([]byte("a")))
	assert.True(t, c.TrySend([]byte("b")))
	assert.False(t, c.TrySend([]byte("c")))
	assert.Equal(t, "a", string(<-c.Send))
	assert.Equal(t, "b", string(<-c.Send))
}

func TestClient_TrySendAfterCloseDoesNotPanic(t *testing.T) {
	c := newTestClient(1)
	c.Close()
	c.Close()
	assert.NotPanics(t, func() { assert.False(t, c.TrySend([]byte("x"))) })
}
