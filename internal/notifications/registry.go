package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"parley/internal/observability"
)

const (
	maxConnsPerUser = 12
	maxTotalConns   = 10000
)

var (
	// ErrUserConnectionLimit is returned when a user already holds maxConnsPerUser connections.
	ErrUserConnectionLimit = errors.New("user connection limit reached")
	// ErrConnectionLimit is returned when the instance is at maxTotalConns.
	ErrConnectionLimit = errors.New("connection limit reached")
)

// Registry tracks live connections per user and which groups each user is
// subscribed to on this instance. Group membership is per user so every
// device of a user sees the same conversations.
type Registry struct {
	mu sync.RWMutex

	// userID -> live clients
	userConns map[uint]map[*Client]struct{}

	// group -> subscribed users
	groups map[string]map[uint]struct{}

	// userID -> groups the user is subscribed to
	userGroups map[uint]map[string]struct{}

	totalConns int

	presence *ConnectionManager
	logger   *observability.WSLogger
}

// NewRegistry creates a Registry backed by presence.
func NewRegistry(presence *ConnectionManager) *Registry {
	if presence == nil {
		presence = NewConnectionManager(nil, ConnectionManagerConfig{})
	}
	return &Registry{
		userConns:  make(map[uint]map[*Client]struct{}),
		groups:     make(map[string]map[uint]struct{}),
		userGroups: make(map[uint]map[string]struct{}),
		presence:   presence,
		logger:     observability.NewWSLogger("chat"),
	}
}

// Name returns a human-readable identifier for this registry.
func (r *Registry) Name() string { return "chat" }

// Presence returns the underlying online/offline tracker.
func (r *Registry) Presence() *ConnectionManager { return r.presence }

// Connect registers client, subscribes its user to the user group and to one
// group per conversation in conversationIDs, sends it a ConnectedUsers
// snapshot and marks the user online.
func (r *Registry) Connect(ctx context.Context, client *Client, conversationIDs []uint) error {
	if client.Hub == nil {
		client.Hub = r
	}

	r.mu.Lock()
	if r.totalConns >= maxTotalConns {
		r.mu.Unlock()
		return ErrConnectionLimit
	}
	conns := r.userConns[client.UserID]
	if conns == nil {
		conns = make(map[*Client]struct{})
		r.userConns[client.UserID] = conns
	}
	if len(conns) >= maxConnsPerUser {
		r.mu.Unlock()
		return ErrUserConnectionLimit
	}
	conns[client] = struct{}{}
	r.totalConns++

	r.subscribeLocked(client.UserID, UserGroup(client.UserID))
	for _, id := range conversationIDs {
		r.subscribeLocked(client.UserID, ConversationGroup(id))
	}
	groupCount := len(r.userGroups[client.UserID])
	users := len(r.userConns)
	r.mu.Unlock()

	observability.WebSocketConnectionsTotal.Inc()
	observability.OnlineUsers.Set(float64(users))
	r.logger.LogConnect(ctx, client.UserID, groupCount)

	online := r.presence.GetOnlineUserIDs(ctx)
	others := make([]uint, 0, len(online))
	for _, id := range online {
		if id != client.UserID {
			others = append(others, id)
		}
	}
	if data, err := json.Marshal(Event{Name: EventConnectedUsers, Payload: ConnectedUsersPayload{UserIDs: others}}); err == nil {
		client.TrySend(data)
	}

	r.presence.Register(ctx, client.UserID)
	return nil
}

// UnregisterClient removes client. Once the user's last connection is gone
// their group subscriptions are dropped and the offline grace timer starts.
func (r *Registry) UnregisterClient(client *Client) {
	r.mu.Lock()
	conns, ok := r.userConns[client.UserID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, ok := conns[client]; !ok {
		r.mu.Unlock()
		return
	}
	delete(conns, client)
	r.totalConns--
	remaining := len(conns)
	if remaining == 0 {
		delete(r.userConns, client.UserID)
		for group := range r.userGroups[client.UserID] {
			r.unsubscribeLocked(client.UserID, group)
		}
		delete(r.userGroups, client.UserID)
	}
	users := len(r.userConns)
	client.Close()
	r.mu.Unlock()

	observability.WebSocketConnectionsTotal.Dec()
	observability.OnlineUsers.Set(float64(users))
	ctx := context.Background()
	r.logger.LogDisconnect(ctx, client.UserID, remaining)
	r.presence.Unregister(ctx, client.UserID)
}

// Touch refreshes the user's presence heartbeat.
func (r *Registry) Touch(userID uint) {
	r.presence.Touch(context.Background(), userID)
}

// JoinGroup subscribes every local connection of userID to group. It is a
// no-op when the user has no connection on this instance.
func (r *Registry) JoinGroup(userID uint, group string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.userConns[userID]; !ok {
		return false
	}
	r.subscribeLocked(userID, group)
	return true
}

// LeaveGroup unsubscribes userID from group.
func (r *Registry) LeaveGroup(userID uint, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(userID, group)
}

// InGroup reports whether userID is subscribed to group on this instance.
func (r *Registry) InGroup(userID uint, group string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.groups[group][userID]
	return ok
}

// IsConnected reports whether userID has a live connection on this instance.
func (r *Registry) IsConnected(userID uint) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userConns[userID]) > 0
}

// Deliver queues data on every connection subscribed to group except those
// owned by excluded users. It returns the number of connections reached.
func (r *Registry) Deliver(group string, data []byte, exclude []uint) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for userID := range r.groups[group] {
		if excluded(userID, exclude) {
			continue
		}
		for client := range r.userConns[userID] {
			if client.TrySend(data) {
				delivered++
			}
		}
	}
	return delivered
}

// DeliverAll queues data on every live connection except those owned by
// excluded users.
func (r *Registry) DeliverAll(data []byte, exclude []uint) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for userID, conns := range r.userConns {
		if excluded(userID, exclude) {
			continue
		}
		for client := range conns {
			if client.TrySend(data) {
				delivered++
			}
		}
	}
	return delivered
}

// Shutdown closes every connection and stops the presence tracker.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	total := r.totalConns
	for userID, conns := range r.userConns {
		for client := range conns {
			client.Close()
		}
		delete(r.userConns, userID)
	}
	r.groups = make(map[string]map[uint]struct{})
	r.userGroups = make(map[uint]map[string]struct{})
	r.totalConns = 0
	r.mu.Unlock()

	r.presence.Stop()
	observability.WebSocketConnectionsTotal.Sub(float64(total))
	observability.OnlineUsers.Set(0)
	r.logger.LogLifecycle(ctx, "shutdown", map[string]interface{}{"closed_connections": total})
}

func (r *Registry) subscribeLocked(userID uint, group string) {
	members := r.groups[group]
	if members == nil {
		members = make(map[uint]struct{})
		r.groups[group] = members
	}
	members[userID] = struct{}{}

	joined := r.userGroups[userID]
	if joined == nil {
		joined = make(map[string]struct{})
		r.userGroups[userID] = joined
	}
	joined[group] = struct{}{}
}

func (r *Registry) unsubscribeLocked(userID uint, group string) {
	if members, ok := r.groups[group]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(r.groups, group)
		}
	}
	if joined, ok := r.userGroups[userID]; ok {
		delete(joined, group)
	}
}

func excluded(userID uint, exclude []uint) bool {
	for _, id := range exclude {
		if id == userID {
			return true
		}
	}
	return false
}
