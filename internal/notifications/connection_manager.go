package notifications

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"parley/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPresenceOnlineSetKey  = "parley:presence:online"
	defaultPresenceLastSeenKeyNS = "parley:presence:last_seen:"
	defaultPresenceTTL           = 90 * time.Second
	defaultOfflineGrace          = 5 * time.Second
	defaultReaperInterval        = 60 * time.Second
)

// PresenceCallback receives a user's online or offline transition.
type PresenceCallback func(userID uint, at time.Time)

// ConnectionManagerConfig controls Redis presence and cleanup behavior.
type ConnectionManagerConfig struct {
	OnlineSetKey       string
	LastSeenKeyPrefix  string
	LastSeenTTL        time.Duration
	OfflineGracePeriod time.Duration
	ReaperInterval     time.Duration
	OnUserOnline       PresenceCallback
	OnUserOffline      PresenceCallback
}

// ConnectionManager counts live connections per user, mirrors presence in
// Redis and emits online/offline transitions. Offline is emitted only after
// the grace window passes without a reconnect.
type ConnectionManager struct {
	rdb *redis.Client
	now func() time.Time

	mu              sync.RWMutex
	localConnCounts map[uint]int
	offlineTimers   map[uint]*time.Timer
	offlineNotified map[uint]bool

	onlineSetKey      string
	lastSeenKeyPrefix string
	lastSeenTTL       time.Duration
	offlineGrace      time.Duration
	reaperInterval    time.Duration

	onUserOnline  PresenceCallback
	onUserOffline PresenceCallback

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewConnectionManager creates a manager and starts a Redis reaper when Redis is available.
func NewConnectionManager(rdb *redis.Client, cfg ConnectionManagerConfig) *ConnectionManager {
	m := &ConnectionManager{
		rdb:               rdb,
		now:               time.Now,
		localConnCounts:   make(map[uint]int),
		offlineTimers:     make(map[uint]*time.Timer),
		offlineNotified:   make(map[uint]bool),
		onlineSetKey:      defaultPresenceOnlineSetKey,
		lastSeenKeyPrefix: defaultPresenceLastSeenKeyNS,
		lastSeenTTL:       defaultPresenceTTL,
		offlineGrace:      defaultOfflineGrace,
		reaperInterval:    defaultReaperInterval,
		onUserOnline:      cfg.OnUserOnline,
		onUserOffline:     cfg.OnUserOffline,
		stopCh:            make(chan struct{}),
	}

	if cfg.OnlineSetKey != "" {
		m.onlineSetKey = cfg.OnlineSetKey
	}
	if cfg.LastSeenKeyPrefix != "" {
		m.lastSeenKeyPrefix = cfg.LastSeenKeyPrefix
	}
	if cfg.LastSeenTTL > 0 {
		m.lastSeenTTL = cfg.LastSeenTTL
	}
	if cfg.OfflineGracePeriod > 0 {
		m.offlineGrace = cfg.OfflineGracePeriod
	}
	if cfg.ReaperInterval > 0 {
		m.reaperInterval = cfg.ReaperInterval
	}

	if m.rdb != nil && m.reaperInterval > 0 {
		go m.reaperLoop()
	}

	return m
}

// SetCallbacks replaces the transition callbacks.
func (m *ConnectionManager) SetCallbacks(onOnline, onOffline PresenceCallback) {
	m.mu.Lock()
	m.onUserOnline = onOnline
	m.onUserOffline = onOffline
	m.mu.Unlock()
}

func (m *ConnectionManager) SetOfflineGracePeriod(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.offlineGrace = d
	m.mu.Unlock()
}

func (m *ConnectionManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.mu.Lock()
		for userID, timer := range m.offlineTimers {
			if timer != nil {
				timer.Stop()
			}
			delete(m.offlineTimers, userID)
		}
		m.mu.Unlock()
	})
}

// Register counts a new connection for userID. The online callback fires when
// the user had no live connection anywhere.
func (m *ConnectionManager) Register(ctx context.Context, userID uint) {
	wasOnline := m.IsOnline(ctx, userID)

	m.mu.Lock()
	pendingOffline := false
	if t, ok := m.offlineTimers[userID]; ok {
		t.Stop()
		delete(m.offlineTimers, userID)
		pendingOffline = true
	}
	m.localConnCounts[userID]++
	m.offlineNotified[userID] = false
	m.mu.Unlock()

	m.Touch(ctx, userID)
	if !wasOnline && !pendingOffline {
		m.emitOnline(userID)
	}
}

// Touch refreshes the user's last-seen key.
func (m *ConnectionManager) Touch(ctx context.Context, userID uint) {
	if m.rdb == nil {
		return
	}
	uid := strconv.FormatUint(uint64(userID), 10)
	if err := m.rdb.SAdd(ctx, m.onlineSetKey, uid).Err(); err != nil {
		observability.RedisErrorRate.WithLabelValues("presence_sadd").Inc()
		slog.Warn("presence touch failed", slog.Uint64("user_id", uint64(userID)), slog.String("op", "sadd"), slog.String("error", err.Error()))
	}
	if err := m.rdb.SetEx(ctx, m.lastSeenKey(userID), strconv.FormatInt(m.now().Unix(), 10), m.lastSeenTTL).Err(); err != nil {
		observability.RedisErrorRate.WithLabelValues("presence_setex").Inc()
		slog.Warn("presence touch failed", slog.Uint64("user_id", uint64(userID)), slog.String("op", "setex"), slog.String("error", err.Error()))
	}
}

// Unregister drops one connection for userID and schedules the offline
// transition once the last local connection is gone.
func (m *ConnectionManager) Unregister(ctx context.Context, userID uint) {
	m.mu.Lock()
	n, ok := m.localConnCounts[userID]
	if !ok {
		m.mu.Unlock()
		return
	}
	n--
	if n > 0 {
		m.localConnCounts[userID] = n
		m.mu.Unlock()
		return
	}
	delete(m.localConnCounts, userID)

	if t, ok := m.offlineTimers[userID]; ok {
		t.Stop()
	}
	grace := m.offlineGrace
	m.offlineTimers[userID] = time.AfterFunc(grace, func() {
		m.finalizeOffline(context.Background(), userID)
	})
	m.mu.Unlock()

	if m.rdb != nil {
		// Other instances holding a connection re-touch the key on activity.
		if err := m.rdb.Del(ctx, m.lastSeenKey(userID)).Err(); err != nil {
			observability.RedisErrorRate.WithLabelValues("presence_del").Inc()
		}
	}
}

// IsOnline reports whether userID has a live connection here or a fresh
// last-seen key in Redis.
func (m *ConnectionManager) IsOnline(ctx context.Context, userID uint) bool {
	m.mu.RLock()
	if m.localConnCounts[userID] > 0 {
		m.mu.RUnlock()
		return true
	}
	m.mu.RUnlock()

	if m.rdb == nil {
		return false
	}

	exists, err := m.rdb.Exists(ctx, m.lastSeenKey(userID)).Result()
	if err != nil {
		return false
	}
	return exists > 0
}

// ConnectionCount returns the number of live local connections for userID.
func (m *ConnectionManager) ConnectionCount(userID uint) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.localConnCounts[userID]
}

// GetOnlineUserIDs returns online user IDs from Redis with stale entries
// filtered, unioned with local connections.
func (m *ConnectionManager) GetOnlineUserIDs(ctx context.Context) []uint {
	local := m.localUserIDs()
	if m.rdb == nil {
		return local
	}

	members, err := m.rdb.SMembers(ctx, m.onlineSetKey).Result()
	if err != nil {
		observability.RedisErrorRate.WithLabelValues("presence_smembers").Inc()
		return local
	}

	seen := make(map[uint]struct{}, len(members)+len(local))
	result := make([]uint, 0, len(members)+len(local))

	for _, userID := range local {
		seen[userID] = struct{}{}
		result = append(result, userID)
	}

	for _, raw := range members {
		userID, ok := parseUserID(raw)
		if !ok {
			continue
		}
		if _, dup := seen[userID]; dup {
			continue
		}
		exists, existsErr := m.rdb.Exists(ctx, m.lastSeenKey(userID)).Result()
		if existsErr != nil {
			continue
		}
		if exists == 0 {
			_ = m.rdb.SRem(ctx, m.onlineSetKey, raw).Err()
			continue
		}
		seen[userID] = struct{}{}
		result = append(result, userID)
	}

	return result
}

// reapOnce performs one cleanup pass over the Redis online set.
func (m *ConnectionManager) reapOnce(ctx context.Context) {
	if m.rdb == nil {
		return
	}

	members, err := m.rdb.SMembers(ctx, m.onlineSetKey).Result()
	if err != nil {
		return
	}

	for _, raw := range members {
		userID, ok := parseUserID(raw)
		if !ok {
			continue
		}
		exists, existsErr := m.rdb.Exists(ctx, m.lastSeenKey(userID)).Result()
		if existsErr != nil || exists > 0 {
			continue
		}

		_ = m.rdb.SRem(ctx, m.onlineSetKey, raw).Err()

		m.mu.RLock()
		hasLocal := m.localConnCounts[userID] > 0
		_, pending := m.offlineTimers[userID]
		m.mu.RUnlock()
		if !hasLocal && !pending {
			m.emitOffline(userID)
		}
	}
}

func (m *ConnectionManager) reaperLoop() {
	ctx := context.Background()
	ticker := time.NewTicker(m.reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.reapOnce(ctx)
		}
	}
}

func (m *ConnectionManager) finalizeOffline(ctx context.Context, userID uint) {
	m.mu.Lock()
	delete(m.offlineTimers, userID)
	if m.localConnCounts[userID] > 0 {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if m.rdb != nil {
		exists, err := m.rdb.Exists(ctx, m.lastSeenKey(userID)).Result()
		if err == nil && exists > 0 {
			// still connected through another instance
			return
		}
		_ = m.rdb.SRem(ctx, m.onlineSetKey, strconv.FormatUint(uint64(userID), 10)).Err()
	}

	m.emitOffline(userID)
}

func (m *ConnectionManager) emitOnline(userID uint) {
	m.mu.Lock()
	m.offlineNotified[userID] = false
	cb := m.onUserOnline
	m.mu.Unlock()
	if cb != nil {
		cb(userID, m.now())
	}
}

func (m *ConnectionManager) emitOffline(userID uint) {
	m.mu.Lock()
	if m.offlineNotified[userID] {
		m.mu.Unlock()
		return
	}
	m.offlineNotified[userID] = true
	cb := m.onUserOffline
	m.mu.Unlock()
	if cb != nil {
		cb(userID, m.now())
	}
}

func (m *ConnectionManager) localUserIDs() []uint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]uint, 0, len(m.localConnCounts))
	for userID, count := range m.localConnCounts {
		if count > 0 {
			ids = append(ids, userID)
		}
	}
	return ids
}

func (m *ConnectionManager) lastSeenKey(userID uint) string {
	return m.lastSeenKeyPrefix + strconv.FormatUint(uint64(userID), 10)
}

func parseUserID(raw string) (uint, bool) {
	id64, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id64 == 0 {
		return 0, false
	}
	return uint(id64), true
}
