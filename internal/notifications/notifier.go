// Package notifications tracks live connections and fans realtime events out
// to conversation and user groups, locally and across instances via Redis.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"parley/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	conversationChannelPrefix = "chat:conv:"
	userChannelPrefix         = "notifications:user:"
	broadcastChannel          = "notifications:broadcast"
	membershipChannel         = "chat:membership"
)

// envelope is what travels over Redis between instances.
type envelope struct {
	Origin         string          `json:"origin"`
	Group          string          `json:"group,omitempty"`
	Exclude        []uint          `json:"exclude,omitempty"`
	Event          json.RawMessage `json:"event,omitempty"`
	Op             string          `json:"op,omitempty"`
	UserID         uint            `json:"user_id,omitempty"`
	ConversationID uint            `json:"conversation_id,omitempty"`
}

const (
	membershipJoin  = "join"
	membershipLeave = "leave"
)

// Notifier publishes envelopes into Redis channels and subscribes to them.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// Enabled reports whether a Redis client is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.rdb != nil
}

func (n *Notifier) publish(ctx context.Context, channel string, env envelope) error {
	if !n.Enabled() {
		return nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := n.rdb.Publish(ctx, channel, data).Err(); err != nil {
		observability.RedisErrorRate.WithLabelValues("publish").Inc()
		return err
	}
	return nil
}

// subscribe listens on every parley channel and hands decoded envelopes to
// onEnvelope until ctx is done.
func (n *Notifier) subscribe(ctx context.Context, onEnvelope func(channel string, env envelope)) error {
	if !n.Enabled() {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, conversationChannelPrefix+"*", userChannelPrefix+"*", broadcastChannel, membershipChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		observability.RedisErrorRate.WithLabelValues("psubscribe").Inc()
		return fmt.Errorf("subscribe: %w", err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							slog.Error("panic in event subscriber", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
						}
					}()
					var env envelope
					if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
						slog.Warn("discarding malformed envelope", slog.String("channel", msg.Channel), slog.String("error", err.Error()))
						return
					}
					onEnvelope(msg.Channel, env)
				}()
			}
		}
	}()

	return nil
}

// UserChannel returns the Redis channel for a user's events.
func UserChannel(userID uint) string {
	return fmt.Sprintf("%s%d", userChannelPrefix, userID)
}

// ConversationChannel returns the Redis channel for a conversation's events.
func ConversationChannel(conversationID uint) string {
	return fmt.Sprintf("%s%d", conversationChannelPrefix, conversationID)
}
