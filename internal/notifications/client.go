package notifications

import (
	"log/slog"
	"sync"
	"time"

	"parley/internal/observability"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16384

	sendBufferSize = 256
)

// WSHub is implemented by whatever owns a Client's registration.
type WSHub interface {
	UnregisterClient(c *Client)
	Name() string
}

// Client is one live connection owned by a user.
type Client struct {
	Hub WSHub

	// The websocket connection. Nil for in-process clients.
	Conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte

	UserID uint

	// ID names this connection in logs.
	ID string

	// IncomingHandler handles each frame read from the peer.
	IncomingHandler func(*Client, []byte)

	// OnActivity runs on every inbound frame and pong.
	OnActivity func(userID uint)

	closeOnce sync.Once
}

// NewClient creates a new Client instance
func NewClient(hub WSHub, conn *websocket.Conn, userID uint) *Client {
	return &Client{
		Hub:    hub,
		Conn:   conn,
		UserID: userID,
		ID:     uuid.NewString(),
		Send:   make(chan []byte, sendBufferSize),
	}
}

func (c *Client) hubName() string {
	if c.Hub == nil {
		return "unattached"
	}
	return c.Hub.Name()
}

func (c *Client) touch() {
	if c.OnActivity != nil {
		c.OnActivity(c.UserID)
	}
}

// ReadPump pumps frames from the websocket connection to IncomingHandler
// until the peer goes away.
func (c *Client) ReadPump() {
	defer func() {
		if c.Hub != nil {
			c.Hub.UnregisterClient(c)
		}
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.touch()
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read failed", slog.Uint64("user_id", uint64(c.UserID)), slog.String("error", err.Error()))
			}
			break
		}

		c.touch()
		if c.IncomingHandler != nil {
			c.IncomingHandler(c, message)
		}
	}
}

// WritePump pumps queued messages to the websocket connection and keeps it
// alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues message without blocking. A full buffer drops the message
// and queues a MessagesDropped notice so the peer can re-fetch.
func (c *Client) TrySend(message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			observability.WebSocketBackpressureDrops.WithLabelValues(c.hubName(), "closed").Inc()
		}
	}()

	select {
	case c.Send <- message:
		return true
	default:
		observability.WebSocketBackpressureDrops.WithLabelValues(c.hubName(), "full").Inc()
		slog.Warn("client buffer full, dropped message", slog.Uint64("user_id", uint64(c.UserID)), slog.String("hub", c.hubName()))

		select {
		case c.Send <- droppedNotice:
		default:
		}
		return false
	}
}

// Close closes the outbound channel once. WritePump then sends a close frame.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

var droppedNotice = []byte(`{"event":"MessagesDropped","payload":{"reason":"buffer_full"}}`)
