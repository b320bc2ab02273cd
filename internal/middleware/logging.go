package middleware

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"parley/internal/observability"

	"github.com/gofiber/fiber/v2"
)

// Logger is the process-wide structured logger. Records logged with a context
// carry whichever request, user, trace, conversation, connection and task ids
// that context holds.
var Logger *slog.Logger

type contextKey string

const (
	RequestIDKey      contextKey = "request_id"
	UserIDKey         contextKey = "user_id"
	TraceIDKey        contextKey = "trace_id"
	ConversationIDKey contextKey = "conversation_id"
	ConnectionIDKey   contextKey = "connection_id"
)

// WithConversationID tags ctx with the conversation being acted on.
func WithConversationID(ctx context.Context, id uint) context.Context {
	return context.WithValue(ctx, ConversationIDKey, id)
}

// WithConnectionID tags ctx with the live connection a frame arrived on.
func WithConnectionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ConnectionIDKey, id)
}

// ctxHandler appends the ids found on the record's context.
type ctxHandler struct {
	next slog.Handler
}

func (h *ctxHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *ctxHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(contextAttrs(ctx)...)
	return h.next.Handle(ctx, r)
}

func (h *ctxHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ctxHandler{next: h.next.WithAttrs(attrs)}
}

func (h *ctxHandler) WithGroup(name string) slog.Handler {
	return &ctxHandler{next: h.next.WithGroup(name)}
}

func contextAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var attrs []slog.Attr
	if v, ok := ctx.Value(RequestIDKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("request_id", v))
	}
	if v, ok := ctx.Value(UserIDKey).(uint); ok {
		attrs = append(attrs, slog.Uint64("user_id", uint64(v)))
	}
	if v, ok := ctx.Value(ConversationIDKey).(uint); ok {
		attrs = append(attrs, slog.Uint64("conversation_id", uint64(v)))
	}
	if v, ok := ctx.Value(ConnectionIDKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("connection_id", v))
	}
	if v := observability.ExtractCorrelationID(ctx); v != "" {
		attrs = append(attrs, slog.String("correlation_id", v))
	}
	if v, ok := ctx.Value(TraceIDKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("trace_id", v))
	}
	return attrs
}

// NewLogger builds the context-aware logger: JSON in production, text
// elsewhere, at LOG_LEVEL (info by default).
func NewLogger(w io.Writer, env, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var base slog.Handler
	if env == "production" || env == "prod" {
		base = slog.NewJSONHandler(w, opts)
	} else {
		base = slog.NewTextHandler(w, opts)
	}
	return slog.New(&ctxHandler{next: base})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func init() {
	Logger = NewLogger(os.Stdout, os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
}

// ContextMiddleware moves the request id and trace id from Fiber locals onto
// the request context. AuthRequired adds the user id later in the chain.
func ContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		if rid, ok := c.Locals("requestid").(string); ok && rid != "" {
			ctx = context.WithValue(ctx, RequestIDKey, rid)
		}
		if tid, ok := c.Locals("traceID").(string); ok && tid != "" {
			ctx = context.WithValue(ctx, TraceIDKey, tid)
		}
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// StructuredLogger logs one record per request once the handler chain has
// run, so the record carries the ids handlers added to the context.
func StructuredLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		fields := []any{
			slog.Int("status", status),
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("ip", c.IP()),
			slog.Duration("latency", time.Since(start)),
		}
		switch {
		case err != nil:
			fields = append(fields, slog.String("error", err.Error()))
			Logger.ErrorContext(c.UserContext(), "request failed", fields...)
		case status >= fiber.StatusInternalServerError:
			Logger.ErrorContext(c.UserContext(), "request failed", fields...)
		case status >= fiber.StatusBadRequest:
			Logger.WarnContext(c.UserContext(), "request rejected", fields...)
		default:
			Logger.InfoContext(c.UserContext(), "request processed", fields...)
		}
		return err
	}
}
