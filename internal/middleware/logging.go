package middleware

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"socialsync/internal/observability"

	"github.com/gofiber/fiber/v2"
)

// Logger is the process-wide structured logger. Component loggers in
// observability write through it too.
var Logger *slog.Logger

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	UserIDKey    contextKey = "user_id"
	TraceIDKey   contextKey = "trace_id"
)

// ctxHandler copies request, user, trace and mutation ids from the context
// onto every record.
type ctxHandler struct {
	slog.Handler
}

func (h *ctxHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, k := range []contextKey{RequestIDKey, UserIDKey, TraceIDKey} {
		if v, ok := ctx.Value(k).(string); ok && v != "" {
			r.AddAttrs(slog.String(string(k), v))
		}
	}
	if id := observability.MutationID(ctx); id != "" {
		r.AddAttrs(slog.String(string(observability.MutationIDKey), id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ctxHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ctxHandler{h.Handler.WithAttrs(attrs)}
}

func (h *ctxHandler) WithGroup(name string) slog.Handler {
	return &ctxHandler{h.Handler.WithGroup(name)}
}

// NewLogger builds a context-aware logger. JSON output is used in
// production, text otherwise.
func NewLogger(w io.Writer, env, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	switch strings.ToLower(env) {
	case "production", "prod":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(&ctxHandler{handler})
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func init() {
	ConfigureLogger(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
}

// ConfigureLogger replaces Logger once the loaded config is known and
// shares it with the observability loggers.
func ConfigureLogger(env, level string) {
	Logger = NewLogger(os.Stdout, env, level)
	slog.SetDefault(Logger)
	observability.SetLogger(Logger)
}

// WithUserID returns ctx carrying the user id picked up by the logger.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// ContextMiddleware moves the request id from fiber locals into the user
// context so the session and repository layers log it.
func ContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rid, ok := c.Locals("requestid").(string); ok {
			c.SetUserContext(context.WithValue(c.UserContext(), RequestIDKey, rid))
		}
		return c.Next()
	}
}

// quiet reports paths polled by probes and scrapers.
func quiet(path string) bool {
	return strings.HasPrefix(path, "/health") || path == "/metrics"
}

// StructuredLogger logs one line per request. Client errors log at WARN and
// server errors at ERROR; probe traffic only at DEBUG.
func StructuredLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		fields := []any{
			slog.Int("status", status),
			slog.String("method", c.Method()),
			slog.String("route", c.Route().Path),
			slog.String("path", c.Path()),
			slog.String("ip", c.IP()),
			slog.Duration("latency", time.Since(start)),
		}
		if err != nil {
			fields = append(fields, slog.String("error", err.Error()))
		}

		ctx := c.UserContext()
		switch {
		case status >= fiber.StatusInternalServerError || (err != nil && status < fiber.StatusBadRequest):
			Logger.ErrorContext(ctx, "request failed", fields...)
		case status >= fiber.StatusBadRequest:
			Logger.WarnContext(ctx, "request rejected", fields...)
		case quiet(c.Path()):
			Logger.DebugContext(ctx, "request processed", fields...)
		default:
			Logger.InfoContext(ctx, "request processed", fields...)
		}
		return err
	}
}
