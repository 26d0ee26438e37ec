// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

func init() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	GlobalLogger = &Logger{Logger: slog.New(handler)}
}

// SetLogger replaces the logger used by every component logger created afterwards.
func SetLogger(l *slog.Logger) {
	if l != nil {
		GlobalLogger = &Logger{Logger: l}
	}
}

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// MutationIDKey carries the id of the optimistic mutation whose remote
// write is running, so repository logs can be tied back to it.
const MutationIDKey LogContextKey = "mutation_id"

// LoggingConfig defines which types of automated logging are enabled.
type LoggingConfig struct {
	EnableRepoLogging bool
	EnableSyncLogging bool
	EnableWSLogging   bool
}

// Config holds the current logging configuration.
var Config = LoggingConfig{
	EnableRepoLogging: true,
	EnableSyncLogging: true,
	EnableWSLogging:   true,
}

// WithMutationID returns ctx tagged with a mutation id.
func WithMutationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, MutationIDKey, id)
}

// MutationID returns the mutation id carried by ctx, if any.
func MutationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(MutationIDKey).(string)
	return id
}

func withFields(attrs []any, fields map[string]interface{}) []any {
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

// RepoLogger provides structured logging for repository operations.
type RepoLogger struct {
	tableName string
}

// NewRepoLogger creates a new RepoLogger for the given table.
func NewRepoLogger(tableName string) *RepoLogger {
	return &RepoLogger{tableName: tableName}
}

func (l *RepoLogger) log(ctx context.Context, operation string, fields map[string]interface{}) {
	if !Config.EnableRepoLogging {
		return
	}
	attrs := []any{
		slog.String("table", l.tableName),
		slog.String("operation", operation),
	}
	GlobalLogger.DebugContext(ctx, "repository "+operation, withFields(attrs, fields)...)
}

// LogCreate logs a repository create operation.
func (l *RepoLogger) LogCreate(ctx context.Context, fields map[string]interface{}) {
	l.log(ctx, "create", fields)
}

// LogUpdate logs a repository update operation.
func (l *RepoLogger) LogUpdate(ctx context.Context, fields map[string]interface{}) {
	l.log(ctx, "update", fields)
}

// LogDelete logs a repository delete operation.
func (l *RepoLogger) LogDelete(ctx context.Context, fields map[string]interface{}) {
	l.log(ctx, "delete", fields)
}

// LogError logs a repository error.
func (l *RepoLogger) LogError(ctx context.Context, err error, operation string) {
	if !Config.EnableRepoLogging {
		return
	}
	GlobalLogger.ErrorContext(ctx, "repository error",
		slog.String("table", l.tableName),
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// SyncLogger provides structured logging for the synchronization core:
// subscriptions, resyncs, optimistic mutations and absorbed no-ops.
type SyncLogger struct {
	component string
}

// NewSyncLogger creates a new SyncLogger for the given component.
func NewSyncLogger(component string) *SyncLogger {
	return &SyncLogger{component: component}
}

// LogLifecycle logs a subscription lifecycle event (subscribe, unsubscribe, resync).
func (l *SyncLogger) LogLifecycle(ctx context.Context, event string, fields map[string]interface{}) {
	if !Config.EnableSyncLogging {
		return
	}
	attrs := []any{
		slog.String("component", l.component),
		slog.String("event", event),
	}
	GlobalLogger.InfoContext(ctx, "sync lifecycle", withFields(attrs, fields)...)
}

// LogAbsorbed logs a failure that was classified as a no-op.
func (l *SyncLogger) LogAbsorbed(ctx context.Context, kind string, fields map[string]interface{}) {
	if !Config.EnableSyncLogging {
		return
	}
	attrs := []any{
		slog.String("component", l.component),
		slog.String("kind", kind),
	}
	GlobalLogger.DebugContext(ctx, "sync no-op absorbed", withFields(attrs, fields)...)
}

// LogWarn logs a self-healing problem such as subscription loss.
func (l *SyncLogger) LogWarn(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	attrs := []any{slog.String("component", l.component)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	GlobalLogger.WarnContext(ctx, msg, withFields(attrs, fields)...)
}

// LogError logs a failure surfaced to the caller.
func (l *SyncLogger) LogError(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	attrs := []any{
		slog.String("component", l.component),
		slog.String("error", err.Error()),
	}
	GlobalLogger.ErrorContext(ctx, msg, withFields(attrs, fields)...)
}

// WSLogger provides structured logging for WebSocket operations.
type WSLogger struct {
	hubName string
}

// NewWSLogger creates a new WSLogger for the given hub.
func NewWSLogger(hubName string) *WSLogger {
	return &WSLogger{hubName: hubName}
}

// LogConnect logs a WebSocket connection event.
func (l *WSLogger) LogConnect(ctx context.Context, userID string) {
	if !Config.EnableWSLogging {
		return
	}
	GlobalLogger.InfoContext(ctx, "websocket connected",
		slog.String("hub", l.hubName),
		slog.String("user_id", userID),
	)
}

// LogDisconnect logs a WebSocket disconnection event.
func (l *WSLogger) LogDisconnect(ctx context.Context, userID string, reason string) {
	if !Config.EnableWSLogging {
		return
	}
	GlobalLogger.InfoContext(ctx, "websocket disconnected",
		slog.String("hub", l.hubName),
		slog.String("user_id", userID),
		slog.String("reason", reason),
	)
}
