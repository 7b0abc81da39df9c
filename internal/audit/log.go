package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"cardiavue.org/internal/auth"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the identifier stored by WithRequestID.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry for actor. A zero actor is logged as anonymous
// (failed logins). Secrets must never be passed in fields.
func LogEvent(ctx context.Context, logger *slog.Logger, actor auth.Principal, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("event", event),
	}
	if rid := RequestID(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if actor.Username != "" {
		attrs = append(attrs, slog.String("actor", actor.Username), slog.String("role", string(actor.Role)))
	} else {
		attrs = append(attrs, slog.String("actor", "anonymous"))
	}
	group := make([]any, 0, len(fields))
	for k, v := range fields {
		group = append(group, slog.Any(k, v))
	}
	attrs = append(attrs, slog.Group("fields", group...))

	logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	return nil
}
