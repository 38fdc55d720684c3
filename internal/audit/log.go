// Package audit records security relevant account events.
package audit

import (
	"context"
	"errors"
	"strings"

	"easycore.dev/internal/auth"
	"easycore.dev/internal/obs"
)

// Account events.
const (
	EventRegister       = "auth.register"
	EventLoginSucceeded = "auth.login.succeeded"
	EventLoginFailed    = "auth.login.failed"
	EventLoginThrottled = "auth.login.throttled"
	EventLogout         = "auth.logout"
	EventRefresh        = "auth.refresh"
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

// RequestIDFromContext extracts the request id if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	e := obs.Logger().Info().
		Str("type", "audit").
		Str("event", event)
	if rid := RequestIDFromContext(ctx); rid != "" {
		e = e.Str("request_id", rid)
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		e = e.Int64("user_id", userID)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	e.Interface("fields", fields).Msg("audit")
	return nil
}
