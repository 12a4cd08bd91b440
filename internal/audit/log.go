// Package audit records who changed which authorization.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"kmp.org/internal/auth"
	"kmp.org/internal/obs"
)

type requestIDKey struct{}

// WithRequestID tags ctx with the inbound request id. Blank ids are ignored.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID = strings.TrimSpace(requestID); requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the id set by WithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// Entry is one committed workflow change. Empty fields are left out of the
// log line.
type Entry struct {
	Event           string
	AuthorizationID string
	ApprovalID      string
	MemberID        string
	ActivityID      string
	Status          string
	ApproverID      string
	NextApproverID  string
	Reason          string
	Renewal         bool
}

func (e Entry) attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 9)
	for _, f := range []struct{ key, val string }{
		{"authorization_id", e.AuthorizationID},
		{"approval_id", e.ApprovalID},
		{"member_id", e.MemberID},
		{"activity_id", e.ActivityID},
		{"status", e.Status},
		{"approver_id", e.ApproverID},
		{"next_approver_id", e.NextApproverID},
		{"reason", e.Reason},
	} {
		if f.val != "" {
			attrs = append(attrs, slog.String(f.key, f.val))
		}
	}
	if e.Renewal {
		attrs = append(attrs, slog.Bool("renewal", true))
	}
	return attrs
}

// Record writes e to the audit stream with the request id and acting member
// taken from ctx.
func Record(ctx context.Context, e Entry) error {
	e.Event = strings.TrimSpace(e.Event)
	if e.Event == "" {
		return errors.New("audit: event name is required")
	}
	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("event", e.Event),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if actor, ok := auth.MemberIDFromContext(ctx); ok {
		attrs = append(attrs, slog.String("actor_id", actor))
	}
	attrs = append(attrs, slog.Group("change", attrsAny(e.attrs())...))
	obs.Logger().LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	return nil
}

func attrsAny(attrs []slog.Attr) []any {
	out := make([]any, len(attrs))
	for i, a := range attrs {
		out[i] = a
	}
	return out
}
