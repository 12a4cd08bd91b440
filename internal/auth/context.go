package auth

import (
	"context"
	"strings"
)

type memberContextKey struct{}

// ContextWithMember stores the acting member id in the context.
func ContextWithMember(ctx context.Context, memberID string) context.Context {
	return context.WithValue(ctx, memberContextKey{}, strings.TrimSpace(memberID))
}

// MemberIDFromContext extracts the authenticated member id from context.
func MemberIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(memberContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
