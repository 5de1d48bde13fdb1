package auth

import (
	"context"
	"strings"
)

type callerContextKey struct{}

// ContextWithCaller attaches the caller identity asserted by the HTTP layer.
func ContextWithCaller(ctx context.Context, userID string) context.Context {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, callerContextKey{}, userID)
}

// CallerFromContext returns the asserted caller identity if present.
func CallerFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(callerContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
