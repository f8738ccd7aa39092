// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithUser/UserFromContext for propagating auth info via context

package auth

import (
	"context"
)

// userContextKey is the key type for storing the authenticated user ID in context.Context.
type userContextKey struct{}

// WithUser returns a new context with the authenticated user ID attached.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userContextKey{}, userID)
}

// UserFromContext retrieves the authenticated user ID from the context,
// returning an empty string if not present.
func UserFromContext(ctx context.Context) string {
	val := ctx.Value(userContextKey{})
	if val == nil {
		return ""
	}
	id, ok := val.(string)
	if !ok {
		return ""
	}
	return id
}

// MustUserFromContext retrieves the authenticated user ID from the context,
// panicking if not present. Use only behind RequireAuth.
func MustUserFromContext(ctx context.Context) string {
	id := UserFromContext(ctx)
	if id == "" {
		panic("auth: user ID not found in context")
	}
	return id
}
