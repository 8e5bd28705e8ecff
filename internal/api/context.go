package api

import "context"

type contextKey struct{}

// WithUser stamps the authenticated internal user id onto the request
// context.
func WithUser(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserFrom reports the authenticated user id, if any.
func UserFrom(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(contextKey{}).(int64)
	return userID, ok
}
