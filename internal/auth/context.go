package auth

import "context"

type (
	userIDContextKey     struct{}
	clientTypeContextKey struct{}
)

// WithUserID attaches the authenticated user id to ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDContextKey{}, userID)
}

// UserIDFromContext retrieves the user id attached by WithUserID.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDContextKey{}).(string)
	return userID, ok
}

// WithClientType attaches the connect handshake's client type to ctx
// (spec §4.1: "records the client type").
func WithClientType(ctx context.Context, clientType string) context.Context {
	if clientType == "" {
		return ctx
	}
	return context.WithValue(ctx, clientTypeContextKey{}, clientType)
}

// ClientTypeFromContext retrieves the client type attached by WithClientType.
func ClientTypeFromContext(ctx context.Context) (string, bool) {
	clientType, ok := ctx.Value(clientTypeContextKey{}).(string)
	return clientType, ok
}
