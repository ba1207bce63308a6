package api

import "context"

// contextKey is private so other packages cannot forge identity values
type contextKey string

const (
	// ContextKeyUsername stores the authenticated username (string)
	ContextKeyUsername contextKey = "username"
	// ContextKeyAnonymous marks an unauthenticated caller (bool)
	ContextKeyAnonymous contextKey = "anonymous"
)

// WithUsername stores the authenticated username in ctx
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, ContextKeyUsername, username)
}

// GetUsername extracts the username from the context
func GetUsername(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(ContextKeyUsername).(string)
	return username, ok && username != ""
}

// withAnonymous marks a caller that supplied no identity
func withAnonymous(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, ContextKeyAnonymous, true)
	return WithUsername(ctx, anonymousActor)
}

// actorFrom returns the identity recorded on state changes. Anonymous
// callers have none, so the service rejects their mutations.
func actorFrom(ctx context.Context) string {
	if anon, _ := ctx.Value(ContextKeyAnonymous).(bool); anon {
		return ""
	}
	username, _ := GetUsername(ctx)
	return username
}
