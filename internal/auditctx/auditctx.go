package auditctx

import "context"

// Actor describes the authenticated caller behind a request. Services read it to fill
// audit records and to resolve the acting user when none is passed explicitly.
type Actor struct {
	UserID    string
	TenantID  string
	IPAddress string
	UserAgent string
	RequestID string
}

type actorContextKey struct{}

// WithActor returns a derived context carrying actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// FromContext extracts the actor stored by WithActor.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// UserID returns the acting user or an empty string.
func UserID(ctx context.Context) string {
	actor, _ := FromContext(ctx)
	return actor.UserID
}
