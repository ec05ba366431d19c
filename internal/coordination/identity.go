package coordination

import "context"

// Identity is an agent's team membership, propagated through its
// ToolContext per spec.md §4.6. The root agent carries no Identity;
// coordination tools other than team_create/spawn_agent must fail for
// it (ErrNoIdentity).
type Identity struct {
	Team  string
	Agent string
}

type identityKey struct{}

// WithIdentity attaches id to ctx, consumed implicitly by
// send_message/check_inbox tool handlers.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity attached by WithIdentity, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
