package shared

import (
	"context"

	"github.com/google/uuid"
)

// Actor identifies the authenticated subject and the tenant scope the
// request operates in.
type Actor struct {
	SubjectID uuid.UUID
	TenantID  uuid.UUID
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context. The second return value
// is false for unauthenticated requests.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
