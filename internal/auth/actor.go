// Package auth carries actor identity through the call tree and manages the
// user records behind it. The transport layer authenticates; the engine only
// consumes the resulting actor.
package auth

import (
	"context"
	"strings"

	"licentra.org/internal/access"
)

// Actor is the authenticated identity on whose behalf an operation runs.
type Actor struct {
	ID   string
	Role access.Role
}

type ctxKey string

const actorKey ctxKey = "auth_actor"

// ContextWithActor stores the actor in the context.
func ContextWithActor(ctx context.Context, a Actor) context.Context {
	a.ID = strings.TrimSpace(a.ID)
	return context.WithValue(ctx, actorKey, a)
}

// ActorFromContext extracts the actor, reporting whether one is present.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	if !ok || a.ID == "" {
		return Actor{}, false
	}
	return a, true
}
