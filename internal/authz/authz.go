// Package authz resolves the current actor and enforces the owner/admin
// capability model used by timesheets.
package authz

import "context"

// Actor is the authenticated principal attached to a request.
type Actor struct {
	ID       int64
	FullName string
	Email    string
	IsAdmin  bool
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context, nil when unauthenticated.
func ActorFromContext(ctx context.Context) *Actor {
	actor, _ := ctx.Value(actorContextKey{}).(*Actor)
	return actor
}

// CanModify reports whether actor may mutate a timesheet owned by ownerID
// in the given committed state: admins always, owners only while draft.
func CanModify(actor *Actor, ownerID int64, committed bool) bool {
	if actor == nil {
		return false
	}
	if actor.IsAdmin {
		return true
	}
	return actor.ID == ownerID && !committed
}
