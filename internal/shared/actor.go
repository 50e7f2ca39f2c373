package shared

import (
	"context"
	"strconv"
)

// ActorType distinguishes human operators from automated sources.
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
)

// Actor identifies who caused a change: a signed-in user or a named
// automated source such as "square-webhook".
type Actor struct {
	typ    ActorType
	userID int64
	source string
}

// UserActor returns an Actor for a signed-in user.
func UserActor(id int64) Actor {
	return Actor{typ: ActorUser, userID: id}
}

// SystemActor returns an Actor for an automated source.
func SystemActor(source string) Actor {
	return Actor{typ: ActorSystem, source: source}
}

// Type reports whether the actor is a user or a system source.
func (a Actor) Type() ActorType { return a.typ }

// UserID returns the user id when the actor is a user.
func (a Actor) UserID() (int64, bool) {
	if a.typ != ActorUser {
		return 0, false
	}
	return a.userID, true
}

// Source returns the source name when the actor is automated.
func (a Actor) Source() (string, bool) {
	if a.typ != ActorSystem {
		return "", false
	}
	return a.source, true
}

// Valid reports whether the actor carries an identity.
func (a Actor) Valid() bool {
	switch a.typ {
	case ActorUser:
		return a.userID > 0
	case ActorSystem:
		return a.source != ""
	}
	return false
}

// Ref returns the (type, id) pair stored alongside movements and logs.
func (a Actor) Ref() (ActorType, string) {
	switch a.typ {
	case ActorUser:
		return ActorUser, strconv.FormatInt(a.userID, 10)
	case ActorSystem:
		return ActorSystem, a.source
	}
	return ActorSystem, "unknown"
}

// String renders the actor for log lines and notes.
func (a Actor) String() string {
	typ, id := a.Ref()
	return string(typ) + ":" + id
}

type actorContextKey struct{}

// ContextWithActor stores the acting identity in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the acting identity from context. Requests
// without a forwarded identity resolve to the generic API source.
func ActorFromContext(ctx context.Context) Actor {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	if !ok || !actor.Valid() {
		return SystemActor("api")
	}
	return actor
}
