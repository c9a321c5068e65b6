package model

import "time"

const (
	ActorUser   = "user"
	ActorAdmin  = "admin"
	ActorSystem = "system"
)

type Actor struct {
	Type string
	ID   string
}

func SystemActor(name string) Actor { return Actor{Type: ActorSystem, ID: name} }

// Change describes why a subscription row is being written; it ends up in the
// audit trail and the outbox event.
type Change struct {
	Kind      string
	Actor     Actor
	RequestID string
	At        time.Time
}
