// Package audit records back-office actions. Ledgers write entries through
// their own unit of work so an action and its audit row commit together.
package audit

import (
	"context"
	"strings"
	"time"

	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/xid"
)

const systemRole = "system"

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Writer is satisfied by both store.Tx and store.Store.
type Writer interface {
	InsertAuditLog(ctx context.Context, entry domain.AuditLog) error
}

type Entry struct {
	Action     string
	EntityType string
	EntityID   string
	Detail     string
	// Actor names the caller when ctx carries no authenticated actor.
	Actor string
	At    time.Time
}

// Build resolves the acting user from ctx and stamps an id.
func Build(ctx context.Context, e Entry) domain.AuditLog {
	actor, ok := ActorFromContext(ctx)
	if !ok || strings.TrimSpace(actor.Username) == "" {
		actor = domain.Actor{Username: strings.TrimSpace(e.Actor), Role: systemRole}
		if actor.Username == "" {
			actor.Username = systemRole
		}
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	return domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        e.Action,
		EntityType:    e.EntityType,
		EntityID:      e.EntityID,
		Detail:        e.Detail,
		CreatedAt:     at.UTC(),
	}
}

func Record(ctx context.Context, w Writer, e Entry) error {
	return w.InsertAuditLog(ctx, Build(ctx, e))
}
