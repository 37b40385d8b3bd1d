// Package store defines the entity-store boundary the sustainer core
// consumes. The host platform owns persistence and permissions; the core
// treats a missing record as a normal condition, not a fault.
package store

import (
	"context"
	"errors"

	"github.com/wawful/spell-sustainer/internal/game"
)

// ErrNotFound indicates a requested record is missing or a durable reference
// no longer resolves.
var ErrNotFound = errors.New("record not found")

// Store is the entity store contract.
type Store interface {
	// Actor resolves a world or token actor by id.
	Actor(ctx context.Context, id string) (game.Actor, error)
	PutActor(ctx context.Context, actor game.Actor) error
	// Actors enumerates every reachable actor: world actors plus token-bound
	// actors across all scenes, deduplicated.
	Actors(ctx context.Context) ([]game.Actor, error)

	// Item resolves an item by durable reference.
	Item(ctx context.Context, ref string) (game.Item, error)
	PutItem(ctx context.Context, item game.Item) error

	PutToken(ctx context.Context, token game.Token) error
	// TokenFor finds the first placed token bound to an actor.
	TokenFor(ctx context.Context, actorID string) (game.Token, error)

	// EffectsFor lists an actor's effect records.
	EffectsFor(ctx context.Context, actorID string) ([]game.Effect, error)
	// EffectByRef resolves an effect by durable reference.
	EffectByRef(ctx context.Context, ref string) (game.Effect, error)
	// CreateEffects persists a batch of effect records on one actor,
	// assigning ids, and returns the stored records.
	CreateEffects(ctx context.Context, actorID string, effects []game.Effect) ([]game.Effect, error)
	UpdateEffect(ctx context.Context, effect game.Effect) error
	// DeleteEffects removes a batch of effect records from one actor.
	DeleteEffects(ctx context.Context, actorID string, effectIDs []string) error

	CreateTemplate(ctx context.Context, tpl game.Template) (game.Template, error)
	Template(ctx context.Context, id string) (game.Template, error)
	UpdateTemplate(ctx context.Context, tpl game.Template) error
	DeleteTemplate(ctx context.Context, id string) error
}

// Events receives effect lifecycle notifications from a store.
// *bus.Bus satisfies it.
type Events interface {
	EffectCreated(game.Effect)
	EffectUpdated(game.Effect)
	EffectDeleted(game.Effect)
}

// NopEvents discards all notifications.
type NopEvents struct{}

func (NopEvents) EffectCreated(game.Effect) {}
func (NopEvents) EffectUpdated(game.Effect) {}
func (NopEvents) EffectDeleted(game.Effect) {}
