// Package authz wraps store mutations with an authorize-or-relay decision.
// A game master applies mutations directly. A player may only touch actors
// they control; everything else is forwarded to the game master's session
// as a command, or denied when no relay channel exists.
package authz

import (
	"context"
	"fmt"

	apperrors "github.com/wawful/spell-sustainer/internal/errors"
	"github.com/wawful/spell-sustainer/internal/game"
	"github.com/wawful/spell-sustainer/internal/platform/id"
	"github.com/wawful/spell-sustainer/internal/store"
)

// Outcome reports how a mutation request was handled.
type Outcome string

const (
	// OutcomeApplied means the mutation hit the store locally.
	OutcomeApplied Outcome = "applied"
	// OutcomeRelayed means the mutation was forwarded for the game master
	// to apply. The local store is unchanged until the authoritative side
	// echoes the result back.
	OutcomeRelayed Outcome = "relayed"
)

// Kind identifies which store operation a relayed command performs.
type Kind string

const (
	KindCreateEffects  Kind = "create-effects"
	KindUpdateEffect   Kind = "update-effect"
	KindDeleteEffects  Kind = "delete-effects"
	KindDeleteTemplate Kind = "delete-template"
)

// Command is a store mutation serialized for relay to the authoritative
// session.
type Command struct {
	ID         string        `json:"id"`
	Kind       Kind          `json:"kind"`
	ActorID    string        `json:"actorId,omitempty"`
	Effects    []game.Effect `json:"effects,omitempty"`
	Effect     *game.Effect  `json:"effect,omitempty"`
	EffectIDs  []string      `json:"effectIds,omitempty"`
	TemplateID string        `json:"templateId,omitempty"`
}

// Relay forwards commands to the authoritative session.
type Relay interface {
	Send(ctx context.Context, cmd Command) error
}

// Identity describes the local user for authorization decisions.
type Identity struct {
	UserID string
	IsGM   bool
	// Controls reports whether the user owns the given actor. Nil means
	// the user controls nothing beyond what IsGM grants.
	Controls func(actorID string) bool
}

func (i Identity) mayMutate(actorID string) bool {
	if i.IsGM {
		return true
	}
	return i.Controls != nil && i.Controls(actorID)
}

// Mutator applies effect and template mutations either directly or through
// the relay, depending on who the local user is.
type Mutator struct {
	store    store.Store
	relay    Relay
	identity Identity
}

// NewMutator wires a mutator for the given local identity. relay may be nil
// on the authoritative session.
func NewMutator(s store.Store, relay Relay, identity Identity) *Mutator {
	return &Mutator{store: s, relay: relay, identity: identity}
}

// Identity returns the local user the mutator authorizes as.
func (m *Mutator) Identity() Identity { return m.identity }

// CreateEffects creates effects on an actor, relaying when the local user
// lacks permission. Relayed creations return no effects: the authoritative
// side assigns ids.
func (m *Mutator) CreateEffects(ctx context.Context, actorID string, effects []game.Effect) (Outcome, []game.Effect, error) {
	if m.identity.mayMutate(actorID) {
		created, err := m.store.CreateEffects(ctx, actorID, effects)
		if err != nil {
			return "", nil, err
		}
		return OutcomeApplied, created, nil
	}
	err := m.send(ctx, Command{Kind: KindCreateEffects, ActorID: actorID, Effects: effects})
	if err != nil {
		return "", nil, err
	}
	return OutcomeRelayed, nil, nil
}

// UpdateEffect updates a single effect, relaying when needed.
func (m *Mutator) UpdateEffect(ctx context.Context, actorID string, effect game.Effect) (Outcome, error) {
	if m.identity.mayMutate(actorID) {
		effect.ActorID = actorID
		if err := m.store.UpdateEffect(ctx, effect); err != nil {
			return "", err
		}
		return OutcomeApplied, nil
	}
	ef := effect
	if err := m.send(ctx, Command{Kind: KindUpdateEffect, ActorID: actorID, Effect: &ef}); err != nil {
		return "", err
	}
	return OutcomeRelayed, nil
}

// DeleteEffects removes effects from an actor, relaying when needed.
func (m *Mutator) DeleteEffects(ctx context.Context, actorID string, effectIDs []string) (Outcome, error) {
	if m.identity.mayMutate(actorID) {
		if err := m.store.DeleteEffects(ctx, actorID, effectIDs); err != nil {
			return "", err
		}
		return OutcomeApplied, nil
	}
	err := m.send(ctx, Command{Kind: KindDeleteEffects, ActorID: actorID, EffectIDs: effectIDs})
	if err != nil {
		return "", err
	}
	return OutcomeRelayed, nil
}

// DeleteTemplate removes a measured template. Templates belong to the scene
// rather than an actor, so only the game master applies directly.
func (m *Mutator) DeleteTemplate(ctx context.Context, templateID string) (Outcome, error) {
	if m.identity.IsGM {
		if err := m.store.DeleteTemplate(ctx, templateID); err != nil {
			return "", err
		}
		return OutcomeApplied, nil
	}
	if err := m.send(ctx, Command{Kind: KindDeleteTemplate, TemplateID: templateID}); err != nil {
		return "", err
	}
	return OutcomeRelayed, nil
}

func (m *Mutator) send(ctx context.Context, cmd Command) error {
	if m.relay == nil {
		return apperrors.New(apperrors.CodeMutationDenied,
			fmt.Sprintf("user %s may not mutate actor %s and no relay is available", m.identity.UserID, cmd.ActorID))
	}
	cmdID, err := id.NewID()
	if err != nil {
		return fmt.Errorf("generate command id: %w", err)
	}
	cmd.ID = cmdID
	if err := m.relay.Send(ctx, cmd); err != nil {
		return fmt.Errorf("relay %s command: %w", cmd.Kind, err)
	}
	return nil
}

// Applier executes relayed commands on the authoritative session.
type Applier struct {
	store store.Store
}

// NewApplier wires the authoritative-side command executor.
func NewApplier(s store.Store) *Applier {
	return &Applier{store: s}
}

// Apply runs a relayed command against the store.
func (a *Applier) Apply(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case KindCreateEffects:
		_, err := a.store.CreateEffects(ctx, cmd.ActorID, cmd.Effects)
		return err
	case KindUpdateEffect:
		if cmd.Effect == nil {
			return apperrors.New(apperrors.CodeMutationDenied, "update-effect command carries no effect")
		}
		effect := *cmd.Effect
		if effect.ActorID == "" {
			effect.ActorID = cmd.ActorID
		}
		return a.store.UpdateEffect(ctx, effect)
	case KindDeleteEffects:
		return a.store.DeleteEffects(ctx, cmd.ActorID, cmd.EffectIDs)
	case KindDeleteTemplate:
		return a.store.DeleteTemplate(ctx, cmd.TemplateID)
	}
	return apperrors.New(apperrors.CodeMutationDenied,
		fmt.Sprintf("unknown command kind %q", cmd.Kind))
}
