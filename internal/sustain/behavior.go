package sustain

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wawful/spell-sustainer/internal/game"
	"github.com/wawful/spell-sustainer/internal/platform/slug"
	"github.com/wawful/spell-sustainer/internal/spell"
)

// Sustain advances a sustaining record by one sustain action. ref is the
// record's durable reference. Returns false on any rejected path; rejections
// surface as user notices, never as faults.
func (e *Engine) Sustain(ctx context.Context, ref string) bool {
	ctx, span := e.tracer.Start(ctx, "sustain.advance",
		trace.WithAttributes(attribute.String("record.ref", ref)))
	defer span.End()

	record, err := e.store.EffectByRef(ctx, ref)
	if err != nil {
		e.notifier.Notify(Notice{
			Level:   LevelWarning,
			Message: "that spell is no longer being sustained",
		})
		return false
	}
	if record.Sustain == nil {
		e.notifier.Notify(Notice{
			Level:   LevelWarning,
			Message: fmt.Sprintf("%s is not a sustaining effect", record.Name),
		})
		return false
	}
	flags := *record.Sustain
	span.SetAttributes(attribute.String("spell.name", flags.SpellName))

	cfg, cfgOK := e.spells.Lookup(flags.SpellName)

	// Elapsed rounds start at 1 on the cast; MaxRounds counts that round,
	// so a spell with max N accepts N-1 sustains and then rejects.
	if flags.Category != game.CategorySelfAura && record.DurationRounds >= flags.MaxRounds {
		e.notifier.Notify(Notice{
			Level:   LevelWarning,
			ActorID: record.ActorID,
			Message: fmt.Sprintf("%s cannot be sustained past %d rounds", flags.SpellName, flags.MaxRounds),
		})
		return false
	}

	// Templates never allow a second sustain in one turn; the other
	// categories only when configuration says so.
	allowMultiple := cfgOK && cfg.AllowMultiplePerTurn &&
		flags.Category != game.CategoryMeasuredTemplate
	if flags.SustainedThisTurn && !allowMultiple {
		e.notifier.Notify(Notice{
			Level:   LevelWarning,
			ActorID: record.ActorID,
			Message: fmt.Sprintf("%s was already sustained this turn", flags.SpellName),
		})
		return false
	}

	var ok bool
	switch flags.Category {
	case game.CategorySelfAura:
		ok = e.sustainAura(ctx, record, cfg, cfgOK)
	case game.CategoryMeasuredTemplate:
		ok = e.sustainTemplate(ctx, record, cfg, cfgOK)
	default:
		ok = e.sustainStandard(ctx, record)
	}
	if !ok {
		return false
	}

	caster, err := e.store.Actor(ctx, record.ActorID)
	if err != nil {
		caster = game.Actor{ID: record.ActorID, Name: record.ActorID}
	}
	e.emitSustainNotice(caster, flags)
	return true
}

// sustainStandard increments elapsed rounds by one, capped at the maximum.
func (e *Engine) sustainStandard(ctx context.Context, record game.Effect) bool {
	flags := *record.Sustain
	if record.DurationRounds < flags.MaxRounds {
		record.DurationRounds++
	}
	flags.SustainedThisTurn = true
	record.Sustain = &flags

	if _, err := e.mutator.UpdateEffect(ctx, record.ActorID, record); err != nil {
		e.logger.Printf("sustain %s failed: %v", flags.SpellName, err)
		return false
	}
	return true
}

// sustainAura grows the aura magnitude once per turn and syncs the granted
// badge. A second sustain in the same turn is a harmless no-op, never a
// double increment.
func (e *Engine) sustainAura(ctx context.Context, record game.Effect, cfg spell.Config, cfgOK bool) bool {
	flags := *record.Sustain
	if flags.SustainedThisTurn {
		return true
	}

	var aura *spell.AuraConfig
	if cfgOK {
		aura = cfg.Aura
	}
	if aura != nil && aura.MaxCounter > 0 && flags.AuraCounter >= aura.MaxCounter {
		e.notifier.Notify(Notice{
			Level:   LevelWarning,
			ActorID: record.ActorID,
			Message: fmt.Sprintf("%s's aura is already at its maximum size", flags.SpellName),
		})
		return false
	}

	flags.AuraCounter++
	flags.SustainedThisTurn = true
	record.Sustain = &flags

	if aura != nil {
		size := aura.Size(flags.AuraCounter)
		record.Description = fmt.Sprintf("The %s aura now extends %d feet.", flags.SpellName, size)
		e.syncAuraBadge(ctx, record, size)
	}

	if _, err := e.mutator.UpdateEffect(ctx, record.ActorID, record); err != nil {
		e.logger.Printf("sustain aura %s failed: %v", flags.SpellName, err)
		return false
	}
	return true
}

// syncAuraBadge mirrors the derived aura size onto the caster's badge record.
func (e *Engine) syncAuraBadge(ctx context.Context, record game.Effect, size int) {
	effects, err := e.store.EffectsFor(ctx, record.ActorID)
	if err != nil {
		e.logger.Printf("badge sync for %s failed: %v", record.Sustain.SpellName, err)
		return
	}
	wantSlug := slug.AuraBadge(record.Sustain.SpellName)
	parentRef := record.Ref()
	for _, badge := range effects {
		if badge.Slug != wantSlug || badge.SustainedBy != parentRef {
			continue
		}
		badge.BadgeValue = size
		if _, err := e.mutator.UpdateEffect(ctx, badge.ActorID, badge); err != nil {
			e.logger.Printf("badge update for %s failed: %v", record.Sustain.SpellName, err)
		}
		return
	}
}
