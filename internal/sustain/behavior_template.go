package sustain

import (
	"context"
	"fmt"

	"github.com/wawful/spell-sustainer/internal/game"
	"github.com/wawful/spell-sustainer/internal/spell"
	"github.com/wawful/spell-sustainer/internal/template"
)

// castTemplate handles the initial cast of a measured-template spell: the
// sustaining record is created first with no placed template, then control
// passes to an interactive placement bounded by the spell's initial range.
func (e *Engine) castTemplate(ctx context.Context, in BuildInput) {
	parent, err := e.createSustain(ctx, in)
	if err != nil {
		e.logger.Printf("create template sustain for %s failed: %v", in.Config.Name, err)
		return
	}
	if parent.ID == "" {
		return
	}

	constraints, sceneID := e.placementBounds(ctx, in.Caster.ID, in.Config.Template, nil)
	spec := game.TemplateSpec{}
	if in.Config.Template != nil {
		spec = in.Config.Template.Spec
	}
	ref := parent.Ref()
	e.placements.Begin(ref, constraints, e.placementDone(ref, spec, sceneID, in.Config.Name))
}

// sustainTemplate relocates the placed template under movement constraints
// and advances the round counter. The increment happens with the placement
// request, not gated on its completion: placement is fire-and-forget once
// started.
func (e *Engine) sustainTemplate(ctx context.Context, record game.Effect, cfg spell.Config, cfgOK bool) bool {
	flags := *record.Sustain

	var tplCfg *spell.TemplateConfig
	if cfgOK {
		tplCfg = cfg.Template
	}

	// Remember where the template stood before deleting it; the relocation
	// may not move farther than the configured range from there.
	var previous *game.Point
	if flags.TemplateID != "" {
		if placed, err := e.store.Template(ctx, flags.TemplateID); err == nil {
			pos := placed.Position
			previous = &pos
		}
		if _, err := e.mutator.DeleteTemplate(ctx, flags.TemplateID); err != nil {
			e.logger.Printf("delete old template for %s failed: %v", flags.SpellName, err)
		}
	}

	if record.DurationRounds < flags.MaxRounds {
		record.DurationRounds++
	}
	flags.SustainedThisTurn = true
	flags.TemplateID = ""
	record.Sustain = &flags
	if _, err := e.mutator.UpdateEffect(ctx, record.ActorID, record); err != nil {
		e.logger.Printf("sustain template %s failed: %v", flags.SpellName, err)
		return false
	}

	constraints, sceneID := e.placementBounds(ctx, record.ActorID, tplCfg, previous)
	spec := game.TemplateSpec{}
	if flags.Template != nil {
		spec = *flags.Template
	}
	ref := record.Ref()
	e.placements.Begin(ref, constraints, e.placementDone(ref, spec, sceneID, flags.SpellName))
	return true
}

// placementBounds derives the range constraints for a placement: maximum
// distance from the caster's current token, intersected with the movement
// range from the previous template position when relocating.
func (e *Engine) placementBounds(ctx context.Context, casterID string, tplCfg *spell.TemplateConfig, previous *game.Point) (template.Constraints, string) {
	var c template.Constraints
	var sceneID string
	if token, err := e.store.TokenFor(ctx, casterID); err == nil {
		c.CasterPosition = token.Position
		sceneID = token.SceneID
		if tplCfg != nil {
			c.MaxFromCaster = tplCfg.InitialRange
		}
	}
	if previous != nil && tplCfg != nil && tplCfg.SustainMoveRange > 0 {
		c.PreviousPosition = previous
		c.MaxFromPrevious = tplCfg.SustainMoveRange
	}
	return c, sceneID
}

// placementDone links a resolved placement to its sustaining record: the
// template is tagged with the record's reference and the record stores the
// template id, or neither survives (best-effort single attempt).
func (e *Engine) placementDone(ref string, spec game.TemplateSpec, sceneID, spellName string) func(template.Result) {
	return func(r template.Result) {
		if r.Canceled {
			return
		}
		if r.TimedOut {
			e.notifier.Notify(Notice{
				Level:   LevelWarning,
				Message: fmt.Sprintf("%s: template placement timed out; the area was not placed", spellName),
			})
			return
		}

		ctx := context.Background()
		record, err := e.store.EffectByRef(ctx, ref)
		if err != nil || record.Sustain == nil {
			// The sustaining record died while the user was placing.
			return
		}

		placed, err := e.store.CreateTemplate(ctx, game.Template{
			SceneID:     sceneID,
			Spec:        spec,
			Position:    r.Position,
			SustainedBy: ref,
		})
		if err != nil {
			e.logger.Printf("place template for %s failed: %v", spellName, err)
			return
		}

		flags := *record.Sustain
		flags.TemplateID = placed.ID
		record.Sustain = &flags
		if _, err := e.mutator.UpdateEffect(ctx, record.ActorID, record); err != nil {
			e.logger.Printf("link template for %s failed: %v", spellName, err)
			// Keep the link atomic for observers: without the record side,
			// the template side must not survive either.
			if delErr := e.store.DeleteTemplate(ctx, placed.ID); delErr != nil {
				e.logger.Printf("unlink orphan template %s failed: %v", placed.ID, delErr)
			}
		}
	}
}
