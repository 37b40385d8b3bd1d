package sustain

import (
	"strings"

	"github.com/wawful/spell-sustainer/internal/game"
	"github.com/wawful/spell-sustainer/internal/platform/slug"
	"github.com/wawful/spell-sustainer/internal/spell"
)

// BuildInput carries everything the record builders need. The builders are
// pure: persistence and ordering (sustaining record before any child) are
// the engine's responsibility.
type BuildInput struct {
	Config    spell.Config
	Spell     game.Item
	Caster    game.Actor
	CastLevel int
	Targets   []game.TargetRef
	// ChatID is the originating chat event, stamped for idempotence.
	ChatID string
}

// buildSustainRecord assembles the caster-held sustaining record.
func buildSustainRecord(in BuildInput) game.Effect {
	cfg := in.Config

	name := cfg.Sustain.Name
	if name == "" {
		name = "Sustaining: " + cfg.Name
	}

	flags := game.SustainFlags{
		SpellName:       cfg.Name,
		SpellRef:        in.Spell.Ref,
		CastLevel:       in.CastLevel,
		Category:        cfg.Category,
		MaxRounds:       cfg.MaxRounds(),
		CreatedFromChat: in.ChatID,
		Targets:         in.Targets,
	}
	if cfg.Category == game.CategorySelfAura {
		flags.AuraCounter = 1
	}
	if cfg.Template != nil {
		spec := cfg.Template.Spec
		flags.Template = &spec
	}

	return game.Effect{
		ActorID:        in.Caster.ID,
		Slug:           slug.Sustaining(cfg.Name),
		Name:           substitute(name, in, game.TargetRef{}),
		Description:    substitute(cfg.Sustain.Description, in, game.TargetRef{}),
		DurationRounds: 1,
		CastLevel:      in.CastLevel,
		Sustain:        &flags,
	}
}

// buildChildEffects assembles the child records for every target matched by
// an effect template. parentRef must be the durable reference of the already
// persisted sustaining record.
func buildChildEffects(in BuildInput, parentRef string) []game.Effect {
	targets := in.Targets
	if in.Config.Category == game.CategorySelfAura {
		// Aura spells carry no explicit targets; the caster is the single
		// implicit ally target.
		targets = []game.TargetRef{{
			ActorID:      in.Caster.ID,
			Name:         in.Caster.Name,
			Relationship: game.RelationshipAlly,
		}}
	}

	var children []game.Effect
	for _, tmpl := range in.Config.Effects {
		for _, target := range targets {
			isCaster := target.ActorID == in.Caster.ID
			if !tmpl.Target.Matches(target.Relationship, isCaster) {
				continue
			}
			effectSlug := tmpl.Slug
			if effectSlug == "" {
				effectSlug = slug.Make(tmpl.Name)
			}
			children = append(children, game.Effect{
				ActorID:        target.ActorID,
				Slug:           effectSlug,
				Name:           substitute(tmpl.Name, in, target),
				Description:    substitute(tmpl.Description, in, target),
				DurationRounds: tmpl.Duration.Rounds(),
				CastLevel:      in.CastLevel,
				SustainedBy:    parentRef,
			})
		}
	}
	return children
}

// buildAuraBadge assembles the caster-held badge record whose displayed
// value tracks the derived aura size.
func buildAuraBadge(in BuildInput, parentRef string) game.Effect {
	size := 0
	if in.Config.Aura != nil {
		size = in.Config.Aura.Size(1)
	}
	return game.Effect{
		ActorID:        in.Caster.ID,
		Slug:           slug.AuraBadge(in.Config.Name),
		Name:           in.Config.Name + " Aura",
		Description:    substitute(in.Config.Sustain.Description, in, game.TargetRef{}),
		DurationRounds: in.Config.Sustain.Duration.Rounds(),
		CastLevel:      in.CastLevel,
		BadgeValue:     size,
		SustainedBy:    parentRef,
	}
}

// substitute expands the {{caster}}, {{target}}, and {{spell}} placeholders.
func substitute(text string, in BuildInput, target game.TargetRef) string {
	r := strings.NewReplacer(
		"{{caster}}", in.Caster.Name,
		"{{target}}", target.Name,
		"{{spell}}", in.Config.Name,
	)
	return r.Replace(text)
}
