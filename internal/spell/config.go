// Package spell supplies per-spell sustain configuration. Only spells with a
// configuration participate in sustain tracking, and the loader is the single
// place external string tags are converted into the closed enums the engine
// dispatches on.
package spell

import (
	"github.com/wawful/spell-sustainer/internal/chat"
	"github.com/wawful/spell-sustainer/internal/game"
)

// RequirementType is the closed set of target requirement kinds.
type RequirementType string

const (
	RequireNone     RequirementType = "none"
	RequireSelfOnly RequirementType = "self-only"
	RequireExact    RequirementType = "exact"
)

// RelationCount pins an exact count for one target relationship.
type RelationCount struct {
	Relationship game.Relationship
	Count        int
}

// TargetRequirement describes what a spell must be targeted at.
type TargetRequirement struct {
	Type  RequirementType
	Count int
	// Relations optionally split Count into per-relationship requirements,
	// e.g. 1 ally + 1 enemy.
	Relations []RelationCount
}

// Selector is who an effect template applies to.
type Selector string

const (
	SelectSelf    Selector = "self"
	SelectAlly    Selector = "ally"
	SelectEnemy   Selector = "enemy"
	SelectNeutral Selector = "neutral"
	SelectAll     Selector = "all"
)

// Matches reports whether a target with the given relationship (relative to
// the caster) is covered by the selector. The caster itself matches "self".
func (s Selector) Matches(rel game.Relationship, isCaster bool) bool {
	switch s {
	case SelectAll:
		return true
	case SelectSelf:
		return isCaster
	case SelectAlly:
		return rel == game.RelationshipAlly
	case SelectEnemy:
		return rel == game.RelationshipEnemy
	case SelectNeutral:
		return rel == game.RelationshipNeutral
	}
	return false
}

// DurationUnit is the closed set of duration units a config may declare.
type DurationUnit string

const (
	UnitRounds  DurationUnit = "rounds"
	UnitMinutes DurationUnit = "minutes"
	UnitHours   DurationUnit = "hours"
	UnitDays    DurationUnit = "days"
)

// Rounds per duration unit.
const (
	roundsPerMinute = 10
	roundsPerHour   = 600
	roundsPerDay    = 14400
)

// Duration is a declared spell duration.
type Duration struct {
	Value int
	Unit  DurationUnit
}

// Rounds converts the duration to an equivalent round count.
func (d Duration) Rounds() int {
	switch d.Unit {
	case UnitMinutes:
		return d.Value * roundsPerMinute
	case UnitHours:
		return d.Value * roundsPerHour
	case UnitDays:
		return d.Value * roundsPerDay
	default:
		return d.Value
	}
}

// SaveConfig describes the saving throw a save-dependent spell forces.
type SaveConfig struct {
	// Type names the save (will, fortitude, reflex); informational.
	Type string
	// ApplyOn lists the outcomes that put an effect on the target.
	// Defaults to failure and critical failure.
	ApplyOn []chat.SaveOutcome
}

// Applies reports whether outcome is in the apply set.
func (s SaveConfig) Applies(outcome chat.SaveOutcome) bool {
	for _, o := range s.ApplyOn {
		if o == outcome {
			return true
		}
	}
	return false
}

// EffectTemplate describes one child effect record the spell grants.
type EffectTemplate struct {
	Target      Selector
	Name        string
	Slug        string
	Description string
	Duration    Duration
}

// SustainingTemplate describes the sustaining record placed on the caster.
type SustainingTemplate struct {
	Name        string
	Description string
	// MaxRounds caps how long the spell can be sustained. Zero means derive
	// from Duration.
	MaxRounds int
	Duration  Duration
}

// AuraConfig parameterizes self-aura growth.
type AuraConfig struct {
	// BaseSize is the aura radius before any sustain, in grid units.
	BaseSize int
	// Increment is added per magnitude step.
	Increment int
	// MaxCounter caps the magnitude counter.
	MaxCounter int
}

// Size returns the derived aura size for a counter value.
func (a AuraConfig) Size(counter int) int {
	return a.BaseSize + counter*a.Increment
}

// TemplateConfig parameterizes measured-template placement.
type TemplateConfig struct {
	Spec game.TemplateSpec
	// InitialRange is the maximum distance from the caster at placement.
	InitialRange float64
	// SustainMoveRange is the maximum distance a relocated template may move
	// from its previous position.
	SustainMoveRange float64
}

// Config is a spell's complete sustain configuration.
type Config struct {
	Name     string
	Category game.Category
	Targets  TargetRequirement
	Save     *SaveConfig
	Effects  []EffectTemplate
	Sustain  SustainingTemplate
	Aura     *AuraConfig
	Template *TemplateConfig
	// AllowMultiplePerTurn lets standard and aura spells accept a second
	// sustain in the same turn as a no-op. Never honored for templates.
	AllowMultiplePerTurn bool
}

// MaxRounds resolves the sustain cap: explicit value first, then the
// declared duration converted to rounds, then the conventional 10.
func (c Config) MaxRounds() int {
	if c.Sustain.MaxRounds > 0 {
		return c.Sustain.MaxRounds
	}
	if rounds := c.Sustain.Duration.Rounds(); rounds > 0 {
		return rounds
	}
	return 10
}

// Provider resolves spell configurations by name.
type Provider interface {
	// Lookup returns the configuration for a spell name. The match is
	// case-insensitive against the normalized slug. A miss means the spell
	// is not tracked.
	Lookup(name string) (Config, bool)
}

// Static is a fixed in-memory provider, keyed by normalized slug.
type Static map[string]Config

// Lookup implements Provider.
func (s Static) Lookup(name string) (Config, bool) {
	cfg, ok := s[normalize(name)]
	return cfg, ok
}
