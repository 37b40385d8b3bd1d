// Package game defines the entity vocabulary shared by the sustainer core:
// actors, tokens, effect records, and measured templates, mirroring the host
// platform's document model as far as the core needs it.
package game

import (
	"fmt"
	"math"
	"strings"
)

// Disposition classifies a canvas token relative to the party.
type Disposition int

const (
	DispositionHostile  Disposition = -1
	DispositionNeutral  Disposition = 0
	DispositionFriendly Disposition = 1
)

// Relationship describes a spell target relative to the caster.
type Relationship string

const (
	RelationshipAlly    Relationship = "ally"
	RelationshipEnemy   Relationship = "enemy"
	RelationshipNeutral Relationship = "neutral"
)

// Category is the closed set of sustained-spell categories. The spell config
// loader is the only place that converts external strings into this set.
type Category string

const (
	CategorySaveDependent    Category = "save-dependent"
	CategoryImmediateEffects Category = "immediate-effects"
	CategorySelfAura         Category = "self-aura"
	CategoryMeasuredTemplate Category = "measured-template"
)

// TemplateShape is the closed set of measured-template shapes.
type TemplateShape string

const (
	ShapeBurst     TemplateShape = "burst"
	ShapeEmanation TemplateShape = "emanation"
	ShapeCone      TemplateShape = "cone"
	ShapeLine      TemplateShape = "line"
)

// Actor is a world or token actor.
type Actor struct {
	ID   string
	Name string
}

// Ref returns the actor's durable reference.
func (a Actor) Ref() string { return "Actor." + a.ID }

// Item is an actor-owned document, resolvable by durable reference. The core
// only cares about items of the "spell" kind.
type Item struct {
	Ref         string
	Name        string
	Kind        string
	Level       int
	Description string
}

// ItemKindSpell identifies spell items.
const ItemKindSpell = "spell"

// Point is a canvas position in grid units.
type Point struct {
	X float64
	Y float64
}

// Distance returns the straight-line distance between two points.
func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Token is a placed actor on a scene.
type Token struct {
	ID          string
	SceneID     string
	ActorID     string
	Disposition Disposition
	Position    Point
}

// TargetRef records one target of a sustained spell.
type TargetRef struct {
	ActorID      string       `json:"actor_id"`
	Name         string       `json:"name"`
	Relationship Relationship `json:"relationship"`
}

// TemplateSpec carries the shape parameters a measured-template spell places.
type TemplateSpec struct {
	Shape    TemplateShape `json:"shape"`
	Distance float64       `json:"distance"`
	Angle    float64       `json:"angle,omitempty"`
	Width    float64       `json:"width,omitempty"`
}

// SustainFlags is the payload a sustaining record carries on the caster.
type SustainFlags struct {
	SpellName string   `json:"spell_name"`
	SpellRef  string   `json:"spell_ref"`
	CastLevel int      `json:"cast_level"`
	Category  Category `json:"category"`
	// MaxRounds caps elapsed rounds for non-aura categories.
	MaxRounds int `json:"max_rounds"`
	// AuraCounter is the monotonically non-decreasing magnitude counter;
	// meaningful only for the self-aura category.
	AuraCounter int `json:"aura_counter,omitempty"`
	// SustainedThisTurn blocks a second advance within the same game turn.
	SustainedThisTurn bool `json:"sustained_this_turn"`
	// CreatedFromChat is the originating chat event id, used for idempotent
	// creation and for deriving follow-up sustain notices.
	CreatedFromChat string      `json:"created_from_chat"`
	Targets         []TargetRef `json:"targets,omitempty"`
	// Template links measured-template records to their placed shape.
	Template   *TemplateSpec `json:"template,omitempty"`
	TemplateID string        `json:"template_id,omitempty"`
}

// Effect is an effect-like record held by an actor. A record is either a
// sustaining record (Sustain set, held by the caster), a child record
// (SustainedBy set, held by a target), or a plain badge/granted effect.
type Effect struct {
	ID             string
	ActorID        string
	Slug           string
	Name           string
	Description    string
	DurationRounds int
	CastLevel      int
	// BadgeValue mirrors the aura magnitude on granted badge effects.
	BadgeValue int
	// SustainedBy is a weak back-reference to the owning sustaining record's
	// durable reference. It may resolve to nothing once the parent is gone;
	// the cleanup coordinator makes the relation eventually consistent.
	SustainedBy string
	Sustain     *SustainFlags
}

// Ref returns the effect's durable reference.
func (e Effect) Ref() string { return EffectRef(e.ActorID, e.ID) }

// EffectRef builds the durable reference for an effect record.
func EffectRef(actorID, effectID string) string {
	return fmt.Sprintf("Actor.%s.Effect.%s", actorID, effectID)
}

// ParseEffectRef splits a durable effect reference into actor and effect ids.
func ParseEffectRef(ref string) (actorID, effectID string, ok bool) {
	parts := strings.Split(ref, ".")
	if len(parts) != 4 || parts[0] != "Actor" || parts[2] != "Effect" {
		return "", "", false
	}
	if parts[1] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[1], parts[3], true
}

// IsSustaining reports whether the record is a sustaining record.
func (e Effect) IsSustaining() bool { return e.Sustain != nil }

// Template is a placed area-effect shape on a scene, tagged with the durable
// reference of the sustaining record that owns it.
type Template struct {
	ID          string
	SceneID     string
	Spec        TemplateSpec
	Position    Point
	SustainedBy string
}
