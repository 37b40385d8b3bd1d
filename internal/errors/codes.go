package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Spell configuration errors
	CodeSpellUnknownCategory    Code = "SPELL_UNKNOWN_CATEGORY"
	CodeSpellUnknownTargetType  Code = "SPELL_UNKNOWN_TARGET_TYPE"
	CodeSpellUnknownRelation    Code = "SPELL_UNKNOWN_RELATION"
	CodeSpellUnknownOutcome     Code = "SPELL_UNKNOWN_OUTCOME"
	CodeSpellUnknownDuration    Code = "SPELL_UNKNOWN_DURATION_UNIT"
	CodeSpellEmptyName          Code = "SPELL_EMPTY_NAME"
	CodeSpellMissingAura        Code = "SPELL_MISSING_AURA_PARAMS"
	CodeSpellMissingTemplate    Code = "SPELL_MISSING_TEMPLATE_PARAMS"
	CodeSpellTargetCountInvalid Code = "SPELL_TARGET_COUNT_INVALID"
	CodeSpellBadgeSlugCollision Code = "SPELL_BADGE_SLUG_COLLISION"

	// Dispatch errors
	CodeTargetRequirementUnmet Code = "TARGET_REQUIREMENT_UNMET"
	CodeDuplicateSustain       Code = "DUPLICATE_SUSTAIN"

	// Sustain command errors
	CodeSustainRoundsExhausted Code = "SUSTAIN_ROUNDS_EXHAUSTED"
	CodeSustainAlreadyThisTurn Code = "SUSTAIN_ALREADY_THIS_TURN"
	CodeSustainAuraAtMax       Code = "SUSTAIN_AURA_AT_MAX"
	CodeSustainNotSustaining   Code = "SUSTAIN_NOT_SUSTAINING"

	// Placement errors
	CodePlacementOutOfRange Code = "PLACEMENT_OUT_OF_RANGE"
	CodePlacementResolved   Code = "PLACEMENT_RESOLVED"

	// Authorization errors
	CodeMutationDenied Code = "MUTATION_DENIED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)
