// Package chat models the host platform's chat-style events and the loose
// parsing the sustainer applies to them: initial-cast detection, save-result
// extraction, and cast-level recovery.
package chat

// Context types the host ruleset stamps on chat messages.
const (
	ContextSpellCast   = "spell-cast"
	ContextSpell       = "spell"
	ContextSavingThrow = "saving-throw"
	ActionCast         = "cast"
)

// SaveOutcome is a degree of success on a saving throw.
type SaveOutcome string

const (
	OutcomeCriticalSuccess SaveOutcome = "criticalSuccess"
	OutcomeSuccess         SaveOutcome = "success"
	OutcomeFailure         SaveOutcome = "failure"
	OutcomeCriticalFailure SaveOutcome = "criticalFailure"
)

// Roll is a dice roll attached to a message.
type Roll struct {
	Formula string
}

// Message is an inbound chat-style event from the host event bus. Fields are
// loosely typed on the wire; absent values are zero.
type Message struct {
	ID string
	// UserID is the acting user's client id.
	UserID string
	// ContextType and ContextAction mirror the ruleset's context tag.
	ContextType   string
	ContextAction string
	// OriginRef and OriginKind identify the item the message originated from.
	OriginRef  string
	OriginKind string
	// SpeakerActorID and SpeakerAlias identify the acting entity.
	SpeakerActorID string
	SpeakerAlias   string
	Rolls          []Roll
	// Content is the rendered HTML body.
	Content string
	// Outcome is the structured save outcome, when the ruleset provides one.
	Outcome SaveOutcome
	// ModifierMessage marks modifier breakdown messages.
	ModifierMessage bool
	// SustainNotice marks re-broadcast sustain confirmations so they are
	// never mistaken for a fresh cast.
	SustainNotice bool
	// CastRank is the structured cast rank, when present.
	CastRank int
	// Options carries the ruleset's roll options (e.g. "item:level:3").
	Options []string
}

// SaveResult is a parsed saving-throw outcome for one expected target.
type SaveResult struct {
	ActorID   string
	ActorName string
	Outcome   SaveOutcome
}
