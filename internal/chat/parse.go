package chat

import (
	"regexp"
	"strconv"
	"strings"
)

// IsInitialSpellCast reports whether the message plausibly announces a fresh
// spell cast. Re-broadcast sustain notices, damage rolls, and saving-throw
// results are filtered out.
func IsInitialSpellCast(m Message) bool {
	if m.SustainNotice {
		return false
	}

	isCast := m.ContextType == ContextSpellCast ||
		(m.ContextType == ContextSpell && m.ContextAction == ActionCast) ||
		// Initial casts sometimes arrive with no context type at all, only
		// a spell origin.
		(m.OriginKind == "spell" && m.ContextType == "")
	if !isCast {
		return false
	}

	if hasDamageRoll(m.Rolls) {
		return false
	}
	if m.ContextType == ContextSavingThrow || m.ModifierMessage {
		return false
	}
	return true
}

// hasDamageRoll recognizes damage formulas: dice notation with arithmetic
// modifiers but no d20 (a d20 would be an attack or save).
func hasDamageRoll(rolls []Roll) bool {
	for _, roll := range rolls {
		f := roll.Formula
		if strings.Contains(f, "d") &&
			(strings.Contains(f, "+") || strings.Contains(f, "-")) &&
			!strings.Contains(f, "d20") {
			return true
		}
	}
	return false
}

// ParseSaveResult extracts a saving-throw result from a message when the
// speaker is one of the expected targets. Returns false for anything that is
// not a valid save result for a known target; that is never an error.
//
// The outcome is read in priority order: the structured outcome field, then
// literal textual markers in the rendered content, then degree-of-success
// CSS classes.
func ParseSaveResult(m Message, expected map[string]string) (SaveResult, bool) {
	if m.ContextType != ContextSavingThrow && !m.ModifierMessage {
		return SaveResult{}, false
	}
	if m.SpeakerActorID == "" {
		return SaveResult{}, false
	}
	name, ok := expected[m.SpeakerActorID]
	if !ok {
		return SaveResult{}, false
	}

	outcome := m.Outcome
	if outcome == "" {
		outcome = outcomeFromText(m.Content)
	}
	if outcome == "" {
		outcome = outcomeFromMarkup(m.Content)
	}
	if outcome == "" {
		return SaveResult{}, false
	}

	return SaveResult{ActorID: m.SpeakerActorID, ActorName: name, Outcome: outcome}, true
}

func outcomeFromText(content string) SaveOutcome {
	text := strings.ToLower(content)
	switch {
	case strings.Contains(text, "critical success"), strings.Contains(text, "critically succeeded"):
		return OutcomeCriticalSuccess
	case strings.Contains(text, "critical failure"), strings.Contains(text, "critically failed"):
		return OutcomeCriticalFailure
	case strings.Contains(text, "success"), strings.Contains(text, "succeeded"):
		return OutcomeSuccess
	case strings.Contains(text, "failure"), strings.Contains(text, "failed"):
		return OutcomeFailure
	}
	return ""
}

func outcomeFromMarkup(content string) SaveOutcome {
	switch {
	case strings.Contains(content, "degree-of-success-3"):
		return OutcomeCriticalSuccess
	case strings.Contains(content, "degree-of-success-2"):
		return OutcomeSuccess
	case strings.Contains(content, "degree-of-success-1"):
		return OutcomeFailure
	case strings.Contains(content, "degree-of-success-0"):
		return OutcomeCriticalFailure
	}
	return ""
}

var castRankPattern = regexp.MustCompile(`data-cast-rank="(\d+)"`)

const itemLevelPrefix = "item:level:"

// CastLevel recovers the level a spell was cast at: the data-cast-rank
// attribute in the rendered content, then the item:level roll option, then
// the structured cast rank, then the spell item's own level. Defaults to 1.
func CastLevel(m Message, itemLevel int) int {
	if match := castRankPattern.FindStringSubmatch(m.Content); match != nil {
		if rank, err := strconv.Atoi(match[1]); err == nil && rank > 0 {
			return rank
		}
	}
	for _, option := range m.Options {
		if rest, ok := strings.CutPrefix(option, itemLevelPrefix); ok {
			if level, err := strconv.Atoi(rest); err == nil && level > 0 {
				return level
			}
		}
	}
	if m.CastRank > 0 {
		return m.CastRank
	}
	if itemLevel > 0 {
		return itemLevel
	}
	return 1
}
