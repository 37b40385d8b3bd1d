// Package slug normalizes spell names into stable identifiers.
package slug

import "strings"

// SustainingPrefix marks sustaining records in an actor's effect list.
const SustainingPrefix = "sustaining-"

// Make lowercases name and collapses every run of non-alphanumeric
// characters into a single hyphen, trimming leading and trailing hyphens.
// "Forbidding Ward" becomes "forbidding-ward".
func Make(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	pendingHyphen := false
	for _, r := range strings.ToLower(name) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !alnum {
			if b.Len() > 0 {
				pendingHyphen = true
			}
			continue
		}
		if pendingHyphen {
			b.WriteByte('-')
			pendingHyphen = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Sustaining returns the slug of the sustaining record for a spell name.
func Sustaining(name string) string {
	return SustainingPrefix + Make(name)
}

// IsSustaining reports whether s follows the sustaining-record convention.
func IsSustaining(s string) bool {
	return strings.HasPrefix(s, SustainingPrefix)
}

// AuraBadge returns the slug of the generated badge record for an aura
// spell. The suffix keeps it distinct from any configured child effect slug;
// the config loader rejects collisions.
func AuraBadge(name string) string {
	return Make(name) + "-aura-badge"
}

// SpellFromSustaining strips the sustaining prefix, returning the spell slug.
func SpellFromSustaining(s string) string {
	return strings.TrimPrefix(s, SustainingPrefix)
}
