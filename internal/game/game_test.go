package game

import "testing"

func TestEffectRefRoundTrip(t *testing.T) {
	ref := EffectRef("caster1", "eff9")
	if ref != "Actor.caster1.Effect.eff9" {
		t.Fatalf("unexpected ref %q", ref)
	}
	actorID, effectID, ok := ParseEffectRef(ref)
	if !ok {
		t.Fatalf("expected ref %q to parse", ref)
	}
	if actorID != "caster1" || effectID != "eff9" {
		t.Fatalf("got (%q, %q)", actorID, effectID)
	}
}

func TestParseEffectRefRejectsMalformed(t *testing.T) {
	for _, ref := range []string{
		"",
		"Actor.a",
		"Actor.a.Item.b",
		"Scene.a.Effect.b",
		"Actor..Effect.b",
		"Actor.a.Effect.",
	} {
		if _, _, ok := ParseEffectRef(ref); ok {
			t.Fatalf("expected %q to be rejected", ref)
		}
	}
}

func TestDistance(t *testing.T) {
	if d := Distance(Point{0, 0}, Point{3, 4}); d != 5 {
		t.Fatalf("expected 5, got %v", d)
	}
}
