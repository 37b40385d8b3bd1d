package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/wawful/spell-sustainer/internal/game"
	"github.com/wawful/spell-sustainer/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sustainer.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  ", nil); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestEffectRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.PutActor(ctx, game.Actor{ID: "caster", Name: "Ezren"}); err != nil {
		t.Fatalf("put actor: %v", err)
	}

	created, err := s.CreateEffects(ctx, "caster", []game.Effect{{
		Slug:           "sustaining-bless",
		Name:           "Sustaining: Bless",
		DurationRounds: 1,
		CastLevel:      3,
		Sustain: &game.SustainFlags{
			SpellName:       "Bless",
			Category:        game.CategorySelfAura,
			MaxRounds:       10,
			AuraCounter:     1,
			CreatedFromChat: "msg1",
			Targets:         []game.TargetRef{{ActorID: "caster", Name: "Ezren", Relationship: game.RelationshipAlly}},
		},
	}})
	if err != nil {
		t.Fatalf("create effects: %v", err)
	}

	eff, err := s.EffectByRef(ctx, created[0].Ref())
	if err != nil {
		t.Fatalf("effect by ref: %v", err)
	}
	if eff.Sustain == nil {
		t.Fatal("expected sustain flags to survive round trip")
	}
	if eff.Sustain.CreatedFromChat != "msg1" || eff.Sustain.AuraCounter != 1 {
		t.Fatalf("unexpected flags %+v", eff.Sustain)
	}
	if len(eff.Sustain.Targets) != 1 || eff.Sustain.Targets[0].Relationship != game.RelationshipAlly {
		t.Fatalf("unexpected targets %+v", eff.Sustain.Targets)
	}

	eff.DurationRounds = 2
	eff.Sustain.SustainedThisTurn = true
	if err := s.UpdateEffect(ctx, eff); err != nil {
		t.Fatalf("update effect: %v", err)
	}
	got, err := s.EffectByRef(ctx, eff.Ref())
	if err != nil {
		t.Fatalf("reload effect: %v", err)
	}
	if got.DurationRounds != 2 || !got.Sustain.SustainedThisTurn {
		t.Fatalf("update not persisted: %+v", got)
	}

	if err := s.DeleteEffects(ctx, "caster", []string{eff.ID}); err != nil {
		t.Fatalf("delete effects: %v", err)
	}
	if _, err := s.EffectByRef(ctx, eff.Ref()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestItemAndTokenRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	item := game.Item{Ref: "Item.spell1", Name: "Bless", Kind: game.ItemKindSpell, Level: 1}
	if err := s.PutItem(ctx, item); err != nil {
		t.Fatalf("put item: %v", err)
	}
	got, err := s.Item(ctx, "Item.spell1")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Name != "Bless" || got.Kind != game.ItemKindSpell {
		t.Fatalf("unexpected item %+v", got)
	}

	token := game.Token{ID: "t1", ActorID: "caster", Disposition: game.DispositionFriendly, Position: game.Point{X: 3, Y: 4}}
	if err := s.PutToken(ctx, token); err != nil {
		t.Fatalf("put token: %v", err)
	}
	tok, err := s.TokenFor(ctx, "caster")
	if err != nil {
		t.Fatalf("token for: %v", err)
	}
	if tok.Disposition != game.DispositionFriendly || tok.Position.Y != 4 {
		t.Fatalf("unexpected token %+v", tok)
	}
}

func TestTemplateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tpl, err := s.CreateTemplate(ctx, game.Template{
		SceneID:     "scene1",
		Spec:        game.TemplateSpec{Shape: game.ShapeBurst, Distance: 10},
		Position:    game.Point{X: 12, Y: 7},
		SustainedBy: "Actor.caster.Effect.e1",
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}

	got, err := s.Template(ctx, tpl.ID)
	if err != nil {
		t.Fatalf("get template: %v", err)
	}
	if got.Spec.Shape != game.ShapeBurst || got.SustainedBy != "Actor.caster.Effect.e1" {
		t.Fatalf("unexpected template %+v", got)
	}

	got.Position = game.Point{X: 20, Y: 20}
	if err := s.UpdateTemplate(ctx, got); err != nil {
		t.Fatalf("update template: %v", err)
	}
	if err := s.DeleteTemplate(ctx, got.ID); err != nil {
		t.Fatalf("delete template: %v", err)
	}
	if _, err := s.Template(ctx, got.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
