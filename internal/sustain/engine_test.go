package sustain

import (
	"context"
	"testing"
	"time"

	"github.com/wawful/spell-sustainer/internal/authz"
	"github.com/wawful/spell-sustainer/internal/bus"
	"github.com/wawful/spell-sustainer/internal/chat"
	"github.com/wawful/spell-sustainer/internal/game"
	"github.com/wawful/spell-sustainer/internal/platform/slug"
	"github.com/wawful/spell-sustainer/internal/spell"
	"github.com/wawful/spell-sustainer/internal/store/memory"
	"github.com/wawful/spell-sustainer/internal/template"
)

const (
	casterID = "caster"
	allyID   = "ally"
	enemyID  = "enemy"
	spellRef = "Actor.caster.Item.spell-1"
)

type stubTargets struct {
	ids []string
}

func (s stubTargets) SelectionFor(context.Context, string, string) ([]string, error) {
	return s.ids, nil
}

type chanNotifier struct {
	ch chan Notice
}

func (c chanNotifier) Notify(n Notice) { c.ch <- n }

type fixture struct {
	store   *memory.Store
	engine  *Engine
	notices *NoticeRecorder
}

// newFixture builds a GM-side engine over an in-memory store seeded with a
// caster, an ally, an enemy, and one spell item named spellName.
func newFixture(t *testing.T, cfg spell.Config, spellName string, targetIDs []string) *fixture {
	t.Helper()
	ctx := context.Background()
	s := memory.New(nil)

	for _, a := range []game.Actor{
		{ID: casterID, Name: "Seelah"},
		{ID: allyID, Name: "Amiri"},
		{ID: enemyID, Name: "Ghoul"},
	} {
		if err := s.PutActor(ctx, a); err != nil {
			t.Fatalf("PutActor: %v", err)
		}
	}
	for _, tok := range []game.Token{
		{ID: "t-caster", SceneID: "scene-1", ActorID: casterID, Disposition: game.DispositionFriendly, Position: game.Point{X: 0, Y: 0}},
		{ID: "t-ally", SceneID: "scene-1", ActorID: allyID, Disposition: game.DispositionFriendly, Position: game.Point{X: 5, Y: 0}},
		{ID: "t-enemy", SceneID: "scene-1", ActorID: enemyID, Disposition: game.DispositionHostile, Position: game.Point{X: 10, Y: 0}},
	} {
		if err := s.PutToken(ctx, tok); err != nil {
			t.Fatalf("PutToken: %v", err)
		}
	}
	if err := s.PutItem(ctx, game.Item{Ref: spellRef, Name: spellName, Kind: game.ItemKindSpell, Level: 1}); err != nil {
		t.Fatalf("PutItem: %v", err)
	}

	notices := &NoticeRecorder{}
	engine := New(Options{
		Store:       s,
		Spells:      spell.Static{slug.Make(spellName): cfg},
		Mutator:     authz.NewMutator(s, nil, authz.Identity{UserID: "gm", IsGM: true}),
		Placements:  template.NewManager(time.Second),
		Notifier:    notices,
		Targets:     stubTargets{ids: targetIDs},
		SaveTimeout: 2 * time.Second,
	})
	return &fixture{store: s, engine: engine, notices: notices}
}

// newFixtureWithBus is newFixture for the ward spell with the store
// publishing effect lifecycle events to b.
func newFixtureWithBus(t *testing.T, b *bus.Bus) *fixture {
	t.Helper()
	f := newFixture(t, wardConfig(), "Forbidding Ward", []string{allyID, enemyID})
	ctx := context.Background()

	s := memory.New(b)
	actors, err := f.store.Actors(ctx)
	if err != nil {
		t.Fatalf("Actors: %v", err)
	}
	for _, a := range actors {
		if err := s.PutActor(ctx, a); err != nil {
			t.Fatalf("PutActor: %v", err)
		}
		if token, err := f.store.TokenFor(ctx, a.ID); err == nil {
			if err := s.PutToken(ctx, token); err != nil {
				t.Fatalf("PutToken: %v", err)
			}
		}
	}
	item, err := f.store.Item(ctx, spellRef)
	if err != nil {
		t.Fatalf("Item: %v", err)
	}
	if err := s.PutItem(ctx, item); err != nil {
		t.Fatalf("PutItem: %v", err)
	}

	f.store = s
	f.engine = New(Options{
		Store:    s,
		Spells:   spell.Static{"forbidding-ward": wardConfig()},
		Mutator:  authz.NewMutator(s, nil, authz.Identity{UserID: "gm", IsGM: true}),
		Notifier: f.notices,
		Targets:  stubTargets{ids: []string{allyID, enemyID}},
	})
	return f
}

func castMessage(id string) chat.Message {
	return chat.Message{
		ID:             id,
		UserID:         "u1",
		ContextType:    chat.ContextSpellCast,
		OriginRef:      spellRef,
		OriginKind:     "spell",
		SpeakerActorID: casterID,
	}
}

func saveMessage(id, actorID string, outcome chat.SaveOutcome) chat.Message {
	return chat.Message{
		ID:             id,
		ContextType:    chat.ContextSavingThrow,
		SpeakerActorID: actorID,
		Outcome:        outcome,
	}
}

func wardConfig() spell.Config {
	return spell.Config{
		Name:     "Forbidding Ward",
		Category: game.CategoryImmediateEffects,
		Targets: spell.TargetRequirement{
			Type:  spell.RequireExact,
			Count: 2,
			Relations: []spell.RelationCount{
				{Relationship: game.RelationshipAlly, Count: 1},
				{Relationship: game.RelationshipEnemy, Count: 1},
			},
		},
		Effects: []spell.EffectTemplate{{
			Target:      spell.SelectAlly,
			Name:        "Forbidding Ward",
			Slug:        "forbidding-ward-protection",
			Description: "{{caster}} wards {{target}}.",
			Duration:    spell.Duration{Value: 1, Unit: spell.UnitMinutes},
		}},
		Sustain: spell.SustainingTemplate{
			Duration: spell.Duration{Value: 1, Unit: spell.UnitMinutes},
		},
	}
}

func (f *fixture) sustained(t *testing.T) []game.Effect {
	t.Helper()
	records, err := f.engine.ListSustained(context.Background(), casterID)
	if err != nil {
		t.Fatalf("ListSustained: %v", err)
	}
	return records
}

func TestDispatchCreatesRecordAndChildren(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, wardConfig(), "Forbidding Ward", []string{allyID, enemyID})

	f.engine.HandleChatMessage(ctx, castMessage("m1"))

	records := f.sustained(t)
	if len(records) != 1 {
		t.Fatalf("sustained records = %d, want 1", len(records))
	}
	record := records[0]
	if record.Slug != "sustaining-forbidding-ward" {
		t.Errorf("slug = %q", record.Slug)
	}
	if record.DurationRounds != 1 {
		t.Errorf("starting duration = %d, want 1", record.DurationRounds)
	}
	if record.Sustain.CreatedFromChat != "m1" {
		t.Errorf("originating chat = %q, want m1", record.Sustain.CreatedFromChat)
	}
	if got := record.Sustain.MaxRounds; got != 10 {
		t.Errorf("max rounds = %d, want 10 (1 minute)", got)
	}
	if len(record.Sustain.Targets) != 2 {
		t.Errorf("targets = %+v, want 2", record.Sustain.Targets)
	}

	// The ally-selector template matches only the ally.
	allyEffects, err := f.store.EffectsFor(ctx, allyID)
	if err != nil {
		t.Fatalf("EffectsFor ally: %v", err)
	}
	if len(allyEffects) != 1 {
		t.Fatalf("ally effects = %d, want 1", len(allyEffects))
	}
	child := allyEffects[0]
	if child.SustainedBy != record.Ref() {
		t.Errorf("back-reference = %q, want %q", child.SustainedBy, record.Ref())
	}
	if child.Description != "Seelah wards Amiri." {
		t.Errorf("description = %q", child.Description)
	}
	if child.DurationRounds != 10 {
		t.Errorf("child duration = %d, want 10", child.DurationRounds)
	}

	enemyEffects, _ := f.store.EffectsFor(ctx, enemyID)
	if len(enemyEffects) != 0 {
		t.Errorf("enemy effects = %d, want 0", len(enemyEffects))
	}
}

func TestDispatchIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, wardConfig(), "Forbidding Ward", []string{allyID, enemyID})

	// The bus may re-dispatch the same logical event; only one record may
	// come out, whether the replay shares the chat id or not.
	f.engine.HandleChatMessage(ctx, castMessage("m1"))
	f.engine.HandleChatMessage(ctx, castMessage("m1"))
	f.engine.HandleChatMessage(ctx, castMessage("m2"))

	if records := f.sustained(t); len(records) != 1 {
		t.Fatalf("sustained records = %d, want 1", len(records))
	}
	allyEffects, _ := f.store.EffectsFor(ctx, allyID)
	if len(allyEffects) != 1 {
		t.Errorf("ally effects = %d, want 1", len(allyEffects))
	}
}

func TestDispatchIgnoresNonCasts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, wardConfig(), "Forbidding Ward", []string{allyID, enemyID})

	messages := []chat.Message{
		// A re-broadcast sustain notice.
		func() chat.Message { m := castMessage("m1"); m.SustainNotice = true; return m }(),
		// A damage roll.
		func() chat.Message {
			m := castMessage("m2")
			m.Rolls = []chat.Roll{{Formula: "2d6+4"}}
			return m
		}(),
		// A saving throw.
		saveMessage("m3", enemyID, chat.OutcomeFailure),
		// No spell origin.
		{ID: "m4", SpeakerActorID: casterID},
	}
	for _, m := range messages {
		f.engine.HandleChatMessage(ctx, m)
	}

	if records := f.sustained(t); len(records) != 0 {
		t.Fatalf("sustained records = %d, want 0", len(records))
	}
}

func TestDispatchSkipsUnconfiguredSpells(t *testing.T) {
	ctx := context.Background()
	// The store item is "Fireball" but only "Forbidding Ward" is configured:
	// unconfigured spells never produce state.
	f := newFixture(t, wardConfig(), "Forbidding Ward", []string{allyID, enemyID})
	if err := f.store.PutItem(ctx, game.Item{Ref: spellRef, Name: "Fireball", Kind: game.ItemKindSpell, Level: 3}); err != nil {
		t.Fatalf("PutItem: %v", err)
	}

	f.engine.HandleChatMessage(ctx, castMessage("m1"))

	if records := f.sustained(t); len(records) != 0 {
		t.Fatalf("sustained records = %d, want 0", len(records))
	}
	if len(f.notices.Notices) != 0 {
		t.Errorf("notices = %+v, want none", f.notices.Notices)
	}
}

func TestDispatchIgnoredOffGM(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, wardConfig(), "Forbidding Ward", []string{allyID, enemyID})

	player := New(Options{
		Store:   f.store,
		Spells:  spell.Static{"forbidding-ward": wardConfig()},
		Mutator: authz.NewMutator(f.store, nil, authz.Identity{UserID: "p1"}),
		Targets: stubTargets{ids: []string{allyID, enemyID}},
	})
	player.HandleChatMessage(ctx, castMessage("m1"))

	if records := f.sustained(t); len(records) != 0 {
		t.Fatalf("non-GM client created %d records, want 0", len(records))
	}
}

func TestTargetRequirementMatrix(t *testing.T) {
	tests := []struct {
		name    string
		targets []string
		wantOK  bool
	}{
		{name: "one ally one enemy", targets: []string{allyID, enemyID}, wantOK: true},
		{name: "order does not matter", targets: []string{enemyID, allyID}, wantOK: true},
		{name: "two allies", targets: []string{allyID, casterID}},
		{name: "one ally", targets: []string{allyID}},
		{name: "ally plus neutral", targets: []string{allyID, "bystander"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, wardConfig(), "Forbidding Ward", tc.targets)
			// A tokenless neutral bystander.
			if err := f.store.PutActor(ctx, game.Actor{ID: "bystander", Name: "Bystander"}); err != nil {
				t.Fatalf("PutActor: %v", err)
			}

			f.engine.HandleChatMessage(ctx, castMessage("m1"))

			records := f.sustained(t)
			if tc.wantOK {
				if len(records) != 1 {
					t.Fatalf("sustained records = %d, want 1", len(records))
				}
				return
			}
			if len(records) != 0 {
				t.Fatalf("sustained records = %d, want 0", len(records))
			}
			if !f.notices.Has(LevelWarning, "target") {
				t.Errorf("expected a target warning, got %+v", f.notices.Notices)
			}
		})
	}
}

func saveConfig() spell.Config {
	return spell.Config{
		Name:     "Dizzying Colors",
		Category: game.CategorySaveDependent,
		Targets:  spell.TargetRequirement{Type: spell.RequireNone},
		Save: &spell.SaveConfig{
			Type:    "will",
			ApplyOn: []chat.SaveOutcome{chat.OutcomeFailure, chat.OutcomeCriticalFailure},
		},
		Effects: []spell.EffectTemplate{{
			Target:      spell.SelectAll,
			Name:        "Dazzled",
			Slug:        "dizzying-colors-dazzled",
			Description: "{{target}} is dazzled.",
			Duration:    spell.Duration{Value: 1, Unit: spell.UnitMinutes},
		}},
		Sustain: spell.SustainingTemplate{
			Duration: spell.Duration{Value: 1, Unit: spell.UnitMinutes},
		},
	}
}

func TestSaveGatedCreation(t *testing.T) {
	ctx := context.Background()
	targets := []string{allyID, enemyID, "third"}
	f := newFixture(t, saveConfig(), "Dizzying Colors", targets)
	if err := f.store.PutActor(ctx, game.Actor{ID: "third", Name: "Wight"}); err != nil {
		t.Fatalf("PutActor: %v", err)
	}

	f.engine.HandleChatMessage(ctx, castMessage("m1"))
	if got := f.engine.MonitorCount(); got != 1 {
		t.Fatalf("monitors = %d, want 1", got)
	}
	if records := f.sustained(t); len(records) != 0 {
		t.Fatalf("record created before any save arrived")
	}

	// Results arrive out of order with unrelated noise interleaved.
	f.engine.HandleChatMessage(ctx, saveMessage("s1", "third", chat.OutcomeCriticalFailure))
	f.engine.HandleChatMessage(ctx, chat.Message{ID: "noise", Content: "table talk"})
	f.engine.HandleChatMessage(ctx, saveMessage("s2", enemyID, chat.OutcomeSuccess))
	if records := f.sustained(t); len(records) != 0 {
		t.Fatalf("record created with only 2 of 3 saves")
	}

	f.engine.HandleChatMessage(ctx, saveMessage("s3", allyID, chat.OutcomeFailure))

	records := f.sustained(t)
	if len(records) != 1 {
		t.Fatalf("sustained records = %d, want 1", len(records))
	}
	if got := f.engine.MonitorCount(); got != 0 {
		t.Errorf("monitors = %d, want 0", got)
	}

	// Only the two failing targets get effects.
	got := records[0].Sustain.Targets
	if len(got) != 2 {
		t.Fatalf("record targets = %+v, want the 2 failed saves", got)
	}
	for _, target := range got {
		if target.ActorID == enemyID {
			t.Errorf("succeeded target %s kept in record", enemyID)
		}
	}
	enemyEffects, _ := f.store.EffectsFor(ctx, enemyID)
	if len(enemyEffects) != 0 {
		t.Errorf("succeeded target has %d effects, want 0", len(enemyEffects))
	}
	thirdEffects, _ := f.store.EffectsFor(ctx, "third")
	if len(thirdEffects) != 1 {
		t.Errorf("failed target has %d effects, want 1", len(thirdEffects))
	}
}

func TestSaveMonitorTimeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, saveConfig(), "Dizzying Colors", []string{allyID, enemyID, casterID})

	notices := make(chan Notice, 8)
	f.engine.notifier = chanNotifier{ch: notices}
	f.engine.saveTimeout = 40 * time.Millisecond

	f.engine.HandleChatMessage(ctx, castMessage("m1"))
	// Two of three results arrive, then silence.
	f.engine.HandleChatMessage(ctx, saveMessage("s1", allyID, chat.OutcomeFailure))
	f.engine.HandleChatMessage(ctx, saveMessage("s2", enemyID, chat.OutcomeFailure))

	select {
	case n := <-notices:
		if n.Level != LevelWarning {
			t.Errorf("notice level = %q, want warning", n.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no timeout notice")
	}

	if records := f.sustained(t); len(records) != 0 {
		t.Fatalf("sustained records = %d after timeout, want 0", len(records))
	}
	if got := f.engine.MonitorCount(); got != 0 {
		t.Errorf("monitors = %d, want 0", got)
	}
}

func TestSaveAllSucceedCreatesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, saveConfig(), "Dizzying Colors", []string{enemyID})

	f.engine.HandleChatMessage(ctx, castMessage("m1"))
	f.engine.HandleChatMessage(ctx, saveMessage("s1", enemyID, chat.OutcomeCriticalSuccess))

	if records := f.sustained(t); len(records) != 0 {
		t.Fatalf("sustained records = %d, want 0", len(records))
	}
	if !f.notices.Has(LevelInfo, "nothing to sustain") {
		t.Errorf("expected an informational notice, got %+v", f.notices.Notices)
	}
}

func TestBeginTurnResetsFlag(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, wardConfig(), "Forbidding Ward", []string{allyID, enemyID})

	f.engine.HandleChatMessage(ctx, castMessage("m1"))
	record := f.sustained(t)[0]
	if !f.engine.Sustain(ctx, record.Ref()) {
		t.Fatal("sustain rejected")
	}

	record = f.sustained(t)[0]
	if !record.Sustain.SustainedThisTurn {
		t.Fatal("flag not set after sustain")
	}

	records, err := f.engine.BeginTurn(ctx, casterID)
	if err != nil {
		t.Fatalf("BeginTurn: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("BeginTurn records = %d, want 1", len(records))
	}
	if records[0].Sustain.SustainedThisTurn {
		t.Error("flag still set after BeginTurn")
	}
	record = f.sustained(t)[0]
	if record.Sustain.SustainedThisTurn {
		t.Error("stored flag still set after BeginTurn")
	}
}

func TestSustainEmitsRebroadcastNotice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, wardConfig(), "Forbidding Ward", []string{allyID, enemyID})

	published := make([]chat.Message, 0, 1)
	f.engine.chats = chatFunc(func(m chat.Message) { published = append(published, m) })

	f.engine.HandleChatMessage(ctx, castMessage("m1"))
	record := f.sustained(t)[0]
	if !f.engine.Sustain(ctx, record.Ref()) {
		t.Fatal("sustain rejected")
	}

	if len(published) != 1 {
		t.Fatalf("published notices = %d, want 1", len(published))
	}
	notice := published[0]
	if !notice.SustainNotice {
		t.Error("notice not marked as a sustain re-broadcast")
	}
	// The re-broadcast must never be mistaken for a fresh cast.
	if chat.IsInitialSpellCast(notice) {
		t.Error("sustain notice parses as an initial cast")
	}
}

type chatFunc func(chat.Message)

func (f chatFunc) PublishChat(m chat.Message) { f(m) }
