// Package memory provides an in-memory entity store, used by tests and by
// clients that mirror state from the gateway rather than owning it.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/wawful/spell-sustainer/internal/game"
	"github.com/wawful/spell-sustainer/internal/platform/id"
	"github.com/wawful/spell-sustainer/internal/store"
)

// Store is a mutex-guarded in-memory entity store.
type Store struct {
	mu        sync.Mutex
	events    store.Events
	actors    map[string]game.Actor
	items     map[string]game.Item
	tokens    map[string]game.Token
	effects   map[string]map[string]game.Effect // actorID -> effectID -> effect
	templates map[string]game.Template

	// FailDeleteFor simulates a per-actor permission denial during effect
	// deletion; cleanup must survive it.
	FailDeleteFor map[string]bool
}

// New creates an empty store publishing lifecycle events to events.
func New(events store.Events) *Store {
	if events == nil {
		events = store.NopEvents{}
	}
	return &Store{
		events:    events,
		actors:    make(map[string]game.Actor),
		items:     make(map[string]game.Item),
		tokens:    make(map[string]game.Token),
		effects:   make(map[string]map[string]game.Effect),
		templates: make(map[string]game.Template),
	}
}

func (s *Store) Actor(ctx context.Context, actorID string) (game.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	actor, ok := s.actors[actorID]
	if !ok {
		return game.Actor{}, store.ErrNotFound
	}
	return actor, nil
}

func (s *Store) PutActor(ctx context.Context, actor game.Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actors[actor.ID] = actor
	return nil
}

func (s *Store) Actors(ctx context.Context) ([]game.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	actors := make([]game.Actor, 0, len(s.actors))
	for _, actor := range s.actors {
		actors = append(actors, actor)
	}
	sort.Slice(actors, func(i, j int) bool { return actors[i].ID < actors[j].ID })
	return actors, nil
}

func (s *Store) Item(ctx context.Context, ref string) (game.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[ref]
	if !ok {
		return game.Item{}, store.ErrNotFound
	}
	return item, nil
}

func (s *Store) PutItem(ctx context.Context, item game.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.Ref] = item
	return nil
}

func (s *Store) PutToken(ctx context.Context, token game.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.ID] = token
	return nil
}

func (s *Store) TokenFor(ctx context.Context, actorID string) (game.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.tokens))
	for tokenID := range s.tokens {
		ids = append(ids, tokenID)
	}
	sort.Strings(ids)
	for _, tokenID := range ids {
		if s.tokens[tokenID].ActorID == actorID {
			return s.tokens[tokenID], nil
		}
	}
	return game.Token{}, store.ErrNotFound
}

func (s *Store) EffectsFor(ctx context.Context, actorID string) ([]game.Effect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.effects[actorID]
	effects := make([]game.Effect, 0, len(byID))
	for _, eff := range byID {
		effects = append(effects, eff)
	}
	sort.Slice(effects, func(i, j int) bool { return effects[i].ID < effects[j].ID })
	return effects, nil
}

func (s *Store) EffectByRef(ctx context.Context, ref string) (game.Effect, error) {
	actorID, effectID, ok := game.ParseEffectRef(ref)
	if !ok {
		return game.Effect{}, store.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	eff, ok := s.effects[actorID][effectID]
	if !ok {
		return game.Effect{}, store.ErrNotFound
	}
	return eff, nil
}

func (s *Store) CreateEffects(ctx context.Context, actorID string, effects []game.Effect) ([]game.Effect, error) {
	created := make([]game.Effect, 0, len(effects))

	s.mu.Lock()
	if _, ok := s.actors[actorID]; !ok {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	byID := s.effects[actorID]
	if byID == nil {
		byID = make(map[string]game.Effect)
		s.effects[actorID] = byID
	}
	for _, eff := range effects {
		effectID, err := id.NewID()
		if err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("assign effect id: %w", err)
		}
		eff.ID = effectID
		eff.ActorID = actorID
		byID[effectID] = eff
		created = append(created, eff)
	}
	s.mu.Unlock()

	for _, eff := range created {
		s.events.EffectCreated(eff)
	}
	return created, nil
}

func (s *Store) UpdateEffect(ctx context.Context, effect game.Effect) error {
	s.mu.Lock()
	byID := s.effects[effect.ActorID]
	if _, ok := byID[effect.ID]; !ok {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	byID[effect.ID] = effect
	s.mu.Unlock()

	s.events.EffectUpdated(effect)
	return nil
}

func (s *Store) DeleteEffects(ctx context.Context, actorID string, effectIDs []string) error {
	s.mu.Lock()
	if s.FailDeleteFor[actorID] {
		s.mu.Unlock()
		return fmt.Errorf("permission denied for actor %s", actorID)
	}
	byID := s.effects[actorID]
	deleted := make([]game.Effect, 0, len(effectIDs))
	for _, effectID := range effectIDs {
		if eff, ok := byID[effectID]; ok {
			delete(byID, effectID)
			deleted = append(deleted, eff)
		}
	}
	s.mu.Unlock()

	for _, eff := range deleted {
		s.events.EffectDeleted(eff)
	}
	return nil
}

func (s *Store) CreateTemplate(ctx context.Context, tpl game.Template) (game.Template, error) {
	templateID, err := id.NewID()
	if err != nil {
		return game.Template{}, fmt.Errorf("assign template id: %w", err)
	}
	tpl.ID = templateID

	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[tpl.ID] = tpl
	return tpl, nil
}

func (s *Store) Template(ctx context.Context, templateID string) (game.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.templates[templateID]
	if !ok {
		return game.Template{}, store.ErrNotFound
	}
	return tpl, nil
}

func (s *Store) UpdateTemplate(ctx context.Context, tpl game.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[tpl.ID]; !ok {
		return store.ErrNotFound
	}
	s.templates[tpl.ID] = tpl
	return nil
}

func (s *Store) DeleteTemplate(ctx context.Context, templateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.templates, templateID)
	return nil
}
