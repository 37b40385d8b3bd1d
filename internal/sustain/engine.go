// Package sustain is the sustained-spell lifecycle core: cast detection and
// dispatch, duplicate-suppressed record creation, save-result monitoring,
// the three per-category sustain behaviors, and cascade cleanup.
package sustain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wawful/spell-sustainer/internal/authz"
	"github.com/wawful/spell-sustainer/internal/chat"
	apperrors "github.com/wawful/spell-sustainer/internal/errors"
	"github.com/wawful/spell-sustainer/internal/game"
	"github.com/wawful/spell-sustainer/internal/platform/id"
	"github.com/wawful/spell-sustainer/internal/platform/slug"
	"github.com/wawful/spell-sustainer/internal/spell"
	"github.com/wawful/spell-sustainer/internal/store"
	"github.com/wawful/spell-sustainer/internal/template"
)

// DefaultSaveTimeout bounds the wait for save-roll results. Tunable, not a
// protocol requirement.
const DefaultSaveTimeout = 30 * time.Second

// DefaultPlacementTimeout bounds an interactive template placement.
const DefaultPlacementTimeout = 30 * time.Second

// ChatPublisher emits follow-up chat notices.
type ChatPublisher interface {
	PublishChat(m chat.Message)
}

// TargetSource resolves the current targeting selection for a cast: the
// selection of the user controlling the caster, falling back to the acting
// user's own selection. The presentation layer owns targeting state.
type TargetSource interface {
	SelectionFor(ctx context.Context, casterID, actingUserID string) ([]string, error)
}

// Options wires an Engine.
type Options struct {
	Store      store.Store
	Spells     spell.Provider
	Mutator    *authz.Mutator
	Placements *template.Manager
	Notifier   Notifier
	Chats      ChatPublisher
	Targets    TargetSource
	Logger     *log.Logger

	SaveTimeout      time.Duration
	PlacementTimeout time.Duration
}

// Engine is the sustained-spell state machine. One instance runs per
// privileged (GM) client; non-privileged clients only relay.
type Engine struct {
	store      store.Store
	spells     spell.Provider
	mutator    *authz.Mutator
	placements *template.Manager
	notifier   Notifier
	chats      ChatPublisher
	targets    TargetSource
	logger     *log.Logger
	tracer     trace.Tracer

	saveTimeout time.Duration

	mu sync.Mutex
	// monitors tracks in-flight save waits keyed by the triggering chat
	// event id. Inserted on start, removed on every resolution path.
	monitors map[string]*saveMonitor
}

// New creates an engine. Store, Spells, and Mutator are required.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{Logger: opts.Logger}
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = DefaultSaveTimeout
	}
	if opts.PlacementTimeout <= 0 {
		opts.PlacementTimeout = DefaultPlacementTimeout
	}
	if opts.Placements == nil {
		opts.Placements = template.NewManager(opts.PlacementTimeout)
	}
	return &Engine{
		store:       opts.Store,
		spells:      opts.Spells,
		mutator:     opts.Mutator,
		placements:  opts.Placements,
		notifier:    opts.Notifier,
		chats:       opts.Chats,
		targets:     opts.Targets,
		logger:      opts.Logger,
		tracer:      otel.Tracer("sustain"),
		saveTimeout: opts.SaveTimeout,
		monitors:    make(map[string]*saveMonitor),
	}
}

// Placements exposes the placement manager so the presentation layer can
// resolve pending template drops.
func (e *Engine) Placements() *template.Manager { return e.placements }

// HandleChatMessage consumes one inbound chat event. Non-cast events are
// offered to in-flight save monitors; qualifying casts dispatch by spell
// category. Every failure path ends in a silent return or a user notice,
// never an unrecovered fault.
func (e *Engine) HandleChatMessage(ctx context.Context, m chat.Message) {
	// Only the privileged client processes chat; everyone else relays.
	if !e.mutator.Identity().IsGM {
		return
	}

	e.offerToMonitors(m)

	if !chat.IsInitialSpellCast(m) {
		return
	}

	ctx, span := e.tracer.Start(ctx, "sustain.dispatch",
		trace.WithAttributes(attribute.String("chat.id", m.ID)))
	defer span.End()

	if m.OriginRef == "" || m.SpeakerActorID == "" {
		return
	}
	item, err := e.store.Item(ctx, m.OriginRef)
	if err != nil {
		// A dangling origin reference is normal, not a fault.
		return
	}
	if item.Kind != game.ItemKindSpell {
		return
	}
	caster, err := e.store.Actor(ctx, m.SpeakerActorID)
	if err != nil {
		return
	}

	// Allow-list: unconfigured spells never produce sustain state.
	cfg, ok := e.spells.Lookup(item.Name)
	if !ok {
		return
	}
	span.SetAttributes(
		attribute.String("spell.name", cfg.Name),
		attribute.String("spell.category", string(cfg.Category)),
	)

	targets, err := e.resolveTargets(ctx, cfg, caster, m.UserID)
	if err != nil {
		e.notifier.Notify(Notice{
			Level:   LevelWarning,
			UserID:  m.UserID,
			ActorID: caster.ID,
			Message: fmt.Sprintf("%s: %s", cfg.Name, userMessage(err)),
		})
		return
	}

	if e.hasDuplicate(ctx, caster.ID, cfg.Name, m.ID) {
		e.logger.Printf("skipping duplicate cast of %s by %s (chat %s)", cfg.Name, caster.Name, m.ID)
		return
	}

	castLevel := chat.CastLevel(m, item.Level)
	in := BuildInput{
		Config:    cfg,
		Spell:     item,
		Caster:    caster,
		CastLevel: castLevel,
		Targets:   targets,
		ChatID:    m.ID,
	}

	switch cfg.Category {
	case game.CategorySaveDependent:
		e.startSaveMonitor(in)
	case game.CategoryImmediateEffects, game.CategorySelfAura:
		if _, err := e.createSustain(ctx, in); err != nil {
			e.logger.Printf("create sustain for %s failed: %v", cfg.Name, err)
		}
	case game.CategoryMeasuredTemplate:
		e.castTemplate(ctx, in)
	}
}

// resolveTargets builds the target descriptor set for a cast and validates
// it against the spell's requirement.
func (e *Engine) resolveTargets(ctx context.Context, cfg spell.Config, caster game.Actor, actingUserID string) ([]game.TargetRef, error) {
	switch cfg.Targets.Type {
	case spell.RequireSelfOnly:
		return []game.TargetRef{{ActorID: caster.ID, Name: caster.Name, Relationship: game.RelationshipAlly}}, nil
	case spell.RequireNone:
		selected := e.selection(ctx, caster.ID, actingUserID)
		if len(selected) == 0 {
			// Self-buff fallback: the caster is its own sole target.
			return []game.TargetRef{{ActorID: caster.ID, Name: caster.Name, Relationship: game.RelationshipAlly}}, nil
		}
		return e.describeTargets(ctx, caster, selected), nil
	case spell.RequireExact:
		selected := e.selection(ctx, caster.ID, actingUserID)
		targets := e.describeTargets(ctx, caster, selected)
		if err := validateTargets(cfg.Targets, targets); err != nil {
			return nil, err
		}
		return targets, nil
	}
	return nil, nil
}

func (e *Engine) selection(ctx context.Context, casterID, actingUserID string) []string {
	if e.targets == nil {
		return nil
	}
	selected, err := e.targets.SelectionFor(ctx, casterID, actingUserID)
	if err != nil {
		e.logger.Printf("target selection lookup failed: %v", err)
		return nil
	}
	return selected
}

// describeTargets maps selected actor ids to target descriptors, deriving
// the relationship from canvas-token disposition. The caster itself and
// friendly tokens are allies; missing tokens count as neutral.
func (e *Engine) describeTargets(ctx context.Context, caster game.Actor, actorIDs []string) []game.TargetRef {
	targets := make([]game.TargetRef, 0, len(actorIDs))
	for _, actorID := range actorIDs {
		actor, err := e.store.Actor(ctx, actorID)
		if err != nil {
			continue
		}
		rel := game.RelationshipNeutral
		if actorID == caster.ID {
			rel = game.RelationshipAlly
		} else if token, err := e.store.TokenFor(ctx, actorID); err == nil {
			switch token.Disposition {
			case game.DispositionFriendly:
				rel = game.RelationshipAlly
			case game.DispositionHostile:
				rel = game.RelationshipEnemy
			}
		}
		targets = append(targets, game.TargetRef{ActorID: actorID, Name: actor.Name, Relationship: rel})
	}
	return targets
}

// validateTargets checks an exact-count requirement, including per-relation
// splits, independent of selection order.
func validateTargets(req spell.TargetRequirement, targets []game.TargetRef) error {
	if len(targets) != req.Count {
		return apperrors.New(apperrors.CodeTargetRequirementUnmet,
			fmt.Sprintf("requires %d targets, got %d", req.Count, len(targets)))
	}
	if len(req.Relations) == 0 {
		return nil
	}
	counts := make(map[game.Relationship]int, len(targets))
	for _, t := range targets {
		counts[t.Relationship]++
	}
	for _, rel := range req.Relations {
		if counts[rel.Relationship] != rel.Count {
			return apperrors.New(apperrors.CodeTargetRequirementUnmet,
				fmt.Sprintf("requires %d %s target(s), got %d", rel.Count, rel.Relationship, counts[rel.Relationship]))
		}
	}
	return nil
}

// hasDuplicate checks both duplicate signals: a live sustaining record with
// the spell's slug, or one stamped with this chat event id. Both are needed
// because event delivery is not exactly-once.
func (e *Engine) hasDuplicate(ctx context.Context, casterID, spellName, chatID string) bool {
	effects, err := e.store.EffectsFor(ctx, casterID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.logger.Printf("duplicate check for %s failed: %v", casterID, err)
		}
		return false
	}
	wantSlug := slug.Sustaining(spellName)
	for _, ef := range effects {
		if !ef.IsSustaining() {
			continue
		}
		if ef.Slug == wantSlug {
			return true
		}
		if chatID != "" && ef.Sustain.CreatedFromChat == chatID {
			return true
		}
	}
	return false
}

// createSustain persists the sustaining record, then its children. The
// ordering is load-bearing: no child exists before the parent's durable
// reference does. Re-checks the duplicate guard at the point of creation.
func (e *Engine) createSustain(ctx context.Context, in BuildInput) (game.Effect, error) {
	if e.hasDuplicate(ctx, in.Caster.ID, in.Config.Name, in.ChatID) {
		return game.Effect{}, apperrors.New(apperrors.CodeDuplicateSustain,
			fmt.Sprintf("%s is already sustained by %s", in.Config.Name, in.Caster.Name))
	}

	record := buildSustainRecord(in)
	outcome, created, err := e.mutator.CreateEffects(ctx, in.Caster.ID, []game.Effect{record})
	if err != nil {
		return game.Effect{}, fmt.Errorf("create sustaining record: %w", err)
	}
	if outcome != authz.OutcomeApplied || len(created) != 1 {
		// Without a durable reference the children cannot be linked; the
		// authoritative side will build them when it applies the relay.
		return game.Effect{}, nil
	}
	parent := created[0]
	parentRef := parent.Ref()

	children := buildChildEffects(in, parentRef)
	if in.Config.Category == game.CategorySelfAura {
		children = append(children, buildAuraBadge(in, parentRef))
	}

	byActor := make(map[string][]game.Effect)
	for _, child := range children {
		byActor[child.ActorID] = append(byActor[child.ActorID], child)
	}
	for actorID, batch := range byActor {
		if _, _, err := e.mutator.CreateEffects(ctx, actorID, batch); err != nil {
			// Best effort: a failed child leaves the parent intact and is
			// reported, not rolled back.
			e.logger.Printf("create child effects on %s for %s failed: %v", actorID, in.Config.Name, err)
		}
	}

	return parent, nil
}

// startSaveMonitor begins the time-boxed wait for save results before any
// record is created.
func (e *Engine) startSaveMonitor(in BuildInput) {
	expected := make(map[string]string, len(in.Targets))
	for _, t := range in.Targets {
		expected[t.ActorID] = t.Name
	}

	chatID := in.ChatID
	monitor := newSaveMonitor(expected, e.saveTimeout,
		func(outcomes map[string]chat.SaveOutcome) {
			e.removeMonitor(chatID)
			e.finishSaveWait(in, outcomes)
		},
		func() {
			e.removeMonitor(chatID)
			e.notifier.Notify(Notice{
				Level:   LevelWarning,
				ActorID: in.Caster.ID,
				Message: fmt.Sprintf("%s: no save results detected in time; nothing was applied", in.Config.Name),
			})
		},
	)

	e.mu.Lock()
	if _, ok := e.monitors[chatID]; ok {
		// A re-dispatched cast event must not spawn a second wait.
		e.mu.Unlock()
		monitor.cancel()
		return
	}
	e.monitors[chatID] = monitor
	e.mu.Unlock()
}

func (e *Engine) finishSaveWait(in BuildInput, outcomes map[string]chat.SaveOutcome) {
	ctx := context.Background()

	// The wait was long; re-verify the world before creating state.
	if _, err := e.store.Actor(ctx, in.Caster.ID); err != nil {
		return
	}
	if e.hasDuplicate(ctx, in.Caster.ID, in.Config.Name, in.ChatID) {
		e.logger.Printf("skipping duplicate save-gated creation of %s (chat %s)", in.Config.Name, in.ChatID)
		return
	}

	applied := make([]game.TargetRef, 0, len(in.Targets))
	for _, t := range in.Targets {
		outcome, ok := outcomes[t.ActorID]
		if ok && in.Config.Save != nil && in.Config.Save.Applies(outcome) {
			applied = append(applied, t)
		}
	}
	if len(applied) == 0 {
		e.notifier.Notify(Notice{
			Level:   LevelInfo,
			ActorID: in.Caster.ID,
			Message: fmt.Sprintf("%s: every target's save kept the effect off; nothing to sustain", in.Config.Name),
		})
		return
	}

	filtered := in
	filtered.Targets = applied
	if _, err := e.createSustain(ctx, filtered); err != nil {
		e.logger.Printf("save-gated creation of %s failed: %v", in.Config.Name, err)
	}
}

func (e *Engine) offerToMonitors(m chat.Message) {
	e.mu.Lock()
	monitors := make([]*saveMonitor, 0, len(e.monitors))
	for _, monitor := range e.monitors {
		monitors = append(monitors, monitor)
	}
	e.mu.Unlock()

	for _, monitor := range monitors {
		monitor.observe(m)
	}
}

func (e *Engine) removeMonitor(chatID string) {
	e.mu.Lock()
	delete(e.monitors, chatID)
	e.mu.Unlock()
}

// CancelMonitor silently resolves the save wait started by the given chat
// event, if one is still in flight. Cleanup calls this when the sustaining
// record dies while its monitor is pending.
func (e *Engine) CancelMonitor(chatID string) {
	e.mu.Lock()
	monitor, ok := e.monitors[chatID]
	if ok {
		delete(e.monitors, chatID)
	}
	e.mu.Unlock()
	if ok {
		monitor.cancel()
	}
}

// CancelPlacement silently discards the pending placement session for the
// given sustaining record reference, if one exists.
func (e *Engine) CancelPlacement(ref string) {
	e.placements.Cancel(ref)
}

// MonitorCount reports in-flight save waits.
func (e *Engine) MonitorCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.monitors)
}

// ListSustained returns the actor's live sustaining records, recognized by
// the slug convention. No separate index is maintained.
func (e *Engine) ListSustained(ctx context.Context, actorID string) ([]game.Effect, error) {
	effects, err := e.store.EffectsFor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	var sustained []game.Effect
	for _, ef := range effects {
		if ef.IsSustaining() && slug.IsSustaining(ef.Slug) {
			sustained = append(sustained, ef)
		}
	}
	return sustained, nil
}

// BeginTurn clears the sustained-this-turn flag on the actor's sustaining
// records and returns them, so the presentation layer can remind the owner
// what they are committed to.
func (e *Engine) BeginTurn(ctx context.Context, actorID string) ([]game.Effect, error) {
	sustained, err := e.ListSustained(ctx, actorID)
	if err != nil {
		return nil, err
	}
	for i, record := range sustained {
		if !record.Sustain.SustainedThisTurn {
			continue
		}
		flags := *record.Sustain
		flags.SustainedThisTurn = false
		record.Sustain = &flags
		if _, err := e.mutator.UpdateEffect(ctx, actorID, record); err != nil {
			e.logger.Printf("reset turn flag on %s failed: %v", record.Slug, err)
			continue
		}
		sustained[i] = record
	}
	return sustained, nil
}

// emitSustainNotice publishes the follow-up chat confirmation for a
// successful sustain. Marked as a re-broadcast so the dispatcher never
// mistakes it for a fresh cast.
func (e *Engine) emitSustainNotice(caster game.Actor, flags game.SustainFlags) {
	if e.chats == nil {
		return
	}
	msgID, err := id.NewID()
	if err != nil {
		e.logger.Printf("sustain notice id: %v", err)
		return
	}
	e.chats.PublishChat(chat.Message{
		ID:             msgID,
		ContextType:    chat.ContextSpellCast,
		OriginRef:      flags.SpellRef,
		SpeakerActorID: caster.ID,
		SpeakerAlias:   caster.Name,
		Content:        fmt.Sprintf("%s sustains %s.", caster.Name, flags.SpellName),
		SustainNotice:  true,
	})
}

// userMessage strips the machine code prefix from a coded error for display.
func userMessage(err error) string {
	var coded *apperrors.Error
	if errors.As(err, &coded) {
		return coded.Message
	}
	return err.Error()
}
