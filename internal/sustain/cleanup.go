package sustain

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/wawful/spell-sustainer/internal/bus"
	"github.com/wawful/spell-sustainer/internal/game"
	"github.com/wawful/spell-sustainer/internal/store"
)

// cleanupConcurrency bounds the per-actor fan-out.
const cleanupConcurrency = 4

// Canceler discards the in-flight waits tied to a sustaining record: its
// save monitor and its pending placement session. The engine implements it.
type Canceler interface {
	CancelMonitor(chatID string)
	CancelPlacement(ref string)
}

// Coordinator cascades the death of a sustaining record: the matching save
// monitor and any pending placement session are canceled, every dependent
// child effect across every reachable actor is deleted, and the linked
// measured template is removed. Per-actor failures are logged and skipped;
// the fan-out is best-effort, not a transaction. Re-running it for a record
// with no remaining dependents is a no-op.
type Coordinator struct {
	store    store.Store
	canceler Canceler
	logger   *log.Logger
	tracer   trace.Tracer
}

// NewCoordinator wires a cleanup coordinator. canceler is typically the
// engine; it may be nil when no wait cancellation is needed.
func NewCoordinator(s store.Store, canceler Canceler, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		store:    s,
		canceler: canceler,
		logger:   logger,
		tracer:   otel.Tracer("sustain"),
	}
}

// Bind subscribes the coordinator to effect lifecycle events, reacting to
// deleted sustaining records. Returns the unsubscribe function.
func (c *Coordinator) Bind(b *bus.Bus) func() {
	return b.SubscribeEffects(func(evt bus.EffectEvent) {
		if evt.Kind != bus.EffectDeleted || !evt.Effect.IsSustaining() {
			return
		}
		c.OnSustainDeleted(context.Background(), evt.Effect)
	})
}

// OnSustainDeleted tears down everything dependent on a deleted sustaining
// record.
func (c *Coordinator) OnSustainDeleted(ctx context.Context, record game.Effect) {
	if record.Sustain == nil {
		return
	}
	ctx, span := c.tracer.Start(ctx, "sustain.cleanup",
		trace.WithAttributes(attribute.String("spell.name", record.Sustain.SpellName)))
	defer span.End()

	ref := record.Ref()

	if c.canceler != nil {
		if record.Sustain.CreatedFromChat != "" {
			c.canceler.CancelMonitor(record.Sustain.CreatedFromChat)
		}
		c.canceler.CancelPlacement(ref)
	}

	actors, err := c.store.Actors(ctx)
	if err != nil {
		c.logger.Printf("cleanup of %s: list actors failed: %v", ref, err)
	}

	var g errgroup.Group
	g.SetLimit(cleanupConcurrency)
	for _, actor := range actors {
		g.Go(func() error {
			c.cleanActor(ctx, actor, ref)
			return nil
		})
	}
	g.Wait()

	if tplID := record.Sustain.TemplateID; tplID != "" {
		if err := c.store.DeleteTemplate(ctx, tplID); err != nil {
			c.logger.Printf("cleanup of %s: delete template %s failed: %v", ref, tplID, err)
		}
	}
}

// cleanActor deletes one actor's child records for the given parent
// reference. Failures stay local to the actor.
func (c *Coordinator) cleanActor(ctx context.Context, actor game.Actor, parentRef string) {
	effects, err := c.store.EffectsFor(ctx, actor.ID)
	if err != nil {
		c.logger.Printf("cleanup of %s: list effects on %s failed: %v", parentRef, actor.ID, err)
		return
	}

	var doomed []string
	for _, ef := range effects {
		if ef.SustainedBy == parentRef {
			doomed = append(doomed, ef.ID)
		}
	}
	if len(doomed) == 0 {
		return
	}

	if err := c.store.DeleteEffects(ctx, actor.ID, doomed); err != nil {
		c.logger.Printf("cleanup of %s: delete %d effect(s) on %s failed: %v", parentRef, len(doomed), actor.ID, err)
	}
}
