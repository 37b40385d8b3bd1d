// Package bus is the in-process view of the host platform's event bus:
// chat-style events and effect-record lifecycle events fan out to
// subscribers. Delivery is synchronous and best-effort; the core is written
// to survive duplicate and out-of-order delivery, so the bus makes no
// ordering promises beyond per-publish subscriber iteration.
package bus

import (
	"sync"

	"github.com/wawful/spell-sustainer/internal/chat"
	"github.com/wawful/spell-sustainer/internal/game"
)

// EffectEventKind is the lifecycle transition an effect event announces.
type EffectEventKind string

const (
	EffectCreated EffectEventKind = "created"
	EffectUpdated EffectEventKind = "updated"
	EffectDeleted EffectEventKind = "deleted"
)

// EffectEvent announces an effect record transition.
type EffectEvent struct {
	Kind   EffectEventKind
	Effect game.Effect
}

// Bus fans events out to subscribers.
type Bus struct {
	mu         sync.Mutex
	nextID     int
	chatSubs   map[int]func(chat.Message)
	effectSubs map[int]func(EffectEvent)
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		chatSubs:   make(map[int]func(chat.Message)),
		effectSubs: make(map[int]func(EffectEvent)),
	}
}

// SubscribeChat registers fn for chat events and returns a cancel function.
// Cancel is idempotent.
func (b *Bus) SubscribeChat(fn func(chat.Message)) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.chatSubs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.chatSubs, id)
	}
}

// SubscribeEffects registers fn for effect lifecycle events.
func (b *Bus) SubscribeEffects(fn func(EffectEvent)) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.effectSubs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.effectSubs, id)
	}
}

// PublishChat delivers a chat event to every subscriber.
func (b *Bus) PublishChat(m chat.Message) {
	for _, fn := range b.chatSubscribers() {
		fn(m)
	}
}

// EffectCreated announces a created effect record.
func (b *Bus) EffectCreated(e game.Effect) { b.publishEffect(EffectEvent{Kind: EffectCreated, Effect: e}) }

// EffectUpdated announces an updated effect record.
func (b *Bus) EffectUpdated(e game.Effect) { b.publishEffect(EffectEvent{Kind: EffectUpdated, Effect: e}) }

// EffectDeleted announces a deleted effect record.
func (b *Bus) EffectDeleted(e game.Effect) { b.publishEffect(EffectEvent{Kind: EffectDeleted, Effect: e}) }

func (b *Bus) publishEffect(evt EffectEvent) {
	b.mu.Lock()
	subs := make([]func(EffectEvent), 0, len(b.effectSubs))
	for _, fn := range b.effectSubs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()
	for _, fn := range subs {
		fn(evt)
	}
}

func (b *Bus) chatSubscribers() []func(chat.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := make([]func(chat.Message), 0, len(b.chatSubs))
	for _, fn := range b.chatSubs {
		subs = append(subs, fn)
	}
	return subs
}
