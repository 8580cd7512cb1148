// Package event carries change notifications between the id/tag
// indexes, the selector registry, and diagnostic sinks.
//
// The bus is synchronous and single-threaded: Publish calls every
// observer inline, in subscribe order, before returning. There is no
// buffering, no goroutines, and no locking; the engine runs entirely
// on the caller's thread and the bus follows that model. Observers
// must not mutate the indexes from inside a callback.
package event

import (
	"github.com/roach88/sigil/internal/entity"
)

// Op identifies a mutation to the authoritative id/tag data.
type Op string

const (
	OpIDAttached  Op = "id_attached"
	OpIDDetached  Op = "id_detached"
	OpTagAdded    Op = "tag_added"
	OpTagRemoved  Op = "tag_removed"
	OpPoolCleared Op = "pool_cleared"
)

// Mutation describes one change to id or tag state. Key is the id or
// tag string, empty for OpPoolCleared; Pool is set only for
// OpPoolCleared, where Entity is None.
type Mutation struct {
	Op     Op
	Entity entity.Index
	Key    string
	Pool   entity.Pool
}

// EngineError is a non-fatal engine failure published instead of
// panicking: parse rejections, unresolved references, partition
// mismatches. Code is one of the selector package's error codes.
type EngineError struct {
	Code     string
	Selector string
	Token    string
	Entity   entity.Index
	Detail   string
}

// Subscription represents one registered observer. Cancel detaches it;
// cancelling twice is harmless.
type Subscription struct {
	cancel func()
}

// Cancel removes the observer from the bus.
func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

type mutationObserver struct {
	id uint64
	fn func(Mutation)
}

type errorObserver struct {
	id uint64
	fn func(EngineError)
}

// Bus dispatches mutations and engine errors to observers.
type Bus struct {
	nextID    uint64
	mutations []mutationObserver
	errors    []errorObserver
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// SubscribeMutations registers fn for every published Mutation.
func (b *Bus) SubscribeMutations(fn func(Mutation)) *Subscription {
	b.nextID++
	id := b.nextID
	b.mutations = append(b.mutations, mutationObserver{id: id, fn: fn})
	return &Subscription{cancel: func() {
		for i, obs := range b.mutations {
			if obs.id == id {
				b.mutations = append(b.mutations[:i], b.mutations[i+1:]...)
				return
			}
		}
	}}
}

// SubscribeErrors registers fn for every published EngineError.
func (b *Bus) SubscribeErrors(fn func(EngineError)) *Subscription {
	b.nextID++
	id := b.nextID
	b.errors = append(b.errors, errorObserver{id: id, fn: fn})
	return &Subscription{cancel: func() {
		for i, obs := range b.errors {
			if obs.id == id {
				b.errors = append(b.errors[:i], b.errors[i+1:]...)
				return
			}
		}
	}}
}

// PublishMutation delivers m to every mutation observer in subscribe
// order.
func (b *Bus) PublishMutation(m Mutation) {
	for _, obs := range b.mutations {
		obs.fn(m)
	}
}

// PublishError delivers e to every error observer in subscribe order.
func (b *Bus) PublishError(e EngineError) {
	for _, obs := range b.errors {
		obs.fn(e)
	}
}
