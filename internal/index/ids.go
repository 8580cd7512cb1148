// Package index implements the authoritative id and tag data the
// selector engine resolves against.
//
// IDs is a 1:1 id-to-entity binding; Tags maps each tag string to a
// partitioned entity set. Every effective mutation publishes on the
// event bus so the selector registry can mark dependent nodes dirty
// and the journal recorder can log the change. No-op calls (adding a
// tag an entity already has, detaching an unbound id) publish nothing,
// which keeps dirty marking precise.
package index

import (
	"errors"
	"fmt"

	"github.com/roach88/sigil/internal/entity"
	"github.com/roach88/sigil/internal/event"
)

// IDs binds each id string to at most one entity and each entity to at
// most one id. Attach displaces any conflicting binding on either side
// (publishing the detach first), matching how authored content expects
// a respawned named entity to take over its id.
type IDs struct {
	caps     entity.Capacities
	bus      *event.Bus
	byID     map[string]entity.Index
	byEntity map[entity.Index]string
}

// NewIDs creates an empty id registry publishing on bus.
func NewIDs(caps entity.Capacities, bus *event.Bus) *IDs {
	return &IDs{
		caps:     caps,
		bus:      bus,
		byID:     make(map[string]entity.Index),
		byEntity: make(map[entity.Index]string),
	}
}

// checkIndex validates ix against the registry capacities, formatting
// nothing on the success path.
func (x *IDs) checkIndex(ix entity.Index) error {
	if ix.IsNone() {
		return errors.New("entity is none")
	}
	if int(ix.Slot()) >= x.caps.Of(ix.Pool()) {
		return fmt.Errorf("%s outside %s capacity %d", ix, ix.Pool(), x.caps.Of(ix.Pool()))
	}
	return nil
}

// Attach binds id to ix, detaching any previous binding of either the
// id or the entity.
func (x *IDs) Attach(id string, ix entity.Index) error {
	if id == "" {
		return fmt.Errorf("attach: empty id")
	}
	if err := x.checkIndex(ix); err != nil {
		return fmt.Errorf("attach %q: %w", id, err)
	}
	if prev, ok := x.byID[id]; ok {
		if prev == ix {
			return nil
		}
		x.detach(id, prev)
	}
	if prevID, ok := x.byEntity[ix]; ok {
		x.detach(prevID, ix)
	}
	x.byID[id] = ix
	x.byEntity[ix] = id
	x.bus.PublishMutation(event.Mutation{Op: event.OpIDAttached, Entity: ix, Key: id})
	return nil
}

func (x *IDs) detach(id string, ix entity.Index) {
	delete(x.byID, id)
	delete(x.byEntity, ix)
	x.bus.PublishMutation(event.Mutation{Op: event.OpIDDetached, Entity: ix, Key: id})
}

// Detach removes the binding for id. Reports whether one existed.
func (x *IDs) Detach(id string) bool {
	ix, ok := x.byID[id]
	if !ok {
		return false
	}
	x.detach(id, ix)
	return true
}

// DetachEntity removes whatever id ix carries. Reports whether one
// existed.
func (x *IDs) DetachEntity(ix entity.Index) bool {
	id, ok := x.byEntity[ix]
	if !ok {
		return false
	}
	x.detach(id, ix)
	return true
}

// Resolve returns the entity bound to id.
func (x *IDs) Resolve(id string) (entity.Index, bool) {
	ix, ok := x.byID[id]
	return ix, ok
}

// IDOf returns the id bound to ix.
func (x *IDs) IDOf(ix entity.Index) (string, bool) {
	id, ok := x.byEntity[ix]
	return id, ok
}

// Len returns the number of live bindings.
func (x *IDs) Len() int { return len(x.byID) }

// ClearPool silently drops every binding whose entity is in pool.
// Pool teardown coordinates this with the tag registry and publishes
// a single pool_cleared event afterwards; see scene.World.Teardown.
func (x *IDs) ClearPool(pool entity.Pool) {
	for id, ix := range x.byID {
		if ix.Pool() == pool {
			delete(x.byID, id)
			delete(x.byEntity, ix)
		}
	}
}
