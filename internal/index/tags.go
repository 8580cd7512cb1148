package index

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/sigil/internal/bitset"
	"github.com/roach88/sigil/internal/entity"
	"github.com/roach88/sigil/internal/event"
)

// Tags maps each tag string to the partitioned set of entities
// carrying it. Matches never returns nil: unknown tags resolve to a
// shared empty set, which is a legitimate resolution rather than an
// error.
type Tags struct {
	caps  entity.Capacities
	bus   *event.Bus
	sets  map[string]*bitset.Partitioned
	empty *bitset.Partitioned
}

// NewTags creates an empty tag registry publishing on bus.
func NewTags(caps entity.Capacities, bus *event.Bus) *Tags {
	return &Tags{
		caps:  caps,
		bus:   bus,
		sets:  make(map[string]*bitset.Partitioned),
		empty: bitset.NewPartitioned(caps),
	}
}

// checkIndex validates ix against the registry capacities. It stays
// format-free so callers on the per-tick path pay nothing when the
// index is fine.
func (x *Tags) checkIndex(ix entity.Index) error {
	if ix.IsNone() {
		return errors.New("entity is none")
	}
	if int(ix.Slot()) >= x.caps.Of(ix.Pool()) {
		return fmt.Errorf("%s outside %s capacity %d", ix, ix.Pool(), x.caps.Of(ix.Pool()))
	}
	return nil
}

// Add puts ix in tag's set. Adding a tag an entity already carries is
// a silent no-op.
func (x *Tags) Add(tag string, ix entity.Index) error {
	if tag == "" {
		return fmt.Errorf("add tag: empty tag")
	}
	if err := x.checkIndex(ix); err != nil {
		return fmt.Errorf("add tag %q: %w", tag, err)
	}
	set, ok := x.sets[tag]
	if !ok {
		set = bitset.NewPartitioned(x.caps)
		x.sets[tag] = set
	}
	if set.Contains(ix) {
		return nil
	}
	set.Add(ix)
	x.bus.PublishMutation(event.Mutation{Op: event.OpTagAdded, Entity: ix, Key: tag})
	return nil
}

// Remove takes ix out of tag's set. Reports whether it was a member.
func (x *Tags) Remove(tag string, ix entity.Index) bool {
	set, ok := x.sets[tag]
	if !ok || !set.Contains(ix) {
		return false
	}
	set.Remove(ix)
	x.bus.PublishMutation(event.Mutation{Op: event.OpTagRemoved, Entity: ix, Key: tag})
	return true
}

// RemoveEntity strips every tag from ix, publishing one removal per
// affected tag in sorted tag order so event streams stay
// deterministic.
func (x *Tags) RemoveEntity(ix entity.Index) int {
	var affected []string
	for tag, set := range x.sets {
		if set.Contains(ix) {
			affected = append(affected, tag)
		}
	}
	sort.Strings(affected)
	for _, tag := range affected {
		x.sets[tag].Remove(ix)
		x.bus.PublishMutation(event.Mutation{Op: event.OpTagRemoved, Entity: ix, Key: tag})
	}
	return len(affected)
}

// Matches returns the set of entities carrying tag. The returned set
// is live and read-only: callers copy it into their own storage and
// must not mutate it. Unknown tags resolve to the shared empty set.
func (x *Tags) Matches(tag string) *bitset.Partitioned {
	if set, ok := x.sets[tag]; ok {
		return set
	}
	return x.empty
}

// Has reports whether ix carries tag.
func (x *Tags) Has(tag string, ix entity.Index) bool {
	set, ok := x.sets[tag]
	return ok && set.Contains(ix)
}

// Len returns the number of distinct tags ever added (empty sets from
// full removal are retained; tag vocabulary is small and stable).
func (x *Tags) Len() int { return len(x.sets) }

// ClearPool silently drops pool's entities from every tag set. Pool
// teardown coordinates this with the id registry and publishes a
// single pool_cleared event afterwards; see scene.World.Teardown.
func (x *Tags) ClearPool(pool entity.Pool) {
	for _, set := range x.sets {
		set.ClearPool(pool)
	}
}
