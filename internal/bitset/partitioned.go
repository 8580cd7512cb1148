package bitset

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/roach88/sigil/internal/entity"
)

// Partitioned is a pair of fixed-capacity Sets, one per entity pool,
// addressed by entity.Index. The none index is never a member: adding
// it is a no-op and Contains reports false. Bulk operations require
// identical capacities on both sides.
type Partitioned struct {
	caps   entity.Capacities
	global Set
	scene  Set
}

// NewPartitioned creates an empty Partitioned sized by caps.
// Callers validate caps once at world construction.
func NewPartitioned(caps entity.Capacities) *Partitioned {
	p := &Partitioned{caps: caps}
	p.global.init(caps.Global)
	p.scene.init(caps.Scene)
	return p
}

// Capacities returns the fixed per-pool sizes.
func (p *Partitioned) Capacities() entity.Capacities { return p.caps }

func (p *Partitioned) pool(pool entity.Pool) *Set {
	switch pool {
	case entity.PoolGlobal:
		return &p.global
	case entity.PoolScene:
		return &p.scene
	default:
		return nil
	}
}

// Add sets membership for ix. None indices are ignored.
func (p *Partitioned) Add(ix entity.Index) {
	if s := p.pool(ix.Pool()); s != nil {
		s.Add(ix.Slot())
	}
}

// Remove clears membership for ix.
func (p *Partitioned) Remove(ix entity.Index) {
	if s := p.pool(ix.Pool()); s != nil {
		s.Remove(ix.Slot())
	}
}

// Contains reports whether ix is a member. Always false for None.
func (p *Partitioned) Contains(ix entity.Index) bool {
	s := p.pool(ix.Pool())
	return s != nil && s.Contains(ix.Slot())
}

// Count returns the total membership across both pools.
func (p *Partitioned) Count() int {
	return p.global.Count() + p.scene.Count()
}

// PoolCount returns the membership within one pool.
func (p *Partitioned) PoolCount(pool entity.Pool) int {
	if s := p.pool(pool); s != nil {
		return s.Count()
	}
	return 0
}

// Any reports whether either pool has a member.
func (p *Partitioned) Any() bool {
	return p.global.Any() || p.scene.Any()
}

// Clear empties both pools.
func (p *Partitioned) Clear() {
	p.global.Clear()
	p.scene.Clear()
}

// ClearPool empties one pool, leaving the other untouched. Used on
// scene teardown, where the whole scene population vanishes at once.
func (p *Partitioned) ClearPool(pool entity.Pool) {
	if s := p.pool(pool); s != nil {
		s.Clear()
	}
}

// And intersects p with o in place.
func (p *Partitioned) And(o *Partitioned) error {
	if err := p.global.And(&o.global); err != nil {
		return err
	}
	return p.scene.And(&o.scene)
}

// Or unions o into p in place.
func (p *Partitioned) Or(o *Partitioned) error {
	if err := p.global.Or(&o.global); err != nil {
		return err
	}
	return p.scene.Or(&o.scene)
}

// CopyFrom overwrites p with o's members.
func (p *Partitioned) CopyFrom(o *Partitioned) error {
	if err := p.global.CopyFrom(&o.global); err != nil {
		return err
	}
	return p.scene.CopyFrom(&o.scene)
}

// Equal reports whether p and o have identical capacities and members.
func (p *Partitioned) Equal(o *Partitioned) bool {
	return p.global.Equal(&o.global) && p.scene.Equal(&o.scene)
}

// ForEach calls fn for each member until fn returns false: the global
// pool in ascending slot order, then the scene pool. The order is
// deterministic so traces and goldens are stable.
func (p *Partitioned) ForEach(fn func(ix entity.Index) bool) {
	stop := false
	p.global.ForEach(func(slot uint32) bool {
		if !fn(entity.GlobalIndex(uint16(slot))) {
			stop = true
			return false
		}
		return true
	})
	if stop {
		return
	}
	p.scene.ForEach(func(slot uint32) bool {
		return fn(entity.SceneIndex(slot))
	})
}

// Indices returns every member in ForEach order. Allocates; not for
// the per-tick path.
func (p *Partitioned) Indices() []entity.Index {
	out := make([]entity.Index, 0, p.Count())
	p.ForEach(func(ix entity.Index) bool {
		out = append(out, ix)
		return true
	})
	return out
}

// Snapshot exports both pools as roaring bitmaps for serialization.
// Allocates; journal and diagnostics only.
func (p *Partitioned) Snapshot() (global, scene *roaring.Bitmap) {
	global, scene = roaring.New(), roaring.New()
	global.AddMany(p.global.Slots())
	scene.AddMany(p.scene.Slots())
	return global, scene
}
