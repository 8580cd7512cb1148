package selector

import (
	"github.com/roach88/sigil/internal/bitset"
)

// Kind discriminates the node sum type.
type Kind uint8

const (
	// KindUnion ORs the match sets of its children.
	KindUnion Kind = iota

	// KindID matches the single entity bound to an id.
	KindID

	// KindTag matches the set of entities carrying a tag.
	KindTag

	// KindCollisionEnter matches entities whose collision began this
	// frame, per the configured frame source. Never matches without
	// one.
	KindCollisionEnter

	// KindCollisionExit matches entities whose collision ended this
	// frame.
	KindCollisionExit
)

// String returns the kind name used in dumps and journal rows.
func (k Kind) String() string {
	switch k {
	case KindUnion:
		return "union"
	case KindID:
		return "id"
	case KindTag:
		return "tag"
	case KindCollisionEnter:
		return "collision_enter"
	case KindCollisionExit:
		return "collision_exit"
	default:
		return "unknown"
	}
}

// Node is one vertex of the interned selector DAG. Structure (kind,
// token, prior, children) is immutable once interned; only the dirty
// flag, the cached match set, and the version bookkeeping mutate in
// place. prior points toward the refinement input and is shared, never
// back-mutated, so the DAG is acyclic by construction.
type Node struct {
	kind     Kind
	token    string
	text     string
	hash     string
	prior    *Node
	children []*Node

	dirty   bool
	matches *bitset.Partitioned

	reg *Registry

	// version counts recomputations of the match set. priorSeen and
	// childSeen record the dependency versions last folded in, so a
	// shared node recomputes once per dirty epoch while every
	// dependent still observes that it moved.
	version   uint64
	priorSeen uint64
	childSeen []uint64
}

// Kind returns the node's discriminant.
func (n *Node) Kind() Kind { return n.kind }

// Token returns the identifier for id and tag nodes, "" otherwise.
func (n *Node) Token() string { return n.token }

// Text returns the exact selector substring this node was interned
// under: its own term through the end of its chain, or the whole
// string for a union.
func (n *Node) Text() string { return n.text }

// String returns Text.
func (n *Node) String() string { return n.text }

// Hash returns the node's content-addressed identity.
func (n *Node) Hash() string { return n.hash }

// Prior returns the refinement input, nil at the chain tail.
func (n *Node) Prior() *Node { return n.prior }

// Children returns the union inputs, nil for non-union nodes.
// Read-only; callers must not modify the slice.
func (n *Node) Children() []*Node { return n.children }

// Matches returns the cached match set. Read-only and live: it is
// only valid as of the last recalc and is rewritten in place by the
// next one. Callers needing a stable copy use CopyFrom into their own
// storage.
func (n *Node) Matches() *bitset.Partitioned { return n.matches }

// Version counts recomputations of this node. It advances exactly
// when a recalc rewrites the match set, so observers can tell whether
// a pass touched the node by comparing versions across it.
func (n *Node) Version() uint64 { return n.version }

// Recalc brings the node's match set up to date and reports whether
// it recomputed. Clean nodes cost a constant-time staleness check per
// dependency edge and touch no sets. Registry.Recalc calls this for
// every root; calling it directly is the single-selector path.
func (n *Node) Recalc() bool {
	return n.recalc()
}

func (n *Node) recalc() bool {
	r := n.reg

	needs := n.dirty
	if n.prior != nil {
		if n.prior.recalc() || n.prior.version != n.priorSeen {
			needs = true
		}
	}
	// Every child recalcs even once needs is settled; the merge below
	// reads their sets.
	for i, c := range n.children {
		if c.recalc() || c.version != n.childSeen[i] {
			needs = true
		}
	}
	if (n.kind == KindCollisionEnter || n.kind == KindCollisionExit) && r.frames != nil {
		// frame-scoped sets are new every tick
		needs = true
	}
	if !needs {
		return false
	}

	switch n.kind {
	case KindUnion:
		n.matches.Clear()
		for _, c := range n.children {
			// capacities are identical across one registry
			_ = n.matches.Or(c.matches)
		}
	case KindID:
		n.recalcID()
	case KindTag:
		n.recalcTag()
	case KindCollisionEnter, KindCollisionExit:
		n.recalcCollision()
	}

	n.dirty = false
	n.version++
	if n.prior != nil {
		n.priorSeen = n.prior.version
	}
	for i, c := range n.children {
		n.childSeen[i] = c.version
	}
	return true
}

func (n *Node) recalcID() {
	r := n.reg
	n.matches.Clear()

	ix, ok := r.ids.Resolve(n.token)
	if !ok {
		r.publishRecalcError(CodeUnresolvedReference, n, "id %q is bound to no entity", n.token)
		return
	}
	if n.prior == nil {
		n.matches.Add(ix)
		return
	}
	pm := n.prior.matches
	if pm.Contains(ix) {
		n.matches.Add(ix)
		return
	}
	// The refinement eliminated the entity. When the prior is
	// non-empty but holds nothing in the entity's pool, the selector
	// relates entities across the pool boundary; report it rather
	// than silently matching nothing.
	if pm.Any() && pm.PoolCount(ix.Pool()) == 0 {
		r.publishRecalcErrorEntity(CodePartitionMismatch, n, ix,
			"id %q resolves to %s but the refinement matches only the other pool", n.token, ix)
	}
}

func (n *Node) recalcTag() {
	r := n.reg
	// tag sets share the registry's capacities
	_ = n.matches.CopyFrom(r.tags.Matches(n.token))
	if n.prior != nil {
		_ = n.matches.And(n.prior.matches)
	}
}

func (n *Node) recalcCollision() {
	r := n.reg
	if r.frames == nil {
		n.matches.Clear()
		return
	}
	var src *bitset.Partitioned
	if n.kind == KindCollisionEnter {
		src = r.frames.Entered()
	} else {
		src = r.frames.Exited()
	}
	if src == nil {
		n.matches.Clear()
		return
	}
	if err := n.matches.CopyFrom(src); err != nil {
		r.publishRecalcError(CodePartitionMismatch, n,
			"frame source capacities do not match the registry: %v", err)
		n.matches.Clear()
		return
	}
	if n.prior != nil {
		_ = n.matches.And(n.prior.matches)
	}
}
