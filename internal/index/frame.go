package index

import (
	"github.com/roach88/sigil/internal/bitset"
)

// FrameEvents supplies the per-frame collision membership the
// !enter/!exit selector kinds resolve against: the set of entities
// that started or stopped colliding this frame. The engine queries a
// provider the same way it queries the tag registry, as a read-only
// set reference per recalc pass, and invents no matching semantics
// beyond that. No production provider exists yet; with none configured
// the collision kinds never match.
type FrameEvents interface {
	// Entered returns the entities whose collision began this frame.
	// Read-only; callers copy, never mutate.
	Entered() *bitset.Partitioned

	// Exited returns the entities whose collision ended this frame.
	// Read-only; callers copy, never mutate.
	Exited() *bitset.Partitioned
}

// StaticFrameEvents is a fixed FrameEvents provider for tests and
// scenario tooling.
type StaticFrameEvents struct {
	Enter *bitset.Partitioned
	Exit  *bitset.Partitioned
}

// Entered implements FrameEvents.
func (s *StaticFrameEvents) Entered() *bitset.Partitioned { return s.Enter }

// Exited implements FrameEvents.
func (s *StaticFrameEvents) Exited() *bitset.Partitioned { return s.Exit }
