// Package bitset provides the fixed-capacity boolean-membership
// containers the selector engine computes match sets with.
//
// Set is a flat bitset over one entity pool. Partitioned pairs a
// global-pool Set with a scene-pool Set and is addressed by
// entity.Index. All storage is allocated at construction; Add, Remove,
// Contains, Clear, ForEach, and the bulk And/Or/CopyFrom operations
// never allocate. Capacities are fixed for the life of the value and
// bulk operations across differently-sized sets are an error.
package bitset

import (
	"errors"
	"fmt"
	"math/bits"
)

const wordBits = 64

// CapacityError reports set algebra across differently-sized universes.
type CapacityError struct {
	Op   string
	Want int
	Got  int
}

// Error implements the error interface.
func (e *CapacityError) Error() string {
	return fmt.Sprintf("bitset %s: capacity mismatch: %d vs %d", e.Op, e.Want, e.Got)
}

// IsCapacityMismatch reports whether err is a CapacityError.
// Uses errors.As to handle wrapped errors.
func IsCapacityMismatch(err error) bool {
	var ce *CapacityError
	return errors.As(err, &ce)
}

// Set is a fixed-capacity bitset over one entity pool. Slots at or
// beyond the capacity are silently out of universe: Add and Remove
// ignore them and Contains reports false. Cardinality is cached and
// maintained incrementally where cheap, recomputed lazily otherwise.
type Set struct {
	capacity int
	words    []uint64
	card     int // cached cardinality, -1 when stale
}

// NewSet creates an empty Set holding slots in [0, capacity).
func NewSet(capacity int) *Set {
	if capacity < 0 {
		capacity = 0
	}
	s := &Set{}
	s.init(capacity)
	return s
}

func (s *Set) init(capacity int) {
	s.capacity = capacity
	s.words = make([]uint64, (capacity+wordBits-1)/wordBits)
	s.card = 0
}

// Capacity returns the fixed universe size.
func (s *Set) Capacity() int { return s.capacity }

// Add sets the bit for slot. Out-of-universe slots are ignored.
func (s *Set) Add(slot uint32) {
	if int(slot) >= s.capacity {
		return
	}
	w, mask := slot/wordBits, uint64(1)<<(slot%wordBits)
	if s.words[w]&mask == 0 {
		s.words[w] |= mask
		if s.card >= 0 {
			s.card++
		}
	}
}

// Remove clears the bit for slot.
func (s *Set) Remove(slot uint32) {
	if int(slot) >= s.capacity {
		return
	}
	w, mask := slot/wordBits, uint64(1)<<(slot%wordBits)
	if s.words[w]&mask != 0 {
		s.words[w] &^= mask
		if s.card >= 0 {
			s.card--
		}
	}
}

// Contains reports whether slot is a member.
func (s *Set) Contains(slot uint32) bool {
	if int(slot) >= s.capacity {
		return false
	}
	return s.words[slot/wordBits]&(uint64(1)<<(slot%wordBits)) != 0
}

// Count returns the cardinality, recomputing the cache if a bulk
// operation invalidated it.
func (s *Set) Count() int {
	if s.card < 0 {
		n := 0
		for _, w := range s.words {
			n += bits.OnesCount64(w)
		}
		s.card = n
	}
	return s.card
}

// Any reports whether the set is non-empty without forcing a full
// popcount when the cardinality cache is stale.
func (s *Set) Any() bool {
	if s.card >= 0 {
		return s.card > 0
	}
	for _, w := range s.words {
		if w != 0 {
			return true
		}
	}
	return false
}

// Clear removes every member.
func (s *Set) Clear() {
	clear(s.words)
	s.card = 0
}

// And intersects s with o in place.
func (s *Set) And(o *Set) error {
	if s.capacity != o.capacity {
		return &CapacityError{Op: "and", Want: s.capacity, Got: o.capacity}
	}
	for i := range s.words {
		s.words[i] &= o.words[i]
	}
	s.card = -1
	return nil
}

// Or unions o into s in place.
func (s *Set) Or(o *Set) error {
	if s.capacity != o.capacity {
		return &CapacityError{Op: "or", Want: s.capacity, Got: o.capacity}
	}
	for i := range s.words {
		s.words[i] |= o.words[i]
	}
	s.card = -1
	return nil
}

// CopyFrom overwrites s with o's members.
func (s *Set) CopyFrom(o *Set) error {
	if s.capacity != o.capacity {
		return &CapacityError{Op: "copy", Want: s.capacity, Got: o.capacity}
	}
	copy(s.words, o.words)
	s.card = o.card
	return nil
}

// Equal reports whether s and o have identical capacity and members.
func (s *Set) Equal(o *Set) bool {
	if s.capacity != o.capacity {
		return false
	}
	for i := range s.words {
		if s.words[i] != o.words[i] {
			return false
		}
	}
	return true
}

// ForEach calls fn for each member in ascending slot order until fn
// returns false.
func (s *Set) ForEach(fn func(slot uint32) bool) {
	for i, w := range s.words {
		base := uint32(i * wordBits)
		for w != 0 {
			t := w & -w
			if !fn(base + uint32(bits.TrailingZeros64(w))) {
				return
			}
			w ^= t
		}
	}
}

// Slots returns the members in ascending order. Allocates; not for the
// per-tick path.
func (s *Set) Slots() []uint32 {
	out := make([]uint32, 0, s.Count())
	s.ForEach(func(slot uint32) bool {
		out = append(out, slot)
		return true
	})
	return out
}
