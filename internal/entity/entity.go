// Package entity defines partitioned entity indices.
//
// Every entity reference in the engine is an Index: a (pool, slot) pair
// where the pool is one of two independently-sized, independently-lived
// populations. The global pool holds long-lived entities that survive
// scene transitions; the scene pool holds per-level entities torn down
// wholesale on scene unload. The zero Index is the none value.
//
// Operations that relate two entities (refinement membership, hierarchy)
// require both indices in the same pool. Cross-pool relations are a
// reported error, never a panic.
package entity

import (
	"errors"
	"fmt"
)

// Pool identifies which entity population an Index belongs to.
type Pool uint8

const (
	// PoolNone is the pool of the zero Index. It never holds entities.
	PoolNone Pool = iota

	// PoolGlobal is the long-lived pool. Slots fit in 16 bits.
	PoolGlobal

	// PoolScene is the per-level pool, cleared on scene teardown.
	PoolScene
)

// String returns the pool name used in documents, journal rows, and logs.
func (p Pool) String() string {
	switch p {
	case PoolGlobal:
		return "global"
	case PoolScene:
		return "scene"
	default:
		return "none"
	}
}

// ParsePool converts a document pool name to a Pool.
// Only "global" and "scene" are addressable from content.
func ParsePool(s string) (Pool, error) {
	switch s {
	case "global":
		return PoolGlobal, nil
	case "scene":
		return PoolScene, nil
	default:
		return PoolNone, fmt.Errorf("invalid pool %q: must be global or scene", s)
	}
}

// Index is a partitioned entity reference. Immutable value type.
// The zero value is None.
type Index struct {
	pool Pool
	slot uint32
}

// None is the absent entity reference.
var None = Index{}

// GlobalIndex returns an Index for slot in the global pool.
// The slot type bounds the global pool at 65536 entities.
func GlobalIndex(slot uint16) Index {
	return Index{pool: PoolGlobal, slot: uint32(slot)}
}

// SceneIndex returns an Index for slot in the scene pool.
func SceneIndex(slot uint32) Index {
	return Index{pool: PoolScene, slot: slot}
}

// Pool returns the pool this Index addresses.
func (ix Index) Pool() Pool { return ix.pool }

// Slot returns the position within the pool.
// Meaningless when IsNone reports true.
func (ix Index) Slot() uint32 { return ix.slot }

// IsNone reports whether the Index references no entity.
func (ix Index) IsNone() bool { return ix.pool == PoolNone }

// String returns "global:N", "scene:N", or "none".
func (ix Index) String() string {
	if ix.pool == PoolNone {
		return "none"
	}
	return fmt.Sprintf("%s:%d", ix.pool, ix.slot)
}

// MismatchError reports an attempt to relate entities across pools,
// or to relate against the none Index.
type MismatchError struct {
	A, B Index
}

// Error implements the error interface.
func (e *MismatchError) Error() string {
	return fmt.Sprintf("partition mismatch: cannot relate %s and %s", e.A, e.B)
}

// IsMismatch reports whether err is a MismatchError.
// Uses errors.As to handle wrapped errors.
func IsMismatch(err error) bool {
	var me *MismatchError
	return errors.As(err, &me)
}

// SamePool verifies that a and b resolve to the same live pool.
// Returns a MismatchError when the pools differ or either side is none.
func SamePool(a, b Index) error {
	if a.pool == PoolNone || b.pool == PoolNone || a.pool != b.pool {
		return &MismatchError{A: a, B: b}
	}
	return nil
}
