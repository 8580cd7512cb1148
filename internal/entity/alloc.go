package entity

import (
	"errors"
	"fmt"
)

// Pool size ceilings. The global ceiling follows from the 16-bit slot
// width; the scene ceiling bounds per-node bitset memory, since every
// selector node pre-allocates storage for both pools.
const (
	MaxGlobalCapacity = 1 << 16
	MaxSceneCapacity  = 1 << 20
)

// Capacities fixes the maximum entity count per pool. All bitsets and
// allocators in one world share one Capacities value; it never changes
// after construction. This is the memory-for-zero-allocation trade:
// storage is sized up front so the per-tick path never grows anything.
type Capacities struct {
	Global int
	Scene  int
}

// DefaultCapacities sizes a world for typical authored content.
var DefaultCapacities = Capacities{Global: 1024, Scene: 8192}

// Validate checks that both capacities are positive and within the
// pool ceilings.
func (c Capacities) Validate() error {
	if c.Global <= 0 || c.Global > MaxGlobalCapacity {
		return fmt.Errorf("global capacity %d: must be in 1..%d", c.Global, MaxGlobalCapacity)
	}
	if c.Scene <= 0 || c.Scene > MaxSceneCapacity {
		return fmt.Errorf("scene capacity %d: must be in 1..%d", c.Scene, MaxSceneCapacity)
	}
	return nil
}

// Of returns the capacity of the given pool, or 0 for PoolNone.
func (c Capacities) Of(pool Pool) int {
	switch pool {
	case PoolGlobal:
		return c.Global
	case PoolScene:
		return c.Scene
	default:
		return 0
	}
}

// ExhaustedError is returned when a pool has no free slots left.
type ExhaustedError struct {
	Pool     Pool
	Capacity int
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s pool exhausted: capacity %d", e.Pool, e.Capacity)
}

// IsExhausted reports whether err is an ExhaustedError.
// Uses errors.As to handle wrapped errors.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}

// Allocator hands out sequential slots per pool. It exists for loaders
// and tests; the selector engine itself never creates entities. Slots
// are not recycled individually; the scene pool is reclaimed wholesale
// via Reset on scene teardown, matching how scene content is unloaded.
type Allocator struct {
	caps       Capacities
	nextGlobal uint32
	nextScene  uint32
}

// NewAllocator creates an Allocator for the given capacities.
// Capacities must have been validated by the caller.
func NewAllocator(caps Capacities) *Allocator {
	return &Allocator{caps: caps}
}

// Capacities returns the fixed pool sizes this Allocator enforces.
func (a *Allocator) Capacities() Capacities { return a.caps }

// Alloc returns the next free Index in the given pool.
func (a *Allocator) Alloc(pool Pool) (Index, error) {
	switch pool {
	case PoolGlobal:
		if int(a.nextGlobal) >= a.caps.Global {
			return None, &ExhaustedError{Pool: pool, Capacity: a.caps.Global}
		}
		ix := GlobalIndex(uint16(a.nextGlobal))
		a.nextGlobal++
		return ix, nil
	case PoolScene:
		if int(a.nextScene) >= a.caps.Scene {
			return None, &ExhaustedError{Pool: pool, Capacity: a.caps.Scene}
		}
		ix := SceneIndex(a.nextScene)
		a.nextScene++
		return ix, nil
	default:
		return None, fmt.Errorf("cannot allocate in pool %q", pool)
	}
}

// Count returns how many slots have been handed out in the pool.
func (a *Allocator) Count(pool Pool) int {
	switch pool {
	case PoolGlobal:
		return int(a.nextGlobal)
	case PoolScene:
		return int(a.nextScene)
	default:
		return 0
	}
}

// Reset reclaims every slot in the pool. Callers are responsible for
// clearing indexes and selector state that reference the pool first.
func (a *Allocator) Reset(pool Pool) {
	switch pool {
	case PoolGlobal:
		a.nextGlobal = 0
	case PoolScene:
		a.nextScene = 0
	}
}
