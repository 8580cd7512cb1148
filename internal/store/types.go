package store

import (
	"github.com/roach88/sigil/internal/entity"
)

// Session identifies one recorded run. The token correlates every
// journal row of the run; capacities are stored so replay can rebuild
// a world of the same shape.
type Session struct {
	Token string
	Scene string
	Caps  entity.Capacities
}

// MutationRow is one journaled id/tag mutation. Op holds the bus op
// name; Pool and Slot locate the entity, with Slot 0 and an empty Key
// for pool clears.
type MutationRow struct {
	Session string
	Seq     int64
	Tick    int64
	Op      string
	Pool    string
	Slot    int64
	Key     string
}

// ParseRow is one journaled parse attempt. RootHash is set only when
// OK; Code carries the parse error code only when not.
type ParseRow struct {
	Session  string
	Seq      int64
	Tick     int64
	Text     string
	RootHash string
	OK       bool
	Code     string
}

// RecalcRow snapshots one root after one pass. GlobalSet and SceneSet
// are roaring bitmap serializations of the match set; Changed records
// whether the pass recomputed the root.
type RecalcRow struct {
	Session   string
	Seq       int64
	Tick      int64
	RootHash  string
	Selector  string
	Changed   bool
	Count     int64
	GlobalSet []byte
	SceneSet  []byte
}

// ErrorRow is one journaled engine error. Pool is empty and Slot 0
// when the error carries no entity.
type ErrorRow struct {
	Session  string
	Seq      int64
	Tick     int64
	Code     string
	Selector string
	Token    string
	Pool     string
	Slot     int64
	Detail   string
}

// EventKind discriminates rows in the unified trace stream.
type EventKind string

const (
	KindMutation EventKind = "mutation"
	KindParse    EventKind = "parse"
	KindRecalc   EventKind = "recalc"
	KindError    EventKind = "error"
)

// TraceEvent is one row of the trace_events view: the per-kind tables
// projected into a single shape for filtered queries. Code holds the
// mutation op, parse error code, or engine error code depending on
// Kind; Detail holds the match count for recalcs and the error detail
// for errors.
type TraceEvent struct {
	Session  string
	Seq      int64
	Tick     int64
	Kind     EventKind
	Code     string
	Selector string
	RootHash string
	Pool     string
	Slot     int64
	Detail   string
}

// Batch collects journal rows for a single-transaction flush. The
// recorder accumulates one batch per tick.
type Batch struct {
	Mutations []MutationRow
	Parses    []ParseRow
	Recalcs   []RecalcRow
	Errors    []ErrorRow
}

// Empty reports whether the batch holds no rows.
func (b Batch) Empty() bool {
	return len(b.Mutations) == 0 && len(b.Parses) == 0 &&
		len(b.Recalcs) == 0 && len(b.Errors) == 0
}

// Len returns the total row count.
func (b Batch) Len() int {
	return len(b.Mutations) + len(b.Parses) + len(b.Recalcs) + len(b.Errors)
}
