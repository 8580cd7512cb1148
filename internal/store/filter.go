package store

import (
	"context"
	"fmt"
	"strings"
)

// Filter narrows a trace query over the unified event stream.
//
// This is a sealed interface: only types in this package implement
// it. The marker method enables exhaustive type switches in the
// compiler and keeps the fragment closed, so every filter a caller
// can build compiles to a parameterized clause.
//
// Filter types:
//   - ByKind: one event kind (mutation, parse, recalc, error)
//   - ByCode: mutation op, parse error code, or engine error code
//   - BySelector: exact selector text
//   - ByRoot: root hash of a parse or recalc row
//   - TickRange: inclusive tick bounds
//   - All: every filter must hold
type Filter interface {
	filterNode() // Marker method, seals the interface to this package
}

// ByKind matches rows of one event kind.
type ByKind struct {
	Kind EventKind
}

func (ByKind) filterNode() {}

// ByCode matches rows whose code column equals Code.
type ByCode struct {
	Code string
}

func (ByCode) filterNode() {}

// BySelector matches rows whose selector column equals Text.
type BySelector struct {
	Text string
}

func (BySelector) filterNode() {}

// ByRoot matches rows carrying the given root hash.
type ByRoot struct {
	Hash string
}

func (ByRoot) filterNode() {}

// TickRange matches rows with From <= tick <= To. A bound of zero or
// less is open; the zero value matches everything.
type TickRange struct {
	From int64
	To   int64
}

func (TickRange) filterNode() {}

// All is a conjunction: every contained filter must hold. An empty
// All matches everything.
type All struct {
	Filters []Filter
}

func (All) filterNode() {}

// Compile renders a trace query for one session into parameterized
// SQL against the trace_events view. A nil filter selects the whole
// session.
//
// Every compiled query ends in ORDER BY seq ASC so results are
// identical across runs. Values are always bound through
// placeholders, never interpolated.
func Compile(session string, f Filter) (string, []any, error) {
	where := "session = ?"
	params := []any{session}

	if f != nil {
		clause, filterParams, err := compileFilter(f)
		if err != nil {
			return "", nil, err
		}
		where += " AND " + clause
		params = append(params, filterParams...)
	}

	query := "SELECT session, seq, tick, kind, code, selector, root_hash, pool, slot, detail" +
		" FROM trace_events WHERE " + where + " ORDER BY seq ASC"
	return query, params, nil
}

func compileFilter(f Filter) (string, []any, error) {
	switch filter := f.(type) {
	case ByKind:
		return "kind = ?", []any{string(filter.Kind)}, nil
	case *ByKind:
		return compileFilter(*filter)
	case ByCode:
		return "code = ?", []any{filter.Code}, nil
	case *ByCode:
		return compileFilter(*filter)
	case BySelector:
		return "selector = ?", []any{filter.Text}, nil
	case *BySelector:
		return compileFilter(*filter)
	case ByRoot:
		return "root_hash = ?", []any{filter.Hash}, nil
	case *ByRoot:
		return compileFilter(*filter)
	case TickRange:
		return compileTickRange(filter)
	case *TickRange:
		return compileTickRange(*filter)
	case All:
		return compileAll(filter)
	case *All:
		return compileAll(*filter)
	default:
		return "", nil, fmt.Errorf("unsupported filter type: %T", f)
	}
}

func compileTickRange(r TickRange) (string, []any, error) {
	var parts []string
	var params []any
	if r.From > 0 {
		parts = append(parts, "tick >= ?")
		params = append(params, r.From)
	}
	if r.To > 0 {
		parts = append(parts, "tick <= ?")
		params = append(params, r.To)
	}
	if len(parts) == 0 {
		return "1 = 1", nil, nil // Both bounds open
	}
	return strings.Join(parts, " AND "), params, nil
}

func compileAll(a All) (string, []any, error) {
	if len(a.Filters) == 0 {
		return "1 = 1", nil, nil // Vacuous truth
	}

	var clauses []string
	var allParams []any
	for _, f := range a.Filters {
		clause, params, err := compileFilter(f)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		allParams = append(allParams, params...)
	}

	return strings.Join(clauses, " AND "), allParams, nil
}

// Trace runs a compiled filter query and returns the matching events
// in seq order.
//
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) Trace(ctx context.Context, session string, f Filter) ([]TraceEvent, error) {
	query, params, err := Compile(session, f)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	defer rows.Close()

	var events []TraceEvent
	for rows.Next() {
		var ev TraceEvent
		var kind string
		if err := rows.Scan(&ev.Session, &ev.Seq, &ev.Tick, &kind, &ev.Code,
			&ev.Selector, &ev.RootHash, &ev.Pool, &ev.Slot, &ev.Detail); err != nil {
			return nil, fmt.Errorf("trace: scan event: %w", err)
		}
		ev.Kind = EventKind(kind)
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trace: iterate events: %w", err)
	}

	if events == nil {
		events = []TraceEvent{}
	}

	return events, nil
}
