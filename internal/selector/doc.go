// Package selector implements the entity selector query engine.
//
// A selector string ("@player", "#enemy:#flying", "@door,@lever")
// parses into a DAG of interned nodes, each owning a cached match set
// over the partitioned entity pools. Nodes are shared: structurally
// identical sub-chains across different selector strings resolve to
// the same node instance and therefore the same cached set.
//
// Match sets are maintained incrementally. Id/tag mutations mark only
// the directly affected nodes dirty via reverse lookups; the next
// Recalc pass walks the registered roots and recomputes exactly the
// nodes whose own state or refinement input changed. Within one pass a
// shared node recomputes at most once.
//
// The engine is single-threaded and synchronous: Recalc runs on the
// caller's thread, is not reentrant, and must not race mutation of the
// id/tag data it reads. Node match sets are pre-sized at construction
// and the parse-free per-tick path performs no heap allocation.
package selector
