// Package harness runs declarative scenario files against a live world.
//
// A scenario names a scene document, a list of steps (parse, recalc,
// expect, mutate, reset) and optional built-in properties. The runner
// applies the scene, drives the steps in order and records a trace
// event per step. Expectations compare match sets by entity label, so
// scenarios stay readable even when pool slots shift between runs.
//
// Traces serialize through the canon package, which makes them stable
// enough for golden files: the same scenario against the same engine
// always yields the same bytes.
package harness
