// Package store provides the SQLite-backed trace journal for recorded
// engine runs.
//
// A journal holds append-only rows grouped by session (one recorded
// run, one token):
//   - Mutations: id/tag attaches, detaches, adds, removes, pool clears
//   - Parses: selector parse attempts with the resulting root hash
//   - Recalcs: per-root match-set snapshots taken after each pass
//   - Errors: engine errors published on the bus during the run
//
// All ordering uses seq INTEGER, a logical counter owned by the
// Recorder, never timestamps. Every query ends in ORDER BY seq ASC so
// reads return identical rows across runs and SQLite versions. Writes
// are idempotent: the (session, seq) primary key plus ON CONFLICT DO
// NOTHING makes re-flushing a crashed batch harmless.
//
// Match-set snapshots are stored as roaring bitmap BLOBs, one per
// pool. Replay rebuilds a fresh world from the mutation log, re-runs
// the recorded passes, and compares snapshots byte for byte; the
// first differing (tick, root) surfaces as a DivergenceError.
//
// Database configuration:
//   - WAL mode: readers do not block the writer
//   - synchronous=NORMAL: durability/performance balance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: journal rows require their session row
//
// Root hashes stored here are the content-addressed node identities
// computed in internal/selector: domain-separated SHA-256 over the
// selector text.
package store
