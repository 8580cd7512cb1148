package store

import (
	"context"
	"fmt"
)

// ReadSession retrieves a session row by token.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadSession(ctx context.Context, token string) (Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx, `
		SELECT token, scene, global_cap, scene_cap
		FROM sessions
		WHERE token = ?
	`, token).Scan(&sess.Token, &sess.Scene, &sess.Caps.Global, &sess.Caps.Scene)
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

// ListSessions returns all sessions ordered by token. UUIDv7 tokens
// sort in creation order.
//
// Returns an empty slice (not nil) when the journal has no sessions.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token, scene, global_cap, scene_cap
		FROM sessions
		ORDER BY token ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.Token, &sess.Scene, &sess.Caps.Global, &sess.Caps.Scene); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	if sessions == nil {
		sessions = []Session{}
	}

	return sessions, nil
}

// ReadMutations returns all mutation rows for a session in seq order.
//
// Returns an empty slice (not nil) when the session has none.
func (s *Store) ReadMutations(ctx context.Context, session string) ([]MutationRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session, seq, tick, op, pool, slot, key
		FROM mutations
		WHERE session = ?
		ORDER BY seq ASC
	`, session)
	if err != nil {
		return nil, fmt.Errorf("query mutations: %w", err)
	}
	defer rows.Close()

	var mutations []MutationRow
	for rows.Next() {
		var row MutationRow
		if err := rows.Scan(&row.Session, &row.Seq, &row.Tick, &row.Op, &row.Pool, &row.Slot, &row.Key); err != nil {
			return nil, fmt.Errorf("scan mutation: %w", err)
		}
		mutations = append(mutations, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mutations: %w", err)
	}

	if mutations == nil {
		mutations = []MutationRow{}
	}

	return mutations, nil
}

// ReadParses returns all parse rows for a session in seq order.
//
// Returns an empty slice (not nil) when the session has none.
func (s *Store) ReadParses(ctx context.Context, session string) ([]ParseRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session, seq, tick, text, root_hash, ok, code
		FROM parses
		WHERE session = ?
		ORDER BY seq ASC
	`, session)
	if err != nil {
		return nil, fmt.Errorf("query parses: %w", err)
	}
	defer rows.Close()

	var parses []ParseRow
	for rows.Next() {
		var row ParseRow
		if err := rows.Scan(&row.Session, &row.Seq, &row.Tick, &row.Text, &row.RootHash, &row.OK, &row.Code); err != nil {
			return nil, fmt.Errorf("scan parse: %w", err)
		}
		parses = append(parses, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate parses: %w", err)
	}

	if parses == nil {
		parses = []ParseRow{}
	}

	return parses, nil
}

// ReadRecalcs returns all recalc rows for a session in seq order.
// Rows of one tick are contiguous because the recorder writes them in
// a single flush.
//
// Returns an empty slice (not nil) when the session has none.
func (s *Store) ReadRecalcs(ctx context.Context, session string) ([]RecalcRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session, seq, tick, root_hash, selector, changed, count, global_set, scene_set
		FROM recalcs
		WHERE session = ?
		ORDER BY seq ASC
	`, session)
	if err != nil {
		return nil, fmt.Errorf("query recalcs: %w", err)
	}
	defer rows.Close()

	var recalcs []RecalcRow
	for rows.Next() {
		var row RecalcRow
		if err := rows.Scan(&row.Session, &row.Seq, &row.Tick, &row.RootHash, &row.Selector,
			&row.Changed, &row.Count, &row.GlobalSet, &row.SceneSet); err != nil {
			return nil, fmt.Errorf("scan recalc: %w", err)
		}
		recalcs = append(recalcs, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recalcs: %w", err)
	}

	if recalcs == nil {
		recalcs = []RecalcRow{}
	}

	return recalcs, nil
}

// ReadErrors returns all error rows for a session in seq order.
//
// Returns an empty slice (not nil) when the session has none.
func (s *Store) ReadErrors(ctx context.Context, session string) ([]ErrorRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session, seq, tick, code, selector, token, pool, slot, detail
		FROM errors
		WHERE session = ?
		ORDER BY seq ASC
	`, session)
	if err != nil {
		return nil, fmt.Errorf("query errors: %w", err)
	}
	defer rows.Close()

	var errs []ErrorRow
	for rows.Next() {
		var row ErrorRow
		if err := rows.Scan(&row.Session, &row.Seq, &row.Tick, &row.Code, &row.Selector,
			&row.Token, &row.Pool, &row.Slot, &row.Detail); err != nil {
			return nil, fmt.Errorf("scan error row: %w", err)
		}
		errs = append(errs, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate error rows: %w", err)
	}

	if errs == nil {
		errs = []ErrorRow{}
	}

	return errs, nil
}

// LastSeq returns the highest seq used in a session across all
// journal tables, 0 for an unknown or empty session.
func (s *Store) LastSeq(ctx context.Context, session string) (int64, error) {
	var maxSeq int64
	tables := []string{"mutations", "parses", "recalcs", "errors"}
	for _, table := range tables {
		var seq int64
		query := fmt.Sprintf("SELECT COALESCE(MAX(seq), 0) FROM %s WHERE session = ?", table)
		if err := s.db.QueryRowContext(ctx, query, session).Scan(&seq); err != nil {
			return 0, fmt.Errorf("last seq from %s: %w", table, err)
		}
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	return maxSeq, nil
}

// LastTick returns the highest pass tick recorded for a session, 0
// when no pass was journaled. Only recalc rows mark passes; mutations
// and parses carry the tick of the pass before them.
func (s *Store) LastTick(ctx context.Context, session string) (int64, error) {
	var tick int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(tick), 0) FROM recalcs WHERE session = ?
	`, session).Scan(&tick)
	if err != nil {
		return 0, fmt.Errorf("last tick: %w", err)
	}
	return tick, nil
}
