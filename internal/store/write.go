package store

import (
	"context"
	"fmt"
)

// Insert statements are shared between the single-row writers and
// WriteBatch. Every insert is idempotent via ON CONFLICT DO NOTHING
// on the (session, seq) primary key, so re-flushing a batch after a
// crash never duplicates rows. Other constraint violations (NOT NULL,
// foreign keys) still return errors.
const (
	insertMutationSQL = `
		INSERT INTO mutations (session, seq, tick, op, pool, slot, key)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session, seq) DO NOTHING`

	insertParseSQL = `
		INSERT INTO parses (session, seq, tick, text, root_hash, ok, code)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session, seq) DO NOTHING`

	insertRecalcSQL = `
		INSERT INTO recalcs (session, seq, tick, root_hash, selector, changed, count, global_set, scene_set)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session, seq) DO NOTHING`

	insertErrorSQL = `
		INSERT INTO errors (session, seq, tick, code, selector, token, pool, slot, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session, seq) DO NOTHING`
)

func (m MutationRow) args() []any {
	return []any{m.Session, m.Seq, m.Tick, m.Op, m.Pool, m.Slot, m.Key}
}

func (p ParseRow) args() []any {
	return []any{p.Session, p.Seq, p.Tick, p.Text, p.RootHash, p.OK, p.Code}
}

func (r RecalcRow) args() []any {
	return []any{r.Session, r.Seq, r.Tick, r.RootHash, r.Selector, r.Changed, r.Count, r.GlobalSet, r.SceneSet}
}

func (e ErrorRow) args() []any {
	return []any{e.Session, e.Seq, e.Tick, e.Code, e.Selector, e.Token, e.Pool, e.Slot, e.Detail}
}

// WriteSession inserts a session row. Idempotent on the token:
// writing the same session twice is silently ignored.
func (s *Store) WriteSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (token, scene, global_cap, scene_cap)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(token) DO NOTHING
	`, sess.Token, sess.Scene, sess.Caps.Global, sess.Caps.Scene)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// WriteMutation inserts a single mutation row.
// The session referenced by Session must exist (foreign key).
func (s *Store) WriteMutation(ctx context.Context, row MutationRow) error {
	if _, err := s.db.ExecContext(ctx, insertMutationSQL, row.args()...); err != nil {
		return fmt.Errorf("write mutation: %w", err)
	}
	return nil
}

// WriteParse inserts a single parse row.
func (s *Store) WriteParse(ctx context.Context, row ParseRow) error {
	if _, err := s.db.ExecContext(ctx, insertParseSQL, row.args()...); err != nil {
		return fmt.Errorf("write parse: %w", err)
	}
	return nil
}

// WriteRecalc inserts a single recalc row.
func (s *Store) WriteRecalc(ctx context.Context, row RecalcRow) error {
	if _, err := s.db.ExecContext(ctx, insertRecalcSQL, row.args()...); err != nil {
		return fmt.Errorf("write recalc: %w", err)
	}
	return nil
}

// WriteError inserts a single error row.
func (s *Store) WriteError(ctx context.Context, row ErrorRow) error {
	if _, err := s.db.ExecContext(ctx, insertErrorSQL, row.args()...); err != nil {
		return fmt.Errorf("write error: %w", err)
	}
	return nil
}

// WriteBatch writes every row of a batch in one transaction. Either
// the whole batch lands or none of it does; a failed flush can be
// retried with the identical batch because the inserts are
// idempotent.
func (s *Store) WriteBatch(ctx context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write batch: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, row := range b.Mutations {
		if _, err := tx.ExecContext(ctx, insertMutationSQL, row.args()...); err != nil {
			return fmt.Errorf("write batch: mutation seq %d: %w", row.Seq, err)
		}
	}
	for _, row := range b.Parses {
		if _, err := tx.ExecContext(ctx, insertParseSQL, row.args()...); err != nil {
			return fmt.Errorf("write batch: parse seq %d: %w", row.Seq, err)
		}
	}
	for _, row := range b.Recalcs {
		if _, err := tx.ExecContext(ctx, insertRecalcSQL, row.args()...); err != nil {
			return fmt.Errorf("write batch: recalc seq %d: %w", row.Seq, err)
		}
	}
	for _, row := range b.Errors {
		if _, err := tx.ExecContext(ctx, insertErrorSQL, row.args()...); err != nil {
			return fmt.Errorf("write batch: error seq %d: %w", row.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write batch: commit: %w", err)
	}
	return nil
}
