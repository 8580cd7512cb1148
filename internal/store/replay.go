package store

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/sigil/internal/entity"
	"github.com/roach88/sigil/internal/event"
	"github.com/roach88/sigil/internal/scene"
	"github.com/roach88/sigil/internal/selector"
)

// DivergenceError reports the first point where a replayed run
// produced different state than the journal recorded.
type DivergenceError struct {
	Session  string
	Tick     int64
	Selector string
	RootHash string
	Pool     string // Pool whose snapshot differed, empty for structural divergence
	Detail   string
}

func (e *DivergenceError) Error() string {
	if e.Pool != "" {
		return fmt.Sprintf("replay of %s diverged at tick %d: root %q %s pool: %s",
			e.Session, e.Tick, e.Selector, e.Pool, e.Detail)
	}
	return fmt.Sprintf("replay of %s diverged at tick %d: root %q: %s",
		e.Session, e.Tick, e.Selector, e.Detail)
}

// IsDivergence reports whether err is a DivergenceError.
func IsDivergence(err error) bool {
	var de *DivergenceError
	return errors.As(err, &de)
}

// ReplayReport summarizes a verified replay.
type ReplayReport struct {
	Session   string
	Mutations int // Mutation rows re-applied
	Parses    int // Parse rows re-run
	Ticks     int // Passes executed
	Verified  int // Root snapshots compared
}

// journalEvent merges mutation, parse, and recalc rows into one
// seq-ordered stream. Error rows are outputs of the run, not inputs,
// and are regenerated by the replayed engine rather than applied.
type journalEvent struct {
	seq      int64
	mutation *MutationRow
	parse    *ParseRow
	recalc   *RecalcRow
}

// Replay rebuilds a fresh world from a session's journal, re-runs the
// recorded passes, and verifies every recalc snapshot byte for byte.
// The first difference is returned as a *DivergenceError; the report
// carries whatever was verified before the failure.
//
// Frame events are external inputs and are not journaled; the rebuilt
// world runs without a frame source, so sessions whose match sets
// depended on one will diverge.
func (s *Store) Replay(ctx context.Context, token string) (ReplayReport, error) {
	report := ReplayReport{Session: token}

	sess, err := s.ReadSession(ctx, token)
	if err != nil {
		return report, fmt.Errorf("replay session %q: %w", token, err)
	}

	mutations, err := s.ReadMutations(ctx, token)
	if err != nil {
		return report, fmt.Errorf("replay session %q: %w", token, err)
	}
	parses, err := s.ReadParses(ctx, token)
	if err != nil {
		return report, fmt.Errorf("replay session %q: %w", token, err)
	}
	recalcs, err := s.ReadRecalcs(ctx, token)
	if err != nil {
		return report, fmt.Errorf("replay session %q: %w", token, err)
	}

	w, err := scene.NewWorld(sess.Caps, scene.WithLogger(s.log))
	if err != nil {
		return report, fmt.Errorf("replay session %q: %w", token, err)
	}
	defer w.Close()

	for _, ev := range mergeJournal(mutations, parses, recalcs) {
		switch {
		case ev.mutation != nil:
			if err := applyMutation(w, *ev.mutation); err != nil {
				return report, fmt.Errorf("replay session %q: %w", token, err)
			}
			report.Mutations++

		case ev.parse != nil:
			if err := replayParse(w, token, *ev.parse); err != nil {
				return report, err
			}
			report.Parses++

		case ev.recalc != nil:
			row := *ev.recalc
			// Passes with no roots leave no rows, so the rebuilt
			// clock can trail the journal. Empty catch-up passes
			// recompute nothing a later pass would not.
			for w.Reg.Tick() < row.Tick {
				w.Recalc()
				report.Ticks++
			}
			if w.Reg.Tick() != row.Tick {
				return report, fmt.Errorf("replay session %q: recalc row for tick %d after clock reached %d",
					token, row.Tick, w.Reg.Tick())
			}
			if err := verifySnapshot(w, token, row); err != nil {
				return report, err
			}
			report.Verified++
		}
	}

	s.log.Info("replay verified", "session", token,
		"mutations", report.Mutations, "ticks", report.Ticks, "roots", report.Verified)
	return report, nil
}

func mergeJournal(mutations []MutationRow, parses []ParseRow, recalcs []RecalcRow) []journalEvent {
	events := make([]journalEvent, 0, len(mutations)+len(parses)+len(recalcs))
	for i := range mutations {
		events = append(events, journalEvent{seq: mutations[i].Seq, mutation: &mutations[i]})
	}
	for i := range parses {
		events = append(events, journalEvent{seq: parses[i].Seq, parse: &parses[i]})
	}
	for i := range recalcs {
		events = append(events, journalEvent{seq: recalcs[i].Seq, recalc: &recalcs[i]})
	}
	slices.SortFunc(events, func(a, b journalEvent) int {
		return cmp.Compare(a.seq, b.seq)
	})
	return events
}

// applyMutation re-applies one journaled mutation through the world's
// public surface so the bus and registry react exactly as they did
// during recording. A mutation that no longer applies means the
// journal does not describe a real run.
func applyMutation(w *scene.World, row MutationRow) error {
	pool, err := entity.ParsePool(row.Pool)
	if err != nil {
		return fmt.Errorf("mutation seq %d: %w", row.Seq, err)
	}

	switch event.Op(row.Op) {
	case event.OpIDAttached:
		if err := w.IDs.Attach(row.Key, indexFor(pool, row.Slot)); err != nil {
			return fmt.Errorf("mutation seq %d: %w", row.Seq, err)
		}
	case event.OpIDDetached:
		if !w.IDs.Detach(row.Key) {
			return fmt.Errorf("mutation seq %d: id %q was not attached", row.Seq, row.Key)
		}
	case event.OpTagAdded:
		if err := w.Tags.Add(row.Key, indexFor(pool, row.Slot)); err != nil {
			return fmt.Errorf("mutation seq %d: %w", row.Seq, err)
		}
	case event.OpTagRemoved:
		if !w.Tags.Remove(row.Key, indexFor(pool, row.Slot)) {
			return fmt.Errorf("mutation seq %d: entity did not carry tag %q", row.Seq, row.Key)
		}
	case event.OpPoolCleared:
		w.Teardown(pool)
	default:
		return fmt.Errorf("mutation seq %d: unknown op %q", row.Seq, row.Op)
	}
	return nil
}

func indexFor(pool entity.Pool, slot int64) entity.Index {
	if pool == entity.PoolGlobal {
		return entity.GlobalIndex(uint16(slot))
	}
	return entity.SceneIndex(uint32(slot))
}

// replayParse re-runs one journaled parse and checks the outcome
// against the recorded one. The parser is deterministic, so any
// difference means the journal and the engine disagree.
func replayParse(w *scene.World, session string, row ParseRow) error {
	root, err := w.Reg.TryParse(row.Text)

	if row.OK {
		if err != nil {
			return fmt.Errorf("replay session %q: parse %q failed but was recorded clean: %w",
				session, row.Text, err)
		}
		if root.Hash() != row.RootHash {
			return &DivergenceError{
				Session:  session,
				Tick:     row.Tick,
				Selector: row.Text,
				RootHash: row.RootHash,
				Detail:   fmt.Sprintf("parse produced root %s", root.Hash()),
			}
		}
		return nil
	}

	if err == nil {
		return fmt.Errorf("replay session %q: parse %q succeeded but was recorded failing with %s",
			session, row.Text, row.Code)
	}
	if perr, ok := selector.AsParseError(err); ok && string(perr.Code) != row.Code {
		return fmt.Errorf("replay session %q: parse %q failed with %s but was recorded as %s",
			session, row.Text, perr.Code, row.Code)
	}
	return nil
}

func verifySnapshot(w *scene.World, session string, row RecalcRow) error {
	root, ok := w.Reg.Lookup(row.Selector)
	if !ok {
		return &DivergenceError{
			Session:  session,
			Tick:     row.Tick,
			Selector: row.Selector,
			RootHash: row.RootHash,
			Detail:   "root missing from rebuilt registry",
		}
	}
	if root.Hash() != row.RootHash {
		return &DivergenceError{
			Session:  session,
			Tick:     row.Tick,
			Selector: row.Selector,
			RootHash: row.RootHash,
			Detail:   fmt.Sprintf("rebuilt root hashes to %s", root.Hash()),
		}
	}

	global, scn := root.Matches().Snapshot()
	globalSet, err := global.ToBytes()
	if err != nil {
		return fmt.Errorf("replay session %q: snapshot %q: %w", session, row.Selector, err)
	}
	sceneSet, err := scn.ToBytes()
	if err != nil {
		return fmt.Errorf("replay session %q: snapshot %q: %w", session, row.Selector, err)
	}

	if !bytes.Equal(globalSet, row.GlobalSet) {
		return &DivergenceError{
			Session:  session,
			Tick:     row.Tick,
			Selector: row.Selector,
			RootHash: row.RootHash,
			Pool:     "global",
			Detail:   "match set differs from journal",
		}
	}
	if !bytes.Equal(sceneSet, row.SceneSet) {
		return &DivergenceError{
			Session:  session,
			Tick:     row.Tick,
			Selector: row.Selector,
			RootHash: row.RootHash,
			Pool:     "scene",
			Detail:   "match set differs from journal",
		}
	}
	return nil
}
