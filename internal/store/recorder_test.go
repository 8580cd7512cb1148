package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sigil/internal/entity"
	"github.com/roach88/sigil/internal/scene"
	"github.com/roach88/sigil/internal/selector"
)

func newRecordedWorld(t *testing.T, tokens ...string) (*Store, *scene.World, *Recorder) {
	t.Helper()
	s := newTestStore(t)

	w, err := scene.NewWorld(entity.Capacities{Global: 16, Scene: 32},
		scene.WithLogger(discardLogger()))
	require.NoError(t, err)
	t.Cleanup(w.Close)

	opts := []RecorderOption{WithRecorderLogger(discardLogger())}
	if len(tokens) > 0 {
		opts = append(opts, WithTokenSource(NewFixedTokens(tokens...)))
	}
	rec, err := NewRecorder(context.Background(), s, w.Bus, w.Reg, "test-scene", opts...)
	require.NoError(t, err)
	return s, w, rec
}

func TestNewRecorderValidation(t *testing.T) {
	s := newTestStore(t)
	w, err := scene.NewWorld(entity.Capacities{Global: 4, Scene: 4},
		scene.WithLogger(discardLogger()))
	require.NoError(t, err)
	defer w.Close()
	ctx := context.Background()

	_, err = NewRecorder(ctx, nil, w.Bus, w.Reg, "s")
	assert.ErrorContains(t, err, "store is required")
	_, err = NewRecorder(ctx, s, nil, w.Reg, "s")
	assert.ErrorContains(t, err, "bus is required")
	_, err = NewRecorder(ctx, s, w.Bus, nil, "s")
	assert.ErrorContains(t, err, "registry is required")
}

func TestRecorderWritesSessionRow(t *testing.T) {
	s, _, rec := newRecordedWorld(t, "session-1")

	assert.Equal(t, "session-1", rec.Session().Token)

	sess, err := s.ReadSession(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, "test-scene", sess.Scene)
	assert.Equal(t, entity.Capacities{Global: 16, Scene: 32}, sess.Caps)
}

func TestRecorderDefaultTokensAreUUIDv7(t *testing.T) {
	_, _, rec := newRecordedWorld(t)

	id, err := uuid.Parse(rec.Session().Token)
	require.NoError(t, err)
	assert.EqualValues(t, 7, id.Version())
}

func TestRecorderJournalsRun(t *testing.T) {
	s, w, rec := newRecordedWorld(t, "session-1")
	ctx := context.Background()

	hero, err := w.Spawn(entity.PoolGlobal)
	require.NoError(t, err)
	require.NoError(t, w.IDs.Attach("hero", hero))

	_, err = rec.Parse("@hero")
	require.NoError(t, err)
	_, err = rec.Parse("#enemy:@hero")
	require.NoError(t, err)

	require.NoError(t, rec.Recalc(ctx))

	require.NoError(t, w.Tags.Add("enemy", hero))
	require.NoError(t, rec.Recalc(ctx))
	require.NoError(t, rec.Close(ctx))

	mutations, err := s.ReadMutations(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, mutations, 2)
	assert.Equal(t, "id_attached", mutations[0].Op)
	assert.Equal(t, "hero", mutations[0].Key)
	assert.Equal(t, "global", mutations[0].Pool)
	assert.Equal(t, int64(0), mutations[0].Tick, "attach happened before the first pass")
	assert.Equal(t, "tag_added", mutations[1].Op)
	assert.Equal(t, int64(1), mutations[1].Tick, "tag was added between passes one and two")

	parses, err := s.ReadParses(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, parses, 2)
	for _, row := range parses {
		assert.True(t, row.OK)
		assert.Len(t, row.RootHash, 64)
		assert.Empty(t, row.Code)
	}
	assert.Equal(t, "@hero", parses[0].Text)
	assert.Equal(t, "#enemy:@hero", parses[1].Text)

	recalcs, err := s.ReadRecalcs(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, recalcs, 4, "two roots snapshotted on each of two passes")
	assert.Equal(t, int64(1), recalcs[0].Tick)
	assert.Equal(t, int64(1), recalcs[1].Tick)
	assert.Equal(t, int64(2), recalcs[2].Tick)
	assert.Equal(t, int64(2), recalcs[3].Tick)

	byTickSelector := map[[2]any]RecalcRow{}
	for _, row := range recalcs {
		byTickSelector[[2]any{row.Tick, row.Selector}] = row
	}
	assert.Equal(t, int64(1), byTickSelector[[2]any{int64(1), "@hero"}].Count)
	assert.Equal(t, int64(0), byTickSelector[[2]any{int64(1), "#enemy:@hero"}].Count)
	assert.Equal(t, int64(1), byTickSelector[[2]any{int64(2), "#enemy:@hero"}].Count)

	errRows, err := s.ReadErrors(ctx, "session-1")
	require.NoError(t, err)
	assert.Empty(t, errRows)

	// seq is strictly increasing across all tables.
	events, err := s.Trace(ctx, "session-1", nil)
	require.NoError(t, err)
	last := int64(0)
	for _, ev := range events {
		assert.Greater(t, ev.Seq, last)
		last = ev.Seq
	}

	lastSeq, err := s.LastSeq(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, last, lastSeq)

	lastTick, err := s.LastTick(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), lastTick)
}

func TestRecorderChangedFlag(t *testing.T) {
	s, w, rec := newRecordedWorld(t, "session-1")
	ctx := context.Background()

	hero, err := w.Spawn(entity.PoolGlobal)
	require.NoError(t, err)
	require.NoError(t, w.IDs.Attach("hero", hero))
	require.NoError(t, w.Tags.Add("enemy", hero))

	_, err = rec.Parse("@hero")
	require.NoError(t, err)
	_, err = rec.Parse("#enemy")
	require.NoError(t, err)

	require.NoError(t, rec.Recalc(ctx)) // First pass computes everything
	require.NoError(t, rec.Recalc(ctx)) // Clean pass recomputes nothing

	require.True(t, w.Tags.Remove("enemy", hero))
	require.NoError(t, rec.Recalc(ctx)) // Only the tag root is dirty
	require.NoError(t, rec.Close(ctx))

	recalcs, err := s.ReadRecalcs(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, recalcs, 6)

	changed := map[[2]any]bool{}
	for _, row := range recalcs {
		changed[[2]any{row.Tick, row.Selector}] = row.Changed
	}
	assert.True(t, changed[[2]any{int64(1), "@hero"}])
	assert.True(t, changed[[2]any{int64(1), "#enemy"}])
	assert.False(t, changed[[2]any{int64(2), "@hero"}])
	assert.False(t, changed[[2]any{int64(2), "#enemy"}])
	assert.False(t, changed[[2]any{int64(3), "@hero"}])
	assert.True(t, changed[[2]any{int64(3), "#enemy"}])
}

func TestRecorderJournalsParseFailure(t *testing.T) {
	s, _, rec := newRecordedWorld(t, "session-1")
	ctx := context.Background()

	_, err := rec.Parse("bogus")
	require.Error(t, err)
	assert.True(t, selector.IsCode(err, selector.CodeInvalidPrefix))
	require.NoError(t, rec.Close(ctx))

	parses, err := s.ReadParses(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, parses, 1)
	assert.False(t, parses[0].OK)
	assert.Equal(t, "bogus", parses[0].Text)
	assert.Equal(t, "INVALID_PREFIX", parses[0].Code)
	assert.Empty(t, parses[0].RootHash)

	// The registry also published the failure on the bus, so the
	// journal carries a matching error row.
	errRows, err := s.ReadErrors(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, errRows, 1)
	assert.Equal(t, "INVALID_PREFIX", errRows[0].Code)
	assert.Equal(t, "bogus", errRows[0].Selector)
}

func TestRecorderJournalsEngineErrors(t *testing.T) {
	s, _, rec := newRecordedWorld(t, "session-1")
	ctx := context.Background()

	_, err := rec.Parse("@ghost")
	require.NoError(t, err)

	require.NoError(t, rec.Recalc(ctx))
	require.NoError(t, rec.Recalc(ctx)) // Clean pass must not republish
	require.NoError(t, rec.Close(ctx))

	errRows, err := s.ReadErrors(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, errRows, 1)
	assert.Equal(t, "UNRESOLVED_REFERENCE", errRows[0].Code)
	assert.Equal(t, "@ghost", errRows[0].Selector)
	assert.Equal(t, "ghost", errRows[0].Token)
	assert.Equal(t, int64(1), errRows[0].Tick)
}

func TestRecorderCloseFlushesTail(t *testing.T) {
	s, w, rec := newRecordedWorld(t, "session-1")
	ctx := context.Background()

	hero, err := w.Spawn(entity.PoolGlobal)
	require.NoError(t, err)

	_, err = rec.Parse("#enemy")
	require.NoError(t, err)
	require.NoError(t, rec.Recalc(ctx))

	// A mutation after the last pass still reaches the journal.
	require.NoError(t, w.Tags.Add("enemy", hero))
	require.NoError(t, rec.Close(ctx))

	mutations, err := s.ReadMutations(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, mutations, 1)
	assert.Equal(t, "tag_added", mutations[0].Op)

	// After Close the recorder is detached from the bus; an explicit
	// flush finds nothing new.
	require.True(t, w.Tags.Remove("enemy", hero))
	require.NoError(t, rec.Flush(ctx))
	mutations, err = s.ReadMutations(ctx, "session-1")
	require.NoError(t, err)
	assert.Len(t, mutations, 1)
}

func TestRecorderPoolClear(t *testing.T) {
	s, w, rec := newRecordedWorld(t, "session-1")
	ctx := context.Background()

	goblin, err := w.Spawn(entity.PoolScene)
	require.NoError(t, err)
	require.NoError(t, w.Tags.Add("enemy", goblin))

	w.Teardown(entity.PoolScene)
	require.NoError(t, rec.Close(ctx))

	mutations, err := s.ReadMutations(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, mutations, 2)
	assert.Equal(t, "pool_cleared", mutations[1].Op)
	assert.Equal(t, "scene", mutations[1].Pool)
	assert.Equal(t, int64(0), mutations[1].Slot)
	assert.Empty(t, mutations[1].Key)
}
