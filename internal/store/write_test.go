package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sigil/internal/entity"
)

func writeTestSession(t *testing.T, s *Store, token string) Session {
	t.Helper()
	sess := Session{Token: token, Scene: "courtyard", Caps: entity.Capacities{Global: 16, Scene: 32}}
	require.NoError(t, s.WriteSession(context.Background(), sess))
	return sess
}

func TestWriteSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := writeTestSession(t, s, "session-1")

	got, err := s.ReadSession(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Duplicate token is ignored, the first row wins.
	require.NoError(t, s.WriteSession(ctx, Session{Token: "session-1", Scene: "other"}))
	got, err = s.ReadSession(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, "courtyard", got.Scene)
}

func TestReadSessionMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ReadSession(context.Background(), "nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestListSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.NotNil(t, sessions)
	assert.Empty(t, sessions)

	writeTestSession(t, s, "session-b")
	writeTestSession(t, s, "session-a")

	sessions, err = s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "session-a", sessions[0].Token)
	assert.Equal(t, "session-b", sessions[1].Token)
}

func TestWriteRowsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	writeTestSession(t, s, "session-1")

	mutation := MutationRow{
		Session: "session-1", Seq: 1, Tick: 0,
		Op: "id_attached", Pool: "global", Slot: 3, Key: "hero",
	}
	parse := ParseRow{
		Session: "session-1", Seq: 2, Tick: 0,
		Text: "@hero", RootHash: "abc123", OK: true,
	}
	recalc := RecalcRow{
		Session: "session-1", Seq: 3, Tick: 1,
		RootHash: "abc123", Selector: "@hero", Changed: true, Count: 1,
		GlobalSet: []byte{0x01, 0x02}, SceneSet: []byte{0x03},
	}
	errRow := ErrorRow{
		Session: "session-1", Seq: 4, Tick: 1,
		Code: "UNRESOLVED_REFERENCE", Selector: "@ghost", Token: "ghost",
		Detail: "id \"ghost\" is bound to no entity",
	}

	require.NoError(t, s.WriteMutation(ctx, mutation))
	require.NoError(t, s.WriteParse(ctx, parse))
	require.NoError(t, s.WriteRecalc(ctx, recalc))
	require.NoError(t, s.WriteError(ctx, errRow))

	mutations, err := s.ReadMutations(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, []MutationRow{mutation}, mutations)

	parses, err := s.ReadParses(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, []ParseRow{parse}, parses)

	recalcs, err := s.ReadRecalcs(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, []RecalcRow{recalc}, recalcs)

	errRows, err := s.ReadErrors(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, []ErrorRow{errRow}, errRows)
}

func TestReadsReturnEmptyNotNil(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mutations, err := s.ReadMutations(ctx, "nope")
	require.NoError(t, err)
	assert.NotNil(t, mutations)
	assert.Empty(t, mutations)

	parses, err := s.ReadParses(ctx, "nope")
	require.NoError(t, err)
	assert.NotNil(t, parses)

	recalcs, err := s.ReadRecalcs(ctx, "nope")
	require.NoError(t, err)
	assert.NotNil(t, recalcs)

	errRows, err := s.ReadErrors(ctx, "nope")
	require.NoError(t, err)
	assert.NotNil(t, errRows)
}

func TestWriteIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	writeTestSession(t, s, "session-1")

	row := MutationRow{Session: "session-1", Seq: 1, Op: "tag_added", Pool: "scene", Slot: 0, Key: "enemy"}
	require.NoError(t, s.WriteMutation(ctx, row))
	require.NoError(t, s.WriteMutation(ctx, row))

	mutations, err := s.ReadMutations(ctx, "session-1")
	require.NoError(t, err)
	assert.Len(t, mutations, 1)
}

func TestWriteRequiresSession(t *testing.T) {
	s := newTestStore(t)

	err := s.WriteMutation(context.Background(), MutationRow{
		Session: "missing", Seq: 1, Op: "tag_added", Pool: "scene", Key: "enemy",
	})
	assert.Error(t, err, "foreign key should reject rows for unknown sessions")
}

func TestWriteBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	writeTestSession(t, s, "session-1")

	batch := Batch{
		Mutations: []MutationRow{
			{Session: "session-1", Seq: 1, Op: "id_attached", Pool: "global", Slot: 0, Key: "hero"},
			{Session: "session-1", Seq: 2, Op: "tag_added", Pool: "global", Slot: 0, Key: "player"},
		},
		Parses: []ParseRow{
			{Session: "session-1", Seq: 3, Text: "@hero", RootHash: "abc", OK: true},
		},
		Recalcs: []RecalcRow{
			{Session: "session-1", Seq: 4, Tick: 1, RootHash: "abc", Selector: "@hero",
				Changed: true, Count: 1, GlobalSet: []byte{1}, SceneSet: []byte{2}},
		},
		Errors: []ErrorRow{
			{Session: "session-1", Seq: 5, Tick: 1, Code: "UNRESOLVED_REFERENCE", Selector: "@x", Token: "x"},
		},
	}
	assert.Equal(t, 5, batch.Len())
	require.NoError(t, s.WriteBatch(ctx, batch))

	mutations, err := s.ReadMutations(ctx, "session-1")
	require.NoError(t, err)
	assert.Len(t, mutations, 2)

	// The identical batch is a no-op.
	require.NoError(t, s.WriteBatch(ctx, batch))
	mutations, err = s.ReadMutations(ctx, "session-1")
	require.NoError(t, err)
	assert.Len(t, mutations, 2)
}

func TestWriteBatchEmpty(t *testing.T) {
	s := newTestStore(t)
	assert.True(t, Batch{}.Empty())
	assert.NoError(t, s.WriteBatch(context.Background(), Batch{}))
}

func TestWriteBatchAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	writeTestSession(t, s, "session-1")

	// The error row references a session that does not exist, so the
	// whole batch must roll back.
	batch := Batch{
		Mutations: []MutationRow{
			{Session: "session-1", Seq: 1, Op: "tag_added", Pool: "scene", Key: "enemy"},
		},
		Errors: []ErrorRow{
			{Session: "missing", Seq: 2, Code: "EMPTY_INPUT"},
		},
	}
	require.Error(t, s.WriteBatch(ctx, batch))

	mutations, err := s.ReadMutations(ctx, "session-1")
	require.NoError(t, err)
	assert.Empty(t, mutations, "failed batch should leave nothing behind")
}

func TestLastSeq(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	writeTestSession(t, s, "session-1")

	seq, err := s.LastSeq(ctx, "session-1")
	require.NoError(t, err)
	assert.Zero(t, seq)

	require.NoError(t, s.WriteMutation(ctx, MutationRow{Session: "session-1", Seq: 2, Op: "tag_added", Pool: "scene", Key: "a"}))
	require.NoError(t, s.WriteError(ctx, ErrorRow{Session: "session-1", Seq: 7, Code: "EMPTY_INPUT"}))
	require.NoError(t, s.WriteParse(ctx, ParseRow{Session: "session-1", Seq: 5, Text: "@a"}))

	seq, err = s.LastSeq(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), seq)
}

func TestLastTick(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	writeTestSession(t, s, "session-1")

	tick, err := s.LastTick(ctx, "session-1")
	require.NoError(t, err)
	assert.Zero(t, tick)

	require.NoError(t, s.WriteRecalc(ctx, RecalcRow{
		Session: "session-1", Seq: 1, Tick: 3, RootHash: "h", Selector: "@a",
		GlobalSet: []byte{}, SceneSet: []byte{},
	}))

	tick, err = s.LastTick(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), tick)
}
