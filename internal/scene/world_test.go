package scene

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sigil/internal/entity"
	"github.com/roach88/sigil/internal/event"
	"github.com/roach88/sigil/internal/selector"
)

var testCaps = entity.Capacities{Global: 16, Scene: 32}

func newTestWorld(t *testing.T, opts ...Option) *World {
	t.Helper()
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	w, err := NewWorld(testCaps, opts...)
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w
}

func TestNewWorldValidatesCapacities(t *testing.T) {
	_, err := NewWorld(entity.Capacities{Global: entity.MaxGlobalCapacity + 1, Scene: 1})
	assert.Error(t, err)
}

func TestWorldRoundTrip(t *testing.T) {
	w := newTestWorld(t)

	hero, err := w.Spawn(entity.PoolGlobal)
	require.NoError(t, err)
	require.NoError(t, w.IDs.Attach("hero", hero))
	require.NoError(t, w.Tags.Add("player", hero))

	node, err := w.Reg.TryParse("#player:@hero")
	require.NoError(t, err)
	w.Recalc()
	assert.True(t, node.Matches().Contains(hero))
	assert.Equal(t, int64(1), w.Reg.Tick())
}

func TestWorldTeardown(t *testing.T) {
	w := newTestWorld(t)
	var cleared []event.Mutation
	w.Bus.SubscribeMutations(func(m event.Mutation) {
		if m.Op == event.OpPoolCleared {
			cleared = append(cleared, m)
		}
	})

	keep, err := w.Spawn(entity.PoolGlobal)
	require.NoError(t, err)
	drop, err := w.Spawn(entity.PoolScene)
	require.NoError(t, err)
	require.NoError(t, w.IDs.Attach("keep", keep))
	require.NoError(t, w.IDs.Attach("drop", drop))
	require.NoError(t, w.Tags.Add("enemy", keep))
	require.NoError(t, w.Tags.Add("enemy", drop))

	node, err := w.Reg.TryParse("#enemy")
	require.NoError(t, err)
	w.Recalc()
	require.Equal(t, 2, node.Matches().Count())

	w.Teardown(entity.PoolScene)
	w.Recalc()

	assert.Equal(t, 1, node.Matches().Count())
	assert.True(t, node.Matches().Contains(keep))
	_, ok := w.IDs.Resolve("drop")
	assert.False(t, ok)
	_, ok = w.IDs.Resolve("keep")
	assert.True(t, ok)

	// One coarse event, no per-entity detach storm.
	require.Len(t, cleared, 1)
	assert.Equal(t, entity.PoolScene, cleared[0].Pool)

	// Scene slots recycle from zero.
	respawn, err := w.Spawn(entity.PoolScene)
	require.NoError(t, err)
	assert.Equal(t, drop, respawn)
}

func TestWorldWithClock(t *testing.T) {
	w := newTestWorld(t, WithClock(selector.NewClockAt(9)))
	assert.Equal(t, int64(9), w.Reg.Tick())
	w.Recalc()
	assert.Equal(t, int64(10), w.Reg.Tick())
}

func TestApplyDocument(t *testing.T) {
	w := newTestWorld(t)
	doc, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)
	require.Empty(t, Validate(doc, selector.DefaultLimits))

	res, errs := Apply(w, doc, ApplyFailFast)
	require.Empty(t, errs)
	assert.Equal(t, "courtyard", res.Scene)
	require.Len(t, res.Spawned, 3)
	assert.Equal(t, entity.PoolGlobal, res.Spawned[0].Pool())
	assert.Equal(t, entity.PoolScene, res.Spawned[1].Pool())
	require.Len(t, res.Roots, 3)

	w.Recalc()
	hero := res.ByID["hero"]
	assert.True(t, res.Roots[0].Matches().Contains(hero))
	assert.Equal(t, 1, res.Roots[1].Matches().Count())
	assert.Equal(t, 2, res.Roots[2].Matches().Count())

	// Labels resolve to the same entities, ids fill in for unlabeled
	// declarations.
	assert.Equal(t, hero, res.ByLabel["hero"])
	goblin, ok := res.Entity("goblin")
	require.True(t, ok)
	assert.Equal(t, res.Spawned[1], goblin)
	gate, ok := res.Entity("gate")
	require.True(t, ok)
	assert.Equal(t, res.Spawned[2], gate)
	_, ok = res.Entity("stranger")
	assert.False(t, ok)
}

func TestApplyCollectAll(t *testing.T) {
	w := newTestWorld(t)
	doc := &Document{
		Scene: "broken",
		Entities: []EntityDecl{
			{Pool: "nowhere"},
			{ID: "ok", Tags: []string{"fine"}},
		},
		Selectors: []string{"bogus", "@ok"},
	}

	res, errs := Apply(w, doc, ApplyCollectAll)
	require.Len(t, errs, 2)

	var ve ValidationError
	require.ErrorAs(t, errs[0], &ve)
	assert.Equal(t, ErrCodeInvalidPool, ve.Code)
	require.ErrorAs(t, errs[1], &ve)
	assert.Equal(t, ErrCodeInvalidSelector, ve.Code)

	// The valid declarations still applied.
	require.Len(t, res.Spawned, 1)
	require.Len(t, res.Roots, 1)
	w.Recalc()
	assert.True(t, res.Roots[0].Matches().Contains(res.ByID["ok"]))
}

func TestApplyFailFast(t *testing.T) {
	w := newTestWorld(t)
	doc := &Document{
		Scene: "broken",
		Entities: []EntityDecl{
			{Pool: "nowhere"},
			{ID: "ok"},
		},
	}

	res, errs := Apply(w, doc, ApplyFailFast)
	require.Len(t, errs, 1)
	assert.Empty(t, res.Spawned)
}

func TestApplyPoolExhausted(t *testing.T) {
	w, err := NewWorld(entity.Capacities{Global: 1, Scene: 1},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	t.Cleanup(w.Close)

	doc := &Document{
		Scene: "crowded",
		Entities: []EntityDecl{
			{Pool: "scene"},
			{Pool: "scene"},
		},
	}
	_, errs := Apply(w, doc, ApplyCollectAll)
	require.Len(t, errs, 1)
	var ve ValidationError
	require.ErrorAs(t, errs[0], &ve)
	assert.Equal(t, ErrCodePoolExhausted, ve.Code)
}
