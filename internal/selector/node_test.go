package selector

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sigil/internal/bitset"
	"github.com/roach88/sigil/internal/entity"
	"github.com/roach88/sigil/internal/event"
	"github.com/roach88/sigil/internal/index"
)

var testCaps = entity.Capacities{Global: 64, Scene: 128}

type fixture struct {
	bus  *event.Bus
	ids  *index.IDs
	tags *index.Tags
	reg  *Registry
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	bus := event.NewBus()
	ids := index.NewIDs(testCaps, bus)
	tags := index.NewTags(testCaps, bus)
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	reg, err := NewRegistry(testCaps, ids, tags, bus, opts...)
	require.NoError(t, err)
	t.Cleanup(reg.Close)
	return &fixture{bus: bus, ids: ids, tags: tags, reg: reg}
}

// captureErrors records every engine error published after the call.
func (f *fixture) captureErrors() *[]event.EngineError {
	var out []event.EngineError
	f.bus.SubscribeErrors(func(e event.EngineError) { out = append(out, e) })
	return &out
}

func (f *fixture) parse(t *testing.T, input string) *Node {
	t.Helper()
	node, err := f.reg.TryParse(input)
	require.NoError(t, err)
	return node
}

func TestIDNode(t *testing.T) {
	f := newFixture(t)
	hero := entity.GlobalIndex(1)
	require.NoError(t, f.ids.Attach("hero", hero))

	node := f.parse(t, "@hero")
	assert.Equal(t, KindID, node.Kind())
	assert.Equal(t, "hero", node.Token())

	f.reg.Recalc()
	matches := node.Matches()
	assert.Equal(t, 1, matches.Count())
	assert.True(t, matches.Contains(hero))

	// The cached set is stable storage; recalcs mutate it in place.
	f.ids.Detach("hero")
	f.reg.Recalc()
	assert.Same(t, matches, node.Matches())
	assert.Equal(t, 0, matches.Count())

	other := entity.SceneIndex(9)
	require.NoError(t, f.ids.Attach("hero", other))
	f.reg.Recalc()
	assert.True(t, matches.Contains(other))
	assert.False(t, matches.Contains(hero))
}

func TestIDNodeUnresolvedReference(t *testing.T) {
	f := newFixture(t)
	errs := f.captureErrors()

	node := f.parse(t, "@ghost")
	f.reg.Recalc()
	assert.Equal(t, 0, node.Matches().Count())
	require.Len(t, *errs, 1)
	got := (*errs)[0]
	assert.Equal(t, string(CodeUnresolvedReference), got.Code)
	assert.Equal(t, "@ghost", got.Selector)
	assert.Equal(t, "ghost", got.Token)

	// A clean recalc neither recomputes nor republishes.
	f.reg.Recalc()
	assert.Len(t, *errs, 1)

	require.NoError(t, f.ids.Attach("ghost", entity.GlobalIndex(3)))
	f.reg.Recalc()
	assert.Equal(t, 1, node.Matches().Count())
	assert.Len(t, *errs, 1)
}

func TestTagNode(t *testing.T) {
	f := newFixture(t)
	errs := f.captureErrors()
	a, b := entity.GlobalIndex(1), entity.GlobalIndex(2)
	c := entity.SceneIndex(3)
	for _, ix := range []entity.Index{a, b, c} {
		require.NoError(t, f.tags.Add("enemy", ix))
	}

	node := f.parse(t, "#enemy")
	f.reg.Recalc()
	assert.Equal(t, 3, node.Matches().Count())
	assert.True(t, node.Matches().Contains(c))

	f.tags.Remove("enemy", b)
	f.reg.Recalc()
	assert.Equal(t, 2, node.Matches().Count())
	assert.False(t, node.Matches().Contains(b))

	// An unknown tag is a legitimate empty set, not an error.
	unknown := f.parse(t, "#nobody")
	f.reg.Recalc()
	assert.Equal(t, 0, unknown.Matches().Count())
	assert.Empty(t, *errs)
}

func TestRefinementChain(t *testing.T) {
	f := newFixture(t)
	boss := entity.GlobalIndex(2)
	grunt := entity.GlobalIndex(5)
	require.NoError(t, f.ids.Attach("boss", boss))
	require.NoError(t, f.tags.Add("enemy", boss))
	require.NoError(t, f.tags.Add("enemy", grunt))

	// Rightmost term is innermost: #enemy:@boss intersects the enemy
	// set with {boss}.
	node := f.parse(t, "#enemy:@boss")
	f.reg.Recalc()
	assert.Equal(t, 1, node.Matches().Count())
	assert.True(t, node.Matches().Contains(boss))

	f.tags.Remove("enemy", boss)
	f.reg.Recalc()
	assert.Equal(t, 0, node.Matches().Count())
}

func TestRefinementThreeTerms(t *testing.T) {
	f := newFixture(t)
	both := entity.SceneIndex(1)
	partial := entity.SceneIndex(2)
	for _, tag := range []string{"hostile", "armored", "flying"} {
		require.NoError(t, f.tags.Add(tag, both))
	}
	require.NoError(t, f.tags.Add("hostile", partial))
	require.NoError(t, f.tags.Add("armored", partial))

	node := f.parse(t, "#hostile:#armored:#flying")
	f.reg.Recalc()
	assert.Equal(t, 1, node.Matches().Count())
	assert.True(t, node.Matches().Contains(both))
	assert.False(t, node.Matches().Contains(partial))
}

func TestIDRefinementOnChainViaPrior(t *testing.T) {
	f := newFixture(t)
	boss := entity.GlobalIndex(2)
	require.NoError(t, f.ids.Attach("boss", boss))
	require.NoError(t, f.tags.Add("enemy", boss))

	node := f.parse(t, "@boss:#enemy")
	f.reg.Recalc()
	assert.True(t, node.Matches().Contains(boss))

	errs := f.captureErrors()
	f.tags.Remove("enemy", boss)
	f.reg.Recalc()
	// Prior is now empty, so the miss is silent.
	assert.Equal(t, 0, node.Matches().Count())
	assert.Empty(t, *errs)
}

func TestPartitionMismatch(t *testing.T) {
	f := newFixture(t)
	errs := f.captureErrors()
	hero := entity.GlobalIndex(1)
	prop := entity.SceneIndex(4)
	require.NoError(t, f.ids.Attach("hero", hero))
	require.NoError(t, f.tags.Add("scenery", prop))

	// scenery matches only scene entities while hero is global.
	node := f.parse(t, "@hero:#scenery")
	f.reg.Recalc()
	assert.Equal(t, 0, node.Matches().Count())
	require.Len(t, *errs, 1)
	got := (*errs)[0]
	assert.Equal(t, string(CodePartitionMismatch), got.Code)
	assert.Equal(t, "@hero:#scenery", got.Selector)
	assert.Equal(t, "hero", got.Token)
	assert.Equal(t, hero, got.Entity)

	// Once the prior has members in hero's pool the empty result is an
	// ordinary miss, not a mismatch.
	require.NoError(t, f.tags.Add("scenery", entity.GlobalIndex(7)))
	f.reg.Recalc()
	assert.Equal(t, 0, node.Matches().Count())
	assert.Len(t, *errs, 1)
}

func TestUnionNode(t *testing.T) {
	f := newFixture(t)
	hero := entity.GlobalIndex(1)
	s2, s3 := entity.SceneIndex(2), entity.SceneIndex(3)
	require.NoError(t, f.ids.Attach("hero", hero))
	require.NoError(t, f.tags.Add("loot", s2))
	require.NoError(t, f.tags.Add("loot", s3))

	node := f.parse(t, "@hero,#loot")
	assert.Equal(t, KindUnion, node.Kind())
	require.Len(t, node.Children(), 2)

	f.reg.Recalc()
	assert.Equal(t, 3, node.Matches().Count())
	assert.True(t, node.Matches().Contains(hero))
	assert.True(t, node.Matches().Contains(s2))

	// Overlap collapses in the set union.
	require.NoError(t, f.tags.Add("loot", hero))
	f.reg.Recalc()
	assert.Equal(t, 3, node.Matches().Count())

	f.tags.Remove("loot", s3)
	f.reg.Recalc()
	assert.Equal(t, 2, node.Matches().Count())
}

func TestUnionDeduplicatesChildren(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ids.Attach("hero", entity.GlobalIndex(1)))

	node := f.parse(t, "@hero,@hero")
	require.Len(t, node.Children(), 1)
	f.reg.Recalc()
	assert.Equal(t, 1, node.Matches().Count())
}

func TestUnionOverCleanChains(t *testing.T) {
	f := newFixture(t)
	hero := entity.GlobalIndex(1)
	s2 := entity.SceneIndex(2)
	require.NoError(t, f.ids.Attach("hero", hero))
	require.NoError(t, f.tags.Add("loot", s2))

	f.parse(t, "@hero")
	f.parse(t, "#loot")
	f.reg.Recalc()

	// Both chains are clean when the union forms; it still needs its
	// first merge.
	node := f.parse(t, "@hero,#loot")
	f.reg.Recalc()
	assert.Equal(t, 2, node.Matches().Count())
	assert.True(t, node.Matches().Contains(hero))
	assert.True(t, node.Matches().Contains(s2))
}

func TestCollisionWithoutProvider(t *testing.T) {
	f := newFixture(t)
	errs := f.captureErrors()

	enter := f.parse(t, "!enter")
	exit := f.parse(t, "!exit")
	f.reg.Recalc()
	assert.Equal(t, 0, enter.Matches().Count())
	assert.Equal(t, 0, exit.Matches().Count())
	assert.Empty(t, *errs)
}

func TestCollisionWithProvider(t *testing.T) {
	frames := &index.StaticFrameEvents{
		Enter: bitset.NewPartitioned(testCaps),
		Exit:  bitset.NewPartitioned(testCaps),
	}
	g1 := entity.GlobalIndex(1)
	s2, s3 := entity.SceneIndex(2), entity.SceneIndex(3)
	frames.Enter.Add(g1)
	frames.Enter.Add(s2)
	frames.Exit.Add(s3)

	f := newFixture(t, WithFrameSource(frames))
	require.NoError(t, f.tags.Add("fragile", s2))

	enter := f.parse(t, "!enter")
	exit := f.parse(t, "!exit")
	refined := f.parse(t, "!enter:#fragile")
	f.reg.Recalc()
	assert.Equal(t, 2, enter.Matches().Count())
	assert.True(t, enter.Matches().Contains(g1))
	assert.Equal(t, 1, exit.Matches().Count())
	assert.True(t, exit.Matches().Contains(s3))
	assert.Equal(t, 1, refined.Matches().Count())
	assert.True(t, refined.Matches().Contains(s2))

	// Frame sets are new every tick; no dirty marking is needed for
	// the next pass to see the change.
	frames.Enter.Clear()
	frames.Enter.Add(s3)
	f.reg.Recalc()
	assert.Equal(t, 1, enter.Matches().Count())
	assert.True(t, enter.Matches().Contains(s3))
	assert.Equal(t, 0, refined.Matches().Count())
}

func TestCollisionProviderCapacityMismatch(t *testing.T) {
	small := entity.Capacities{Global: 8, Scene: 8}
	frames := &index.StaticFrameEvents{
		Enter: bitset.NewPartitioned(small),
		Exit:  bitset.NewPartitioned(small),
	}
	f := newFixture(t, WithFrameSource(frames))
	errs := f.captureErrors()

	node := f.parse(t, "!enter")
	f.reg.Recalc()
	assert.Equal(t, 0, node.Matches().Count())
	require.NotEmpty(t, *errs)
	assert.Equal(t, string(CodePartitionMismatch), (*errs)[0].Code)
}
