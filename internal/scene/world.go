package scene

import (
	"fmt"
	"log/slog"

	"github.com/roach88/sigil/internal/entity"
	"github.com/roach88/sigil/internal/event"
	"github.com/roach88/sigil/internal/index"
	"github.com/roach88/sigil/internal/selector"
)

// World wires the engine together: one bus, one allocator, the id and
// tag indexes, and the selector registry, all sharing one capacity
// configuration. Construct with NewWorld and pass it explicitly; there
// is no global instance and no locking, matching the engine's
// single-threaded contract.
type World struct {
	caps entity.Capacities
	log  *slog.Logger

	Bus   *event.Bus
	Alloc *entity.Allocator
	IDs   *index.IDs
	Tags  *index.Tags
	Reg   *selector.Registry
}

// Option configures a World.
type Option func(*worldConfig)

type worldConfig struct {
	logger  *slog.Logger
	regOpts []selector.Option
}

// WithLogger sets the structured logger for the world and its
// registry. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *worldConfig) { c.logger = logger }
}

// WithFrameSource plugs a collision frame-set provider into the
// registry.
func WithFrameSource(src selector.FrameSource) Option {
	return func(c *worldConfig) { c.regOpts = append(c.regOpts, selector.WithFrameSource(src)) }
}

// WithLimits overrides the selector parser limits.
func WithLimits(limits selector.Limits) Option {
	return func(c *worldConfig) { c.regOpts = append(c.regOpts, selector.WithLimits(limits)) }
}

// WithClock substitutes the registry's logical clock, letting an
// embedder carry a tick counter across worlds.
func WithClock(clock *selector.Clock) Option {
	return func(c *worldConfig) { c.regOpts = append(c.regOpts, selector.WithClock(clock)) }
}

// NewWorld builds a fully wired world over the given pool capacities.
func NewWorld(caps entity.Capacities, opts ...Option) (*World, error) {
	if err := caps.Validate(); err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}

	cfg := worldConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.regOpts = append(cfg.regOpts, selector.WithLogger(cfg.logger))

	bus := event.NewBus()
	ids := index.NewIDs(caps, bus)
	tags := index.NewTags(caps, bus)
	reg, err := selector.NewRegistry(caps, ids, tags, bus, cfg.regOpts...)
	if err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}

	return &World{
		caps:  caps,
		log:   cfg.logger,
		Bus:   bus,
		Alloc: entity.NewAllocator(caps),
		IDs:   ids,
		Tags:  tags,
		Reg:   reg,
	}, nil
}

// Capacities returns the pool configuration shared by every component.
func (w *World) Capacities() entity.Capacities { return w.caps }

// Spawn allocates the next entity in pool.
func (w *World) Spawn(pool entity.Pool) (entity.Index, error) {
	return w.Alloc.Alloc(pool)
}

// Recalc advances the tick and brings every registered selector up to
// date.
func (w *World) Recalc() { w.Reg.Recalc() }

// Teardown clears one pool across both indexes, reclaims its slots,
// and publishes a single pool_cleared mutation. No per-entity detach
// events fire; observers treat the coarse event as invalidating the
// whole pool.
func (w *World) Teardown(pool entity.Pool) {
	w.IDs.ClearPool(pool)
	w.Tags.ClearPool(pool)
	w.Alloc.Reset(pool)
	w.Bus.PublishMutation(event.Mutation{Op: event.OpPoolCleared, Pool: pool})
	w.log.Info("pool cleared", "pool", pool.String())
}

// Close cancels the registry's bus subscriptions.
func (w *World) Close() { w.Reg.Close() }
