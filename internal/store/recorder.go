package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/sigil/internal/event"
	"github.com/roach88/sigil/internal/selector"
)

// Recorder journals one engine run as a session. It subscribes to the
// bus for mutations and errors, buffers rows, and flushes the buffer
// in one transaction after every pass, together with a snapshot of
// every root's match set.
//
// A recorder must wrap a fresh world: rows journaled mid-life would
// replay against state the journal never saw. Parse attempts are not
// bus events; route them through Parse so the attempt and its outcome
// land in the journal.
//
// Like the engine it observes, the recorder is single-threaded.
type Recorder struct {
	store   *Store
	bus     *event.Bus
	reg     *selector.Registry
	session Session
	log     *slog.Logger

	seq     int64
	pending Batch
	subs    []*event.Subscription
}

// RecorderOption configures a Recorder.
type RecorderOption func(*recorderConfig)

type recorderConfig struct {
	tokens TokenSource
	logger *slog.Logger
}

// WithTokenSource sets the session token source. Defaults to
// UUIDv7Source.
func WithTokenSource(src TokenSource) RecorderOption {
	return func(c *recorderConfig) { c.tokens = src }
}

// WithRecorderLogger sets the recorder's logger. Defaults to
// slog.Default().
func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(c *recorderConfig) { c.logger = logger }
}

// NewRecorder starts a session: writes the session row and subscribes
// to the bus. The scene name is recorded as-is for listings; world
// capacities come from the registry so replay can rebuild the same
// shape.
func NewRecorder(ctx context.Context, st *Store, bus *event.Bus, reg *selector.Registry, scene string, opts ...RecorderOption) (*Recorder, error) {
	if st == nil {
		return nil, fmt.Errorf("new recorder: store is required")
	}
	if bus == nil {
		return nil, fmt.Errorf("new recorder: bus is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("new recorder: registry is required")
	}

	cfg := recorderConfig{
		tokens: UUIDv7Source{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := &Recorder{
		store: st,
		bus:   bus,
		reg:   reg,
		session: Session{
			Token: cfg.tokens.Token(),
			Scene: scene,
			Caps:  reg.Capacities(),
		},
		log: cfg.logger,
	}

	if err := st.WriteSession(ctx, r.session); err != nil {
		return nil, fmt.Errorf("new recorder: %w", err)
	}

	r.subs = append(r.subs,
		bus.SubscribeMutations(r.onMutation),
		bus.SubscribeErrors(r.onError),
	)

	r.log.Info("recording session", "session", r.session.Token, "scene", scene)
	return r, nil
}

// Session returns the session this recorder journals.
func (r *Recorder) Session() Session { return r.session }

func (r *Recorder) nextSeq() int64 {
	r.seq++
	return r.seq
}

func (r *Recorder) onMutation(m event.Mutation) {
	pool := m.Pool
	var slot int64
	if !m.Entity.IsNone() {
		pool = m.Entity.Pool()
		slot = int64(m.Entity.Slot())
	}
	r.pending.Mutations = append(r.pending.Mutations, MutationRow{
		Session: r.session.Token,
		Seq:     r.nextSeq(),
		Tick:    r.reg.Tick(),
		Op:      string(m.Op),
		Pool:    pool.String(),
		Slot:    slot,
		Key:     m.Key,
	})
}

func (r *Recorder) onError(e event.EngineError) {
	var pool string
	var slot int64
	if !e.Entity.IsNone() {
		pool = e.Entity.Pool().String()
		slot = int64(e.Entity.Slot())
	}
	r.pending.Errors = append(r.pending.Errors, ErrorRow{
		Session:  r.session.Token,
		Seq:      r.nextSeq(),
		Tick:     r.reg.Tick(),
		Code:     e.Code,
		Selector: e.Selector,
		Token:    e.Token,
		Pool:     pool,
		Slot:     slot,
		Detail:   e.Detail,
	})
}

// Parse delegates to the registry and journals the attempt: the
// selector text, whether it interned, and the root hash or error
// code. The parse error, if any, is returned unchanged.
func (r *Recorder) Parse(input string) (*selector.Node, error) {
	root, err := r.reg.TryParse(input)

	row := ParseRow{
		Session: r.session.Token,
		Seq:     r.nextSeq(),
		Tick:    r.reg.Tick(),
		Text:    input,
	}
	if err != nil {
		if perr, ok := selector.AsParseError(err); ok {
			row.Code = string(perr.Code)
		}
	} else {
		row.OK = true
		row.RootHash = root.Hash()
	}
	r.pending.Parses = append(r.pending.Parses, row)

	return root, err
}

// Recalc runs one pass and journals it: one recalc row per root with
// the root's match-set snapshot, then a flush of everything buffered
// since the last pass in a single transaction.
func (r *Recorder) Recalc(ctx context.Context) error {
	roots := r.reg.Roots()
	before := make(map[*selector.Node]uint64, len(roots))
	for _, root := range roots {
		before[root] = root.Version()
	}

	r.reg.Recalc()
	tick := r.reg.Tick()

	for _, root := range roots {
		global, scene := root.Matches().Snapshot()
		globalSet, err := global.ToBytes()
		if err != nil {
			return fmt.Errorf("record recalc: snapshot %q: %w", root.Text(), err)
		}
		sceneSet, err := scene.ToBytes()
		if err != nil {
			return fmt.Errorf("record recalc: snapshot %q: %w", root.Text(), err)
		}
		r.pending.Recalcs = append(r.pending.Recalcs, RecalcRow{
			Session:   r.session.Token,
			Seq:       r.nextSeq(),
			Tick:      tick,
			RootHash:  root.Hash(),
			Selector:  root.Text(),
			Changed:   root.Version() != before[root],
			Count:     int64(root.Matches().Count()),
			GlobalSet: globalSet,
			SceneSet:  sceneSet,
		})
	}

	return r.Flush(ctx)
}

// Flush writes all buffered rows in one transaction. Recalc calls it
// after every pass; Close calls it for the tail of the run. On error
// the buffer is kept so the flush can be retried.
func (r *Recorder) Flush(ctx context.Context) error {
	if r.pending.Empty() {
		return nil
	}

	batch := r.pending
	r.pending = Batch{}
	if err := r.store.WriteBatch(ctx, batch); err != nil {
		r.pending = batch
		return fmt.Errorf("flush session %s: %w", r.session.Token, err)
	}

	r.log.Debug("flushed batch", "session", r.session.Token, "rows", batch.Len(), "tick", r.reg.Tick())
	return nil
}

// Close cancels the bus subscriptions and flushes any rows buffered
// after the last pass.
func (r *Recorder) Close(ctx context.Context) error {
	for _, sub := range r.subs {
		sub.Cancel()
	}
	r.subs = nil
	return r.Flush(ctx)
}
