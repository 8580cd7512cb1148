package harness

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/sigil/internal/entity"
	"github.com/roach88/sigil/internal/event"
	"github.com/roach88/sigil/internal/scene"
	"github.com/roach88/sigil/internal/selector"
	"github.com/roach88/sigil/internal/store"
)

type runConfig struct {
	logger  *slog.Logger
	caps    entity.Capacities
	journal *store.Store
	tokens  store.TokenSource
}

// RunOption adjusts one scenario run.
type RunOption func(*runConfig)

// WithLogger routes runner and engine logging. Defaults to
// slog.Default.
func WithLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) { c.logger = logger }
}

// WithCapacities sizes the world the scenario runs in.
func WithCapacities(caps entity.Capacities) RunOption {
	return func(c *runConfig) { c.caps = caps }
}

// WithJournal records the run into st as a session. The scene apply,
// every step parse and every recalc pass land in the journal, so a
// scenario run can be traced and replayed like any recorded session.
func WithJournal(st *store.Store) RunOption {
	return func(c *runConfig) { c.journal = st }
}

// WithSessionTokens overrides session token generation. Only
// meaningful together with WithJournal.
func WithSessionTokens(src store.TokenSource) RunOption {
	return func(c *runConfig) { c.tokens = src }
}

type runner struct {
	world   *scene.World
	applied *scene.ApplyResult
	rec     *store.Recorder
	result  *Result
	seq     int64

	// parsed tracks every selector interned through this run, scene
	// document and parse steps alike. A reset step clears it.
	parsed map[string]*selector.Node

	// errEvents accumulates engine errors published since the run
	// began, for the events expectation form.
	errEvents []event.EngineError
}

// Run executes a scenario. Failed expectations and properties land in
// Result.Errors with Pass false; a non-nil error means the run itself
// could not proceed, such as an unreadable scene or an unknown entity
// handle in a mutate step.
func Run(ctx context.Context, s *Scenario, opts ...RunOption) (*Result, error) {
	cfg := runConfig{
		logger: slog.Default(),
		caps:   entity.DefaultCapacities,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	doc, err := scene.ParseFile(s.Scene)
	if err != nil {
		return nil, err
	}
	if vErrs := scene.Validate(doc, selector.DefaultLimits); len(vErrs) > 0 {
		return nil, fmt.Errorf("scene %s: %w", s.Scene, vErrs[0])
	}

	w, err := scene.NewWorld(cfg.caps, scene.WithLogger(cfg.logger))
	if err != nil {
		return nil, err
	}
	defer w.Close()

	r := &runner{
		world:  w,
		result: &Result{Name: s.Name, Scene: doc.Scene, Pass: true},
		parsed: make(map[string]*selector.Node),
	}

	errSub := w.Bus.SubscribeErrors(func(e event.EngineError) {
		r.errEvents = append(r.errEvents, e)
	})
	defer errSub.Cancel()

	if cfg.journal != nil {
		recOpts := []store.RecorderOption{store.WithRecorderLogger(cfg.logger)}
		if cfg.tokens != nil {
			recOpts = append(recOpts, store.WithTokenSource(cfg.tokens))
		}
		rec, err := store.NewRecorder(ctx, cfg.journal, w.Bus, w.Reg, doc.Scene, recOpts...)
		if err != nil {
			return nil, err
		}
		r.rec = rec
		r.result.Session = rec.Session().Token
	}

	runErr := r.run(ctx, s, doc)
	if r.rec != nil {
		if cerr := r.rec.Close(ctx); cerr != nil && runErr == nil {
			runErr = cerr
		}
	}
	if runErr != nil {
		return nil, runErr
	}
	return r.result, nil
}

func (r *runner) run(ctx context.Context, s *Scenario, doc *scene.Document) error {
	applied, errs := scene.Apply(r.world, doc, scene.ApplyFailFast)
	if len(errs) > 0 {
		return fmt.Errorf("applying scene %s: %w", doc.Scene, errs[0])
	}
	r.applied = applied

	// The apply interned the document's selectors directly, so with a
	// journal they go through the recorder once more. Re-parsing an
	// interned selector is a cache hit, and the session gains the
	// parse rows a replay needs.
	for _, text := range doc.Selectors {
		if r.rec != nil {
			if _, err := r.rec.Parse(text); err != nil {
				return fmt.Errorf("recording scene selector %q: %w", text, err)
			}
		}
		if n, ok := r.world.Reg.Lookup(text); ok {
			r.parsed[text] = n
		}
	}

	for i, step := range s.Steps {
		if err := r.runStep(ctx, i+1, step); err != nil {
			return err
		}
	}

	for _, name := range s.Properties {
		r.runProperty(name)
	}
	return nil
}

func (r *runner) runStep(ctx context.Context, num int, step Step) error {
	switch {
	case step.Parse != "":
		r.stepParse(step.Parse)
	case step.Recalc != nil:
		return r.stepRecalc(ctx)
	case step.Expect != nil:
		r.stepExpect(num, step.Expect)
	case step.Mutate != nil:
		return r.stepMutate(num, step.Mutate)
	case step.Reset != nil:
		r.stepReset()
	}
	return nil
}

// stepParse attempts an intern. A rejected selector is not a run
// failure; the outcome lands in the trace where a parse expectation
// can assert on it.
func (r *runner) stepParse(input string) {
	var node *selector.Node
	var err error
	if r.rec != nil {
		node, err = r.rec.Parse(input)
	} else {
		node, err = r.world.Reg.TryParse(input)
	}

	ev := TraceEvent{Kind: KindParse, Text: input}
	if err != nil {
		ev.OK = boolPtr(false)
		if perr, ok := selector.AsParseError(err); ok {
			ev.Code = string(perr.Code)
		}
	} else {
		ev.OK = boolPtr(true)
		r.parsed[input] = node
	}
	r.trace(ev)
}

func (r *runner) stepRecalc(ctx context.Context) error {
	reg := r.world.Reg
	roots := reg.Roots()
	before := make(map[*selector.Node]uint64, len(roots))
	for _, root := range roots {
		before[root] = root.Version()
	}

	if r.rec != nil {
		if err := r.rec.Recalc(ctx); err != nil {
			return fmt.Errorf("recalc: %w", err)
		}
	} else {
		r.world.Recalc()
	}

	ev := TraceEvent{
		Kind:    KindRecalc,
		Tick:    reg.Tick(),
		Changed: make([]string, 0, len(roots)),
		Counts:  make(map[string]int, len(roots)),
	}
	for _, root := range roots {
		if root.Version() != before[root] {
			ev.Changed = append(ev.Changed, root.Text())
		}
		ev.Counts[root.Text()] = root.Matches().Count()
	}
	r.trace(ev)
	return nil
}

func (r *runner) stepMutate(num int, m *MutateStep) error {
	var ev TraceEvent
	switch {
	case m.AttachID != nil:
		ix, err := r.resolve(m.AttachID.Entity)
		if err != nil {
			return fmt.Errorf("step %d attach_id: %w", num, err)
		}
		if err := r.world.IDs.Attach(m.AttachID.ID, ix); err != nil {
			return fmt.Errorf("step %d attach_id %q: %w", num, m.AttachID.ID, err)
		}
		r.applied.ByID[m.AttachID.ID] = ix
		ev = TraceEvent{Kind: KindMutate, Op: "attach_id", Entity: m.AttachID.Entity, Key: m.AttachID.ID}

	case m.DetachID != "":
		if !r.world.IDs.Detach(m.DetachID) {
			return fmt.Errorf("step %d detach_id: id %q is not attached", num, m.DetachID)
		}
		delete(r.applied.ByID, m.DetachID)
		ev = TraceEvent{Kind: KindMutate, Op: "detach_id", Key: m.DetachID}

	case m.AddTag != nil:
		ix, err := r.resolve(m.AddTag.Entity)
		if err != nil {
			return fmt.Errorf("step %d add_tag: %w", num, err)
		}
		if err := r.world.Tags.Add(m.AddTag.Tag, ix); err != nil {
			return fmt.Errorf("step %d add_tag %q: %w", num, m.AddTag.Tag, err)
		}
		ev = TraceEvent{Kind: KindMutate, Op: "add_tag", Entity: m.AddTag.Entity, Key: m.AddTag.Tag}

	case m.RemoveTag != nil:
		ix, err := r.resolve(m.RemoveTag.Entity)
		if err != nil {
			return fmt.Errorf("step %d remove_tag: %w", num, err)
		}
		if !r.world.Tags.Remove(m.RemoveTag.Tag, ix) {
			return fmt.Errorf("step %d remove_tag: entity %q does not carry %q", num, m.RemoveTag.Entity, m.RemoveTag.Tag)
		}
		ev = TraceEvent{Kind: KindMutate, Op: "remove_tag", Entity: m.RemoveTag.Entity, Key: m.RemoveTag.Tag}

	case m.ClearPool != "":
		pool, err := entity.ParsePool(m.ClearPool)
		if err != nil {
			return fmt.Errorf("step %d clear_pool: %w", num, err)
		}
		r.world.Teardown(pool)
		ev = TraceEvent{Kind: KindMutate, Op: "clear_pool", Key: m.ClearPool}
	}
	r.trace(ev)
	return nil
}

func (r *runner) stepReset() {
	r.world.Reg.Reset()
	r.parsed = make(map[string]*selector.Node)
	r.trace(TraceEvent{Kind: KindReset})
}

// resolve turns a scenario entity handle into a live index. Handles
// are scene labels first, declared ids second.
func (r *runner) resolve(handle string) (entity.Index, error) {
	ix, ok := r.applied.Entity(handle)
	if !ok {
		return entity.None, fmt.Errorf("unknown entity %q", handle)
	}
	return ix, nil
}

// labelFor names an entity for trace output, preferring the handle a
// scenario author would use. Entities with neither label nor id render
// as pool:slot.
func (r *runner) labelFor(ix entity.Index) string {
	for label, other := range r.applied.ByLabel {
		if other == ix {
			return label
		}
	}
	for id, other := range r.applied.ByID {
		if other == ix {
			return id
		}
	}
	return ix.String()
}

func (r *runner) trace(ev TraceEvent) {
	r.seq++
	ev.Seq = r.seq
	r.result.Trace = append(r.result.Trace, ev)
}

func boolPtr(v bool) *bool { return &v }

// sortedLabels formats a label list for assertion messages.
func sortedLabels(labels []string) string {
	s := slices.Clone(labels)
	slices.Sort(s)
	return fmt.Sprintf("%v", s)
}
