package selector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/sigil/internal/bitset"
	"github.com/roach88/sigil/internal/entity"
	"github.com/roach88/sigil/internal/event"
)

// IDSource resolves an id string to its entity. Implemented by the id
// index; the engine only reads it.
type IDSource interface {
	Resolve(id string) (entity.Index, bool)
}

// TagSource resolves a tag string to the live set of entities carrying
// it. Unknown tags resolve to an empty set, never nil. The engine
// copies from the returned set and must not mutate it.
type TagSource interface {
	Matches(tag string) *bitset.Partitioned
}

// FrameSource supplies the frame-scoped collision sets the !enter and
// !exit kinds resolve against: entities whose collision began or ended
// this frame. No production provider exists yet; registries without
// one resolve both kinds to the empty set. Returned sets are read-only
// and must use the registry's capacities.
type FrameSource interface {
	Entered() *bitset.Partitioned
	Exited() *bitset.Partitioned
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.log = logger }
}

// WithFrameSource plugs in a collision frame-set provider.
func WithFrameSource(src FrameSource) Option {
	return func(r *Registry) { r.frames = src }
}

// WithLimits overrides the parser input limits.
func WithLimits(limits Limits) Option {
	return func(r *Registry) { r.limits = limits }
}

// WithClock substitutes the logical clock so a caller can carry a
// tick counter across registries.
func WithClock(clock *Clock) Option {
	return func(r *Registry) { r.clock = clock }
}

// Registry owns the selector DAG: the interning tables, the reverse
// lookups that turn id/tag mutations into dirty flags, and the root
// set that bulk recalculation walks. Construct one per world and pass
// it explicitly to whatever loads content or resolves targets; there
// is no global instance.
type Registry struct {
	caps   entity.Capacities
	ids    IDSource
	tags   TagSource
	frames FrameSource
	bus    *event.Bus
	log    *slog.Logger
	limits Limits
	clock  *Clock

	nodes    map[string]*Node
	byID     map[string][]*Node
	byTag    map[string][]*Node
	rootSet  map[*Node]bool
	rootList []*Node

	subs []*event.Subscription
}

// NewRegistry creates a Registry resolving against ids and tags and
// observing mutations on bus. The capacities size every node's match
// set and must match the capacities the id/tag data was built with.
func NewRegistry(caps entity.Capacities, ids IDSource, tags TagSource, bus *event.Bus, opts ...Option) (*Registry, error) {
	if err := caps.Validate(); err != nil {
		return nil, fmt.Errorf("selector registry: %w", err)
	}
	if ids == nil {
		return nil, fmt.Errorf("selector registry: id source is required")
	}
	if tags == nil {
		return nil, fmt.Errorf("selector registry: tag source is required")
	}
	if bus == nil {
		return nil, fmt.Errorf("selector registry: event bus is required")
	}

	r := &Registry{
		caps:    caps,
		ids:     ids,
		tags:    tags,
		bus:     bus,
		log:     slog.Default(),
		limits:  DefaultLimits,
		clock:   NewClock(),
		nodes:   make(map[string]*Node),
		byID:    make(map[string][]*Node),
		byTag:   make(map[string][]*Node),
		rootSet: make(map[*Node]bool),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.subs = append(r.subs, bus.SubscribeMutations(r.onMutation))
	return r, nil
}

// TryParse parses input into a (possibly shared) node and registers it
// as a root for bulk recalculation. Parsing the same string twice
// returns the identical node. Failures return a ParseError and publish
// the same information on the error bus; no node is interned for a
// failed parse.
func (r *Registry) TryParse(input string) (*Node, error) {
	// Interning keys are exact substrings, so a whole-string hit is
	// the previously parsed selector.
	if node, ok := r.nodes[input]; ok {
		r.addRoot(node)
		return node, nil
	}

	chains, perr := scan(input, r.limits)
	if perr != nil {
		r.log.Warn("selector rejected",
			"code", string(perr.Code), "selector", input, "pos", perr.Pos)
		r.bus.PublishError(event.EngineError{
			Code:     string(perr.Code),
			Selector: input,
			Token:    perr.Token,
			Detail:   perr.Message,
		})
		return nil, perr
	}

	// Chains build right to left: the rightmost term is the innermost
	// prior and the chain's result is the leftmost node.
	parts := make([]*Node, 0, len(chains))
	for _, ch := range chains {
		var prior *Node
		for i := len(ch.terms) - 1; i >= 0; i-- {
			t := ch.terms[i]
			prior = r.intern(input[t.start:ch.end], t, prior)
		}
		parts = append(parts, prior)
	}

	var root *Node
	if len(parts) == 1 {
		// A single chain is returned directly, no union wrapper.
		root = parts[0]
	} else {
		root = r.internUnion(input, parts)
	}
	r.addRoot(root)
	r.log.Debug("selector parsed",
		"selector", input, "hash", root.hash, "interned", len(r.nodes))
	return root, nil
}

// intern returns the node for text, creating it with the given
// structure on first sight. text runs from the term's own span through
// the end of its chain, which is exactly the substring the node's
// structure depends on, so equal text always means equal structure.
func (r *Registry) intern(text string, t term, prior *Node) *Node {
	if existing, ok := r.nodes[text]; ok {
		return existing
	}
	n := &Node{
		kind:    t.kind,
		token:   t.token,
		text:    text,
		hash:    nodeHash(text),
		prior:   prior,
		dirty:   true,
		matches: bitset.NewPartitioned(r.caps),
		reg:     r,
	}
	r.nodes[text] = n
	switch t.kind {
	case KindID:
		r.byID[t.token] = append(r.byID[t.token], n)
	case KindTag:
		r.byTag[t.token] = append(r.byTag[t.token], n)
	}
	return n
}

func (r *Registry) internUnion(text string, parts []*Node) *Node {
	if existing, ok := r.nodes[text]; ok {
		return existing
	}
	children := make([]*Node, 0, len(parts))
	seen := make(map[*Node]bool, len(parts))
	for _, p := range parts {
		if !seen[p] {
			seen[p] = true
			children = append(children, p)
		}
	}
	n := &Node{
		kind:      KindUnion,
		text:      text,
		hash:      nodeHash(text),
		children:  children,
		dirty:     true,
		matches:   bitset.NewPartitioned(r.caps),
		reg:       r,
		childSeen: make([]uint64, len(children)),
	}
	r.nodes[text] = n
	return n
}

func (r *Registry) addRoot(n *Node) {
	if !r.rootSet[n] {
		r.rootSet[n] = true
		r.rootList = append(r.rootList, n)
	}
}

// onMutation marks the nodes whose resolution depends on the mutated
// key. No propagation to dependents happens here; staleness is
// discovered lazily by the next recalc walk.
func (r *Registry) onMutation(m event.Mutation) {
	switch m.Op {
	case event.OpIDAttached, event.OpIDDetached:
		for _, n := range r.byID[m.Key] {
			n.dirty = true
		}
	case event.OpTagAdded, event.OpTagRemoved:
		for _, n := range r.byTag[m.Key] {
			n.dirty = true
		}
	case event.OpPoolCleared:
		// Teardown can shrink any resolved set; mark everything.
		for _, n := range r.nodes {
			n.dirty = true
		}
	}
}

// Recalc advances the logical tick and brings every registered root up
// to date, walking each root's refinement DAG. Idempotent within a
// dirty epoch: a second call with no intervening mutation recomputes
// nothing and publishes nothing.
func (r *Registry) Recalc() {
	tick := r.clock.Next()
	recomputed := 0
	for _, root := range r.rootList {
		if root.recalc() {
			recomputed++
		}
	}
	if r.log.Enabled(context.Background(), slog.LevelDebug) {
		r.log.Debug("recalc pass",
			"tick", tick, "roots", len(r.rootList), "recomputed", recomputed)
	}
}

// Reset drops every interned node, reverse lookup, and root, as on
// full world teardown between test runs. Bus subscriptions survive so
// selectors parsed after the reset keep receiving dirty marks.
func (r *Registry) Reset() {
	r.nodes = make(map[string]*Node)
	r.byID = make(map[string][]*Node)
	r.byTag = make(map[string][]*Node)
	r.rootSet = make(map[*Node]bool)
	r.rootList = nil
}

// Close cancels the registry's bus subscriptions. The registry is not
// usable afterwards.
func (r *Registry) Close() {
	for _, sub := range r.subs {
		sub.Cancel()
	}
	r.subs = nil
}

// Roots returns the registered root nodes in first-parse order.
func (r *Registry) Roots() []*Node {
	out := make([]*Node, len(r.rootList))
	copy(out, r.rootList)
	return out
}

// Lookup returns the interned node for an exact selector substring.
func (r *Registry) Lookup(text string) (*Node, bool) {
	n, ok := r.nodes[text]
	return n, ok
}

// NodeCount returns the number of distinct interned nodes.
func (r *Registry) NodeCount() int { return len(r.nodes) }

// Tick returns the current logical tick.
func (r *Registry) Tick() int64 { return r.clock.Current() }

// Capacities returns the pool sizes every node's match set uses.
func (r *Registry) Capacities() entity.Capacities { return r.caps }

func (r *Registry) publishRecalcError(code Code, n *Node, format string, args ...any) {
	detail := fmt.Sprintf(format, args...)
	r.log.Warn("recalc error",
		"code", string(code), "selector", n.text, "token", n.token, "detail", detail)
	r.bus.PublishError(event.EngineError{
		Code:     string(code),
		Selector: n.text,
		Token:    n.token,
		Detail:   detail,
	})
}

func (r *Registry) publishRecalcErrorEntity(code Code, n *Node, ix entity.Index, format string, args ...any) {
	detail := fmt.Sprintf(format, args...)
	r.log.Warn("recalc error",
		"code", string(code), "selector", n.text, "token", n.token, "entity", ix.String(), "detail", detail)
	r.bus.PublishError(event.EngineError{
		Code:     string(code),
		Selector: n.text,
		Token:    n.token,
		Entity:   ix,
		Detail:   detail,
	})
}
