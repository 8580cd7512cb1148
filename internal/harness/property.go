package harness

import (
	"fmt"
	"slices"

	"github.com/roach88/sigil/internal/selector"
)

// Built-in property names, referenced from scenario files.
const (
	// PropIdempotentRecalc settles the registry, then requires that a
	// second pass with no interleaved mutations recomputes nothing and
	// publishes nothing.
	PropIdempotentRecalc = "idempotent-recalc"

	// PropInterningIdentity re-parses every selector seen this run and
	// requires the registry to hand back the same node.
	PropInterningIdentity = "interning-identity"
)

// Properties drive the world directly rather than through a journal
// recorder: they probe engine behavior after the recorded run, and
// their settle passes would otherwise pad the session with ticks no
// scenario step asked for.
var properties = map[string]func(*runner) *AssertionError{
	PropIdempotentRecalc:  propIdempotentRecalc,
	PropInterningIdentity: propInterningIdentity,
}

func (r *runner) runProperty(name string) {
	aerr := properties[name](r)
	ev := TraceEvent{Kind: KindProperty, Text: name}
	ev.OK = boolPtr(aerr == nil)
	r.trace(ev)
	if aerr != nil {
		r.result.AddError(aerr)
	}
}

func propIdempotentRecalc(r *runner) *AssertionError {
	reg := r.world.Reg
	reg.Recalc()

	roots := reg.Roots()
	before := make(map[*selector.Node]uint64, len(roots))
	for _, root := range roots {
		before[root] = root.Version()
	}
	errs := len(r.errEvents)

	reg.Recalc()

	var recomputed []string
	for _, root := range roots {
		if root.Version() != before[root] {
			recomputed = append(recomputed, root.Text())
		}
	}
	if len(recomputed) > 0 {
		return &AssertionError{
			Check:    PropIdempotentRecalc,
			Expected: "no recomputation on a quiet pass",
			Actual:   fmt.Sprintf("recomputed %v", recomputed),
		}
	}
	if n := len(r.errEvents) - errs; n > 0 {
		return &AssertionError{
			Check:    PropIdempotentRecalc,
			Expected: "no error events on a quiet pass",
			Actual:   fmt.Sprintf("%d published", n),
		}
	}
	return nil
}

func propInterningIdentity(r *runner) *AssertionError {
	texts := make([]string, 0, len(r.parsed))
	for text := range r.parsed {
		texts = append(texts, text)
	}
	slices.Sort(texts)

	for _, text := range texts {
		node, err := r.world.Reg.TryParse(text)
		if err != nil {
			return &AssertionError{
				Check:    PropInterningIdentity,
				Expected: fmt.Sprintf("%q to re-parse", text),
				Actual:   err.Error(),
			}
		}
		if node != r.parsed[text] {
			return &AssertionError{
				Check:    PropInterningIdentity,
				Expected: fmt.Sprintf("one node for %q", text),
				Actual:   "a second interning",
			}
		}
	}
	return nil
}
