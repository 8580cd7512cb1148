package harness

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/roach88/sigil/internal/entity"
)

func (r *runner) stepExpect(num int, exp *ExpectStep) {
	switch {
	case exp.Selector != "":
		r.expectMatches(num, exp)
	case exp.Parse != "":
		r.expectParse(num, exp)
	case exp.Events != nil:
		r.expectEvents(num, exp.Events)
	}
}

// expectMatches asserts a selector's current match set by entity
// label. The trace records what actually matched even on failure, so
// a golden diff shows the divergence directly.
func (r *runner) expectMatches(num int, exp *ExpectStep) {
	ev := TraceEvent{Kind: KindExpect, Text: exp.Selector, Matches: []string{}}

	node, ok := r.world.Reg.Lookup(exp.Selector)
	if !ok {
		ev.OK = boolPtr(false)
		r.trace(ev)
		r.result.AddError(&AssertionError{
			Step:     num,
			Check:    fmt.Sprintf("match %q", exp.Selector),
			Expected: "an interned selector",
			Actual:   "never parsed",
		})
		return
	}

	matches := node.Matches()
	actual := make([]string, 0, matches.Count())
	for _, ix := range matches.Indices() {
		actual = append(actual, r.labelFor(ix))
	}
	slices.Sort(actual)
	ev.Matches = actual

	want := make(map[entity.Index]bool, len(exp.Matches))
	var unknown []string
	for _, label := range exp.Matches {
		ix, ok := r.applied.Entity(label)
		if !ok {
			unknown = append(unknown, label)
			continue
		}
		want[ix] = true
	}
	if len(unknown) > 0 {
		ev.OK = boolPtr(false)
		r.trace(ev)
		r.result.AddError(&AssertionError{
			Step:     num,
			Check:    fmt.Sprintf("match %q", exp.Selector),
			Expected: "known entity handles",
			Actual:   fmt.Sprintf("unknown %v", unknown),
		})
		return
	}

	pass := matches.Count() == len(want)
	if pass {
		for ix := range want {
			if !matches.Contains(ix) {
				pass = false
				break
			}
		}
	}
	ev.OK = boolPtr(pass)
	r.trace(ev)
	if !pass {
		r.result.AddError(&AssertionError{
			Step:     num,
			Check:    fmt.Sprintf("match %q", exp.Selector),
			Expected: sortedLabels(exp.Matches),
			Actual:   fmt.Sprintf("%v", actual),
		})
	}
}

// expectParse asserts the outcome of the most recent parse of the
// given input. An empty expected code means the parse must have
// succeeded.
func (r *runner) expectParse(num int, exp *ExpectStep) {
	ev := TraceEvent{Kind: KindExpect, Text: exp.Parse, Code: exp.Code}

	var last *TraceEvent
	for i := len(r.result.Trace) - 1; i >= 0; i-- {
		t := &r.result.Trace[i]
		if t.Kind == KindParse && t.Text == exp.Parse {
			last = t
			break
		}
	}

	check := fmt.Sprintf("parse %q", exp.Parse)
	expected := "ok"
	if exp.Code != "" {
		expected = "error " + exp.Code
	}

	if last == nil {
		ev.OK = boolPtr(false)
		r.trace(ev)
		r.result.AddError(&AssertionError{
			Step:     num,
			Check:    check,
			Expected: expected,
			Actual:   "never parsed",
		})
		return
	}

	actual := "ok"
	if !*last.OK {
		actual = "error " + last.Code
	}
	pass := expected == actual
	ev.OK = boolPtr(pass)
	r.trace(ev)
	if !pass {
		r.result.AddError(&AssertionError{
			Step:     num,
			Check:    check,
			Expected: expected,
			Actual:   actual,
		})
	}
}

// expectEvents asserts how many error events with a code have been
// published since the run began. Error events accumulate across the
// whole run; asserting the same code twice checks for republication.
func (r *runner) expectEvents(num int, want *EventCount) {
	count := 0
	for _, e := range r.errEvents {
		if e.Code == want.Code {
			count++
		}
	}

	pass := count == want.Count
	ev := TraceEvent{
		Kind:   KindExpect,
		Code:   want.Code,
		Counts: map[string]int{want.Code: count},
	}
	ev.OK = boolPtr(pass)
	r.trace(ev)
	if !pass {
		r.result.AddError(&AssertionError{
			Step:     num,
			Check:    "events " + want.Code,
			Expected: strconv.Itoa(want.Count),
			Actual:   strconv.Itoa(count),
		})
	}
}
