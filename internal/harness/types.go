package harness

import "fmt"

// TraceEvent is one entry in a scenario trace. Kind selects which of
// the optional fields carry data; the zero values of the rest are
// omitted when the trace is serialized.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Kind string `json:"kind"`

	// Parse, expect and property events.
	Text string `json:"text,omitempty"`
	OK   *bool  `json:"ok,omitempty"`
	Code string `json:"code,omitempty"`

	// Recalc events.
	Tick    int64          `json:"tick,omitempty"`
	Changed []string       `json:"changed,omitempty"`
	Counts  map[string]int `json:"counts,omitempty"`

	// Mutate events.
	Op     string `json:"op,omitempty"`
	Entity string `json:"entity,omitempty"`
	Key    string `json:"key,omitempty"`

	// Match-form expectations. Non-nil even when empty so a golden
	// records "matched nothing" distinctly from "not a match check".
	Matches []string `json:"matches,omitempty"`
}

// Trace event kinds.
const (
	KindParse    = "parse"
	KindRecalc   = "recalc"
	KindExpect   = "expect"
	KindMutate   = "mutate"
	KindReset    = "reset"
	KindProperty = "property"
)

// Result is the outcome of one scenario run. Pass is false as soon as
// any expectation or property fails; infrastructure failures (missing
// scene, unknown entity handle) abort the run with an error instead.
type Result struct {
	Name    string       `json:"name"`
	Scene   string       `json:"scene"`
	Session string       `json:"session,omitempty"`
	Pass    bool         `json:"pass"`
	Trace   []TraceEvent `json:"trace"`
	Errors  []string     `json:"errors,omitempty"`
}

// AddError records a failed check and flips the result to failing.
func (r *Result) AddError(err error) {
	r.Pass = false
	r.Errors = append(r.Errors, err.Error())
}

// AssertionError describes a single failed expectation. Step is the
// 1-based step index, or 0 for property checks.
type AssertionError struct {
	Step     int
	Check    string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	if e.Step == 0 {
		return fmt.Sprintf("property %s: expected %s, got %s", e.Check, e.Expected, e.Actual)
	}
	return fmt.Sprintf("step %d %s: expected %s, got %s", e.Step, e.Check, e.Expected, e.Actual)
}
