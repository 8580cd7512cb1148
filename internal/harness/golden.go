package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/sigil/internal/canon"
)

// Snapshot serializes a result for golden comparison. Only fields that
// are stable across runs are included; session tokens vary unless
// pinned, so they stay out. Canonical JSON fixes key order and string
// normalization, which makes the bytes diffable.
func Snapshot(result *Result) ([]byte, error) {
	events := make([]any, 0, len(result.Trace))
	for _, ev := range result.Trace {
		events = append(events, canonicalEvent(ev))
	}
	m := map[string]any{
		"name":  result.Name,
		"scene": result.Scene,
		"pass":  result.Pass,
		"trace": events,
	}
	if len(result.Errors) > 0 {
		m["errors"] = result.Errors
	}
	return canon.Marshal(m)
}

// canonicalEvent keeps the serialized trace minimal: each kind emits
// its own fields and nothing else, so goldens do not churn when an
// unrelated field grows a value.
func canonicalEvent(ev TraceEvent) map[string]any {
	m := map[string]any{
		"seq":  ev.Seq,
		"kind": ev.Kind,
	}
	switch ev.Kind {
	case KindParse:
		m["text"] = ev.Text
		m["ok"] = *ev.OK
		if ev.Code != "" {
			m["code"] = ev.Code
		}
	case KindRecalc:
		m["tick"] = ev.Tick
		m["changed"] = ev.Changed
		m["counts"] = countsToAny(ev.Counts)
	case KindExpect:
		m["ok"] = *ev.OK
		if ev.Text != "" {
			m["text"] = ev.Text
		}
		if ev.Code != "" {
			m["code"] = ev.Code
		}
		if ev.Matches != nil {
			m["matches"] = ev.Matches
		}
		if ev.Counts != nil {
			m["counts"] = countsToAny(ev.Counts)
		}
	case KindMutate:
		m["op"] = ev.Op
		if ev.Entity != "" {
			m["entity"] = ev.Entity
		}
		m["key"] = ev.Key
	case KindProperty:
		m["text"] = ev.Text
		m["ok"] = *ev.OK
	}
	return m
}

func countsToAny(counts map[string]int) map[string]any {
	m := make(map[string]any, len(counts))
	for k, v := range counts {
		m[k] = v
	}
	return m
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(ctx context.Context, t *testing.T, s *Scenario, opts ...RunOption) (*Result, error) {
	t.Helper()

	result, err := Run(ctx, s, opts...)
	if err != nil {
		return nil, err
	}

	data, err := Snapshot(result)
	if err != nil {
		return result, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, s.Name, data)

	return result, nil
}

// GoldenPath is where the CLI reads and writes a scenario's golden
// file: a golden directory next to the scenario file itself.
func GoldenPath(scenarioPath, name string) string {
	return filepath.Join(filepath.Dir(scenarioPath), "golden", name+".golden")
}
