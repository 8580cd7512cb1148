// Package testutil builds the compact pre-wired world that scenario
// tests run against, with a logger that stays quiet.
package testutil

import (
	"io"
	"log/slog"
	"testing"

	"github.com/roach88/sigil/internal/entity"
	"github.com/roach88/sigil/internal/scene"
)

// TestCapacities is the pool configuration test worlds use. Small
// enough that exhaustion cases are cheap to provoke, large enough for
// every fixture scene in the tree.
var TestCapacities = entity.Capacities{Global: 16, Scene: 32}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewWorld builds a fully wired world with TestCapacities and a
// discarded log, closed automatically when the test ends. Options are
// applied after the defaults, so a test can still override the logger
// or plug in a frame source.
func NewWorld(tb testing.TB, opts ...scene.Option) *scene.World {
	tb.Helper()
	w, err := scene.NewWorld(TestCapacities, append([]scene.Option{scene.WithLogger(Logger())}, opts...)...)
	if err != nil {
		tb.Fatalf("building test world: %v", err)
	}
	tb.Cleanup(w.Close)
	return w
}
