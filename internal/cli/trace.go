package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sigil/internal/event"
	"github.com/roach88/sigil/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Session  string
	Kind     string
	Code     string
	TickFrom int64
	TickTo   int64
}

// TraceRow is one journal row in the output shape.
type TraceRow struct {
	Seq      int64  `json:"seq"`
	Tick     int64  `json:"tick"`
	Kind     string `json:"kind"`
	Code     string `json:"code,omitempty"`
	Selector string `json:"selector,omitempty"`
	RootHash string `json:"root_hash,omitempty"`
	Pool     string `json:"pool,omitempty"`
	Slot     int64  `json:"slot"`
	Detail   string `json:"detail,omitempty"`
}

// TraceQueryResult holds the filtered journal rows for one session.
type TraceQueryResult struct {
	Session string     `json:"session"`
	Scene   string     `json:"scene,omitempty"`
	Events  []TraceRow `json:"events"`
	Count   int        `json:"count"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace --db <file>",
		Short: "Query a journal session",
		Long: `Query the journaled event stream of a recorded session.

Rows come back in sequence order: mutations, parses, recalculation
snapshots and engine errors interleaved exactly as the run produced
them. Filters narrow by event kind, code, and tick range.

With a single session in the database --session may be omitted.

Examples:
  sigil trace --db ./sigil.db
  sigil trace --db ./sigil.db --session 0191c0ae-... --kind error
  sigil trace --db ./sigil.db --code UNRESOLVED_REFERENCE
  sigil trace --db ./sigil.db --kind recalc --tick-from 2 --tick-to 5`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session token to query")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "filter by event kind (mutation|parse|recalc|error)")
	cmd.Flags().StringVar(&opts.Code, "code", "", "filter by mutation op or error code")
	cmd.Flags().Int64Var(&opts.TickFrom, "tick-from", 0, "inclusive lower tick bound")
	cmd.Flags().Int64Var(&opts.TickTo, "tick-to", 0, "inclusive upper tick bound")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := context.Background()

	filter, err := buildTraceFilter(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid filter", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "opening database", err)
	}
	defer st.Close()

	session, ok, err := pickSession(ctx, st, opts.Session)
	if err != nil {
		return WrapExitError(ExitCommandError, "selecting session", err)
	}
	if !ok {
		if formatter.JSON() {
			return formatter.Success(TraceQueryResult{Events: []TraceRow{}})
		}
		fmt.Fprintln(formatter.Writer, "No sessions found in database.")
		return nil
	}

	events, err := st.Trace(ctx, session.Token, filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "querying trace", err)
	}

	result := TraceQueryResult{
		Session: session.Token,
		Scene:   session.Scene,
		Events:  make([]TraceRow, 0, len(events)),
		Count:   len(events),
	}
	for _, ev := range events {
		result.Events = append(result.Events, TraceRow{
			Seq:      ev.Seq,
			Tick:     ev.Tick,
			Kind:     string(ev.Kind),
			Code:     ev.Code,
			Selector: ev.Selector,
			RootHash: ev.RootHash,
			Pool:     ev.Pool,
			Slot:     ev.Slot,
			Detail:   ev.Detail,
		})
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	writeTraceText(formatter, result)
	return nil
}

// buildTraceFilter composes the flag values into one filter. Nil means
// the whole session.
func buildTraceFilter(opts *TraceOptions) (store.Filter, error) {
	var parts []store.Filter
	if opts.Kind != "" {
		kind := store.EventKind(opts.Kind)
		switch kind {
		case store.KindMutation, store.KindParse, store.KindRecalc, store.KindError:
		default:
			return nil, fmt.Errorf("unknown kind %q: must be mutation, parse, recalc or error", opts.Kind)
		}
		parts = append(parts, store.ByKind{Kind: kind})
	}
	if opts.Code != "" {
		parts = append(parts, store.ByCode{Code: opts.Code})
	}
	if opts.TickFrom > 0 || opts.TickTo > 0 {
		parts = append(parts, store.TickRange{From: opts.TickFrom, To: opts.TickTo})
	}
	switch len(parts) {
	case 0:
		return nil, nil
	case 1:
		return parts[0], nil
	default:
		return store.All{Filters: parts}, nil
	}
}

// pickSession resolves which session to query. An explicit token is
// looked up; otherwise a lone session in the database is used. The
// second return is false when the database has no sessions at all.
func pickSession(ctx context.Context, st *store.Store, token string) (store.Session, bool, error) {
	if token != "" {
		session, err := st.ReadSession(ctx, token)
		if err != nil {
			return store.Session{}, false, err
		}
		return session, true, nil
	}

	sessions, err := st.ListSessions(ctx)
	if err != nil {
		return store.Session{}, false, err
	}
	switch len(sessions) {
	case 0:
		return store.Session{}, false, nil
	case 1:
		return sessions[0], true, nil
	default:
		tokens := make([]string, 0, len(sessions))
		for _, s := range sessions {
			tokens = append(tokens, s.Token)
		}
		return store.Session{}, false, fmt.Errorf("%d sessions in database, pass --session (%s)",
			len(sessions), strings.Join(tokens, ", "))
	}
}

// writeTraceText renders the rows for humans, one line per event.
func writeTraceText(formatter *OutputFormatter, result TraceQueryResult) {
	w := formatter.Writer
	if result.Scene != "" {
		fmt.Fprintf(w, "Session: %s (scene %s)\n\n", result.Session, result.Scene)
	} else {
		fmt.Fprintf(w, "Session: %s\n\n", result.Session)
	}

	if len(result.Events) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	for _, ev := range result.Events {
		fmt.Fprintf(w, "  %s\n", formatTraceRow(ev))
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d event(s)\n", result.Count)
}

// formatTraceRow renders one row. The columns mean different things per
// kind, so each kind gets its own shape.
func formatTraceRow(ev TraceRow) string {
	prefix := fmt.Sprintf("[%d] tick %d %-8s", ev.Seq, ev.Tick, ev.Kind)
	switch ev.Kind {
	case string(store.KindMutation):
		if ev.Code == string(event.OpPoolCleared) {
			return fmt.Sprintf("%s %s pool=%s", prefix, ev.Code, ev.Pool)
		}
		return fmt.Sprintf("%s %s %s:%d %q", prefix, ev.Code, ev.Pool, ev.Slot, ev.Selector)
	case string(store.KindParse):
		if ev.Code != "" {
			return fmt.Sprintf("%s %s %q", prefix, ev.Code, ev.Selector)
		}
		return fmt.Sprintf("%s ok %q [%s]", prefix, ev.Selector, shortHash(ev.RootHash))
	case string(store.KindRecalc):
		return fmt.Sprintf("%s %q count=%s [%s]", prefix, ev.Selector, ev.Detail, shortHash(ev.RootHash))
	case string(store.KindError):
		return fmt.Sprintf("%s %s %q: %s", prefix, ev.Code, ev.Selector, ev.Detail)
	default:
		return fmt.Sprintf("%s %s %q %s", prefix, ev.Code, ev.Selector, ev.Detail)
	}
}
