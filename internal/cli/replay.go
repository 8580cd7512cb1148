package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/sigil/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Session  string // optional, specific session only
}

// ReplaySessionResult holds the replay outcome for one session.
type ReplaySessionResult struct {
	Session    string `json:"session"`
	Verified   bool   `json:"verified"`
	Mutations  int    `json:"mutations"`
	Parses     int    `json:"parses"`
	Ticks      int    `json:"ticks"`
	Snapshots  int    `json:"snapshots"`
	Divergence string `json:"divergence,omitempty"`
}

// ReplayResult holds the overall replay outcome.
type ReplayResult struct {
	Sessions      []ReplaySessionResult `json:"sessions"`
	TotalSessions int                   `json:"total_sessions"`
	AllVerified   bool                  `json:"all_verified"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay --db <file>",
		Short: "Replay journal sessions and verify determinism",
		Long: `Re-execute journaled sessions against a fresh world and verify that
every recalculation reproduces the recorded match sets.

Each session's mutations and parses are re-applied in sequence order;
after every recorded pass the live match sets are compared bit for bit
against the journaled snapshots. Any difference is a divergence.

Exit codes:
  0 - All sessions verified
  1 - Divergence detected
  2 - Command error (database not found, etc.)

Examples:
  sigil replay --db ./sigil.db
  sigil replay --db ./sigil.db --session 0191c0ae-...
  sigil replay --db ./sigil.db --output json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "replay a specific session only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	configureLogging(opts.RootOptions)
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "opening database", err)
	}
	defer st.Close()

	var tokens []string
	if opts.Session != "" {
		tokens = []string{opts.Session}
	} else {
		sessions, err := st.ListSessions(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "listing sessions", err)
		}
		for _, s := range sessions {
			tokens = append(tokens, s.Token)
		}
	}

	if len(tokens) == 0 {
		if formatter.JSON() {
			return formatter.Success(ReplayResult{
				Sessions:    []ReplaySessionResult{},
				AllVerified: true,
			})
		}
		fmt.Fprintln(formatter.Writer, "No sessions found in database.")
		return nil
	}

	result := ReplayResult{
		Sessions:      make([]ReplaySessionResult, 0, len(tokens)),
		TotalSessions: len(tokens),
		AllVerified:   true,
	}
	for _, token := range tokens {
		report, err := st.Replay(ctx, token)
		sr := ReplaySessionResult{
			Session:   token,
			Verified:  err == nil,
			Mutations: report.Mutations,
			Parses:    report.Parses,
			Ticks:     report.Ticks,
			Snapshots: report.Verified,
		}
		if err != nil {
			if !store.IsDivergence(err) {
				return WrapExitError(ExitCommandError, fmt.Sprintf("replaying session %s", token), err)
			}
			sr.Divergence = err.Error()
			result.AllVerified = false
		}
		result.Sessions = append(result.Sessions, sr)
	}

	if formatter.JSON() {
		return outputReplayJSON(formatter, result)
	}
	return outputReplayText(formatter, result)
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(formatter *OutputFormatter, result ReplayResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if !result.AllVerified {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_DIVERGENCE",
			Message: "replay verification failed",
		}
	}
	if err := formatter.Encode(response); err != nil {
		return err
	}

	if !result.AllVerified {
		return NewExitError(ExitFailure, "replay verification failed")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(formatter *OutputFormatter, result ReplayResult) error {
	w := formatter.Writer

	fmt.Fprintf(w, "Replay Summary: %d session(s)\n\n", result.TotalSessions)

	for _, sr := range result.Sessions {
		status := "✓"
		if !sr.Verified {
			status = "✗"
		}
		fmt.Fprintf(w, "%s Session: %s\n", status, sr.Session)

		if formatter.Verbose {
			fmt.Fprintf(w, "  Mutations: %d\n", sr.Mutations)
			fmt.Fprintf(w, "  Parses: %d\n", sr.Parses)
			fmt.Fprintf(w, "  Ticks: %d\n", sr.Ticks)
			fmt.Fprintf(w, "  Snapshots verified: %d\n", sr.Snapshots)
		} else {
			fmt.Fprintf(w, "  Events: %d mutations, %d parses, %d ticks\n", sr.Mutations, sr.Parses, sr.Ticks)
		}

		if sr.Divergence != "" {
			fmt.Fprintf(w, "  Divergence: %s\n", sr.Divergence)
		}
		fmt.Fprintln(w)
	}

	if result.AllVerified {
		fmt.Fprintln(w, "✓ All sessions verified")
		return nil
	}

	fmt.Fprintln(w, "✗ Replay verification failed")
	return NewExitError(ExitFailure, "replay verification failed")
}
