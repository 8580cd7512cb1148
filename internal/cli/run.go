package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/sigil/internal/harness"
	"github.com/roach88/sigil/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Scene    string
	Script   string
	Database string

	// Tokens overrides the journal session token source (for testing).
	// If nil, sessions get UUIDv7 tokens.
	Tokens store.TokenSource
}

// RunSummary holds the outcome of one scripted run.
type RunSummary struct {
	Name   string   `json:"name"`
	Scene  string   `json:"scene"`
	Pass   bool     `json:"pass"`
	Events int      `json:"events"`
	Errors []string `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run --scene <file> --script <file>",
		Short: "Run a scripted scenario against a scene",
		Long: `Execute a scenario script against a scene document.

The script drives the engine step by step: parsing selectors, mutating
entities, recalculating, and asserting match sets. With --db every
mutation, parse, and recalculation is journaled to SQLite as a session
that trace and replay can query later.

The script's own scene reference is ignored; --scene decides which
document the steps run against.

Exit codes:
  0 - Scenario passed
  1 - Scenario assertions failed
  2 - Command error (missing files, bad script, database errors)

Examples:
  sigil run --scene dungeon.yaml --script ambush.yaml
  sigil run --scene dungeon.yaml --script ambush.yaml --db ./sigil.db
  sigil run --scene dungeon.yaml --script ambush.yaml --output json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScript(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Scene, "scene", "", "path to scene document (required)")
	_ = cmd.MarkFlagRequired("scene")
	cmd.Flags().StringVar(&opts.Script, "script", "", "path to scenario script (required)")
	_ = cmd.MarkFlagRequired("script")
	cmd.Flags().StringVar(&opts.Database, "db", "", "journal the run to this SQLite database")

	return cmd
}

func runScript(opts *RunOptions, cmd *cobra.Command) error {
	configureLogging(opts.RootOptions)
	formatter := newFormatter(opts.RootOptions, cmd)

	scenario, err := harness.LoadScenarioWithScene(opts.Script, opts.Scene)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading script", err)
	}

	runOpts := []harness.RunOption{harness.WithLogger(slog.Default())}
	if opts.Database != "" {
		st, err := store.Open(opts.Database, store.WithLogger(slog.Default()))
		if err != nil {
			return WrapExitError(ExitCommandError, "opening database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("closing database", "error", closeErr)
			}
		}()
		runOpts = append(runOpts, harness.WithJournal(st))
		if opts.Tokens != nil {
			runOpts = append(runOpts, harness.WithSessionTokens(opts.Tokens))
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := harness.Run(ctx, scenario, runOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("running scenario %s", scenario.Name), err)
	}

	summary := RunSummary{
		Name:   result.Name,
		Scene:  result.Scene,
		Pass:   result.Pass,
		Events: len(result.Trace),
		Errors: result.Errors,
	}

	if formatter.JSON() {
		response := CLIResponse{Status: "ok", Data: summary, Session: result.Session}
		if !result.Pass {
			response.Status = "error"
			response.Error = &CLIError{
				Code:    "E_SCENARIO_FAILED",
				Message: fmt.Sprintf("scenario %s failed with %d error(s)", result.Name, len(result.Errors)),
			}
		}
		if err := formatter.Encode(response); err != nil {
			return err
		}
	} else {
		writeRunText(formatter, summary, result.Session)
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", result.Name))
	}
	return nil
}

// writeRunText renders the run outcome for humans.
func writeRunText(formatter *OutputFormatter, summary RunSummary, session string) {
	w := formatter.Writer
	if summary.Pass {
		fmt.Fprintf(w, "✓ %s (%d events)\n", summary.Name, summary.Events)
	} else {
		fmt.Fprintf(w, "✗ %s\n", summary.Name)
		for _, e := range summary.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	if session != "" {
		fmt.Fprintf(w, "Session: %s\n", session)
	}
}
