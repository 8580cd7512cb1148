package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sigil/internal/entity"
	"github.com/roach88/sigil/internal/scene"
	"github.com/roach88/sigil/internal/selector"
)

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	Scene string
}

// ResolvedSelector holds the match set for one selector.
type ResolvedSelector struct {
	Selector string   `json:"selector"`
	OK       bool     `json:"ok"`
	Code     string   `json:"code,omitempty"`
	Error    string   `json:"error,omitempty"`
	Matches  []string `json:"matches"`
	Count    int      `json:"count"`
}

// ResolveResult holds the outcome of resolving selectors against a scene.
type ResolveResult struct {
	Scene     string             `json:"scene"`
	Entities  int                `json:"entities"`
	Tick      int64              `json:"tick"`
	Selectors []ResolvedSelector `json:"selectors"`
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve --scene <file> [selector...]",
		Short: "Resolve selectors against a scene",
		Long: `Load a scene document, run one recalculation pass, and print each
selector's match set by entity label.

Without selector arguments the scene's own declared selectors are
resolved. Entities without a label are shown by declared id, falling
back to their pool:slot position.

Exit codes:
  0 - All selectors resolved
  1 - One or more selectors rejected
  2 - Command error (scene missing or invalid)

Examples:
  sigil resolve --scene dungeon.yaml
  sigil resolve --scene dungeon.yaml '#enemy:#flying' '@boss'
  sigil resolve --scene dungeon.yaml '#enemy' --output json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Scene, "scene", "", "path to scene document (required)")
	_ = cmd.MarkFlagRequired("scene")

	return cmd
}

func runResolve(opts *ResolveOptions, args []string, cmd *cobra.Command) error {
	configureLogging(opts.RootOptions)
	formatter := newFormatter(opts.RootOptions, cmd)

	doc, err := scene.ParseFile(opts.Scene)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading scene", err)
	}
	if vErrs := scene.Validate(doc, selector.DefaultLimits); len(vErrs) > 0 {
		return WrapExitError(ExitCommandError,
			fmt.Sprintf("scene %s failed validation with %d finding(s), run check for details", opts.Scene, len(vErrs)),
			vErrs[0])
	}

	w, err := scene.NewWorld(entity.DefaultCapacities)
	if err != nil {
		return WrapExitError(ExitCommandError, "building world", err)
	}
	defer w.Close()

	applied, errs := scene.Apply(w, doc, scene.ApplyFailFast)
	if len(errs) > 0 {
		return WrapExitError(ExitCommandError, fmt.Sprintf("applying scene %s", opts.Scene), errs[0])
	}
	formatter.VerboseLog("Applied scene %q: %d entities, %d selectors", doc.Scene, len(applied.Spawned), len(applied.Roots))

	// Arguments are parsed before the pass so one recalc covers both
	// them and the scene's own selectors.
	targets := doc.Selectors
	if len(args) > 0 {
		targets = args
	}
	rejected := map[string]*selector.ParseError{}
	for _, input := range args {
		if _, err := w.Reg.TryParse(input); err != nil {
			pe, ok := selector.AsParseError(err)
			if !ok {
				return WrapExitError(ExitCommandError, "parsing selector", err)
			}
			rejected[input] = pe
		}
	}

	w.Recalc()

	names := labelIndex(applied)
	result := ResolveResult{
		Scene:     doc.Scene,
		Entities:  len(applied.Spawned),
		Tick:      w.Reg.Tick(),
		Selectors: make([]ResolvedSelector, 0, len(targets)),
	}
	failed := 0
	for _, input := range targets {
		if pe, ok := rejected[input]; ok {
			result.Selectors = append(result.Selectors, ResolvedSelector{
				Selector: input,
				Code:     string(pe.Code),
				Error:    pe.Message,
				Matches:  []string{},
			})
			failed++
			continue
		}
		node, ok := w.Reg.Lookup(input)
		if !ok {
			// Unreachable for scene selectors after a clean apply.
			result.Selectors = append(result.Selectors, ResolvedSelector{
				Selector: input,
				Error:    "selector not interned",
				Matches:  []string{},
			})
			failed++
			continue
		}
		labels := matchLabels(node, names)
		result.Selectors = append(result.Selectors, ResolvedSelector{
			Selector: input,
			OK:       true,
			Matches:  labels,
			Count:    len(labels),
		})
	}

	if formatter.JSON() {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		writeResolveText(formatter, result)
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d selector(s) rejected", failed, len(targets)))
	}
	return nil
}

// labelIndex inverts the applied document's handle maps. Labels win
// over ids when an entity carries both.
func labelIndex(applied *scene.ApplyResult) map[entity.Index]string {
	names := make(map[entity.Index]string, len(applied.Spawned))
	for id, ix := range applied.ByID {
		names[ix] = id
	}
	for label, ix := range applied.ByLabel {
		names[ix] = label
	}
	return names
}

// matchLabels renders a node's match set as sorted handles.
func matchLabels(node *selector.Node, names map[entity.Index]string) []string {
	indices := node.Matches().Indices()
	labels := make([]string, 0, len(indices))
	for _, ix := range indices {
		if name, ok := names[ix]; ok {
			labels = append(labels, name)
		} else {
			labels = append(labels, ix.String())
		}
	}
	slices.Sort(labels)
	return labels
}

// writeResolveText renders the result for humans.
func writeResolveText(formatter *OutputFormatter, result ResolveResult) {
	w := formatter.Writer
	fmt.Fprintf(w, "Scene: %s (%d entities, tick %d)\n\n", result.Scene, result.Entities, result.Tick)
	for _, rs := range result.Selectors {
		if !rs.OK {
			fmt.Fprintf(w, "✗ %s\n", rs.Selector)
			if rs.Code != "" {
				fmt.Fprintf(w, "    %s: %s\n", rs.Code, rs.Error)
			} else {
				fmt.Fprintf(w, "    %s\n", rs.Error)
			}
			continue
		}
		fmt.Fprintf(w, "✓ %s (%d)\n", rs.Selector, rs.Count)
		if rs.Count == 0 {
			fmt.Fprintln(w, "    (no matches)")
		} else {
			fmt.Fprintf(w, "    %s\n", strings.Join(rs.Matches, ", "))
		}
	}
}
