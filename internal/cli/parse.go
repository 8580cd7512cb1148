package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sigil/internal/canon"
	"github.com/roach88/sigil/internal/entity"
	"github.com/roach88/sigil/internal/scene"
	"github.com/roach88/sigil/internal/selector"
)

// NewParseCommand creates the parse command.
func NewParseCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse <selector>...",
		Short: "Parse selectors and print the interned graph",
		Long: `Parse selector strings and print the resulting node graph.

Selectors sharing a suffix chain intern the same nodes; shared nodes are
marked in the output. With --output json the graph is emitted as one
canonical JSON document, byte-stable across runs.

Exit codes:
  0 - All selectors parsed
  1 - One or more selectors rejected
  2 - Command error

Examples:
  sigil parse '@player'
  sigil parse '#enemy:#flying' '#flying'
  sigil parse '!enter:#hostile' --output json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(rootOpts, args, cmd)
		},
	}

	return cmd
}

// parseOutcome is the per-input result.
type parseOutcome struct {
	Selector string
	Root     *selector.Node
	Err      *selector.ParseError
}

func runParse(opts *RootOptions, args []string, cmd *cobra.Command) error {
	configureLogging(opts)

	w, err := scene.NewWorld(entity.DefaultCapacities)
	if err != nil {
		return WrapExitError(ExitCommandError, "building world", err)
	}
	defer w.Close()

	outcomes := make([]parseOutcome, 0, len(args))
	rejected := 0
	for _, input := range args {
		out := parseOutcome{Selector: input}
		node, err := w.Reg.TryParse(input)
		if err != nil {
			pe, ok := selector.AsParseError(err)
			if !ok {
				return WrapExitError(ExitCommandError, "parsing selector", err)
			}
			out.Err = pe
			rejected++
		} else {
			out.Root = node
		}
		outcomes = append(outcomes, out)
	}

	refs, order := walkGraph(outcomes)

	if opts.Output == "json" {
		if err := writeParseJSON(cmd.OutOrStdout(), outcomes, refs, order); err != nil {
			return WrapExitError(ExitCommandError, "encoding graph", err)
		}
	} else {
		writeParseText(cmd.OutOrStdout(), outcomes, refs, w.Reg.NodeCount())
	}

	if rejected > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d selector(s) rejected", rejected, len(args)))
	}
	return nil
}

// walkGraph counts how often each node is referenced (as a root, a
// prior, or a union child) and records first-visit order. A count above
// one means the node is shared.
func walkGraph(outcomes []parseOutcome) (map[*selector.Node]int, []*selector.Node) {
	refs := make(map[*selector.Node]int)
	var order []*selector.Node

	var visit func(n *selector.Node)
	visit = func(n *selector.Node) {
		refs[n]++
		if refs[n] > 1 {
			return
		}
		order = append(order, n)
		if p := n.Prior(); p != nil {
			visit(p)
		}
		for _, c := range n.Children() {
			visit(c)
		}
	}

	for _, out := range outcomes {
		if out.Root != nil {
			visit(out.Root)
		}
	}
	return refs, order
}

func writeParseText(w io.Writer, outcomes []parseOutcome, refs map[*selector.Node]int, interned int) {
	printed := make(map[*selector.Node]bool)

	var writeNode func(n *selector.Node, depth int)
	writeNode = func(n *selector.Node, depth int) {
		fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), nodeLine(n, refs[n] > 1))
		if printed[n] {
			return
		}
		printed[n] = true
		if p := n.Prior(); p != nil {
			writeNode(p, depth+1)
		}
		for _, c := range n.Children() {
			writeNode(c, depth+1)
		}
	}

	shared := 0
	for _, count := range refs {
		if count > 1 {
			shared++
		}
	}

	for _, out := range outcomes {
		if out.Err != nil {
			fmt.Fprintf(w, "✗ %s\n", out.Selector)
			fmt.Fprintf(w, "  %s: %s\n", out.Err.Code, out.Err.Message)
			continue
		}
		fmt.Fprintf(w, "✓ %s\n", out.Selector)
		writeNode(out.Root, 1)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d selector(s), %d node(s) interned, %d shared\n", len(outcomes), interned, shared)
}

// nodeLine renders one node as "kind token [hash] text".
func nodeLine(n *selector.Node, shared bool) string {
	var b strings.Builder
	b.WriteString(n.Kind().String())
	if tok := n.Token(); tok != "" {
		b.WriteString(" ")
		b.WriteString(tok)
	}
	fmt.Fprintf(&b, " [%s] %s", shortHash(n.Hash()), n.Text())
	if shared {
		b.WriteString(" (shared)")
	}
	return b.String()
}

// writeParseJSON emits the graph as one canonical JSON document rather
// than the usual response envelope, so the bytes are stable enough to
// diff or commit.
func writeParseJSON(w io.Writer, outcomes []parseOutcome, refs map[*selector.Node]int, order []*selector.Node) error {
	nodes := make([]any, 0, len(order))
	for _, n := range order {
		m := map[string]any{
			"hash":   n.Hash(),
			"kind":   n.Kind().String(),
			"text":   n.Text(),
			"shared": refs[n] > 1,
		}
		if tok := n.Token(); tok != "" {
			m["token"] = tok
		}
		if p := n.Prior(); p != nil {
			m["prior"] = p.Hash()
		}
		if children := n.Children(); len(children) > 0 {
			hashes := make([]any, 0, len(children))
			for _, c := range children {
				hashes = append(hashes, c.Hash())
			}
			m["children"] = hashes
		}
		nodes = append(nodes, m)
	}

	selectors := make([]any, 0, len(outcomes))
	for _, out := range outcomes {
		m := map[string]any{
			"selector": out.Selector,
			"ok":       out.Err == nil,
		}
		if out.Err != nil {
			m["code"] = string(out.Err.Code)
			m["error"] = out.Err.Message
		} else {
			m["root"] = out.Root.Hash()
		}
		selectors = append(selectors, m)
	}

	data, err := canon.Marshal(map[string]any{
		"nodes":     nodes,
		"selectors": selectors,
	})
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}

// shortHash truncates a node hash for display.
func shortHash(h string) string {
	if len(h) <= 8 {
		return h
	}
	return h[:8]
}
