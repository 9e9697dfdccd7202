package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/flowsql/internal/cli/output"
	"github.com/leapstack-labs/flowsql/internal/dag"
	"github.com/leapstack-labs/flowsql/internal/state"
	"github.com/leapstack-labs/flowsql/pkg/core"
)

// LineageOptions holds options for the lineage command.
type LineageOptions struct {
	Upstream   bool
	Downstream bool
	Depth      int
}

// LineageOutput is the JSON output of the lineage command.
type LineageOutput struct {
	Workflow   string            `json:"workflow"`
	Node       DAGNode           `json:"node"`
	Input      core.Schema       `json:"input"`
	Output     core.Schema       `json:"output"`
	Upstream   []DAGNode         `json:"upstream"`
	Downstream []DAGNode         `json:"downstream"`
	Column     string            `json:"column,omitempty"`
	Trace      []state.TraceStep `json:"trace,omitempty"`
}

// NewLineageCommand creates the lineage command.
func NewLineageCommand() *cobra.Command {
	opts := &LineageOptions{}

	cmd := &cobra.Command{
		Use:   "lineage <workflow> <node-id> [column]",
		Short: "Show lineage for a node or column",
		Long: `Display the nodes upstream and downstream of a node.

With a column name, the column is followed back from the node's output
through renames and joins to the node that introduced it.`,
		Example: `  # Show full lineage for node 4
  flowsql lineage orders.yaml 4

  # Only what feeds node 4, two levels deep
  flowsql lineage orders.yaml 4 --downstream=false --depth 2

  # Where does the "name" column of node 4 come from?
  flowsql lineage orders.yaml 4 name`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid node id %q", args[1])
			}
			column := ""
			if len(args) == 3 {
				column = args[2]
			}
			return runLineage(cmd, args[0], core.NodeID(id), column, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Upstream, "upstream", true, "Include upstream nodes")
	cmd.Flags().BoolVar(&opts.Downstream, "downstream", true, "Include downstream nodes")
	cmd.Flags().IntVar(&opts.Depth, "depth", 0, "Max traversal depth (0 = unlimited)")

	return cmd
}

func runLineage(cmd *cobra.Command, path string, id core.NodeID, column string, opts *LineageOptions) error {
	cc := GetCommandContext(cmd)
	r := cc.Renderer
	ctx := contextOf(cmd)

	// Trace queries run against a throwaway history database.
	store, cleanup, err := openStore(":memory:", cc.Logger)
	if err != nil {
		return err
	}
	defer cleanup()

	svc, err := cc.NewService(store)
	if err != nil {
		return err
	}
	c, err := svc.Convert(ctx, path)
	if err != nil {
		return err
	}

	graph := c.Result.Graph
	if _, ok := graph.GetNode(id); !ok {
		return fmt.Errorf("node %s not found in %s", id, path)
	}

	out := LineageOutput{
		Workflow:   c.Workflow.Name,
		Node:       dagNode(graph, id),
		Upstream:   []DAGNode{},
		Downstream: []DAGNode{},
		Column:     column,
	}
	out.Input, out.Output, err = store.GetNodeColumns(ctx, c.ID, id)
	if err != nil {
		return err
	}
	if opts.Upstream {
		for _, n := range upstreamWithDepth(graph, id, opts.Depth) {
			out.Upstream = append(out.Upstream, dagNode(graph, n))
		}
	}
	if opts.Downstream {
		for _, n := range downstreamWithDepth(graph, id, opts.Depth) {
			out.Downstream = append(out.Downstream, dagNode(graph, n))
		}
	}
	if column != "" {
		out.Trace, err = store.TraceColumn(ctx, c.ID, id, column)
		if err != nil {
			return err
		}
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(out)
	case output.ModeMarkdown:
		lineageMarkdown(r, &out)
	default:
		lineageText(r, &out)
	}
	return nil
}

func lineageText(r *output.Renderer, out *LineageOutput) {
	styles := r.Styles()

	r.Header(1, "Lineage for "+dagNodeLabel(out.Node))
	r.Printf("  %s %s\n", styles.Muted.Render("input: "), styles.Column.Render(output.JoinOr(out.Input, "-")))
	r.Printf("  %s %s\n", styles.Muted.Render("output:"), styles.Column.Render(output.JoinOr(out.Output, "-")))
	r.Println("")

	for _, section := range []struct {
		title string
		nodes []DAGNode
	}{
		{"Upstream", out.Upstream},
		{"Downstream", out.Downstream},
	} {
		r.Println(styles.Header2.Render(fmt.Sprintf("%s (%d):", section.title, len(section.nodes))))
		for _, n := range section.nodes {
			r.Printf("  - %s\n", dagNodeLabel(n))
		}
		r.Println("")
	}

	if out.Column == "" {
		return
	}
	r.Println(styles.Header2.Render(fmt.Sprintf("Column %q:", out.Column)))
	for _, step := range out.Trace {
		line := fmt.Sprintf("  %s %s", styles.NodeID.Render(step.NodeID.String()), styles.Column.Render(step.Column))
		if step.Origin {
			line += " " + styles.Success.Render("(introduced here)")
		}
		r.Println(line)
	}
}

func lineageMarkdown(r *output.Renderer, out *LineageOutput) {
	r.Println(output.FormatHeader(1, "Lineage for "+dagNodeLabel(out.Node)))
	r.Println("")
	r.Println(output.FormatKeyValue("Input", output.JoinOr(out.Input, "-")))
	r.Println(output.FormatKeyValue("Output", output.JoinOr(out.Output, "-")))
	r.Println("")

	r.Println(output.FormatHeader(2, fmt.Sprintf("Upstream (%d)", len(out.Upstream))))
	for _, n := range out.Upstream {
		r.Printf("- %s\n", dagNodeLabel(n))
	}
	r.Println("")
	r.Println(output.FormatHeader(2, fmt.Sprintf("Downstream (%d)", len(out.Downstream))))
	for _, n := range out.Downstream {
		r.Printf("- %s\n", dagNodeLabel(n))
	}

	if out.Column == "" {
		return
	}
	r.Println("")
	r.Println(output.FormatHeader(2, fmt.Sprintf("Column `%s`", out.Column)))
	rows := make([][]string, 0, len(out.Trace))
	for _, step := range out.Trace {
		origin := ""
		if step.Origin {
			origin = "yes"
		}
		rows = append(rows, []string{step.NodeID.String(), step.Kind.String(), step.Column, origin})
	}
	r.Table([]string{"Node", "Kind", "Column", "Origin"}, rows)
}

func dagNodeLabel(n DAGNode) string {
	if n.Name == "" {
		return fmt.Sprintf("%s (%s)", n.ID, n.Kind)
	}
	return fmt.Sprintf("%s %s (%s)", n.ID, n.Name, n.Kind)
}

// upstreamWithDepth returns upstream nodes with optional depth limit.
func upstreamWithDepth(graph *dag.Graph, id core.NodeID, maxDepth int) []core.NodeID {
	if maxDepth == 0 {
		return graph.GetUpstreamNodes(id)
	}
	return walkWithDepth(id, maxDepth, graph.GetParents)
}

// downstreamWithDepth returns downstream nodes with optional depth limit.
func downstreamWithDepth(graph *dag.Graph, id core.NodeID, maxDepth int) []core.NodeID {
	if maxDepth == 0 {
		affected := graph.GetAffectedNodes([]core.NodeID{id})
		out := make([]core.NodeID, 0, len(affected))
		for _, n := range affected {
			if n != id {
				out = append(out, n)
			}
		}
		return out
	}
	return walkWithDepth(id, maxDepth, graph.GetChildren)
}

// walkWithDepth visits next breadth first up to maxDepth steps from start.
func walkWithDepth(start core.NodeID, maxDepth int, next func(core.NodeID) []core.NodeID) []core.NodeID {
	visited := map[core.NodeID]bool{start: true}
	var result []core.NodeID
	current := []core.NodeID{start}
	for depth := 0; depth < maxDepth && len(current) > 0; depth++ {
		var frontier []core.NodeID
		for _, id := range current {
			for _, n := range next(id) {
				if !visited[n] {
					visited[n] = true
					result = append(result, n)
					frontier = append(frontier, n)
				}
			}
		}
		current = frontier
	}
	return result
}
