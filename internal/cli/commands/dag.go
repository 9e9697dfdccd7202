package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/flowsql/internal/cli/output"
	"github.com/leapstack-labs/flowsql/internal/dag"
	"github.com/leapstack-labs/flowsql/pkg/core"
)

// GraphQuerier provides read-only access to DAG structure.
type GraphQuerier interface {
	GetNode(core.NodeID) (*dag.Node, bool)
	GetParents(core.NodeID) []core.NodeID
	GetChildren(core.NodeID) []core.NodeID
	Unordered() []core.NodeID
	NodeCount() int
	EdgeCount() int
}

// DAGNode is one node in the JSON output of the dag command.
type DAGNode struct {
	ID        core.NodeID   `json:"id"`
	Name      string        `json:"name,omitempty"`
	Kind      core.Kind     `json:"kind"`
	DependsOn []core.NodeID `json:"depends_on"`
	UsedBy    []core.NodeID `json:"used_by"`
}

// DAGLevel is one execution level.
type DAGLevel struct {
	Level int       `json:"level"`
	Nodes []DAGNode `json:"nodes"`
}

// DAGOutput is the JSON output of the dag command.
type DAGOutput struct {
	Workflow   string     `json:"workflow"`
	Levels     []DAGLevel `json:"levels"`
	Unordered  []DAGNode  `json:"unordered"`
	TotalNodes int        `json:"total_nodes"`
	TotalEdges int        `json:"total_edges"`
}

// NewDAGCommand creates the dag command.
func NewDAGCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dag <workflow>",
		Short: "Show the node graph",
		Long: `Display the graph of a workflow grouped by execution level.

Nodes in the same level only depend on earlier levels. Nodes that take part
in a cycle or hang off one are never ordered and are listed separately.

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format (agent-friendly)`,
		Example: `  # Show the DAG
  flowsql dag orders.yaml

  # Output as JSON
  flowsql dag orders.yaml --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDAG(cmd, args[0])
		},
	}

	return cmd
}

func runDAG(cmd *cobra.Command, path string) error {
	cc := GetCommandContext(cmd)
	r := cc.Renderer

	c, err := convertWorkflow(cmd, cc, path)
	if err != nil {
		return err
	}

	graph := c.Result.Graph
	levels := graph.GetExecutionLevels()

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return dagJSON(r, c.Workflow.Name, graph, levels)
	case output.ModeMarkdown:
		return dagMarkdown(r, c.Workflow.Name, graph, levels)
	default:
		return dagText(r, c.Workflow.Name, graph, levels)
	}
}

// nodeLabel renders a node as "#3 name (kind)".
func nodeLabel(graph GraphQuerier, id core.NodeID) string {
	n, ok := graph.GetNode(id)
	if !ok {
		return id.String()
	}
	name := ""
	if n.Decl != nil && n.Decl.Name != "" {
		name = " " + n.Decl.Name
	}
	return fmt.Sprintf("%s%s (%s)", id, name, n.Kind)
}

func idList(ids []core.NodeID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ", ")
}

// dagText outputs DAG in styled text format.
func dagText(r *output.Renderer, name string, graph GraphQuerier, levels [][]core.NodeID) error {
	styles := r.Styles()

	r.Header(1, "Node Graph: "+name)

	for i, level := range levels {
		r.Println(styles.Header2.Render(fmt.Sprintf("Level %d:", i)))
		for _, id := range level {
			deps := graph.GetParents(id)
			children := graph.GetChildren(id)

			r.Printf("  %s\n", styles.NodeID.Render(nodeLabel(graph, id)))
			if len(deps) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("depends on:"), idList(deps))
			}
			if len(children) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("used by:"), idList(children))
			}
		}
		r.Println("")
	}

	if unordered := graph.Unordered(); len(unordered) > 0 {
		r.Println(styles.Error.Render("Unordered:"))
		for _, id := range unordered {
			r.Printf("  %s\n", nodeLabel(graph, id))
		}
		r.Println("")
	}

	r.Println(styles.Muted.Render(fmt.Sprintf("Total: %d nodes, %d connections", graph.NodeCount(), graph.EdgeCount())))

	return nil
}

// dagMarkdown outputs DAG in markdown format.
func dagMarkdown(r *output.Renderer, name string, graph GraphQuerier, levels [][]core.NodeID) error {
	r.Println(output.FormatHeader(1, "Node Graph: "+name))
	r.Println("")

	for i, level := range levels {
		levelName := fmt.Sprintf("Level %d", i)
		if i == 0 {
			levelName = "Level 0 (Sources)"
		}
		r.Println(output.FormatHeader(2, levelName))

		for _, id := range level {
			deps := graph.GetParents(id)
			children := graph.GetChildren(id)

			r.Printf("- %s\n", nodeLabel(graph, id))
			if len(deps) > 0 {
				r.Printf("  - depends on: %s\n", idList(deps))
			}
			if len(children) > 0 {
				r.Printf("  - used by: %s\n", idList(children))
			}
		}
		r.Println("")
	}

	if unordered := graph.Unordered(); len(unordered) > 0 {
		r.Println(output.FormatHeader(2, "Unordered"))
		for _, id := range unordered {
			r.Printf("- %s\n", nodeLabel(graph, id))
		}
		r.Println("")
	}

	r.Println(output.FormatHeader(2, "Summary"))
	r.Println(output.FormatKeyValue("Total Nodes", fmt.Sprintf("%d", graph.NodeCount())))
	r.Println(output.FormatKeyValue("Total Connections", fmt.Sprintf("%d", graph.EdgeCount())))

	return nil
}

// dagJSON outputs DAG in JSON format.
func dagJSON(r *output.Renderer, name string, graph GraphQuerier, levels [][]core.NodeID) error {
	out := DAGOutput{
		Workflow:   name,
		Levels:     make([]DAGLevel, 0, len(levels)),
		Unordered:  []DAGNode{},
		TotalNodes: graph.NodeCount(),
		TotalEdges: graph.EdgeCount(),
	}

	for i, level := range levels {
		l := DAGLevel{Level: i, Nodes: make([]DAGNode, 0, len(level))}
		for _, id := range level {
			l.Nodes = append(l.Nodes, dagNode(graph, id))
		}
		out.Levels = append(out.Levels, l)
	}
	for _, id := range graph.Unordered() {
		out.Unordered = append(out.Unordered, dagNode(graph, id))
	}

	return r.JSON(out)
}

func dagNode(graph GraphQuerier, id core.NodeID) DAGNode {
	n := DAGNode{
		ID:        id,
		DependsOn: graph.GetParents(id),
		UsedBy:    graph.GetChildren(id),
	}
	if gn, ok := graph.GetNode(id); ok {
		n.Kind = gn.Kind
		if gn.Decl != nil {
			n.Name = gn.Decl.Name
		}
	}
	return n
}
