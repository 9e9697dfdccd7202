package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/flowsql/internal/cli/output"
	"github.com/leapstack-labs/flowsql/pkg/core"
)

// NewSchemaCommand creates the schema command.
func NewSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema <workflow>",
		Short: "Show the columns flowing through each node",
		Long: `Resolve a workflow and list every node with the columns it receives and
produces, in execution order. Nodes that could not be resolved are listed
last with the reason.`,
		Example: `  # Show node schemas
  flowsql schema orders.yaml

  # Machine-readable resolution
  flowsql schema orders.yaml -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(cmd, args[0])
		},
	}
	return cmd
}

func runSchema(cmd *cobra.Command, path string) error {
	cc := GetCommandContext(cmd)
	r := cc.Renderer

	c, err := convertWorkflow(cmd, cc, path)
	if err != nil {
		return err
	}
	nodes := schemaNodes(c.Result.InOrder(), c.Result.Nodes)

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(nodes)
	}

	styles := r.Styles()
	text := r.EffectiveMode() == output.ModeText
	rows := make([][]string, 0, len(nodes))
	for _, n := range nodes {
		order := "-"
		if n.Order >= 0 {
			order = strconv.Itoa(n.Order)
		}
		status := "ok"
		if n.Unresolved {
			status = "unresolved: " + n.Reason
		}
		if text {
			if n.Unresolved {
				status = styles.StatusFailed.String() + " " + n.Reason
			} else {
				status = styles.StatusSuccess.String()
			}
		}
		rows = append(rows, []string{
			order,
			strconv.Itoa(int(n.ID)),
			n.Name,
			n.Kind.String(),
			output.JoinOr(n.InputSchema, "-"),
			output.JoinOr(n.OutputSchema, "-"),
			status,
		})
	}

	r.Header(1, c.Workflow.Name)
	r.Table([]string{"Order", "ID", "Name", "Kind", "Input", "Output", "Status"}, rows)
	unresolved := len(c.Result.Unresolved())
	summary := fmt.Sprintf("%d nodes, %d unresolved", len(nodes), unresolved)
	if text {
		r.Println(styles.Muted.Render(summary))
	} else {
		r.Println("")
		r.Println(output.FormatKeyValue("Summary", summary))
	}
	return nil
}

// schemaNodes lists ordered nodes first and the rest in declaration order.
func schemaNodes(ordered []*core.ResolvedNode, all []core.ResolvedNode) []*core.ResolvedNode {
	out := make([]*core.ResolvedNode, 0, len(all))
	out = append(out, ordered...)
	for i := range all {
		if all[i].Order < 0 {
			out = append(out, &all[i])
		}
	}
	return out
}
