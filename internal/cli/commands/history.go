package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/flowsql/internal/cli/output"
	"github.com/leapstack-labs/flowsql/internal/state"
	"github.com/leapstack-labs/flowsql/pkg/core"
)

// HistoryOptions holds options for the history command.
type HistoryOptions struct {
	Limit int
	Node  int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	opts := &HistoryOptions{}

	cmd := &cobra.Command{
		Use:   "history [conversion-id]",
		Short: "Show recorded conversions",
		Long: `List conversions recorded with "convert --save", newest first, or show one
conversion in detail.`,
		Example: `  # Recent conversions
  flowsql history

  # One conversion with its nodes and SQL
  flowsql history 2f1c6f0e-...

  # Columns of node 4 in that conversion
  flowsql history 2f1c6f0e-... --node 4`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runHistoryList(cmd, opts)
			}
			return runHistoryShow(cmd, args[0], opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "Number of conversions to list (0 = all)")
	cmd.Flags().IntVar(&opts.Node, "node", -1, "Show the columns of one node")

	return cmd
}

func runHistoryList(cmd *cobra.Command, opts *HistoryOptions) error {
	cc := GetCommandContext(cmd)
	r := cc.Renderer

	store, cleanup, err := cc.OpenStore()
	if err != nil {
		return err
	}
	defer cleanup()

	list, err := store.ListConversions(contextOf(cmd), opts.Limit)
	if err != nil {
		return err
	}

	if r.EffectiveMode() == output.ModeJSON {
		if list == nil {
			list = []state.ConversionSummary{}
		}
		return r.JSON(list)
	}

	if len(list) == 0 {
		r.Println("No conversions recorded. Use `flowsql convert --save` to record one.")
		return nil
	}

	rows := make([][]string, 0, len(list))
	for _, s := range list {
		rows = append(rows, []string{
			s.ID,
			s.CreatedAt.Local().Format(time.DateTime),
			s.Workflow,
			s.Dialect,
			s.Mode,
			strconv.Itoa(s.NodeCount),
			strconv.Itoa(s.UnresolvedCount),
			fmt.Sprintf("%d/%d", s.ErrorCount, s.WarningCount),
		})
	}
	r.Header(1, "Conversions")
	r.Table([]string{"ID", "Created", "Workflow", "Dialect", "Mode", "Nodes", "Unresolved", "Errors/Warnings"}, rows)
	return nil
}

func runHistoryShow(cmd *cobra.Command, id string, opts *HistoryOptions) error {
	cc := GetCommandContext(cmd)
	r := cc.Renderer
	ctx := contextOf(cmd)

	store, cleanup, err := cc.OpenStore()
	if err != nil {
		return err
	}
	defer cleanup()

	if opts.Node >= 0 {
		input, out, err := store.GetNodeColumns(ctx, id, core.NodeID(opts.Node))
		if err != nil {
			return err
		}
		if r.EffectiveMode() == output.ModeJSON {
			return r.JSON(map[string]core.Schema{"input": input, "output": out})
		}
		r.Header(1, fmt.Sprintf("Node %s", core.NodeID(opts.Node)))
		r.Table([]string{"Side", "Columns"}, [][]string{
			{"input", output.JoinOr(input, "-")},
			{"output", output.JoinOr(out, "-")},
		})
		return nil
	}

	c, err := store.GetConversion(ctx, id)
	if err != nil {
		return err
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(c)
	}

	markdown := r.EffectiveMode() == output.ModeMarkdown
	r.Header(1, c.Workflow)
	if markdown {
		r.Println(output.FormatKeyValue("ID", c.ID))
		r.Println(output.FormatKeyValue("File", c.Path))
		r.Println(output.FormatKeyValue("Dialect", c.Dialect))
		r.Println(output.FormatKeyValue("Mode", c.Mode))
		r.Println(output.FormatKeyValue("Created", c.CreatedAt.Format(time.RFC3339)))
		r.Println("")
	} else {
		styles := r.Styles()
		r.Println(styles.Muted.Render(fmt.Sprintf("%s  %s  %s/%s  %s",
			c.ID, c.Path, c.Dialect, c.Mode, c.CreatedAt.Local().Format(time.DateTime))))
	}

	rows := make([][]string, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		status := "ok"
		switch {
		case n.Unresolved:
			status = "unresolved: " + n.Reason
		case n.SQLError != "":
			status = "no sql: " + n.SQLError
		}
		order := "-"
		if n.Order >= 0 {
			order = strconv.Itoa(n.Order)
		}
		rows = append(rows, []string{
			order,
			strconv.Itoa(int(n.NodeID)),
			n.Kind.String(),
			output.JoinOr(n.OutputSchema, "-"),
			status,
		})
	}
	r.Header(2, "Nodes")
	r.Table([]string{"Order", "ID", "Kind", "Output", "Status"}, rows)

	if len(c.Diagnostics) > 0 {
		r.Println("")
		r.Header(2, "Diagnostics")
		for _, d := range c.Diagnostics {
			r.Printf("- %s\n", d)
		}
	}

	r.Println("")
	r.Header(2, "SQL")
	if markdown {
		r.Println(output.FormatCode("sql", c.SQL))
	} else {
		r.Println(r.Styles().SQL.Render(c.SQL))
	}
	return nil
}
