package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/flowsql/internal/cli/output"
	"github.com/leapstack-labs/flowsql/pkg/core"
)

// KindInfo describes one supported node kind.
type KindInfo struct {
	Kind      core.Kind `json:"kind"`
	Title     string    `json:"title"`
	Arity     string    `json:"arity"`
	Factories []string  `json:"factories"`
}

// NewKindsCommand creates the kinds command.
func NewKindsCommand() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "kinds",
		Short: "List supported node kinds",
		Long: `List the node kinds that can be resolved and converted, how many inputs
each takes and the factory names that map to it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runKinds(cmd, short)
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "Omit factory names")

	return cmd
}

func runKinds(cmd *cobra.Command, short bool) error {
	r := GetCommandContext(cmd).Renderer

	kinds := make([]KindInfo, 0, len(core.AllKinds))
	for _, k := range core.AllKinds {
		if k == core.KindUnsupported {
			continue
		}
		info := KindInfo{
			Kind:      k,
			Title:     k.Title(),
			Arity:     k.Arity().String(),
			Factories: k.Factories(),
		}
		if short {
			info.Factories = []string{}
		}
		kinds = append(kinds, info)
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(kinds)
	}

	header := []string{"Kind", "Title", "Inputs"}
	if !short {
		header = append(header, "Factories")
	}
	rows := make([][]string, 0, len(kinds))
	for _, k := range kinds {
		row := []string{k.Kind.String(), k.Title, output.Title(k.Arity)}
		if !short {
			sep := "\n"
			if r.EffectiveMode() == output.ModeMarkdown {
				sep = "<br>"
			}
			row = append(row, strings.Join(k.Factories, sep))
		}
		rows = append(rows, row)
	}
	r.Header(1, "Node Kinds")
	r.Table(header, rows)
	return nil
}
