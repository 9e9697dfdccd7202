package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/flowsql/internal/cli/output"
	"github.com/leapstack-labs/flowsql/internal/convert"
	"github.com/leapstack-labs/flowsql/internal/loader"
	"github.com/leapstack-labs/flowsql/internal/sqlgen"
	"github.com/leapstack-labs/flowsql/internal/state"
	"github.com/leapstack-labs/flowsql/pkg/core"
)

// ConvertOptions holds options for the convert command.
type ConvertOptions struct {
	Save  bool
	Watch bool
}

// NewConvertCommand creates the convert command.
func NewConvertCommand() *cobra.Command {
	opts := &ConvertOptions{}

	cmd := &cobra.Command{
		Use:   "convert <workflow>...",
		Short: "Convert workflows to SQL",
		Long: `Resolve the column flow of each workflow and generate SQL for it.

Arguments may be workflow files or directories; directories are searched
recursively for .yaml, .yml and .json files. Nodes that cannot be resolved
or rendered are reported as warnings and left out of the SQL.

Without --out the SQL is written to stdout:
  - Terminal: Styled output
  - Piped/Scripted: Markdown with fenced SQL blocks
  - --output json: statements, fragments and diagnostics`,
		Example: `  # Print views for one workflow
  flowsql convert orders.yaml

  # One nested statement per output, DuckDB syntax
  flowsql convert orders.yaml --mode cte --dialect duckdb

  # Write a .sql file per workflow and record the runs
  flowsql convert workflows/ --out build/sql --save

  # Regenerate on every save
  flowsql convert orders.yaml --out build/sql --watch`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, args, opts)
		},
	}

	cmd.Flags().String("out", "", "Directory to write one .sql file per workflow to")
	cmd.Flags().Int("parallelism", 0, "Number of workflows converted at once")
	cmd.Flags().BoolVar(&opts.Save, "save", false, "Record conversions in the state database")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "Convert again whenever a workflow file changes")

	return cmd
}

func runConvert(cmd *cobra.Command, args []string, opts *ConvertOptions) error {
	cc := GetCommandContext(cmd)
	r := cc.Renderer

	paths, err := loader.Discover(args...)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no workflow files found in %v", args)
	}

	var store state.Store
	if opts.Save {
		s, cleanup, err := cc.OpenStore()
		if err != nil {
			return fmt.Errorf("failed to open state: %w", err)
		}
		defer cleanup()
		store = s
	}

	svc, err := cc.NewService(store)
	if err != nil {
		return err
	}

	if opts.Watch {
		ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()
		r.Successf("watching %d workflow(s), press Ctrl+C to stop", len(paths))
		return svc.Watch(ctx, paths, func(path string, c *convert.Conversion, err error) {
			if err != nil {
				r.Warnf("%v", err)
				return
			}
			if err := emitConversions(cc, []*convert.Conversion{c}); err != nil {
				r.Warnf("%s: %v", path, err)
			}
		})
	}

	results, convErr := svc.ConvertAll(contextOf(cmd), paths)
	done := make([]*convert.Conversion, 0, len(results))
	for _, c := range results {
		if c != nil {
			done = append(done, c)
		}
	}
	if err := emitConversions(cc, done); err != nil {
		return err
	}
	return convErr
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// emitConversions reports problems and writes the SQL of each conversion.
func emitConversions(cc *CommandContext, convs []*convert.Conversion) error {
	r := cc.Renderer

	for _, c := range convs {
		reportProblems(r, c)
	}

	if cc.Cfg.OutDir != "" {
		var errs []error
		for _, c := range convs {
			path, err := convert.WriteScript(cc.Cfg.OutDir, c)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			r.Successf("wrote %s", path)
		}
		reportRecorded(r, convs)
		return errors.Join(errs...)
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		out := make([]conversionJSON, len(convs))
		for i, c := range convs {
			out[i] = toConversionJSON(c)
		}
		if err := r.JSON(out); err != nil {
			return err
		}
	case output.ModeMarkdown:
		for _, c := range convs {
			r.Header(2, c.Workflow.Name)
			r.Println(output.FormatKeyValue("File", c.Path))
			r.Println(output.FormatKeyValue("Dialect", c.Script.Dialect))
			r.Println(output.FormatKeyValue("Mode", string(c.Script.Mode)))
			r.Println("")
			r.Println(output.FormatCode("sql", c.Script.String()))
			r.Println("")
		}
	default:
		styles := r.Styles()
		for i, c := range convs {
			if i > 0 {
				r.Println("")
			}
			r.Println(styles.Muted.Render(fmt.Sprintf("-- %s (%s)", c.Workflow.Name, c.Path)))
			r.Println(styles.SQL.Render(c.Script.String()))
		}
	}
	reportRecorded(r, convs)
	return nil
}

func reportProblems(r *output.Renderer, c *convert.Conversion) {
	for _, d := range c.Result.Diagnostics {
		if d.Severity == core.SeverityInfo {
			continue
		}
		r.Warnf("%s: %s", c.Path, d)
	}
	for _, f := range c.Script.Failed() {
		r.Warnf("%s: no SQL for node %s (%s): %s", c.Path, f.NodeID, f.Kind, f.Err)
	}
}

func reportRecorded(r *output.Renderer, convs []*convert.Conversion) {
	for _, c := range convs {
		if c.ID != "" {
			r.Successf("recorded %s as %s", c.Path, c.ID)
		}
	}
}

type conversionJSON struct {
	ID          string             `json:"id,omitempty"`
	Path        string             `json:"path"`
	Workflow    string             `json:"workflow"`
	Dialect     string             `json:"dialect"`
	Mode        sqlgen.Mode        `json:"mode"`
	SQL         string             `json:"sql"`
	Statements  []sqlgen.Statement `json:"statements"`
	Fragments   []sqlgen.Fragment  `json:"fragments"`
	Diagnostics core.Diagnostics   `json:"diagnostics"`
	Unresolved  []core.NodeID      `json:"unresolved"`
}

func toConversionJSON(c *convert.Conversion) conversionJSON {
	out := conversionJSON{
		ID:          c.ID,
		Path:        c.Path,
		Workflow:    c.Workflow.Name,
		Dialect:     c.Script.Dialect,
		Mode:        c.Script.Mode,
		SQL:         c.Script.String(),
		Statements:  c.Script.Statements,
		Fragments:   c.Script.Fragments,
		Diagnostics: c.Result.Diagnostics,
		Unresolved:  []core.NodeID{},
	}
	if out.Statements == nil {
		out.Statements = []sqlgen.Statement{}
	}
	if out.Diagnostics == nil {
		out.Diagnostics = core.Diagnostics{}
	}
	for _, n := range c.Result.Unresolved() {
		out.Unresolved = append(out.Unresolved, n.ID)
	}
	return out
}
