// Package convert runs the workflow conversion pipeline: a declaration file is
// loaded, resolved into column flow and turned into SQL, and the outcome is
// optionally recorded in the state store.
package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/flowsql/internal/loader"
	"github.com/leapstack-labs/flowsql/internal/resolver"
	"github.com/leapstack-labs/flowsql/internal/sqlgen"
	"github.com/leapstack-labs/flowsql/internal/state"
	"github.com/leapstack-labs/flowsql/pkg/core"
	"github.com/leapstack-labs/flowsql/pkg/dialect"
)

// DefaultParallelism bounds ConvertAll when Config.Parallelism is zero.
const DefaultParallelism = 4

// Config holds service configuration.
type Config struct {
	// Dialect renders the SQL (default dialect.Default()).
	Dialect *dialect.Dialect
	// Mode composes fragments into statements (default view).
	Mode sqlgen.Mode
	// AliasPrefix is prepended to node ids (default "node_").
	AliasPrefix string
	// Parallelism bounds ConvertAll.
	Parallelism int
	// Store records every conversion when set.
	Store state.Store
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Service converts workflow files.
type Service struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a conversion service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Dialect == nil {
		cfg.Dialect = dialect.Default()
	}
	if cfg.Mode == "" {
		cfg.Mode = sqlgen.ModeView
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	return &Service{cfg: cfg, logger: logger}
}

// Conversion is the outcome of converting one workflow.
type Conversion struct {
	// ID is the state store id, empty when the conversion was not recorded.
	ID       string
	Path     string
	Workflow *core.Workflow
	Result   *resolver.Result
	Script   *sqlgen.Script
}

// Convert loads, resolves and generates the workflow at path.
func (s *Service) Convert(ctx context.Context, path string) (*Conversion, error) {
	wf, err := loader.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return s.ConvertWorkflow(ctx, path, wf)
}

// ConvertWorkflow resolves and generates an already loaded workflow. path is
// only recorded.
func (s *Service) ConvertWorkflow(ctx context.Context, path string, wf *core.Workflow) (*Conversion, error) {
	logger := s.logger.With("workflow", wf.Name)

	res, err := resolver.Resolve(ctx, wf, resolver.Options{
		AliasPrefix: s.cfg.AliasPrefix,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	script, err := sqlgen.Generate(res, sqlgen.Options{
		Dialect: s.cfg.Dialect,
		Mode:    s.cfg.Mode,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("generate %q: %w", wf.Name, err)
	}

	c := &Conversion{Path: path, Workflow: wf, Result: res, Script: script}

	if s.cfg.Store != nil {
		rec := c.Record()
		if err := s.cfg.Store.SaveConversion(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to record conversion of %s: %w", path, err)
		}
		c.ID = rec.ID
	}

	logger.Info("workflow converted",
		"path", path,
		"nodes", len(res.Nodes),
		"unresolved", len(res.Unresolved()),
		"diagnostics", len(res.Diagnostics),
		"statements", len(script.Statements),
		"failed_fragments", len(script.Failed()),
		"id", c.ID,
	)
	return c, nil
}

// ConvertAll converts paths concurrently. Results are in the order of paths;
// a file that fails leaves a nil entry and its error is joined into the
// returned error without stopping the others.
func (s *Service) ConvertAll(ctx context.Context, paths []string) ([]*Conversion, error) {
	out := make([]*Conversion, len(paths))
	errs := make([]error, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for i, path := range paths {
		g.Go(func() error {
			c, err := s.Convert(gctx, path)
			if err != nil {
				s.logger.Error("conversion failed", "path", path, "error", err)
				errs[i] = fmt.Errorf("%s: %w", path, err)
				return nil
			}
			out[i] = c
			return nil
		})
	}
	_ = g.Wait()
	return out, errors.Join(errs...)
}

// Record converts c to its state store form.
func (c *Conversion) Record() *state.Conversion {
	rec := &state.Conversion{
		ID:          c.ID,
		Workflow:    c.Workflow.Name,
		Path:        c.Path,
		Dialect:     c.Script.Dialect,
		Mode:        string(c.Script.Mode),
		SQL:         c.Script.String(),
		Diagnostics: c.Result.Diagnostics,
	}
	for i := range c.Result.Nodes {
		n := &c.Result.Nodes[i]
		nr := state.NodeResult{
			NodeID:       n.ID,
			Kind:         n.Kind,
			Name:         n.Name,
			Alias:        n.Alias,
			Order:        n.Order,
			InputSchema:  n.InputSchema,
			OutputSchema: n.OutputSchema,
			Renamed:      n.Renamed,
			Unresolved:   n.Unresolved,
			Reason:       n.Reason,
		}
		for _, p := range n.Predecessors {
			nr.Predecessors = append(nr.Predecessors, p.ID)
		}
		if f, ok := c.Script.Fragment(n.ID); ok {
			nr.SQL = f.SQL
			nr.SQLError = f.Err
		}
		rec.Nodes = append(rec.Nodes, nr)
	}
	return rec
}

// OutputName returns the file name the script of path is written under.
func OutputName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".sql"
}

// WriteScript writes the script of c into dir and returns the file written.
func WriteScript(dir string, c *Conversion) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, OutputName(c.Path))
	if err := os.WriteFile(path, []byte(c.Script.String()+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
