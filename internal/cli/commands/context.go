package commands

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/flowsql/internal/cli/output"
	"github.com/leapstack-labs/flowsql/internal/config"
	"github.com/leapstack-labs/flowsql/internal/convert"
	"github.com/leapstack-labs/flowsql/internal/state"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

type commandContextKey struct{}

// WithCommandContext returns ctx carrying cc.
func WithCommandContext(ctx context.Context, cc *CommandContext) context.Context {
	return context.WithValue(ctx, commandContextKey{}, cc)
}

// GetCommandContext returns the CommandContext stored by the root command.
// Commands run on their own (as in tests) get the default configuration,
// a discarding logger and a renderer on the command's writers.
func GetCommandContext(cmd *cobra.Command) *CommandContext {
	if ctx := cmd.Context(); ctx != nil {
		if cc, ok := ctx.Value(commandContextKey{}).(*CommandContext); ok {
			return cc
		}
	}
	cfg := config.Default()
	return &CommandContext{
		Cfg:      cfg,
		Logger:   slog.New(slog.DiscardHandler),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.Output)),
	}
}

// NewService creates a conversion service from the configuration. store may
// be nil.
func (cc *CommandContext) NewService(store state.Store) (*convert.Service, error) {
	d, err := cc.Cfg.SQLDialect()
	if err != nil {
		return nil, err
	}
	mode, err := cc.Cfg.SQLMode()
	if err != nil {
		return nil, err
	}
	return convert.New(convert.Config{
		Dialect:     d,
		Mode:        mode,
		AliasPrefix: cc.Cfg.AliasPrefix,
		Parallelism: cc.Cfg.Parallelism,
		Store:       store,
		Logger:      cc.Logger,
	}), nil
}

// OpenStore opens and migrates the configured state database.
// The returned cleanup function must be called (typically via defer).
func (cc *CommandContext) OpenStore() (*state.SQLiteStore, func(), error) {
	return openStore(cc.Cfg.StatePath, cc.Logger)
}

func openStore(path string, logger *slog.Logger) (*state.SQLiteStore, func(), error) {
	store := state.NewSQLiteStore()
	if err := store.Open(path); err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	logger.Debug("state store opened", "path", path)
	return store, func() { _ = store.Close() }, nil
}

// convertWorkflow converts the workflow at path without recording it.
func convertWorkflow(cmd *cobra.Command, cc *CommandContext, path string) (*convert.Conversion, error) {
	svc, err := cc.NewService(nil)
	if err != nil {
		return nil, err
	}
	return svc.Convert(contextOf(cmd), path)
}
