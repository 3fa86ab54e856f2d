package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/repoindex/internal/config"
	"github.com/dshills/repoindex/internal/engine"
	"github.com/dshills/repoindex/internal/logging"
)

// app holds the global flags shared by every command
type app struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "repoindex",
		Short: "Index repositories and search them",
		Long: `repoindex keeps a versioned lexical and semantic index of repositories
and answers searches with a graded retrieval loop.

Logs go to stderr; results go to stdout.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultPath(), "path to the TOML config file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newUpdateIndexCmd(a),
		newSearchDocumentsCmd(a),
		newDeleteIndexCmd(a),
		newRebuildLexicalCmd(a),
		newIndexStatusCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return root
}

// session is one opened configuration
type session struct {
	cfg    *config.Config
	engine *engine.Engine
	logger *zap.Logger
}

// withEngine loads the configuration, opens the engine, runs fn and closes
// everything afterwards
func (a *app) withEngine(ctx context.Context, fn func(s *session) error) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	level := cfg.Log.Level
	if a.verbose {
		level = "debug"
	}
	logger, err := logging.New(level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	e, err := engine.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer func() {
		if err := e.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}()

	return fn(&session{cfg: cfg, engine: e, logger: logger})
}
