package main

import (
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/fern/config"
)

// app carries what every subcommand needs once the root has loaded it
type app struct {
	config *config.Config
	logger ectologger.Logger
	zap    *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "fern",
		Short:         "Batch entity resolution",
		Long:          "fern blocks, matches, clusters and merges source records into golden records with per-attribute lineage.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if level, _ := cmd.Flags().GetString("log-level"); level != "" {
				cfg.LogLevel = level
			}

			zl, err := newZapLogger(cfg)
			if err != nil {
				return err
			}

			a.config = cfg
			a.zap = zl
			a.logger = zapadapter.NewZapEctoLogger(zl, nil)
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if a.zap != nil {
				_ = a.zap.Sync()
			}
		},
	}

	root.PersistentFlags().String("log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(a),
		newResolveCmd(a),
		newMigrateCmd(a),
	)

	return root
}

// newZapLogger builds a JSON production logger, or a console logger when
// PRETTY_LOGS is set.
func newZapLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.InitialFields = map[string]any{"app": cfg.AppName}

	return zc.Build()
}
