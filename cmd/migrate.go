package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the sink schema",
	Long:  "Creates or updates the facilities, city_stats, and pipeline_runs tables for the configured store driver. Safe to run repeatedly; concurrent runs serialize on an advisory lock.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		snk, err := openSink(ctx)
		if err != nil {
			return eris.Wrap(err, "open sink")
		}
		defer snk.Close()

		if err := snk.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate")
		}

		zap.L().Info("schema up to date", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
