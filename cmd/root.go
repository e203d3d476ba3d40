package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/recovery-atlas/facility-etl/internal/config"
	"github.com/recovery-atlas/facility-etl/internal/sink"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "facility-etl",
	Short: "Treatment facility directory ETL pipeline",
	Long:  "Imports facility records from file exports and the upstream locator API, normalizes and deduplicates them, and loads the canonical directory with per-city aggregates.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openSink builds the configured sink backend.
func openSink(ctx context.Context) (sink.Sink, error) {
	switch cfg.Store.Driver {
	case "", "postgres":
		return sink.NewPostgres(ctx, cfg.Store.DatabaseURL, &sink.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	case "sqlite":
		return sink.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store driver: %q (valid: postgres, sqlite)", cfg.Store.Driver)
	}
}
