package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/recovery-atlas/facility-etl/internal/model"
)

var (
	aggState   string
	aggCity    string
	aggRefresh bool
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Show or refresh per-city aggregates",
	Long:  "Prints city_stats rows, optionally filtered by --state and --city. With --refresh the aggregates are recomputed from the facilities table first (scoped to the filter when one is given).",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if aggCity != "" && aggState == "" {
			return eris.New("--city requires --state")
		}

		snk, err := openSink(ctx)
		if err != nil {
			return eris.Wrap(err, "open sink")
		}
		defer snk.Close()

		if aggRefresh {
			var scope []model.CityScope
			if aggState != "" && aggCity != "" {
				scope = []model.CityScope{{State: aggState, City: aggCity}}
			}
			if err := snk.RefreshCityStats(ctx, scope); err != nil {
				return eris.Wrap(err, "refresh city stats")
			}
			zap.L().Info("city stats refreshed", zap.Int("scoped_cities", len(scope)))
		}

		stats, err := snk.CityStats(ctx, aggState, aggCity)
		if err != nil {
			return eris.Wrap(err, "query city stats")
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STATE\tCITY\tFACILITIES\tRESIDENTIAL\tAVG SCORE\tCENTROID")
		for _, cs := range stats {
			centroid := "-"
			if cs.CentroidLat != nil && cs.CentroidLon != nil {
				centroid = fmt.Sprintf("%.4f,%.4f", *cs.CentroidLat, *cs.CentroidLon)
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.2f\t%s\n",
				cs.State, cs.City, cs.FacilityCount, cs.ResidentialCount,
				cs.AvgQualityScore, centroid,
			)
		}
		return w.Flush()
	},
}

func init() {
	aggregateCmd.Flags().StringVar(&aggState, "state", "", "filter by two-letter state code")
	aggregateCmd.Flags().StringVar(&aggCity, "city", "", "filter by city (requires --state)")
	aggregateCmd.Flags().BoolVar(&aggRefresh, "refresh", false, "recompute aggregates before printing")
	rootCmd.AddCommand(aggregateCmd)
}
