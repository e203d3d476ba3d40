package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		snk, err := openSink(ctx)
		if err != nil {
			return eris.Wrap(err, "open sink")
		}
		defer snk.Close()

		runs, err := snk.ListRuns(ctx, runsLimit)
		if err != nil {
			return eris.Wrap(err, "list runs")
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tSOURCE\tSTATUS\tSTARTED\tPROCESSED\tCREATED\tUPDATED\tFAILED")
		for _, r := range runs {
			var processed, created, updated, failed int
			if r.Report != nil {
				processed = r.Report.Processed
				created = r.Report.Created
				updated = r.Report.Updated
				failed = r.Report.Failed
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
				r.ID, r.Source, r.Status,
				r.StartedAt.Format("2006-01-02 15:04:05"),
				processed, created, updated, failed,
			)
		}
		return w.Flush()
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "max runs to list")
	rootCmd.AddCommand(runsCmd)
}
