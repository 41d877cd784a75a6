package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/flood-forecast-etl/internal/pipeline"
)

func newRunsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect post-processing run reports",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List runs, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				reports, err := pipeline.NewRunStore(a.cfg.DataDir).List()
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "RUN\tPREDICTION\tSTATUS\tSTARTED\tDURATION")
				for _, r := range reports {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						r.RunID, r.PredictionID, r.Status,
						r.StartTime.UTC().Format(time.RFC3339), r.Duration().Round(time.Millisecond))
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "show RUN_ID",
			Short: "Print one run report",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				r, err := pipeline.NewRunStore(a.cfg.DataDir).Get(args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(r)
			},
		},
	)
	return cmd
}
