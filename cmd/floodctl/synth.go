package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/flood-forecast-etl/internal/forecast"
)

func newSynthCmd() *cobra.Command {
	p := forecast.DefaultSynthParams()
	var (
		out   string
		size  int
		start string
	)
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Write a synthetic forecast file for development runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if start != "" {
				t, err := time.Parse(time.RFC3339, start)
				if err != nil {
					return fmt.Errorf("invalid --start: %w", err)
				}
				p.Start = t.UTC()
			}
			if size < 1 || p.Timesteps < 1 {
				return fmt.Errorf("--size and --timesteps must be positive")
			}
			p.Height, p.Width = size, size
			if err := forecast.WriteFile(out, forecast.Synthesize(p)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %dx%dx%d forecast to %s\n", p.Timesteps, size, size, out)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&out, "out", "forecast.json", "output file")
	flags.IntVar(&size, "size", p.Height, "grid edge length in cells")
	flags.IntVar(&p.Timesteps, "timesteps", p.Timesteps, "forecast hours")
	flags.IntVar(&p.PeakHour, "peak-hour", p.PeakHour, "hour of peak depth")
	flags.IntVar(&p.DrainHour, "drain-hour", p.DrainHour, "hour the flood has drained")
	flags.Float64Var(&p.PeakDepthM, "peak-depth", p.PeakDepthM, "peak depth in meters")
	flags.Uint64Var(&p.Seed, "seed", p.Seed, "noise seed")
	flags.StringVar(&start, "start", "", "forecast start, RFC 3339 (default: this hour)")
	return cmd
}
