// Command floodctl post-processes model forecasts and inspects past runs.
//
// Usage:
//
//	floodctl synth --out forecast.json
//	floodctl process forecast.json --suffix MANUAL
//	floodctl validate payload.json
//	floodctl runs list
//	floodctl runs show run_2026_02_14_060000_AUTO
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/flood-forecast-etl/internal/config"
	"github.com/couchcryptid/flood-forecast-etl/internal/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// app is the state shared by all subcommands, filled in before any of them
// runs.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "floodctl",
		Short:         "Post-process flood forecasts into prediction records",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
			a.registry = prometheus.NewRegistry()
			a.metrics = observability.NewRegisteredMetrics(a.registry)
			return nil
		},
	}
	root.AddCommand(
		newProcessCmd(a),
		newSynthCmd(),
		newValidateCmd(a),
		newRunsCmd(a),
	)
	return root
}
