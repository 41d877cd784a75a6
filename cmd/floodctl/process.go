package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/flood-forecast-etl/internal/adapter/ingest"
	"github.com/couchcryptid/flood-forecast-etl/internal/config"
	"github.com/couchcryptid/flood-forecast-etl/internal/forecast"
	"github.com/couchcryptid/flood-forecast-etl/internal/pipeline"
	"github.com/couchcryptid/flood-forecast-etl/internal/storage"
)

type processOptions struct {
	suffix      string
	noIngest    bool
	payloadOut  string
	metricsFile string
}

func newProcessCmd(a *app) *cobra.Command {
	var opts processOptions
	cmd := &cobra.Command{
		Use:   "process FORECAST_FILE",
		Short: "Turn a forecast file into rasters and a prediction record",
		Long: `Reads a forecast file, writes the NetCDF cube, GeoTIFFs and previews to
the configured storage, computes metrics and risk, and posts the prediction
record to the backend. A run report is kept under DATA_DIR/runs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.process(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.suffix, "suffix", "", "run id suffix (default AUTO)")
	cmd.Flags().BoolVar(&opts.noIngest, "no-ingest", false, "skip posting the record to the backend")
	cmd.Flags().StringVar(&opts.payloadOut, "payload-out", "", "also write the prediction record to this file")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "write run metrics in Prometheus text format to this file")
	return cmd
}

func (a *app) process(cmd *cobra.Command, path string, opts processOptions) error {
	ctx := cmd.Context()

	f, err := forecast.ReadFile(path)
	if err != nil {
		return err
	}
	req, err := f.Request(opts.suffix)
	if err != nil {
		return fmt.Errorf("forecast %s: %w", path, err)
	}

	uploader, err := newUploader(ctx, a)
	if err != nil {
		return err
	}
	var ingester pipeline.Ingester
	if !opts.noIngest {
		ingester = ingest.NewClient(a.cfg.BackendURL, a.cfg.IngestTimeout, a.logger)
	}
	runs := pipeline.NewRunStore(a.cfg.DataDir)
	proc := pipeline.New(uploader, ingester, runs, pipelineConfig(a.cfg), a.logger, a.metrics)

	res, procErr := proc.Process(ctx, req)
	if opts.metricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.metricsFile, a.registry); err != nil {
			a.logger.Error("write metrics file", "path", opts.metricsFile, "error", err)
		}
	}
	if procErr != nil {
		if res.RunID != "" {
			return fmt.Errorf("run %s: %w", res.RunID, procErr)
		}
		return procErr
	}

	if opts.payloadOut != "" {
		data, err := json.MarshalIndent(res.Prediction, "", "  ")
		if err != nil {
			return fmt.Errorf("encode prediction: %w", err)
		}
		if err := os.WriteFile(opts.payloadOut, data, 0o644); err != nil {
			return fmt.Errorf("write prediction: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	risk := res.Prediction.RiskAssessment
	fmt.Fprintf(out, "run:        %s\n", res.RunID)
	fmt.Fprintf(out, "prediction: %s\n", res.Prediction.PredictionID)
	fmt.Fprintf(out, "severity:   %s (risk %.3f)\n", risk.SeverityClass, risk.RiskScore)
	if ingester != nil {
		fmt.Fprintf(out, "stored id:  %d\n", res.Response.StoredID)
	}
	return nil
}

func newUploader(ctx context.Context, a *app) (storage.Uploader, error) {
	if a.cfg.StorageBackend == config.StorageS3 {
		return storage.NewS3UploaderFromEnv(ctx, a.cfg.S3Bucket, a.cfg.S3Region, a.cfg.PublicBaseURL(), a.logger)
	}
	return storage.NewLocalUploader(a.cfg.LocalStorageDir, a.cfg.PublicBaseURL(), a.logger)
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	pc := pipeline.DefaultConfig()
	pc.Metrics = cfg.Metrics
	pc.Scoring = cfg.Scoring
	pc.Timesteps = cfg.Timesteps
	pc.ArcGISURL = cfg.ArcGISURL
	pc.Workers = cfg.RasterWorkers
	return pc
}
