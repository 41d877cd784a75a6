// Package pipeline turns a model forecast into georeferenced artifacts, a
// scored Prediction Record and an ingestion call, recording each step in a
// run report.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/flood-forecast-etl/internal/domain"
	"github.com/couchcryptid/flood-forecast-etl/internal/observability"
	"github.com/couchcryptid/flood-forecast-etl/internal/raster"
	"github.com/couchcryptid/flood-forecast-etl/internal/storage"
)

// Step names as they appear in run reports and the step duration metric.
const (
	StepNetCDF  = "netcdf"
	StepUpload  = "upload_netcdf"
	StepArcGIS  = "arcgis"
	StepRasters = "rasters"
	StepMetrics = "metrics"
	StepRisk    = "risk"
	StepPayload = "payload"
	StepIngest  = "ingest"
)

const defaultSuffix = "AUTO"

// Ingester delivers a finished prediction to the backend.
type Ingester interface {
	Ingest(ctx context.Context, p domain.Prediction) (domain.IngestResponse, error)
}

// Config tunes the processor.
type Config struct {
	Metrics domain.MetricsConfig
	Scoring domain.ScoringConfig
	// Timesteps selects the hours rendered as rasters.
	Timesteps domain.TimestepSelection
	// ArcGISURL enables the image service reference when set.
	ArcGISURL string
	// Workers bounds concurrent raster rendering.
	Workers       int
	PreviewScaleM float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Metrics:       domain.DefaultMetricsConfig(),
		Scoring:       domain.DefaultScoringConfig(),
		Timesteps:     domain.DefaultTimestepSelection(),
		Workers:       4,
		PreviewScaleM: raster.DefaultPreviewScaleM,
	}
}

// Request is one forecast to post-process.
type Request struct {
	Volumes       domain.ForecastVolumes
	Bounds        domain.Bounds
	ForecastStart time.Time
	Location      domain.LocationInput
	InputFeatures domain.InputFeatures
	Model         domain.ModelMetadata
	// RunSuffix ends the run id; empty means AUTO.
	RunSuffix string
}

// Result is what a successful run produced.
type Result struct {
	RunID      string
	Prediction domain.Prediction
	// Response is zero when no Ingester is configured.
	Response domain.IngestResponse
	Report   RunReport
}

// Processor runs the post-processing steps for one forecast at a time.
type Processor struct {
	uploader storage.Uploader
	ingester Ingester
	runs     *RunStore
	cfg      Config
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// New creates a Processor. A nil ingester skips the ingest step and a nil
// run store keeps reports in memory only.
func New(uploader storage.Uploader, ingester Ingester, runs *RunStore, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Processor {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PreviewScaleM <= 0 {
		cfg.PreviewScaleM = raster.DefaultPreviewScaleM
	}
	return &Processor{
		uploader: uploader,
		ingester: ingester,
		runs:     runs,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

// run carries the state of one Process call between steps.
type run struct {
	req    Request
	start  time.Time
	id     string
	keys   storage.Keys
	report *RunReport
	log    *slog.Logger

	netcdf    []byte
	artifacts domain.RasterArtifacts
	metrics   domain.GridMetrics
	risk      domain.RiskAssessment
	payload   domain.Prediction
	response  domain.IngestResponse
}

// Process runs every step in order and stops at the first failure. The run
// report is persisted whether the run succeeds or fails.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if err := p.check(req); err != nil {
		return Result{}, err
	}

	start := req.ForecastStart.UTC()
	predictionID := domain.PredictionID(req.Location.Region, start)
	suffix := req.RunSuffix
	if suffix == "" {
		suffix = defaultSuffix
	}
	report := newRunReport(RunID(domain.Now(), suffix), predictionID, domain.Now())
	r := &run{
		req:    req,
		start:  start,
		id:     predictionID,
		keys:   storage.Keys{PredictionID: predictionID},
		report: report,
		log:    p.logger.With("run_id", report.RunID, "prediction_id", predictionID),
	}

	r.log.Info("processing forecast",
		"region", req.Location.Region,
		"basin", req.Location.Basin,
		"forecast_start", start,
		"grid_shape", req.Volumes.Shape().String(),
	)
	p.saveReport(r)

	err := p.runSteps(ctx, r)
	report.finish(domain.Now(), err)
	p.saveReport(r)

	if err != nil {
		p.metrics.PipelineRuns.WithLabelValues(string(StatusFailed)).Inc()
		r.log.Error("processing failed", "error", err)
		return Result{RunID: report.RunID, Report: *report}, err
	}
	p.metrics.PipelineRuns.WithLabelValues(string(StatusCompleted)).Inc()
	r.log.Info("processing complete",
		"severity", r.risk.SeverityClass,
		"risk_score", r.risk.RiskScore,
		"stored_id", r.response.StoredID,
	)
	return Result{
		RunID:      report.RunID,
		Prediction: r.payload,
		Response:   r.response,
		Report:     *report,
	}, nil
}

func (p *Processor) check(req Request) error {
	var errs []error
	if req.Volumes.Shape().Timesteps == 0 {
		errs = append(errs, fmt.Errorf("%w: forecast has no timesteps", domain.ErrPrecondition))
	}
	if err := req.Bounds.Validate(); err != nil {
		errs = append(errs, err)
	}
	if req.ForecastStart.IsZero() {
		errs = append(errs, fmt.Errorf("%w: forecast start is required", domain.ErrPrecondition))
	}
	if strings.TrimSpace(req.Location.Region) == "" {
		errs = append(errs, fmt.Errorf("%w: location.region", domain.ErrMissingField))
	}
	return errors.Join(errs...)
}

func (p *Processor) runSteps(ctx context.Context, r *run) error {
	steps := []struct {
		name string
		fn   func(context.Context, *run) error
	}{
		{StepNetCDF, p.createNetCDF},
		{StepUpload, p.uploadNetCDF},
		{StepArcGIS, p.registerArcGIS},
		{StepRasters, p.renderRasters},
		{StepMetrics, p.extractMetrics},
		{StepRisk, p.scoreRisk},
		{StepPayload, p.buildPayload},
		{StepIngest, p.ingest},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.step(ctx, r, s.name, s.fn); err != nil {
			return err
		}
	}
	return nil
}

// errSkipped marks a step that had nothing to do.
var errSkipped = errors.New("skipped")

func (p *Processor) step(ctx context.Context, r *run, name string, fn func(context.Context, *run) error) error {
	started := time.Now()
	err := fn(ctx, r)
	elapsed := time.Since(started)

	if errors.Is(err, errSkipped) {
		r.report.addStage(name, StatusSkipped, elapsed, nil)
		r.log.Info("step skipped", "step", name)
		return nil
	}
	p.metrics.StepDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if err != nil {
		r.report.addStage(name, StatusFailed, elapsed, err)
		return fmt.Errorf("%s: %w", name, err)
	}
	r.report.addStage(name, StatusCompleted, elapsed, nil)
	r.log.Info("step completed", "step", name, "duration", elapsed)
	p.saveReport(r)
	return nil
}

func (p *Processor) createNetCDF(_ context.Context, r *run) error {
	var buf bytes.Buffer
	err := raster.EncodeNetCDF(&buf, raster.Dataset{
		PredictionID:      r.id,
		Start:             r.start,
		Created:           domain.Now(),
		Model:             strings.TrimSpace(r.req.Model.Architecture + " " + r.req.Model.Version),
		Bounds:            r.req.Bounds,
		GroundResolutionM: p.cfg.Metrics.GroundResolutionM,
		Volumes:           r.req.Volumes,
	})
	if err != nil {
		return err
	}
	r.netcdf = buf.Bytes()
	return nil
}

// uploadNetCDF stores the NetCDF file. The CRF is produced outside this
// service; only its URL under the key scheme is recorded.
func (p *Processor) uploadNetCDF(ctx context.Context, r *run) error {
	url, err := p.uploader.Upload(ctx, r.keys.NetCDF(), storage.ContentTypeNetCDF, r.netcdf)
	if err != nil {
		return err
	}
	p.metrics.ArtifactsUploaded.WithLabelValues("netcdf").Inc()
	r.artifacts.NetCDFURL = url
	r.artifacts.CRFURL = p.uploader.URL(r.keys.CRF())
	r.netcdf = nil
	return nil
}

func (p *Processor) registerArcGIS(_ context.Context, r *run) error {
	if p.cfg.ArcGISURL == "" {
		return errSkipped
	}
	r.artifacts.ArcGISServiceURL = ArcGISServiceURL(p.cfg.ArcGISURL, r.id)
	return nil
}

// ArcGISServiceURL is the image service a prediction's CRF is published as.
func ArcGISServiceURL(base, predictionID string) string {
	return fmt.Sprintf("%s/FloodForecast/ImageServer/%s", strings.TrimRight(base, "/"), predictionID)
}

// renderRasters writes GeoTIFFs for all three variables plus a preview and
// thumbnail for each selected timestep, using a bounded worker group.
func (p *Processor) renderRasters(ctx context.Context, r *run) error {
	timesteps := p.cfg.Timesteps.Select(r.req.Volumes.Shape().Timesteps)
	geotiffs := make([]domain.RasterTimestep, len(timesteps))
	previews := make([]domain.PreviewTimestep, len(timesteps))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i, t := range timesteps {
		g.Go(func() error {
			gt, pv, err := p.renderTimestep(gctx, r, t)
			if err != nil {
				return fmt.Errorf("timestep %d: %w", t, err)
			}
			geotiffs[i] = gt
			previews[i] = pv
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.artifacts.GeoTIFFs = geotiffs
	r.artifacts.Previews = previews
	r.log.Info("rasters rendered", "timesteps", len(timesteps))
	return nil
}

func (p *Processor) renderTimestep(ctx context.Context, r *run, t int) (domain.RasterTimestep, domain.PreviewTimestep, error) {
	ts := r.start.Add(time.Duration(t) * time.Hour)
	vols := r.req.Volumes

	urls := make(map[string]string, 3)
	for _, v := range []struct {
		name string
		vol  domain.Volume
	}{
		{storage.VarDepth, vols.Depth},
		{storage.VarVelocityX, vols.VelocityX},
		{storage.VarVelocityY, vols.VelocityY},
	} {
		var buf bytes.Buffer
		desc := fmt.Sprintf("%s at T+%dh", v.name, t)
		if err := raster.EncodeGeoTIFF(&buf, raster.FrameGrid(v.vol, t), r.req.Bounds, desc); err != nil {
			return domain.RasterTimestep{}, domain.PreviewTimestep{}, err
		}
		url, err := p.uploader.Upload(ctx, r.keys.GeoTIFF(v.name, t), storage.ContentTypeGeoTIFF, buf.Bytes())
		if err != nil {
			return domain.RasterTimestep{}, domain.PreviewTimestep{}, err
		}
		p.metrics.ArtifactsUploaded.WithLabelValues("geotiff").Inc()
		urls[v.name] = url
	}

	img, err := raster.RenderPreview(raster.FrameGrid(vols.Depth, t), p.cfg.PreviewScaleM)
	if err != nil {
		return domain.RasterTimestep{}, domain.PreviewTimestep{}, err
	}
	png, err := raster.EncodePNG(img)
	if err != nil {
		return domain.RasterTimestep{}, domain.PreviewTimestep{}, err
	}
	thumb, err := raster.EncodePNG(raster.Thumbnail(img, raster.ThumbnailSize))
	if err != nil {
		return domain.RasterTimestep{}, domain.PreviewTimestep{}, err
	}
	pngURL, err := p.uploader.Upload(ctx, r.keys.Preview(t), storage.ContentTypePNG, png)
	if err != nil {
		return domain.RasterTimestep{}, domain.PreviewTimestep{}, err
	}
	thumbURL, err := p.uploader.Upload(ctx, r.keys.Thumbnail(t), storage.ContentTypePNG, thumb)
	if err != nil {
		return domain.RasterTimestep{}, domain.PreviewTimestep{}, err
	}
	p.metrics.ArtifactsUploaded.WithLabelValues("png").Add(2)

	vx, vy := urls[storage.VarVelocityX], urls[storage.VarVelocityY]
	return domain.RasterTimestep{
			Timestep:        t,
			TimeOffsetHours: t,
			Timestamp:       ts,
			DepthURL:        urls[storage.VarDepth],
			VelocityXURL:    &vx,
			VelocityYURL:    &vy,
		}, domain.PreviewTimestep{
			Timestep:     t,
			Timestamp:    ts,
			PNGURL:       pngURL,
			ThumbnailURL: thumbURL,
		}, nil
}

func (p *Processor) extractMetrics(_ context.Context, r *run) error {
	m, err := domain.ExtractMetrics(r.req.Volumes, r.start, p.cfg.Metrics)
	if err != nil {
		return err
	}
	r.metrics = m
	r.log.Info("metrics extracted",
		"peak_depth_m", m.PeakDepthMax,
		"affected_area_km2", m.AffectedAreaKm2,
		"peak_timestep", m.PeakTimestep,
	)
	return nil
}

func (p *Processor) scoreRisk(_ context.Context, r *run) error {
	r.risk = domain.ScoreRisk(r.metrics, p.cfg.Scoring)
	r.log.Info("risk scored",
		"risk_score", r.risk.RiskScore,
		"severity", r.risk.SeverityClass,
		"confidence", r.risk.Confidence,
	)
	return nil
}

func (p *Processor) buildPayload(_ context.Context, r *run) error {
	payload, err := domain.BuildPrediction(domain.PredictionInput{
		PredictionID:      r.id,
		ForecastStart:     r.start,
		Location:          r.req.Location,
		Bounds:            r.req.Bounds,
		GroundResolutionM: p.cfg.Metrics.GroundResolutionM,
		Shape:             r.req.Volumes.Shape(),
		Artifacts:         r.artifacts,
		Metrics:           r.metrics,
		Risk:              r.risk,
		InputFeatures:     r.req.InputFeatures,
		Model:             r.req.Model,
	})
	if err != nil {
		return err
	}
	r.payload = payload
	return nil
}

func (p *Processor) ingest(ctx context.Context, r *run) error {
	if p.ingester == nil {
		return errSkipped
	}
	resp, err := p.ingester.Ingest(ctx, r.payload)
	if err != nil {
		return err
	}
	r.response = resp
	r.report.StoredID = resp.StoredID
	r.log.Info("prediction ingested", "status", resp.Status, "message", resp.Message)
	return nil
}

func (p *Processor) saveReport(r *run) {
	if p.runs == nil {
		return
	}
	if err := p.runs.Save(*r.report); err != nil {
		r.log.Warn("save run report failed", "error", err)
	}
}
