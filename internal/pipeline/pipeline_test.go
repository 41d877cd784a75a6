package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-forecast-etl/internal/domain"
	"github.com/couchcryptid/flood-forecast-etl/internal/observability"
	"github.com/couchcryptid/flood-forecast-etl/internal/pipeline"
)

// --- mocks ---

type memUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	failOn  string
}

func newMemUploader() *memUploader {
	return &memUploader{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memUploader) Upload(_ context.Context, key, contentType string, body []byte) (string, error) {
	if m.failOn != "" && strings.Contains(key, m.failOn) {
		return "", fmt.Errorf("storage upload %s: access denied", key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), body...)
	m.types[key] = contentType
	return m.URL(key), nil
}

func (m *memUploader) URL(key string) string { return "https://cdn.example.test/" + key }

type mockIngester struct {
	got  []domain.Prediction
	resp domain.IngestResponse
	err  error
}

func (m *mockIngester) Ingest(_ context.Context, p domain.Prediction) (domain.IngestResponse, error) {
	m.got = append(m.got, p)
	if m.err != nil {
		return domain.IngestResponse{}, m.err
	}
	return m.resp, nil
}

// --- fixtures ---

var (
	forecastStart = time.Date(2026, 2, 14, 6, 0, 0, 0, time.UTC)
	runClock      = time.Date(2026, 2, 14, 7, 30, 0, 0, time.UTC)
	testBounds    = domain.Bounds{West: 88.2, South: 22.4, East: 88.5, North: 22.7}
)

func freezeClock(t *testing.T) {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(runClock))
	t.Cleanup(func() { domain.SetClock(nil) })
}

// forecast builds a T×4×4 forecast where pixel (0,0) rises to 2 m at
// timestep 12 and drains by 0.1 m per hour either side.
func forecast(t *testing.T, timesteps int) domain.ForecastVolumes {
	t.Helper()
	const h, w = 4, 4
	depth := make([]float64, timesteps*h*w)
	vx := make([]float64, timesteps*h*w)
	vy := make([]float64, timesteps*h*w)
	for ti := 0; ti < timesteps; ti++ {
		d := 2.0 - 0.1*float64(abs(ti-12))
		if d < 0 {
			d = 0
		}
		depth[ti*h*w] = d
		for i := 0; i < h*w; i++ {
			vx[ti*h*w+i] = 0.5
		}
	}
	dv, err := domain.NewVolume(timesteps, h, w, depth)
	require.NoError(t, err)
	xv, err := domain.NewVolume(timesteps, h, w, vx)
	require.NoError(t, err)
	yv, err := domain.NewVolume(timesteps, h, w, vy)
	require.NoError(t, err)
	vols, err := domain.NewForecastVolumes(dv, xv, yv)
	require.NoError(t, err)
	return vols
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func request(t *testing.T) pipeline.Request {
	return pipeline.Request{
		Volumes:       forecast(t, 30),
		Bounds:        testBounds,
		ForecastStart: forecastStart,
		Location:      domain.LocationInput{Basin: "Hooghly", Region: "West Bengal"},
		InputFeatures: domain.InputFeatures{Rainfall24hMaxMM: 180, UpstreamDischargeM3s: 5200},
		Model: domain.ModelMetadata{
			Architecture:  "UNet-ConvLSTM",
			Version:       "v2.1.0",
			TrainingDate:  "2025-11-01",
			LisfloodRunID: "lisflood_2026_02_14",
		},
	}
}

func newProcessor(up *memUploader, ing pipeline.Ingester, runs *pipeline.RunStore, cfg pipeline.Config) (*pipeline.Processor, *observability.Metrics) {
	metrics := observability.NewMetricsForTesting()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return pipeline.New(up, ing, runs, cfg, logger, metrics), metrics
}

func stageStatuses(r pipeline.RunReport) map[string]pipeline.Status {
	out := map[string]pipeline.Status{}
	for _, s := range r.Stages {
		out[s.Name] = s.Status
	}
	return out
}

// --- tests ---

func TestProcess_HappyPath(t *testing.T) {
	freezeClock(t)
	up := newMemUploader()
	ing := &mockIngester{resp: domain.IngestResponse{Status: "success", StoredID: 5}}
	runs := pipeline.NewRunStore(t.TempDir())
	p, metrics := newProcessor(up, ing, runs, pipeline.DefaultConfig())

	res, err := p.Process(context.Background(), request(t))
	require.NoError(t, err)

	const predID = "pred_west_bengal_dl_20260214_0600"
	assert.Equal(t, "run_2026_02_14_073000_AUTO", res.RunID)
	assert.Equal(t, predID, res.Prediction.PredictionID)
	assert.Equal(t, int64(5), res.Response.StoredID)

	// 0..23 hourly then 24; 30 is past the horizon.
	rd := res.Prediction.RasterData
	require.Len(t, rd.GeoTIFFURLs, 25)
	require.Len(t, rd.PreviewURLs, 25)
	for i, g := range rd.GeoTIFFURLs {
		assert.Equal(t, i, g.Timestep)
		assert.Equal(t, forecastStart.Add(time.Duration(i)*time.Hour), g.Timestamp)
	}
	assert.Equal(t, "https://cdn.example.test/predictions/"+predID+"/depth_t012.tif", rd.GeoTIFFURLs[12].DepthURL)
	require.NotNil(t, rd.GeoTIFFURLs[12].VelocityXURL)
	assert.Equal(t, "https://cdn.example.test/predictions/"+predID+"/vel_x_t012.tif", *rd.GeoTIFFURLs[12].VelocityXURL)
	assert.Equal(t, "https://cdn.example.test/previews/"+predID+"/thumb_t024.png", rd.PreviewURLs[24].ThumbnailURL)
	assert.Equal(t, "https://cdn.example.test/predictions/"+predID+"/forecast.nc", rd.NetCDFURL)
	assert.Equal(t, "https://cdn.example.test/predictions/"+predID+"/forecast.crf", rd.NetCDFCRFURL)
	assert.Nil(t, rd.ArcGISServiceURL)

	// 1 NetCDF + 25 × (3 GeoTIFF + 2 PNG); the CRF is a reference only.
	assert.Len(t, up.objects, 126)
	assert.True(t, bytes.HasPrefix(up.objects["predictions/"+predID+"/forecast.nc"], []byte("CDF")))
	assert.True(t, bytes.HasPrefix(up.objects["predictions/"+predID+"/depth_t000.tif"], []byte("II*\x00")))
	assert.Equal(t, "image/png", up.types["previews/"+predID+"/t000.png"])
	assert.NotContains(t, up.objects, "predictions/"+predID+"/forecast.crf")

	wantMetrics, err := domain.ExtractMetrics(request(t).Volumes, forecastStart, domain.DefaultMetricsConfig())
	require.NoError(t, err)
	if diff := cmp.Diff(wantMetrics, res.Prediction.AggregatedMetrics); diff != "" {
		t.Errorf("metrics mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, domain.ScoreRisk(wantMetrics, domain.DefaultScoringConfig()), res.Prediction.RiskAssessment)
	assert.Equal(t, domain.GridShape{Height: 4, Width: 4, Timesteps: 30}, res.Prediction.GridShape)

	require.Len(t, ing.got, 1)
	assert.Equal(t, predID, ing.got[0].PredictionID)

	assert.Equal(t, pipeline.StatusCompleted, res.Report.Status)
	statuses := stageStatuses(res.Report)
	assert.Len(t, statuses, 8)
	assert.Equal(t, pipeline.StatusSkipped, statuses[pipeline.StepArcGIS])
	assert.Equal(t, pipeline.StatusCompleted, statuses[pipeline.StepIngest])

	stored, err := runs.Get(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusCompleted, stored.Status)
	assert.Equal(t, int64(5), stored.StoredID)
	require.NotNil(t, stored.EndTime)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PipelineRuns.WithLabelValues("completed")))
	assert.Equal(t, 75.0, testutil.ToFloat64(metrics.ArtifactsUploaded.WithLabelValues("geotiff")))
	assert.Equal(t, 50.0, testutil.ToFloat64(metrics.ArtifactsUploaded.WithLabelValues("png")))
}

func TestProcess_ArcGISConfigured(t *testing.T) {
	freezeClock(t)
	cfg := pipeline.DefaultConfig()
	cfg.ArcGISURL = "https://gis.example.test/arcgis/rest/services/"
	p, _ := newProcessor(newMemUploader(), nil, nil, cfg)

	res, err := p.Process(context.Background(), request(t))
	require.NoError(t, err)

	require.NotNil(t, res.Prediction.RasterData.ArcGISServiceURL)
	assert.Equal(t,
		"https://gis.example.test/arcgis/rest/services/FloodForecast/ImageServer/pred_west_bengal_dl_20260214_0600",
		*res.Prediction.RasterData.ArcGISServiceURL)
}

func TestProcess_NoIngesterSkipsIngest(t *testing.T) {
	freezeClock(t)
	p, _ := newProcessor(newMemUploader(), nil, nil, pipeline.DefaultConfig())

	res, err := p.Process(context.Background(), request(t))
	require.NoError(t, err)
	assert.Zero(t, res.Response)
	assert.Equal(t, pipeline.StatusSkipped, stageStatuses(res.Report)[pipeline.StepIngest])
}

func TestProcess_CustomSuffixAndSelection(t *testing.T) {
	freezeClock(t)
	cfg := pipeline.DefaultConfig()
	cfg.Timesteps = domain.TimestepSelection{HourlyUntil: 6, Step: 12}
	cfg.Workers = 1
	p, _ := newProcessor(newMemUploader(), nil, nil, cfg)

	req := request(t)
	req.RunSuffix = "TEST"
	res, err := p.Process(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "run_2026_02_14_073000_TEST", res.RunID)
	var steps []int
	for _, g := range res.Prediction.RasterData.GeoTIFFURLs {
		steps = append(steps, g.Timestep)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 18}, steps)
}

func TestProcess_UploadFailureFailsRun(t *testing.T) {
	freezeClock(t)
	up := newMemUploader()
	up.failOn = "vel_y_t003"
	ing := &mockIngester{}
	runs := pipeline.NewRunStore(t.TempDir())
	p, metrics := newProcessor(up, ing, runs, pipeline.DefaultConfig())

	res, err := p.Process(context.Background(), request(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rasters")
	assert.Contains(t, err.Error(), "access denied")
	assert.Empty(t, ing.got)

	assert.Equal(t, pipeline.StatusFailed, res.Report.Status)
	assert.Equal(t, pipeline.StatusFailed, stageStatuses(res.Report)[pipeline.StepRasters])
	assert.NotContains(t, stageStatuses(res.Report), pipeline.StepMetrics)

	stored, err := runs.Get(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "access denied")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PipelineRuns.WithLabelValues("failed")))
}

func TestProcess_IngestFailure(t *testing.T) {
	freezeClock(t)
	ing := &mockIngester{err: errors.New("ingestion backend error: status 422")}
	p, _ := newProcessor(newMemUploader(), ing, nil, pipeline.DefaultConfig())

	res, err := p.Process(context.Background(), request(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest: ingestion backend error")
	assert.Equal(t, pipeline.StatusFailed, stageStatuses(res.Report)[pipeline.StepIngest])
}

func TestProcess_RejectsInvalidRequest(t *testing.T) {
	p, metrics := newProcessor(newMemUploader(), nil, nil, pipeline.DefaultConfig())

	req := request(t)
	req.Bounds = domain.Bounds{West: 89, South: 22.4, East: 88.5, North: 22.7}
	_, err := p.Process(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrPrecondition)

	_, err = p.Process(context.Background(), pipeline.Request{Bounds: testBounds, ForecastStart: forecastStart})
	assert.ErrorIs(t, err, domain.ErrPrecondition)
	assert.ErrorIs(t, err, domain.ErrMissingField)

	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.PipelineRuns.WithLabelValues("failed")))
}

func TestProcess_CancelledContext(t *testing.T) {
	freezeClock(t)
	up := newMemUploader()
	p, _ := newProcessor(up, nil, nil, pipeline.DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Process(ctx, request(t))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, up.objects)
}

func TestArcGISServiceURL(t *testing.T) {
	assert.Equal(t, "https://gis/FloodForecast/ImageServer/pred_x", pipeline.ArcGISServiceURL("https://gis", "pred_x"))
	assert.Equal(t, "https://gis/FloodForecast/ImageServer/pred_x", pipeline.ArcGISServiceURL("https://gis/", "pred_x"))
}
