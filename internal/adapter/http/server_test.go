package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/flood-forecast-etl/internal/adapter/http"
	"github.com/couchcryptid/flood-forecast-etl/internal/domain"
	"github.com/couchcryptid/flood-forecast-etl/internal/observability"
	"github.com/couchcryptid/flood-forecast-etl/internal/service"
	"github.com/couchcryptid/flood-forecast-etl/internal/store"
)

type pingRepo struct {
	*store.MemoryStore
	err error
}

func (r pingRepo) Ping(context.Context) error { return r.err }

func newTestServer(t *testing.T, readyErr error, opts ...httpadapter.Option) *httpadapter.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()
	svc := service.New(pingRepo{MemoryStore: store.NewMemoryStore(), err: readyErr}, logger, metrics)
	return httpadapter.NewServer(":0", svc, logger, metrics, opts...)
}

var start = time.Date(2026, 2, 14, 6, 0, 0, 0, time.UTC)

func prediction(id, basin string, score float64, inference time.Time) domain.Prediction {
	return domain.Prediction{
		PredictionID:       id,
		ForecastCycle:      "IMD_20260214_06",
		ModelVersion:       "v2.1.0",
		InferenceTimestamp: inference,
		Location: domain.Location{
			Basin:             basin,
			Region:            "Kolkata",
			Center:            domain.LatLon{Lat: 22.55, Lon: 88.35},
			Bounds:            domain.Bounds{West: 88.2, South: 22.4, East: 88.5, North: 22.7},
			SpatialReference:  domain.SpatialReference,
			GroundResolutionM: 10,
		},
		GridShape: domain.GridShape{Height: 32, Width: 32, Timesteps: 24},
		RasterData: domain.RasterData{
			NetCDFURL:    "https://example.test/" + id + ".nc",
			NetCDFCRFURL: "https://example.test/" + id + ".crf",
			GeoTIFFURLs:  []domain.RasterTimestep{{Timestep: 0, Timestamp: start, DepthURL: "https://example.test/d0.tif"}},
		},
		AggregatedMetrics: domain.GridMetrics{PeakTimestamp: start, PeakDepthMax: 1.2, AffectedAreaKm2: 0.8},
		RiskAssessment:    domain.RiskAssessment{RiskScore: score, SeverityClass: domain.SeverityModerate, Confidence: 0.85},
		ModelInfo:         domain.ModelInfo{Architecture: "UNet-ConvLSTM", ModelVersion: "v2.1.0", TrainingDate: "2025-11-01"},
		DataSources:       domain.DataSources{LisfloodRunID: "run_1", WeatherForecastSource: "IMD_GFS_0.25deg"},
	}
}

func do(t *testing.T, srv http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(method, target, r))
	return rec
}

func ingest(t *testing.T, srv http.Handler, p domain.Prediction) domain.IngestResponse {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/predictions/ingest", p)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp domain.IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestIngestReturns200(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := ingest(t, srv, prediction("pred_a", "Hooghly", 0.4, start))

	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "pred_a", resp.PredictionID)
	assert.Equal(t, int64(1), resp.StoredID)
	assert.Equal(t, "Prediction ingested for Kolkata", resp.Message)
}

func TestIngestReturns400OnBadJSON(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := do(t, srv, http.MethodPost, "/api/predictions/ingest", "{not json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid JSON body")
}

func TestIngestReturns413WhenBodyTooLarge(t *testing.T) {
	srv := newTestServer(t, nil, httpadapter.WithMaxIngestBody(64))
	body := `{"prediction_id":"` + strings.Repeat("x", 128) + `"}`
	rec := do(t, srv, http.MethodPost, "/api/predictions/ingest", body)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "exceeds 64 bytes")
}

func TestIngestUnderLimitIsNotRejectedAsTooLarge(t *testing.T) {
	srv := newTestServer(t, nil, httpadapter.WithMaxIngestBody(64))
	rec := do(t, srv, http.MethodPost, "/api/predictions/ingest", "{not json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestReturns422OnInvalidPrediction(t *testing.T) {
	srv := newTestServer(t, nil)
	p := prediction("pred_a", "Hooghly", 1.5, start)
	p.RiskAssessment.SeverityClass = "EXTREME"

	rec := do(t, srv, http.MethodPost, "/api/predictions/ingest", p)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body struct {
		Detail []service.FieldError `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	var fields []string
	for _, f := range body.Detail {
		fields = append(fields, f.Field)
	}
	assert.ElementsMatch(t, []string{"risk_assessment.risk_score", "risk_assessment.severity_class"}, fields)
}

func TestGetPrediction(t *testing.T) {
	srv := newTestServer(t, nil)
	ingest(t, srv, prediction("pred_a", "Hooghly", 0.4, start))

	rec := do(t, srv, http.MethodGet, "/api/predictions/dl/pred_a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Prediction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "pred_a", got.PredictionID)
	assert.Equal(t, 1.2, got.AggregatedMetrics.PeakDepthMax)

	rec = do(t, srv, http.MethodGet, "/api/predictions/dl/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Prediction not found: missing")
}

func TestLatestByBasinIsCaseInsensitive(t *testing.T) {
	srv := newTestServer(t, nil)
	ingest(t, srv, prediction("pred_old", "Hooghly", 0.4, start))
	ingest(t, srv, prediction("pred_new", "Hooghly", 0.2, start.Add(6*time.Hour)))

	rec := do(t, srv, http.MethodGet, "/api/predictions/dl/latest/hooghly", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Prediction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "pred_new", got.PredictionID)

	rec = do(t, srv, http.MethodGet, "/api/predictions/dl/latest/Damodar", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "No predictions found for basin: Damodar")
}

func TestGeoJSON(t *testing.T) {
	srv := newTestServer(t, nil)
	ingest(t, srv, prediction("pred_a", "Hooghly", 0.4, start))

	rec := do(t, srv, http.MethodGet, "/api/predictions/dl/geojson/pred_a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))

	var fc domain.FeatureCollection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.NotEmpty(t, fc.Features)
	assert.Equal(t, "Point", fc.Features[0].Geometry.Type)

	rec = do(t, srv, http.MethodGet, "/api/predictions/dl/geojson/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTimeseries(t *testing.T) {
	srv := newTestServer(t, nil)
	ingest(t, srv, prediction("pred_a", "Hooghly", 0.4, start))

	rec := do(t, srv, http.MethodGet, "/api/predictions/dl/timeseries/pred_a?variables=depth,velocity_x", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ts service.Timeseries
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ts))
	assert.Equal(t, []string{"depth", "velocity_x"}, ts.RequestedVariables)
	assert.Equal(t, "https://example.test/pred_a.crf", ts.NetCDFCRFURL)
	assert.Len(t, ts.Timesteps, 1)

	rec = do(t, srv, http.MethodGet, "/api/predictions/dl/timeseries/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSummarySortedByRisk(t *testing.T) {
	srv := newTestServer(t, nil)
	for i, score := range []float64{0.3, 0.9, 0.6} {
		ingest(t, srv, prediction(fmt.Sprintf("pred_%d", i), "Hooghly", score, start))
	}

	rec := do(t, srv, http.MethodGet, "/api/predictions/dl/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sum service.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 3, sum.TotalPredictions)
	require.Len(t, sum.Predictions, 3)
	assert.Equal(t, []float64{0.9, 0.6, 0.3}, []float64{
		sum.Predictions[0].RiskScore, sum.Predictions[1].RiskScore, sum.Predictions[2].RiskScore,
	})
}

func TestArtifactsServedWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "previews"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "previews", "t000.png"), []byte("png"), 0o644))

	srv := newTestServer(t, nil, httpadapter.WithArtifacts(dir))
	rec := do(t, srv, http.MethodGet, "/artifacts/previews/t000.png", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png", rec.Body.String())

	plain := newTestServer(t, nil)
	rec = do(t, plain, http.MethodGet, "/artifacts/previews/t000.png", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthzReturns200(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := do(t, srv, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := do(t, srv, http.MethodGet, "/readyz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	srv := newTestServer(t, fmt.Errorf("connection refused"))
	rec := do(t, srv, http.MethodGet, "/readyz", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Contains(t, body["error"], "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := do(t, srv, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
