// Package http serves the prediction ingestion API together with the health,
// readiness and metrics endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/flood-forecast-etl/internal/domain"
	"github.com/couchcryptid/flood-forecast-etl/internal/observability"
	"github.com/couchcryptid/flood-forecast-etl/internal/service"
	"github.com/couchcryptid/flood-forecast-etl/internal/store"
)

// DefaultMaxIngestBody caps the size of an ingestion request.
const DefaultMaxIngestBody = 16 << 20

// PredictionService is the backend behaviour the routes expose.
type PredictionService interface {
	Ingest(ctx context.Context, p domain.Prediction) (domain.IngestResponse, error)
	Get(ctx context.Context, id string) (domain.Prediction, error)
	Latest(ctx context.Context, basin string) (domain.Prediction, error)
	Timeseries(ctx context.Context, id, variables string) (service.Timeseries, error)
	Summary(ctx context.Context) (service.Summary, error)
	CheckReadiness(ctx context.Context) error
}

// Server exposes the prediction API plus /healthz, /readyz and /metrics.
type Server struct {
	httpServer *http.Server
	svc        PredictionService
	logger     *slog.Logger
	metrics    *observability.Metrics
	maxBody    int64
}

// Option configures optional routes and limits.
type Option func(*Server, *http.ServeMux)

// WithArtifacts serves files below dir under /artifacts/.
func WithArtifacts(dir string) Option {
	return func(_ *Server, mux *http.ServeMux) {
		mux.Handle("GET /artifacts/", http.StripPrefix("/artifacts/", http.FileServer(http.Dir(dir))))
	}
}

// WithMaxIngestBody overrides DefaultMaxIngestBody.
func WithMaxIngestBody(n int64) Option {
	return func(s *Server, _ *http.ServeMux) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// NewServer creates the HTTP server and registers its routes.
func NewServer(addr string, svc PredictionService, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		svc:     svc,
		logger:  logger,
		metrics: metrics,
		maxBody: DefaultMaxIngestBody,
	}

	mux.HandleFunc("POST /api/predictions/ingest", s.handleIngest)
	mux.HandleFunc("GET /api/predictions/dl/summary", s.handleSummary)
	mux.HandleFunc("GET /api/predictions/dl/latest/{basin}", s.handleLatest)
	mux.HandleFunc("GET /api/predictions/dl/timeseries/{id}", s.handleTimeseries)
	mux.HandleFunc("GET /api/predictions/dl/geojson/{id}", s.handleGeoJSON)
	mux.HandleFunc("GET /api/predictions/dl/{id}", s.handleGet)

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(svc))
	mux.Handle("GET /metrics", promhttp.Handler())

	for _, opt := range opts {
		opt(s, mux)
	}
	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var p domain.Prediction
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err := dec.Decode(&p); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.metrics.IngestRejected.WithLabelValues("too_large").Inc()
			writeDetail(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.metrics.IngestRejected.WithLabelValues("decode").Inc()
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return
	}

	resp, err := s.svc.Ingest(r.Context(), p)
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			sharedobs.WriteJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": verr.Fields})
			return
		}
		s.logger.Error("ingest failed", "prediction_id", p.PredictionID, "error", err)
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	basin := r.PathValue("basin")
	p, err := s.svc.Latest(r.Context(), basin)
	if err != nil {
		s.writeLookupError(w, err, "No predictions found for basin: "+basin)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := s.svc.Get(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, err, "Prediction not found: "+id)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) handleGeoJSON(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := s.svc.Get(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, err, "Prediction not found: "+id)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(p.GeoJSON()) //nolint:errcheck // client went away
}

func (s *Server) handleTimeseries(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ts, err := s.svc.Timeseries(r.Context(), id, r.URL.Query().Get("variables"))
	if err != nil {
		s.writeLookupError(w, err, "Prediction not found: "+id)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, ts)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.svc.Summary(r.Context())
	if err != nil {
		s.logger.Error("summary failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, sum)
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, store.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, notFound)
		return
	}
	s.logger.Error("lookup failed", "error", err)
	writeDetail(w, http.StatusInternalServerError, err.Error())
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	sharedobs.WriteJSON(w, status, map[string]string{"detail": detail})
}
