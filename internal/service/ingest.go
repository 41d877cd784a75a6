// Package service implements the ingestion backend's use cases on top of the
// store, event and alert adapters.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/couchcryptid/flood-forecast-etl/internal/adapter/kafka"
	"github.com/couchcryptid/flood-forecast-etl/internal/alert"
	"github.com/couchcryptid/flood-forecast-etl/internal/domain"
	"github.com/couchcryptid/flood-forecast-etl/internal/observability"
	"github.com/couchcryptid/flood-forecast-etl/internal/store"
)

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	Fields []FieldError
}

// FieldError is one failed field constraint.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "invalid prediction: " + strings.Join(parts, "; ")
}

// EventPublisher announces stored predictions.
type EventPublisher interface {
	Publish(ctx context.Context, event kafka.PredictionEvent) error
}

// Service handles ingestion and queries of prediction records.
type Service struct {
	repo     store.Repository
	events   EventPublisher
	alerts   alert.Enqueuer
	validate *validator.Validate
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// Option configures optional collaborators.
type Option func(*Service)

// WithEvents publishes a PredictionEvent after each successful save.
func WithEvents(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// WithAlerts enqueues an alert for predictions of HIGH severity or above.
func WithAlerts(q alert.Enqueuer) Option {
	return func(s *Service) { s.alerts = q }
}

// New creates a Service over repo.
func New(repo store.Repository, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		validate: newValidator(),
		logger:   logger,
		metrics:  metrics,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newValidator reports field paths using json names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks p against the ingestion schema.
func (s *Service) Validate(p domain.Prediction) error {
	var fields []FieldError
	if err := s.validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate prediction: %w", err)
		}
		for _, fe := range verrs {
			fields = append(fields, FieldError{Field: trimRoot(fe.Namespace()), Message: describe(fe)})
		}
	}
	if err := p.Location.Bounds.Validate(); err != nil {
		fields = append(fields, FieldError{Field: "location.bounds", Message: err.Error()})
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func trimRoot(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field required"
	case "oneof":
		return "must be one of " + fe.Param()
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	case "gt":
		return "must be > " + fe.Param()
	}
	return fmt.Sprintf("failed %q constraint", fe.Tag())
}

// Ingest validates and stores p, then publishes its event and queues an
// alert when warranted. Only validation and store failures are returned;
// event and alert failures are logged.
func (s *Service) Ingest(ctx context.Context, p domain.Prediction) (domain.IngestResponse, error) {
	if err := s.Validate(p); err != nil {
		s.metrics.IngestRejected.WithLabelValues("validation").Inc()
		return domain.IngestResponse{}, err
	}

	storedID, err := s.repo.Save(ctx, p)
	if err != nil {
		s.metrics.IngestRejected.WithLabelValues("store").Inc()
		return domain.IngestResponse{}, fmt.Errorf("store prediction %s: %w", p.PredictionID, err)
	}
	severity := p.RiskAssessment.SeverityClass
	s.metrics.PredictionsIngested.WithLabelValues(string(severity)).Inc()
	s.logger.Info("prediction ingested",
		"prediction_id", p.PredictionID,
		"stored_id", storedID,
		"region", p.Location.Region,
		"severity", severity,
		"risk_score", p.RiskAssessment.RiskScore,
		"peak_depth_m", p.AggregatedMetrics.PeakDepthMax,
		"timesteps", p.GridShape.Timesteps,
	)

	s.publish(ctx, p, storedID)
	if severity.Alerting() {
		s.enqueueAlert(ctx, p)
	}

	return domain.IngestResponse{
		Status:       "success",
		PredictionID: p.PredictionID,
		StoredID:     storedID,
		Message:      "Prediction ingested for " + p.Location.Region,
	}, nil
}

func (s *Service) publish(ctx context.Context, p domain.Prediction, storedID int64) {
	if s.events == nil {
		return
	}
	event := kafka.NewPredictionEvent(p, storedID, domain.Now())
	if err := s.events.Publish(ctx, event); err != nil {
		s.metrics.EventPublishErrors.Inc()
		s.logger.Warn("publish prediction event failed", "prediction_id", p.PredictionID, "error", err)
		return
	}
	s.metrics.EventsPublished.Inc()
}

func (s *Service) enqueueAlert(ctx context.Context, p domain.Prediction) {
	if s.alerts == nil {
		return
	}
	task := alert.NewTask(p)
	if err := s.alerts.Enqueue(ctx, task); err != nil {
		s.metrics.AlertEnqueueErrors.Inc()
		s.logger.Error("enqueue alert failed", "prediction_id", p.PredictionID, "error", err)
		return
	}
	s.metrics.AlertsEnqueued.Inc()
	s.logger.Info("alert queued", "task_id", task.ID, "prediction_id", p.PredictionID, "severity", task.Severity)
}

// Get returns the prediction with id.
func (s *Service) Get(ctx context.Context, id string) (domain.Prediction, error) {
	return s.repo.Get(ctx, id)
}

// Latest returns the newest prediction for basin.
func (s *Service) Latest(ctx context.Context, basin string) (domain.Prediction, error) {
	return s.repo.LatestByBasin(ctx, basin)
}

// Timeseries lists the per-timestep raster URLs of a prediction.
type Timeseries struct {
	PredictionID       string                   `json:"prediction_id"`
	NetCDFCRFURL       string                   `json:"netcdf_crf_url"`
	ArcGISServiceURL   *string                  `json:"arcgis_service_url"`
	Timesteps          []domain.RasterTimestep  `json:"timesteps"`
	Previews           []domain.PreviewTimestep `json:"previews"`
	RequestedVariables []string                 `json:"requested_variables"`
	GridShape          domain.GridShape         `json:"grid_shape"`
	Bounds             domain.Bounds            `json:"bounds"`
}

// Timeseries returns the raster URLs of prediction id. variables is the raw
// comma-separated selection and is echoed back trimmed.
func (s *Service) Timeseries(ctx context.Context, id, variables string) (Timeseries, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Timeseries{}, err
	}
	if variables == "" {
		variables = "depth,velocity"
	}
	var requested []string
	for _, v := range strings.Split(variables, ",") {
		if v = strings.TrimSpace(v); v != "" {
			requested = append(requested, v)
		}
	}
	return Timeseries{
		PredictionID:       p.PredictionID,
		NetCDFCRFURL:       p.RasterData.NetCDFCRFURL,
		ArcGISServiceURL:   p.RasterData.ArcGISServiceURL,
		Timesteps:          p.RasterData.GeoTIFFURLs,
		Previews:           p.RasterData.PreviewURLs,
		RequestedVariables: requested,
		GridShape:          p.GridShape,
		Bounds:             p.Location.Bounds,
	}, nil
}

// SummaryItem is the dashboard view of one prediction.
type SummaryItem struct {
	PredictionID       string          `json:"prediction_id"`
	Region             string          `json:"region"`
	Basin              string          `json:"basin"`
	Severity           domain.Severity `json:"severity"`
	RiskScore          float64         `json:"risk_score"`
	PeakDepth          float64         `json:"peak_depth"`
	AffectedAreaKm2    float64         `json:"affected_area_km2"`
	InferenceTimestamp time.Time       `json:"inference_timestamp"`
	ForecastCycle      string          `json:"forecast_cycle"`
}

// Summary is the response of the summary listing.
type Summary struct {
	TotalPredictions int           `json:"total_predictions"`
	Predictions      []SummaryItem `json:"predictions"`
}

// Summary lists every stored prediction by risk score, highest first. Equal
// scores keep stored order.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list predictions: %w", err)
	}
	items := make([]SummaryItem, len(all))
	for i, p := range all {
		items[i] = SummaryItem{
			PredictionID:       p.PredictionID,
			Region:             p.Location.Region,
			Basin:              p.Location.Basin,
			Severity:           p.RiskAssessment.SeverityClass,
			RiskScore:          p.RiskAssessment.RiskScore,
			PeakDepth:          p.AggregatedMetrics.PeakDepthMax,
			AffectedAreaKm2:    p.AggregatedMetrics.AffectedAreaKm2,
			InferenceTimestamp: p.InferenceTimestamp,
			ForecastCycle:      p.ForecastCycle,
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].RiskScore > items[j].RiskScore })
	return Summary{TotalPredictions: len(items), Predictions: items}, nil
}

// CheckReadiness reports whether the repository is reachable.
func (s *Service) CheckReadiness(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository unavailable: %w", err)
	}
	return nil
}
