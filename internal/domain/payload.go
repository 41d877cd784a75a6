package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMissingField is returned by BuildPrediction when required input is absent.
var ErrMissingField = errors.New("missing required field")

// slugReplacer keeps a region name usable as a single storage key segment.
var slugReplacer = strings.NewReplacer(" ", "_", "/", "_", "\\", "_")

// PredictionID derives the identifier for a region's forecast cycle, e.g.
// "pred_west_bengal_dl_20260214_0600".
func PredictionID(region string, start time.Time) string {
	slug := slugReplacer.Replace(strings.ToLower(strings.TrimSpace(region)))
	return fmt.Sprintf("pred_%s_dl_%s", slug, start.UTC().Format("20060102_1504"))
}

// ForecastCycle names the weather cycle a forecast start belongs to.
func ForecastCycle(start time.Time) string {
	return "IMD_" + start.UTC().Format("20060102_15")
}

// LocationInput is the caller-supplied part of Location.
type LocationInput struct {
	Basin  string  `json:"basin" yaml:"basin"`
	Region string  `json:"region" yaml:"region"`
	Center *LatLon `json:"center,omitempty" yaml:"center,omitempty"`
}

// ModelMetadata describes the model run. Everything without a pointer type is
// required; there are no built-in defaults.
type ModelMetadata struct {
	Architecture         string   `json:"architecture" yaml:"architecture"`
	Version              string   `json:"version" yaml:"version"`
	TrainingDate         string   `json:"training_date" yaml:"training_date"`
	TrainingRMSEM        *float64 `json:"rmse,omitempty" yaml:"rmse,omitempty"`
	InferenceTimeSeconds float64  `json:"inference_time" yaml:"inference_time"`
	GPUDevice            *string  `json:"gpu,omitempty" yaml:"gpu,omitempty"`
	EnsembleSize         *int     `json:"ensemble_size,omitempty" yaml:"ensemble_size,omitempty"`

	LisfloodRunID string `json:"lisflood_run" yaml:"lisflood_run"`
	// WeatherForecastSource defaults to the IMD GFS cycle of the forecast start.
	WeatherForecastSource string     `json:"weather_forecast_source,omitempty" yaml:"weather_forecast_source,omitempty"`
	GaugeDataTimestamp    *time.Time `json:"gauge_data_timestamp,omitempty" yaml:"gauge_data_timestamp,omitempty"`
	DEMVersion            *string    `json:"dem_version,omitempty" yaml:"dem_version,omitempty"`
}

// RasterArtifacts are the URLs returned by the storage uploader.
type RasterArtifacts struct {
	NetCDFURL        string
	CRFURL           string
	ArcGISServiceURL string
	GeoTIFFs         []RasterTimestep
	Previews         []PreviewTimestep
}

// PredictionInput is everything BuildPrediction assembles.
type PredictionInput struct {
	PredictionID      string
	ForecastStart     time.Time
	Location          LocationInput
	Bounds            Bounds
	GroundResolutionM float64
	Shape             Shape
	Artifacts         RasterArtifacts
	Metrics           GridMetrics
	Risk              RiskAssessment
	InputFeatures     InputFeatures
	Model             ModelMetadata
}

// BuildPrediction assembles the ingestion record. It has no side effects and
// reports every missing field at once.
func BuildPrediction(in PredictionInput) (Prediction, error) {
	if err := in.validate(); err != nil {
		return Prediction{}, err
	}

	start := in.ForecastStart.UTC()
	center := in.Bounds.Center()
	if in.Location.Center != nil {
		center = *in.Location.Center
	}

	var arcgis *string
	if in.Artifacts.ArcGISServiceURL != "" {
		u := in.Artifacts.ArcGISServiceURL
		arcgis = &u
	}

	weather := in.Model.WeatherForecastSource
	if weather == "" {
		weather = "IMD_GFS_" + start.Format("20060102_15")
	}

	return Prediction{
		PredictionID:       in.PredictionID,
		ForecastCycle:      ForecastCycle(start),
		ModelVersion:       in.Model.Version,
		InferenceTimestamp: start,
		Location: Location{
			Basin:             in.Location.Basin,
			Region:            in.Location.Region,
			Center:            center,
			Bounds:            in.Bounds,
			SpatialReference:  SpatialReference,
			GroundResolutionM: in.GroundResolutionM,
		},
		GridShape: GridShape{
			Height:    in.Shape.Height,
			Width:     in.Shape.Width,
			Timesteps: in.Shape.Timesteps,
		},
		RasterData: RasterData{
			NetCDFURL:        in.Artifacts.NetCDFURL,
			NetCDFCRFURL:     in.Artifacts.CRFURL,
			ArcGISServiceURL: arcgis,
			GeoTIFFURLs:      append([]RasterTimestep{}, in.Artifacts.GeoTIFFs...),
			PreviewURLs:      append([]PreviewTimestep{}, in.Artifacts.Previews...),
		},
		AggregatedMetrics: in.Metrics,
		RiskAssessment:    in.Risk,
		InputFeatures:     in.InputFeatures,
		ModelInfo: ModelInfo{
			Architecture:         in.Model.Architecture,
			ModelVersion:         in.Model.Version,
			TrainingDate:         in.Model.TrainingDate,
			TrainingRMSEM:        in.Model.TrainingRMSEM,
			InferenceTimeSeconds: in.Model.InferenceTimeSeconds,
			GPUDevice:            in.Model.GPUDevice,
			EnsembleSize:         in.Model.EnsembleSize,
		},
		DataSources: DataSources{
			LisfloodRunID:         in.Model.LisfloodRunID,
			WeatherForecastSource: weather,
			GaugeDataTimestamp:    in.Model.GaugeDataTimestamp,
			DEMVersion:            in.Model.DEMVersion,
		},
	}, nil
}

func (in PredictionInput) validate() error {
	var missing []string
	require := func(ok bool, field string) {
		if !ok {
			missing = append(missing, field)
		}
	}
	require(in.PredictionID != "", "prediction_id")
	require(!in.ForecastStart.IsZero(), "forecast_start")
	require(in.Location.Basin != "", "location.basin")
	require(in.Location.Region != "", "location.region")
	require(in.GroundResolutionM > 0, "location.ground_resolution_m")
	require(in.Shape.Timesteps > 0 && in.Shape.Height > 0 && in.Shape.Width > 0, "grid_shape")
	require(in.Artifacts.NetCDFURL != "", "raster_data.netcdf_url")
	require(in.Artifacts.CRFURL != "", "raster_data.netcdf_crf_url")
	require(in.Risk.SeverityClass.Valid(), "risk_assessment.severity_class")
	require(in.Model.Architecture != "", "model_info.architecture")
	require(in.Model.Version != "", "model_info.model_version")
	require(in.Model.TrainingDate != "", "model_info.training_date")
	require(in.Model.LisfloodRunID != "", "data_sources.lisflood_run_id")

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", ")))
	}
	if err := in.Bounds.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("location.bounds: %w", err))
	}
	return errors.Join(errs...)
}
