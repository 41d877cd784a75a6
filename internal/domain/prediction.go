package domain

import "time"

// SpatialReference is the only CRS the pipeline produces.
const SpatialReference = "EPSG:4326"

// Prediction is the record delivered to the ingestion endpoint. Field names
// and nesting are the wire contract; do not rename them.
type Prediction struct {
	PredictionID       string    `json:"prediction_id" validate:"required"`
	ForecastCycle      string    `json:"forecast_cycle" validate:"required"`
	ModelVersion       string    `json:"model_version" validate:"required"`
	InferenceTimestamp time.Time `json:"inference_timestamp" validate:"required"`

	Location          Location       `json:"location"`
	GridShape         GridShape      `json:"grid_shape"`
	RasterData        RasterData     `json:"raster_data"`
	AggregatedMetrics GridMetrics    `json:"aggregated_metrics"`
	RiskAssessment    RiskAssessment `json:"risk_assessment"`
	InputFeatures     InputFeatures  `json:"input_features"`
	ModelInfo         ModelInfo      `json:"model_info"`
	DataSources       DataSources    `json:"data_sources"`
}

// Location places a prediction geographically.
type Location struct {
	Basin             string  `json:"basin" validate:"required"`
	Region            string  `json:"region" validate:"required"`
	Center            LatLon  `json:"center"`
	Bounds            Bounds  `json:"bounds"`
	SpatialReference  string  `json:"spatial_reference" validate:"required"`
	GroundResolutionM float64 `json:"ground_resolution_m" validate:"gt=0"`
}

// GridShape mirrors Shape with the wire field order of the ingestion schema.
type GridShape struct {
	Height    int `json:"height" validate:"gt=0"`
	Width     int `json:"width" validate:"gt=0"`
	Timesteps int `json:"timesteps" validate:"gt=0"`
}

// RasterData lists every artifact URL produced for a prediction.
type RasterData struct {
	NetCDFURL        string            `json:"netcdf_url" validate:"required"`
	NetCDFCRFURL     string            `json:"netcdf_crf_url" validate:"required"`
	ArcGISServiceURL *string           `json:"arcgis_service_url"`
	GeoTIFFURLs      []RasterTimestep  `json:"geotiff_urls" validate:"dive"`
	PreviewURLs      []PreviewTimestep `json:"preview_urls" validate:"dive"`
}

// RasterTimestep holds the GeoTIFF URLs for one forecast hour.
type RasterTimestep struct {
	Timestep        int       `json:"timestep" validate:"gte=0"`
	TimeOffsetHours int       `json:"time_offset_hours" validate:"gte=0"`
	Timestamp       time.Time `json:"timestamp"`
	DepthURL        string    `json:"depth_url" validate:"required"`
	VelocityXURL    *string   `json:"velocity_x_url"`
	VelocityYURL    *string   `json:"velocity_y_url"`
}

// PreviewTimestep holds the PNG preview URLs for one forecast hour.
type PreviewTimestep struct {
	Timestep     int       `json:"timestep" validate:"gte=0"`
	Timestamp    time.Time `json:"timestamp"`
	PNGURL       string    `json:"png_url" validate:"required"`
	ThumbnailURL string    `json:"thumbnail_url" validate:"required"`
}

// InputFeatures are the driving conditions the model was run with.
type InputFeatures struct {
	Rainfall24hMaxMM        float64  `json:"rainfall_24h_max_mm"`
	Rainfall7DayForecastMM  float64  `json:"rainfall_7day_forecast_mm"`
	UpstreamDischargeM3s    float64  `json:"upstream_discharge_m3s"`
	SoilSaturationMean      float64  `json:"soil_saturation_mean"`
	AntecedentMoistureIndex *float64 `json:"antecedent_moisture_index"`
	TideLevelM              *float64 `json:"tide_level_m"`
}

// ModelInfo describes the model run that produced the volume.
type ModelInfo struct {
	Architecture         string   `json:"architecture" validate:"required"`
	ModelVersion         string   `json:"model_version" validate:"required"`
	TrainingDate         string   `json:"training_date" validate:"required"`
	TrainingRMSEM        *float64 `json:"training_rmse_m"`
	InferenceTimeSeconds float64  `json:"inference_time_seconds" validate:"gte=0"`
	GPUDevice            *string  `json:"gpu_device"`
	EnsembleSize         *int     `json:"ensemble_size" validate:"omitempty,gt=0"`
}

// DataSources records input provenance.
type DataSources struct {
	LisfloodRunID         string     `json:"lisflood_run_id" validate:"required"`
	WeatherForecastSource string     `json:"weather_forecast_source" validate:"required"`
	GaugeDataTimestamp    *time.Time `json:"gauge_data_timestamp"`
	DEMVersion            *string    `json:"dem_version"`
}

// IngestResponse is the backend's acknowledgment of an ingested prediction.
type IngestResponse struct {
	Status       string `json:"status"`
	PredictionID string `json:"prediction_id"`
	StoredID     int64  `json:"stored_id"`
	Message      string `json:"message"`
}
