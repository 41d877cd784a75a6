// Package domain models flood forecast volumes and the records derived from
// them: grid metrics, risk assessments and the Prediction Record exchanged
// with the ingestion backend.
//
// # Forecast Volumes
//
// A model run produces three time-indexed grids over the same extent:
//
//	water_depth  meters
//	velocity_x   m/s, east-west component
//	velocity_y   m/s, north-south component
//
// Each grid is indexed (timestep, row, column). Timesteps are hourly offsets
// from the forecast start. Row 0 is the northern edge of the bounds and column
// 0 the western edge, matching the north-up layout of the GeoTIFF and NetCDF
// artifacts. All three grids of one forecast share the same shape; code that
// accepts ForecastVolumes can rely on that.
//
// # Flooding
//
// A pixel is flooded when its depth is strictly greater than the flood
// threshold (0.1 m by default). Ground resolution (10 m by default) converts
// pixel counts to areas:
//
//	pixel area m²  = resolution²
//	pixel area km² = resolution² / 1e6
//
// # Risk
//
// Risk is a weighted sum of three saturating ratios (peak depth, affected
// area, flood duration). With the default weights the score lies in [0, 1]
// and maps to LOW, MODERATE, HIGH or CRITICAL. Thresholds are closed on the
// lower bound: a score of exactly 0.6 is HIGH.
//
// # Identifiers
//
//	prediction id    pred_<region slug>_dl_<YYYYMMDD_HHMM>
//	forecast cycle   IMD_<YYYYMMDD_HH>
//
// Both are derived from the forecast start in UTC, so reprocessing the same
// forecast yields the same id and the backend upserts instead of duplicating.
package domain
