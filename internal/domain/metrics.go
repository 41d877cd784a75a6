package domain

import (
	"fmt"
	"math"
	"time"
)

// MetricsConfig holds the constants used to derive grid metrics.
type MetricsConfig struct {
	// FloodThresholdM is the depth a pixel must exceed to count as flooded.
	FloodThresholdM float64 `yaml:"flood_threshold_m"`
	// GroundResolutionM is the edge length of one grid cell.
	GroundResolutionM float64 `yaml:"ground_resolution_m"`
}

// DefaultMetricsConfig returns a 0.1 m threshold at 10 m resolution.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{FloodThresholdM: 0.1, GroundResolutionM: 10}
}

// Validate rejects a negative threshold or non-positive resolution.
func (c MetricsConfig) Validate() error {
	if c.FloodThresholdM < 0 || math.IsNaN(c.FloodThresholdM) {
		return fmt.Errorf("%w: flood threshold %v must be >= 0", ErrPrecondition, c.FloodThresholdM)
	}
	if !(c.GroundResolutionM > 0) {
		return fmt.Errorf("%w: ground resolution %v must be > 0", ErrPrecondition, c.GroundResolutionM)
	}
	return nil
}

// PixelAreaM2 is the ground area of one cell in square meters.
func (c MetricsConfig) PixelAreaM2() float64 {
	return c.GroundResolutionM * c.GroundResolutionM
}

// PixelAreaKm2 is the ground area of one cell in square kilometers.
func (c MetricsConfig) PixelAreaKm2() float64 {
	return c.PixelAreaM2() / 1e6
}

// GridMetrics summarizes a forecast volume. Timestep fields are indices into
// the forecast, which is hourly, so they double as hour offsets.
type GridMetrics struct {
	PeakTimestep    int       `json:"peak_timestep" validate:"gte=0"`
	PeakTimestamp   time.Time `json:"peak_timestamp" validate:"required"`
	PeakDepthMax    float64   `json:"peak_depth_max"`
	PeakDepthMean   float64   `json:"peak_depth_mean"`
	PeakVelocityMax float64   `json:"peak_velocity_max"`

	AffectedAreaKm2    float64 `json:"affected_area_km2" validate:"gte=0"`
	FloodedPixelCount  int     `json:"flooded_pixel_count" validate:"gte=0"`
	TotalWaterVolumeM3 float64 `json:"total_water_volume_m3" validate:"gte=0"`

	FloodOnsetTime     int `json:"flood_onset_time" validate:"gte=0"`
	FloodDurationHours int `json:"flood_duration_hours" validate:"gte=0"`
	RecessionTime      int `json:"recession_time" validate:"gte=0"`

	// Discharge comes from the hydrological model, not the grid.
	EstimatedDischargePeak *float64 `json:"estimated_discharge_peak"`
	EstimatedDischargeMean *float64 `json:"estimated_discharge_mean"`
}

// ExtractMetrics derives the metrics record for a forecast starting at start.
// It is pure; the only failures are an invalid config or an empty volume.
func ExtractMetrics(v ForecastVolumes, start time.Time, cfg MetricsConfig) (GridMetrics, error) {
	if err := cfg.Validate(); err != nil {
		return GridMetrics{}, err
	}
	shape := v.Shape()
	if shape.Timesteps <= 0 || shape.Height <= 0 || shape.Width <= 0 {
		return GridMetrics{}, fmt.Errorf("%w: cannot extract metrics from empty volume %s", ErrPrecondition, shape)
	}
	if v.VelocityX.shape != shape || v.VelocityY.shape != shape {
		return GridMetrics{}, fmt.Errorf("%w: velocity shapes %s and %s do not match depth shape %s",
			ErrPrecondition, v.VelocityX.shape, v.VelocityY.shape, shape)
	}

	threshold := cfg.FloodThresholdM

	peak := 0
	peakMax := math.Inf(-1)
	onset, duration, lastFlooded := 0, 0, -1
	for t := 0; t < shape.Timesteps; t++ {
		frameMax, flooded := frameStats(v.Depth.Frame(t), threshold)
		// Strict comparison keeps the earliest timestep on ties.
		if frameMax > peakMax {
			peakMax = frameMax
			peak = t
		}
		if flooded {
			if duration == 0 {
				onset = t
			}
			duration++
			lastFlooded = t
		}
	}

	peakFrame := v.Depth.Frame(peak)
	var floodedPixels int
	var floodedSum float64
	for _, d := range peakFrame {
		if d > threshold {
			floodedPixels++
			floodedSum += d
		}
	}

	var mean float64
	if floodedPixels > 0 {
		mean = floodedSum / float64(floodedPixels)
	}

	return GridMetrics{
		PeakTimestep:       peak,
		PeakTimestamp:      start.UTC().Add(time.Duration(peak) * time.Hour),
		PeakDepthMax:       peakMax,
		PeakDepthMean:      mean,
		PeakVelocityMax:    peakVelocity(v.VelocityX.Frame(peak), v.VelocityY.Frame(peak)),
		AffectedAreaKm2:    float64(floodedPixels) * cfg.PixelAreaKm2(),
		FloodedPixelCount:  floodedPixels,
		TotalWaterVolumeM3: floodedSum * cfg.PixelAreaM2(),
		FloodOnsetTime:     onset,
		FloodDurationHours: duration,
		RecessionTime:      recession(peak, lastFlooded),
	}, nil
}

// frameStats returns the frame maximum and whether any pixel exceeds threshold.
func frameStats(frame []float64, threshold float64) (float64, bool) {
	maxDepth := math.Inf(-1)
	flooded := false
	for _, d := range frame {
		if d > maxDepth {
			maxDepth = d
		}
		if d > threshold {
			flooded = true
		}
	}
	return maxDepth, flooded
}

func peakVelocity(vx, vy []float64) float64 {
	var maxMag float64
	for i := range vx {
		if m := math.Sqrt(vx[i]*vx[i] + vy[i]*vy[i]); m > maxMag {
			maxMag = m
		}
	}
	return maxMag
}

// recession counts the timesteps from the peak until depth drops below the
// threshold for the rest of the horizon. A forecast that ends still flooded
// is bounded by the horizon.
func recession(peak, lastFlooded int) int {
	if lastFlooded < peak {
		return 0
	}
	return lastFlooded + 1 - peak
}
