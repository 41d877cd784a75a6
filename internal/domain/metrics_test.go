package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 2, 14, 6, 0, 0, 0, time.UTC)

// zeros returns an all-zero volume of the given shape.
func zeros(t *testing.T, ts, h, w int) Volume {
	t.Helper()
	v, err := NewVolume(ts, h, w, make([]float64, ts*h*w))
	require.NoError(t, err)
	return v
}

func forecast(t *testing.T, depth [][][]float64) ForecastVolumes {
	t.Helper()
	d, err := VolumeFromNested(depth)
	require.NoError(t, err)
	s := d.Shape()
	f, err := NewForecastVolumes(d, zeros(t, s.Timesteps, s.Height, s.Width), zeros(t, s.Timesteps, s.Height, s.Width))
	require.NoError(t, err)
	return f
}

func TestExtractMetrics_Scenario(t *testing.T) {
	v := forecast(t, [][][]float64{
		{{0, 0}, {0, 0}},
		{{6, 0}, {0, 0}},
		{{1, 0}, {0, 0}},
	})

	m, err := ExtractMetrics(v, testStart, DefaultMetricsConfig())
	require.NoError(t, err)

	assert.Equal(t, 1, m.PeakTimestep)
	assert.Equal(t, testStart.Add(time.Hour), m.PeakTimestamp)
	assert.Equal(t, 6.0, m.PeakDepthMax)
	assert.Equal(t, 6.0, m.PeakDepthMean)
	assert.Equal(t, 1, m.FloodedPixelCount)
	assert.Equal(t, 0.0001, m.AffectedAreaKm2)
	assert.Equal(t, 600.0, m.TotalWaterVolumeM3)
	assert.Equal(t, 2, m.FloodDurationHours)
	assert.Equal(t, 1, m.FloodOnsetTime)
	assert.Equal(t, 2, m.RecessionTime)
	assert.Equal(t, 0.0, m.PeakVelocityMax)
	assert.Nil(t, m.EstimatedDischargePeak)
}

func TestExtractMetrics_AllZero(t *testing.T) {
	v := forecast(t, [][][]float64{
		{{0, 0, 0}, {0, 0, 0}},
		{{0, 0, 0}, {0, 0, 0}},
	})

	m, err := ExtractMetrics(v, testStart, DefaultMetricsConfig())
	require.NoError(t, err)

	assert.Equal(t, 0, m.PeakTimestep)
	assert.Equal(t, 0.0, m.AffectedAreaKm2)
	assert.Equal(t, 0, m.FloodDurationHours)
	assert.Equal(t, 0, m.FloodOnsetTime)
	assert.Equal(t, 0, m.RecessionTime)
	assert.Equal(t, 0.0, m.PeakDepthMean)

	r := ScoreRisk(m, DefaultScoringConfig())
	assert.Equal(t, 0.0, r.RiskScore)
	assert.Equal(t, SeverityLow, r.SeverityClass)
}

func TestExtractMetrics_UniquePeak(t *testing.T) {
	for k := 0; k < 5; k++ {
		depth := make([][][]float64, 5)
		for ts := range depth {
			depth[ts] = [][]float64{{0.5, 0.2}, {0.3, 0.1}}
		}
		depth[k] = [][]float64{{0.5, 0.2}, {4.25, 0.1}}

		m, err := ExtractMetrics(forecast(t, depth), testStart, DefaultMetricsConfig())
		require.NoError(t, err)
		assert.Equal(t, k, m.PeakTimestep, "peak at %d", k)
		assert.Equal(t, 4.25, m.PeakDepthMax, "peak at %d", k)
	}
}

func TestExtractMetrics_TiesPickEarliest(t *testing.T) {
	v := forecast(t, [][][]float64{
		{{1, 0}},
		{{3, 0}},
		{{3, 0}},
	})
	m, err := ExtractMetrics(v, testStart, DefaultMetricsConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, m.PeakTimestep)
}

func TestExtractMetrics_AreaMatchesPixelCount(t *testing.T) {
	cfg := MetricsConfig{FloodThresholdM: 0.25, GroundResolutionM: 30}
	v := forecast(t, [][][]float64{
		{{0.3, 0.1, 0.9}, {0.25, 2, 0.26}},
		{{0.0, 0.1, 0.2}, {0.1, 0.1, 0.1}},
	})
	m, err := ExtractMetrics(v, testStart, cfg)
	require.NoError(t, err)

	assert.Equal(t, 4, m.FloodedPixelCount)
	assert.Equal(t, float64(m.FloodedPixelCount)*cfg.PixelAreaKm2(), m.AffectedAreaKm2)
	assert.InDelta(t, (0.3+0.9+2+0.26)/4, m.PeakDepthMean, 1e-12)
	assert.InDelta(t, (0.3+0.9+2+0.26)*900, m.TotalWaterVolumeM3, 1e-9)
}

func TestExtractMetrics_Recession(t *testing.T) {
	tests := []struct {
		name  string
		depth [][][]float64
		want  int
	}{
		{
			name:  "drains before horizon",
			depth: [][][]float64{{{0.5}}, {{2}}, {{1}}, {{0.05}}, {{0}}},
			want:  2,
		},
		{
			name:  "still flooded at horizon",
			depth: [][][]float64{{{0}}, {{2}}, {{1}}, {{0.5}}},
			want:  3,
		},
		{
			name:  "resurges after a dry step",
			depth: [][][]float64{{{3}}, {{0}}, {{0.4}}, {{0}}},
			want:  3,
		},
		{
			name:  "never floods",
			depth: [][][]float64{{{0.05}}, {{0.1}}},
			want:  0,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, err := ExtractMetrics(forecast(t, tc.depth), testStart, DefaultMetricsConfig())
			require.NoError(t, err)
			assert.Equal(t, tc.want, m.RecessionTime)
		})
	}
}

func TestExtractMetrics_PeakVelocity(t *testing.T) {
	depth, err := VolumeFromNested([][][]float64{{{0, 0}}, {{1, 0}}})
	require.NoError(t, err)
	vx, err := VolumeFromNested([][][]float64{{{9, 9}}, {{3, 0}}})
	require.NoError(t, err)
	vy, err := VolumeFromNested([][][]float64{{{9, 9}}, {{-4, 1}}})
	require.NoError(t, err)
	v, err := NewForecastVolumes(depth, vx, vy)
	require.NoError(t, err)

	m, err := ExtractMetrics(v, testStart, DefaultMetricsConfig())
	require.NoError(t, err)
	assert.Equal(t, 5.0, m.PeakVelocityMax)
}

func TestExtractMetrics_Preconditions(t *testing.T) {
	t.Run("empty volume", func(t *testing.T) {
		_, err := ExtractMetrics(ForecastVolumes{}, testStart, DefaultMetricsConfig())
		require.ErrorIs(t, err, ErrPrecondition)
	})

	t.Run("mismatched velocity", func(t *testing.T) {
		v := ForecastVolumes{Depth: zeros(t, 2, 2, 2), VelocityX: zeros(t, 2, 2, 1), VelocityY: zeros(t, 2, 2, 2)}
		_, err := ExtractMetrics(v, testStart, DefaultMetricsConfig())
		require.ErrorIs(t, err, ErrPrecondition)
	})

	t.Run("invalid config", func(t *testing.T) {
		v := forecast(t, [][][]float64{{{1}}})
		_, err := ExtractMetrics(v, testStart, MetricsConfig{FloodThresholdM: 0.1})
		require.ErrorIs(t, err, ErrPrecondition)
		assert.Contains(t, err.Error(), "ground resolution")
	})
}

func TestSelectTimesteps(t *testing.T) {
	got := SelectTimesteps(168, 24, 6)
	require.Len(t, got, 48)
	for i := 0; i < 24; i++ {
		assert.Equal(t, i, got[i])
	}
	assert.Equal(t, []int{24, 30, 36}, got[24:27])
	assert.Equal(t, 162, got[len(got)-1])

	assert.Equal(t, []int{0, 1, 2}, SelectTimesteps(3, 24, 6))
	assert.Equal(t, []int{0, 1, 2, 4}, SelectTimesteps(6, 2, 2))
	assert.Equal(t, []int{0, 1}, SelectTimesteps(10, 2, 0))
	assert.Nil(t, SelectTimesteps(0, 24, 6))
}
