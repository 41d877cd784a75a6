package forecast_test

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-forecast-etl/internal/domain"
	"github.com/couchcryptid/flood-forecast-etl/internal/forecast"
)

func smallParams() forecast.SynthParams {
	p := forecast.DefaultSynthParams()
	p.Timesteps = 12
	p.Height = 5
	p.Width = 5
	p.PeakHour = 4
	p.DrainHour = 10
	p.PeakDepthM = 2
	p.Start = time.Date(2026, 2, 14, 6, 0, 0, 0, time.UTC)
	return p
}

func TestSynthesize_Shape(t *testing.T) {
	f := forecast.Synthesize(smallParams())

	require.Len(t, f.Depth, 12)
	require.Len(t, f.Depth[0], 5)
	require.Len(t, f.Depth[0][0], 5)
	assert.Len(t, f.VelocityX, 12)
	assert.Len(t, f.VelocityY, 12)
	assert.Equal(t, "Ganges-Hooghly", f.Location.Basin)
	assert.NoError(t, f.Bounds.Validate())
}

func TestSynthesize_FloodRisesAndDrains(t *testing.T) {
	f := forecast.Synthesize(smallParams())

	assert.Zero(t, f.Depth[0][2][2], "dry at forecast start")
	assert.InDelta(t, 2.0, f.Depth[4][2][2], 1e-9, "peak at the center")
	assert.Less(t, f.Depth[4][0][0], f.Depth[4][2][2])
	assert.Less(t, f.Depth[7][2][2], f.Depth[4][2][2], "receding after the peak")
	for _, row := range f.Depth[10] {
		for _, d := range row {
			assert.Zero(t, d)
		}
	}
}

func TestSynthesize_Deterministic(t *testing.T) {
	p := smallParams()
	assert.Equal(t, forecast.Synthesize(p), forecast.Synthesize(p))

	other := p
	other.Seed = 99
	assert.NotEqual(t, forecast.Synthesize(p).VelocityX, forecast.Synthesize(other).VelocityX)
}

func TestFile_RoundTripToRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forecast.json")
	require.NoError(t, forecast.WriteFile(path, forecast.Synthesize(smallParams())))

	f, err := forecast.ReadFile(path)
	require.NoError(t, err)
	req, err := f.Request("MANUAL")
	require.NoError(t, err)

	assert.Equal(t, domain.Shape{Timesteps: 12, Height: 5, Width: 5}, req.Volumes.Shape())
	assert.True(t, req.ForecastStart.Equal(time.Date(2026, 2, 14, 6, 0, 0, 0, time.UTC)))
	assert.Equal(t, "MANUAL", req.RunSuffix)
	assert.Equal(t, "Kolkata Metropolitan Area", req.Location.Region)
	assert.Equal(t, "v2.3.1", req.Model.Version)
	assert.InDelta(t, 2.0, req.Volumes.Depth.At(4, 2, 2), 1e-9)
}

func TestFile_RequestRejectsMismatchedShapes(t *testing.T) {
	f := forecast.Synthesize(smallParams())
	f.VelocityY = f.VelocityY[:3]

	_, err := f.Request("")
	assert.ErrorIs(t, err, domain.ErrPrecondition)
}

func TestRead_InvalidJSON(t *testing.T) {
	_, err := forecast.Read(strings.NewReader("{"))
	assert.Error(t, err)

	_, err = forecast.ReadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
